package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"nftescrow/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 128
)

// handleEventsWS streams committed events as JSON envelopes. The optional
// "after" query parameter replays retained events with a greater sequence and
// "type" restricts the stream to one event type.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		after = parsed
	}
	eventType := strings.TrimSpace(r.URL.Query().Get("type"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, after, eventType); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, after uint64, eventType string) error {
	updates, cancel, backlog := s.bus.Subscribe(after, wsBuffer)
	defer cancel()

	last := after
	for _, env := range backlog {
		if err := writeEnvelope(ctx, conn, env, eventType); err != nil {
			return err
		}
		last = env.Sequence
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-updates:
			if !ok {
				return nil
			}
			if env.Sequence <= last {
				continue
			}
			if err := writeEnvelope(ctx, conn, env, eventType); err != nil {
				return err
			}
			last = env.Sequence
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env events.Envelope, eventType string) error {
	if eventType != "" && (env.Event == nil || env.Event.Type != eventType) {
		return nil
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
