package rpc

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"nftescrow/crypto"
)

const defaultClockSkew = time.Minute

// IssueToken signs an HS256 bearer token identifying caller. The escrow
// methods act on behalf of the token subject.
func IssueToken(secret []byte, caller [20]byte, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("rpc: signing secret required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   crypto.FormatAddress(caller),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// authenticate resolves the caller of a state-changing request from its bearer
// token.
func (s *Server) authenticate(r *http.Request) ([20]byte, *RPCError) {
	if len(s.jwtSecret) == 0 {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "RPC authentication not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials", Data: err.Error()}
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "token subject required"}
	}
	caller, err := crypto.ParseAddress(subject)
	if err != nil {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "token subject is not an address", Data: fmt.Sprintf("%v", err)}
	}
	if crypto.IsZero(caller) {
		return [20]byte{}, &RPCError{Code: codeUnauthorized, Message: "token subject is the zero address"}
	}
	return caller, nil
}
