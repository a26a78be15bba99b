package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nftescrow/core/events"
	"nftescrow/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1000
)

var ErrUnsupportedDriver = errors.New("indexer: unsupported driver")

// Open connects to the index database using the named driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return db, nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Type     string
	EscrowID *uint64
	Account  string
	After    uint64
	Limit    int
}

// Record is an indexed event as returned to callers.
type Record struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	EscrowID   *uint64           `json:"escrowId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Indexer persists committed events so escrow ids and their history can be
// discovered after the fact. It implements events.Emitter.
type Indexer struct {
	db     *gorm.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu  sync.Mutex
	seq uint64
}

// New migrates the schema and resumes the sequence from the stored events.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	if log == nil {
		log = slog.Default()
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	var last EventRecord
	res := db.Order("sequence desc").Limit(1).Find(&last)
	if res.Error != nil {
		return nil, fmt.Errorf("indexer: load sequence: %w", res.Error)
	}
	return &Indexer{db: db, logger: log, nowFn: time.Now, seq: last.Sequence}, nil
}

// Emit implements events.Emitter. Failures are logged; the state transition
// that produced the event has already been committed.
func (i *Indexer) Emit(evt events.Event) {
	if err := i.Record(context.Background(), events.Render(evt)); err != nil {
		i.logger.Error("index event", slog.String("type", evt.EventType()), slog.Any("error", err))
	}
}

// Record stores a rendered event under the next sequence number.
func (i *Indexer) Record(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return fmt.Errorf("indexer: encode attributes: %w", err)
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	rec := EventRecord{
		ID:         uuid.New(),
		Sequence:   i.seq + 1,
		Type:       evt.Type,
		Account:    primaryAccount(evt),
		Attributes: string(attrs),
		CreatedAt:  i.nowFn().UTC(),
	}
	if strings.HasPrefix(evt.Type, "escrow.") {
		if raw := evt.Attr("id"); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
				rec.EscrowID = &id
			}
		}
	}
	if err := i.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("indexer: insert: %w", err)
	}
	i.seq = rec.Sequence
	return nil
}

func primaryAccount(evt *types.Event) string {
	for _, key := range []string{"seller", "owner", "from"} {
		if v := evt.Attr(key); v != "" {
			return v
		}
	}
	return ""
}

// List returns indexed events in sequence order.
func (i *Indexer) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := i.db.WithContext(ctx).Model(&EventRecord{}).Where("sequence > ?", filter.After)
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if filter.EscrowID != nil {
		query = query.Where("escrow_id = ?", *filter.EscrowID)
	}
	if account := strings.TrimSpace(filter.Account); account != "" {
		query = query.Where("account = ?", account)
	}
	var rows []EventRecord
	if err := query.Order("sequence asc").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("indexer: list: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		attrs := map[string]string{}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &attrs); err != nil {
				return nil, fmt.Errorf("indexer: decode attributes of %d: %w", row.Sequence, err)
			}
		}
		out = append(out, Record{
			Sequence:   row.Sequence,
			Type:       row.Type,
			EscrowID:   row.EscrowID,
			Attributes: attrs,
			CreatedAt:  row.CreatedAt,
		})
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (i *Indexer) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
