// Package accesslog persists access-log records behind a deduplicating gate.
//
// Two records share a key when their user, path, method and response code are
// equal. A candidate is dropped without error when it lands within the
// suppression window of the latest stored record for its key.
package accesslog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sdko-org/authlog/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const DefaultWindow = 60 * time.Second

// ErrStorageUnavailable is returned when the record set cannot be read or written.
var ErrStorageUnavailable = errors.New("access log storage unavailable")

type DedupMode string

const (
	// DedupAbsolute rejects when -window < candidate.Time - previous.Time < window.
	// A candidate far older than the latest stored record is accepted.
	DedupAbsolute DedupMode = "absolute"
	// DedupSigned rejects when candidate.Time - previous.Time < window, so any
	// candidate older than the latest stored record is rejected.
	DedupSigned DedupMode = "signed"
)

// ParseDedupMode maps a config value onto a mode, falling back to DedupAbsolute.
func ParseDedupMode(s string) DedupMode {
	if DedupMode(s) == DedupSigned {
		return DedupSigned
	}
	return DedupAbsolute
}

type Key struct {
	UserID        string
	Path          string
	RequestMethod string
	Response      int
}

func KeyOf(rec models.AccessLog) Key {
	return Key{
		UserID:        rec.UserID,
		Path:          rec.Path,
		RequestMethod: rec.RequestMethod,
		Response:      rec.Response,
	}
}

func (k Key) String() string {
	return strconv.Quote(k.UserID) + "|" + strconv.Quote(k.Path) + "|" +
		strconv.Quote(k.RequestMethod) + "|" + strconv.Itoa(k.Response)
}

type Option func(*Writer)

func WithWindow(d time.Duration) Option {
	return func(w *Writer) {
		if d > 0 {
			w.window = d
		}
	}
}

func WithMode(m DedupMode) Option {
	return func(w *Writer) {
		w.mode = m
	}
}

// Writer is the only path through which access-log rows are inserted.
type Writer struct {
	db     *gorm.DB
	window time.Duration
	mode   DedupMode
	locks  *keyLocks
}

func NewWriter(db *gorm.DB, opts ...Option) *Writer {
	w := &Writer{
		db:     db,
		window: DefaultWindow,
		mode:   DedupAbsolute,
		locks:  newKeyLocks(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Writer) Window() time.Duration {
	return w.window
}

func (w *Writer) Mode() DedupMode {
	return w.mode
}

// Decide reports whether a candidate observed at candidate should be stored,
// given the time of the latest stored record for the same key (nil if none).
func (w *Writer) Decide(candidate time.Time, previous *time.Time) bool {
	if previous == nil {
		return true
	}
	diff := candidate.Sub(*previous)
	if w.mode == DedupSigned {
		return diff >= w.window
	}
	return diff <= -w.window || diff >= w.window
}

// Write stores rec unless it duplicates recent activity for its key. A
// suppressed record returns nil just like a stored one.
func (w *Writer) Write(ctx context.Context, rec models.AccessLog) error {
	// Postgres keeps microseconds; compare and store what will be read back.
	rec.Time = rec.Time.Truncate(time.Microsecond)

	key := KeyOf(rec)
	unlock := w.locks.lock(key.String())
	defer unlock()

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if tx.Dialector.Name() == "postgres" {
			// Serializes writers for this key across processes until commit.
			if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key.String()).Error; err != nil {
				return fmt.Errorf("%w: lock key: %w", ErrStorageUnavailable, err)
			}
		}

		previous, err := latest(tx, key)
		if err != nil {
			return err
		}
		if !w.Decide(rec.Time, previous) {
			return nil
		}

		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("%w: insert record: %w", ErrStorageUnavailable, err)
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrStorageUnavailable) {
		return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return err
}

// latest returns the greatest stored time for key, or nil if the key is new.
func latest(tx *gorm.DB, key Key) (*time.Time, error) {
	var rows []models.AccessLog
	err := tx.Where(map[string]interface{}{
		"user_id":        key.UserID,
		"path":           key.Path,
		"request_method": key.RequestMethod,
		"response":       key.Response,
	}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "time"}, Desc: true}).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: lookup previous record: %w", ErrStorageUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0].Time, nil
}
