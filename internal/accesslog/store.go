package accesslog

import (
	"context"
	"fmt"
	"time"

	"github.com/sdko-org/authlog/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultFindLimit = 100
	maxFindLimit     = 1000
)

// Filter selects stored records. Zero-valued fields match everything; From is
// inclusive and To is exclusive.
type Filter struct {
	UserID        string
	RequestMethod string
	Path          string
	Response      int
	From          time.Time
	To            time.Time
	Limit         int
}

// Store reads the persisted record set. Writes go through Writer.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Find returns matching records ordered by time, oldest first.
func (s *Store) Find(ctx context.Context, f Filter) ([]models.AccessLog, error) {
	q := s.db.WithContext(ctx).Model(&models.AccessLog{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.RequestMethod != "" {
		q = q.Where("request_method = ?", f.RequestMethod)
	}
	if f.Path != "" {
		q = q.Where("path = ?", f.Path)
	}
	if f.Response != 0 {
		q = q.Where("response = ?", f.Response)
	}
	if !f.From.IsZero() {
		q = q.Where(clause.Gte{Column: clause.Column{Name: "time"}, Value: f.From})
	}
	if !f.To.IsZero() {
		q = q.Where(clause.Lt{Column: clause.Column{Name: "time"}, Value: f.To})
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultFindLimit
	}
	if limit > maxFindLimit {
		limit = maxFindLimit
	}

	var rows []models.AccessLog
	if err := q.Order(clause.OrderByColumn{Column: clause.Column{Name: "time"}}).Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: find records: %w", ErrStorageUnavailable, err)
	}
	return rows, nil
}

// Between returns up to limit records with after < time <= until, oldest first.
func (s *Store) Between(ctx context.Context, after, until time.Time, limit int) ([]models.AccessLog, error) {
	var rows []models.AccessLog
	err := s.db.WithContext(ctx).
		Where(clause.Gt{Column: clause.Column{Name: "time"}, Value: after}).
		Where(clause.Lte{Column: clause.Column{Name: "time"}, Value: until}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "time"}}).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %w", ErrStorageUnavailable, err)
	}
	return rows, nil
}
