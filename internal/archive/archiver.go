// Package archive copies persisted access-log rows to object storage. Rows
// are never removed from the database.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/authlog/internal/models"
	"github.com/sdko-org/authlog/internal/storage"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const checkpointName = "access_logs"

// Source lists access-log rows with after < time <= until, oldest first.
type Source interface {
	Between(ctx context.Context, after, until time.Time, limit int) ([]models.AccessLog, error)
}

type Archiver struct {
	logger    *logrus.Logger
	db        *gorm.DB
	source    Source
	storage   storage.Storage
	interval  time.Duration
	batchSize int
	// lag keeps the export behind requests that are still being written.
	lag time.Duration
	now func() time.Time
}

func NewArchiver(logger *logrus.Logger, db *gorm.DB, source Source, storage storage.Storage, interval time.Duration) *Archiver {
	return &Archiver{
		logger:    logger,
		db:        db,
		source:    source,
		storage:   storage,
		interval:  interval,
		batchSize: 1000,
		lag:       2 * time.Minute,
		now:       time.Now,
	}
}

func (a *Archiver) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	logEntry := a.logger.WithField("component", "archiver")
	logEntry.Info("Starting access log archiver")

	for {
		select {
		case <-ticker.C:
			n, err := a.RunOnce(ctx)
			if err != nil {
				logEntry.WithError(err).Error("Access log export failed")
			}
			if n > 0 {
				logEntry.WithField("count", n).Info("Exported access log records")
			}
		case <-ctx.Done():
			logEntry.Info("Stopping access log archiver")
			return
		}
	}
}

// RunOnce exports every row newer than the stored watermark and returns how
// many rows were written.
func (a *Archiver) RunOnce(ctx context.Context) (int, error) {
	watermark, err := a.loadWatermark(ctx)
	if err != nil {
		return 0, err
	}
	until := a.now().Add(-a.lag)

	total := 0
	for {
		rows, err := a.source.Between(ctx, watermark, until, a.batchSize)
		if err != nil {
			return total, err
		}
		if len(rows) == 0 {
			return total, nil
		}

		full := len(rows) == a.batchSize
		if full {
			rows = trimTrailingTies(rows)
		}

		if err := a.export(ctx, rows); err != nil {
			return total, err
		}
		watermark = rows[len(rows)-1].Time
		if err := a.saveWatermark(ctx, watermark); err != nil {
			return total, err
		}
		total += len(rows)

		if !full {
			return total, nil
		}
	}
}

// trimTrailingTies drops trailing rows that share the last timestamp so the
// next batch, which starts strictly after the watermark, picks them up whole.
func trimTrailingTies(rows []models.AccessLog) []models.AccessLog {
	last := rows[len(rows)-1].Time
	i := len(rows)
	for i > 0 && rows[i-1].Time.Equal(last) {
		i--
	}
	if i == 0 {
		return rows
	}
	return rows[:i]
}

func (a *Archiver) export(ctx context.Context, rows []models.AccessLog) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encode access log: %w", err)
		}
	}

	key := objectKey(rows[len(rows)-1].Time)
	if err := a.storage.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func objectKey(last time.Time) string {
	last = last.UTC()
	return fmt.Sprintf("access-logs/%s/%d.jsonl", last.Format("2006/01/02"), last.UnixNano())
}

func (a *Archiver) loadWatermark(ctx context.Context) (time.Time, error) {
	var cp models.ArchiveCheckpoint
	err := a.db.WithContext(ctx).Where("name = ?", checkpointName).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load archive checkpoint: %w", err)
	}
	return cp.Watermark, nil
}

func (a *Archiver) saveWatermark(ctx context.Context, watermark time.Time) error {
	cp := models.ArchiveCheckpoint{
		Name:      checkpointName,
		Watermark: watermark,
		UpdatedAt: a.now(),
	}
	if err := a.db.WithContext(ctx).Save(&cp).Error; err != nil {
		return fmt.Errorf("save archive checkpoint: %w", err)
	}
	return nil
}
