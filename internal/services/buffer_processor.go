package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/agriconnect/domain"
	"github.com/fastygo/agriconnect/internal/infrastructure/buffer"
	"github.com/fastygo/agriconnect/repository"
)

// ConnectionHealth abstracts the connection monitor functionality.
type ConnectionHealth interface {
	IsOnline() bool
}

// ProcessorConfig controls how frequently the buffer is drained.
type ProcessorConfig struct {
	Interval   time.Duration
	BatchSize  int
	MaxRetries int
	// Retention bounds how long an unreplayed write may wait; zero keeps items forever.
	Retention time.Duration
}

// BufferMetrics receives replay outcomes.
type BufferMetrics interface {
	WriteBuffered()
	WriteFailed(kind domain.CollectionKind, code domain.ErrorCode)
}

// BufferProcessor replays buffered catalog writes against the document store.
type BufferProcessor struct {
	store   *buffer.Store
	monitor ConnectionHealth
	docs    repository.DocumentRepository
	metrics BufferMetrics
	logger  *zap.Logger
	cron    *cron.Cron
	cfg     ProcessorConfig
}

func NewBufferProcessor(
	store *buffer.Store,
	monitor ConnectionHealth,
	docs repository.DocumentRepository,
	metrics BufferMetrics,
	logger *zap.Logger,
	cfg ProcessorConfig,
) *BufferProcessor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bp := &BufferProcessor{
		store:   store,
		monitor: monitor,
		docs:    docs,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		cron:    cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %ds", int(cfg.Interval.Seconds()))
	_, _ = bp.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := bp.Drain(ctx); err != nil {
			bp.logger.Error("buffer drain failed", zap.Error(err))
		}
	})
	if cfg.Retention > 0 {
		_, _ = bp.cron.AddFunc("@every 1h", func() {
			removed, err := bp.store.Cleanup(time.Now().Add(-cfg.Retention))
			if err != nil {
				bp.logger.Error("buffer cleanup failed", zap.Error(err))
				return
			}
			if removed > 0 {
				bp.logger.Warn("expired buffered writes dropped", zap.Int("count", removed))
			}
		})
	}

	return bp
}

// Start launches the cron scheduler.
func (bp *BufferProcessor) Start() {
	if bp == nil || bp.cron == nil {
		return
	}
	bp.cron.Start()
	bp.logger.Info("buffer processor started")
}

// Stop gracefully stops the scheduler.
func (bp *BufferProcessor) Stop(ctx context.Context) {
	if bp == nil || bp.cron == nil {
		return
	}
	stopCtx := bp.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	bp.logger.Info("buffer processor stopped")
}

// Drain processes buffered items synchronously.
func (bp *BufferProcessor) Drain(ctx context.Context) error {
	if bp == nil || bp.store == nil {
		return nil
	}
	if bp.monitor != nil && !bp.monitor.IsOnline() {
		bp.logger.Debug("skipping buffer drain (offline)")
		return nil
	}

	items, err := bp.store.GetBatch(bp.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := bp.processItem(ctx, item); err != nil {
			bp.logger.Error("failed to process buffer item",
				zap.String("item_id", item.ID),
				zap.String("entity", item.Entity),
				zap.Error(err))

			item.Retries++
			if item.Retries >= bp.cfg.MaxRetries || !isTransient(err) {
				bp.logger.Warn("dropping buffer item", zap.String("item_id", item.ID), zap.Int("retries", item.Retries))
				if err := bp.store.Remove(item); err != nil {
					bp.logger.Error("failed to remove dropped buffer item",
						zap.String("item_id", item.ID),
						zap.Error(err))
				}
				continue
			}

			if err := bp.store.Requeue(item); err != nil {
				bp.logger.Error("failed to requeue buffer item", zap.Error(err))
			}
			continue
		}

		if err := bp.store.Remove(item); err != nil {
			bp.logger.Warn("failed to purge processed buffer item", zap.Error(err))
		}
	}
	return nil
}

// BufferOperation attempts to run the operation immediately and falls back to persisting it.
func (bp *BufferProcessor) BufferOperation(ctx context.Context, item buffer.Item) error {
	if bp == nil || bp.store == nil {
		return fmt.Errorf("buffer processor not configured")
	}

	if bp.monitor == nil || bp.monitor.IsOnline() {
		err := bp.processItem(ctx, item)
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		bp.logger.Warn("immediate processing failed, buffering", zap.Error(err))
	}
	added, err := bp.store.Enqueue(item)
	if err != nil {
		return err
	}
	if added && bp.metrics != nil {
		bp.metrics.WriteBuffered()
	}
	if !added {
		bp.logger.Debug("write already buffered", zap.String("idempotency_key", item.IdempotencyKey))
	}
	return nil
}

// Size returns the number of buffered items.
func (bp *BufferProcessor) Size() int {
	if bp == nil || bp.store == nil {
		return 0
	}
	size, err := bp.store.Size()
	if err != nil {
		return 0
	}
	return size
}

func (bp *BufferProcessor) processItem(ctx context.Context, item buffer.Item) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if item.Entity != buffer.EntityDocument {
		return fmt.Errorf("unsupported entity %s", item.Entity)
	}

	var doc domain.Document
	if err := json.Unmarshal(item.Data, &doc); err != nil {
		return err
	}
	switch item.Operation {
	case buffer.OperationCreate:
		err := bp.docs.Insert(ctx, &doc)
		if err != nil && bp.metrics != nil {
			bp.metrics.WriteFailed(doc.Kind, domain.CodeOf(err))
		}
		return err
	default:
		return fmt.Errorf("unsupported operation %s", item.Operation)
	}
}

// isTransient reports whether a write failure is worth replaying later.
func isTransient(err error) bool {
	var dErr *domain.Error
	if !errors.As(err, &dErr) {
		return true
	}
	return dErr.Code == domain.ErrCodeRemoteUnavailable
}
