package duckdb

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RetentionConfig holds configuration for the retention cleaner.
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration
	Logger        *zap.Logger
}

// RetentionCleaner periodically deletes solutions older than the configured
// retention period.
type RetentionCleaner struct {
	store         *Store
	retentionDays int
	interval      time.Duration
	logger        *zap.Logger
	done          chan struct{}
	wg            sync.WaitGroup
	stopOnce      sync.Once
}

// NewRetentionCleaner creates a retention cleaner and runs one cleanup
// immediately. Returns nil when retention is 0 (disabled).
func NewRetentionCleaner(store *Store, conf RetentionConfig) *RetentionCleaner {
	if conf.RetentionDays <= 0 {
		return nil
	}
	if conf.Interval <= 0 {
		conf.Interval = time.Hour
	}
	logger := conf.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := &RetentionCleaner{
		store:         store,
		retentionDays: conf.RetentionDays,
		interval:      conf.Interval,
		logger:        logger.Named("retention"),
		done:          make(chan struct{}),
	}

	// Startup cleanup to catch up after downtime.
	rc.cleanup()

	rc.wg.Add(1)
	go rc.tickLoop()

	return rc
}

func (rc *RetentionCleaner) tickLoop() {
	defer rc.wg.Done()
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rc.cleanup()
		case <-rc.done:
			return
		}
	}
}

func (rc *RetentionCleaner) cleanup() {
	cutoff := time.Now().Add(-time.Duration(rc.retentionDays) * 24 * time.Hour)

	rows, err := rc.store.DeleteSolutionsBefore(context.Background(), cutoff)
	if err != nil {
		rc.logger.Warn("retention cleanup failed", zap.Error(err))
		return
	}
	if rows > 0 {
		rc.logger.Info("expired solutions deleted", zap.Int64("rows", rows), zap.Int("retention_days", rc.retentionDays))
	}
}

// Stop signals the cleaner to stop and waits for it to finish.
func (rc *RetentionCleaner) Stop() {
	if rc == nil {
		return
	}
	rc.stopOnce.Do(func() {
		close(rc.done)
		rc.wg.Wait()
	})
}
