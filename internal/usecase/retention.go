package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/metrics"
)

// Retention deletes artifacts older than the configured number of days.
type Retention struct {
	storage       domain.Storage
	metrics       metrics.Registry
	clock         clockwork.Clock
	logger        Logger
	retentionDays int
}

func NewRetention(
	storage domain.Storage,
	registry metrics.Registry,
	clock clockwork.Clock,
	logger Logger,
	retentionDays int,
) *Retention {
	return &Retention{
		storage:       storage,
		metrics:       registry,
		clock:         clock,
		logger:        logger,
		retentionDays: retentionDays,
	}
}

func (uc *Retention) Enabled() bool {
	return uc.retentionDays > 0
}

func (uc *Retention) Execute(ctx context.Context) error {
	if !uc.Enabled() {
		return nil
	}

	cutoff := uc.clock.Now().AddDate(0, 0, -uc.retentionDays)
	uc.logger.Infof("Starting cleanup, retention: %d days", uc.retentionDays)

	files, err := uc.storage.GetOldFiles(ctx, cutoff)
	if err != nil {
		uc.logger.Warnf("Listing old backups by modification time failed, using artifact timestamps: %v", err)
		files, err = uc.fallbackListFiles(ctx, cutoff)
		if err != nil {
			return err
		}
	}

	deleted := 0
	for _, filename := range files {
		if !strings.HasPrefix(filename, domain.ArtifactPrefix) {
			continue
		}
		if err := ctx.Err(); err != nil {
			uc.metrics.AddRetentionDeleted(deleted)
			return fmt.Errorf("cleanup interrupted after %d deletion(s): %w", deleted, err)
		}

		uc.logger.Infof("Deleting old backup: %s", filename)
		if err := uc.storage.Delete(ctx, filename); err != nil {
			uc.logger.Errorf("Failed to delete %s: %v", filename, err)
			continue
		}
		deleted++
	}

	uc.metrics.AddRetentionDeleted(deleted)
	uc.logger.Infof("Deleted %d old backup(s)", deleted)
	return nil
}

func (uc *Retention) fallbackListFiles(ctx context.Context, cutoff time.Time) ([]string, error) {
	files, err := uc.storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	oldFiles := make([]string, 0)
	for _, filename := range files {
		if !strings.HasPrefix(filename, domain.ArtifactPrefix) {
			continue
		}
		timestamp, err := domain.ArtifactTime(filename, time.Local)
		if err != nil {
			uc.logger.Warnf("Could not parse timestamp from %s: %v", filename, err)
			continue
		}
		if timestamp.Before(cutoff) {
			oldFiles = append(oldFiles, filename)
		}
	}

	return oldFiles, nil
}
