package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/semmidev/dbvault/internal/config"
	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/metrics"
	"github.com/semmidev/dbvault/internal/infrastructure/workspace"
)

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type Workspace interface {
	Scope(label string) (*workspace.Scope, error)
}

// Cycle backs up a list of databases one after another: dump, archive,
// upload, notify. A failing target never stops the ones after it.
type Cycle struct {
	dumpers              map[domain.Engine]domain.Dumper
	archiver             domain.Archiver
	uploader             domain.Uploader
	notifier             domain.Notifier
	workspace            Workspace
	metrics              metrics.Registry
	clock                clockwork.Clock
	logger               Logger
	timeouts             config.TimeoutConfig
	abortOnUnknownEngine bool
}

func NewCycle(
	dumpers map[domain.Engine]domain.Dumper,
	archiver domain.Archiver,
	uploader domain.Uploader,
	notifier domain.Notifier,
	ws Workspace,
	registry metrics.Registry,
	clock clockwork.Clock,
	logger Logger,
	timeouts config.TimeoutConfig,
	abortOnUnknownEngine bool,
) *Cycle {
	return &Cycle{
		dumpers:              dumpers,
		archiver:             archiver,
		uploader:             uploader,
		notifier:             notifier,
		workspace:            ws,
		metrics:              registry,
		clock:                clock,
		logger:               logger,
		timeouts:             timeouts,
		abortOnUnknownEngine: abortOnUnknownEngine,
	}
}

// Run processes targets in order. Failures surface only as log lines and
// notifications.
func (uc *Cycle) Run(ctx context.Context, targets []string) {
	if len(targets) == 0 {
		uc.logger.Infof("No databases configured, skipping backup cycle")
		return
	}

	uc.metrics.IncCycles()
	start := uc.clock.Now()
	total := len(targets)
	uc.logger.Infof("Starting backup cycle for %d database(s)", total)

	succeeded, failed := 0, 0
	for i, raw := range targets {
		if err := ctx.Err(); err != nil {
			uc.logger.Warnf("Backup cycle cancelled, %d of %d database(s) not started: %v", total-i, total, err)
			return
		}

		outcome, abort := uc.process(ctx, i+1, total, raw)
		if abort {
			uc.logger.Warnf("Backup cycle stopped at [%d/%d], remaining database(s) skipped", i+1, total)
			return
		}
		if outcome.Succeeded() {
			succeeded++
		} else {
			failed++
		}
	}

	uc.logger.Infof("Backup cycle finished in %s: %d succeeded, %d failed",
		uc.clock.Since(start).Round(time.Second), succeeded, failed)
}

func (uc *Cycle) process(ctx context.Context, index, total int, raw string) (outcome domain.Outcome, abort bool) {
	started := uc.clock.Now()
	defer func() {
		outcome.Duration = uc.clock.Since(started)
		uc.metrics.ObserveOutcome(outcome)
	}()

	target, err := domain.ParseTarget(raw)
	if err != nil {
		outcome = domain.Outcome{Stage: domain.StageParse, Err: err}
		uc.logger.Errorf("Backup [%d/%d] skipped: %v", index, total, err)
		uc.notifier.Notify(ctx, fmt.Sprintf("Backup failed [%d/%d]: %v", index, total, err))
		return outcome, false
	}
	outcome.Target = target

	name := domain.ArtifactName(target.Engine, started.In(time.Local), target.Database, target.Host)

	progress := fmt.Sprintf("Backup in progress [%d/%d]: %s", index, total, target)
	uc.logger.Infof("%s", progress)
	uc.notifier.Notify(ctx, progress)

	scope, err := uc.workspace.Scope(string(target.Engine))
	if err != nil {
		outcome.Stage, outcome.Err = domain.StageDump, err
		uc.reportFailure(ctx, index, total, outcome)
		return outcome, false
	}
	defer func() {
		if err := scope.Close(); err != nil {
			uc.logger.Warnf("Failed to clean up %s: %v", scope.Dir(), err)
		}
	}()

	outcome.Artifact = domain.Artifact{Name: name, Path: scope.Path(name)}

	dumper, ok := uc.dumpers[target.Engine]
	if !ok {
		uc.logger.Errorf("Unknown database type %q for %s", target.Scheme, target.Redacted())
		outcome.Stage = domain.StageEngine
		outcome.Err = fmt.Errorf("%w: %q", domain.ErrUnknownEngine, target.Scheme)
		if uc.abortOnUnknownEngine {
			return outcome, true
		}
		uc.notifier.Notify(ctx, fmt.Sprintf("Backup failed [%d/%d] for %s: %v", index, total, target, outcome.Err))
		return outcome, false
	}

	outcome.Size, outcome.Stage, outcome.Err = uc.backup(ctx, dumper, target, outcome.Artifact)
	if outcome.Err != nil {
		uc.reportFailure(ctx, index, total, outcome)
		return outcome, false
	}

	uc.logger.Infof("Successfully uploaded %s for %s (%.2f MB)", name, target, float64(outcome.Size)/(1024*1024))
	uc.notifier.Notify(ctx, fmt.Sprintf("Successfully uploaded backup of %s: %s", target, name))
	return outcome, false
}

// backup runs the dump, archive and upload steps, each under its own
// deadline. It reports the stage that failed.
func (uc *Cycle) backup(ctx context.Context, dumper domain.Dumper, target domain.Target, artifact domain.Artifact) (int64, domain.Stage, error) {
	uc.logger.Debugf("Dumping %s to %s", target, artifact.DumpPath())
	err := withTimeout(ctx, uc.timeouts.Dump, func(ctx context.Context) error {
		return dumper.Dump(ctx, target, artifact.DumpPath())
	})
	if err != nil {
		return 0, domain.StageDump, fmt.Errorf("dump: %w", err)
	}

	uc.logger.Debugf("Archiving %s", artifact.Path)
	err = withTimeout(ctx, uc.timeouts.Archive, func(ctx context.Context) error {
		return uc.archiver.Archive(ctx, artifact.DumpPath(), artifact.Path)
	})
	if err != nil {
		return 0, domain.StageArchive, fmt.Errorf("archive: %w", err)
	}

	var body []byte
	err = withTimeout(ctx, uc.timeouts.Upload, func(ctx context.Context) error {
		var err error
		body, err = readFile(ctx, artifact.Path)
		return err
	})
	if err != nil {
		return 0, domain.StageRead, fmt.Errorf("read archive: %w", err)
	}

	uc.logger.Debugf("Uploading %s (%d bytes)", artifact.Name, len(body))
	err = withTimeout(ctx, uc.timeouts.Upload, func(ctx context.Context) error {
		return uc.uploader.Put(ctx, artifact.Name, body)
	})
	if err != nil {
		return 0, domain.StageUpload, fmt.Errorf("upload: %w", err)
	}

	return int64(len(body)), "", nil
}

func (uc *Cycle) reportFailure(ctx context.Context, index, total int, outcome domain.Outcome) {
	uc.logger.Errorf("Backup failed [%d/%d] for %s at %s stage: %v",
		index, total, outcome.Target, outcome.Stage, outcome.Err)
	uc.notifier.Notify(ctx, fmt.Sprintf("Backup failed [%d/%d] for %s: %v",
		index, total, outcome.Target, outcome.Err))
}

// readFile loads path into memory, giving up between reads once ctx is done.
func readFile(ctx context.Context, path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if info, err := f.Stat(); err == nil {
		buf.Grow(int(info.Size()))
	}
	if _, err := buf.ReadFrom(&contextReader{ctx: ctx, r: f}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// withTimeout runs fn under a deadline derived from ctx and names the
// deadline when it is what stopped fn.
func withTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(stepCtx)
	if err != nil && ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return err
}
