package usecase

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/workspace"
)

type fakeDumper struct {
	engine domain.Engine
	err    error
	block  bool
	dumped []string
}

func (f *fakeDumper) Engine() domain.Engine { return f.engine }

func (f *fakeDumper) Dump(ctx context.Context, target domain.Target, outputPath string) error {
	f.dumped = append(f.dumped, target.Database)
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outputPath, []byte("dump of "+target.Database), 0o600)
}

type fakeArchiver struct{}

func (fakeArchiver) Archive(ctx context.Context, sourcePath, destPath string) error {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	return os.WriteFile(destPath, append([]byte("archived:"), data...), 0o600)
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
	block   bool

	old       []string
	oldErr    error
	listErr   error
	deleteErr map[string]error
	deleted   []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}, deleteErr: map[string]error{}}
}

func (f *fakeStorage) Put(ctx context.Context, key string, body []byte) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = append([]byte(nil), body...)
	return nil
}

func (f *fakeStorage) List(ctx context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var names []string
	for name := range f.objects {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error {
	if err := f.deleteErr[key]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

func (f *fakeStorage) GetOldFiles(ctx context.Context, cutoff time.Time) ([]string, error) {
	if f.oldErr != nil {
		return nil, f.oldErr
	}
	return f.old, nil
}

type failingWorkspace struct {
	err error
}

func (f failingWorkspace) Scope(label string) (*workspace.Scope, error) {
	return nil, f.err
}

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(ctx context.Context, message string) {
	f.messages = append(f.messages, message)
}

type fakeRegistry struct {
	outcomes []domain.Outcome
	cycles   int
	deleted  int
}

func (f *fakeRegistry) ObserveOutcome(o domain.Outcome) { f.outcomes = append(f.outcomes, o) }
func (f *fakeRegistry) IncCycles()                      { f.cycles++ }
func (f *fakeRegistry) AddRetentionDeleted(count int)   { f.deleted += count }

var errExit = errors.New("exit status 1")

func newObservedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}
