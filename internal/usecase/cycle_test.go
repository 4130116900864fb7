package usecase

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap/zapcore"

	"github.com/semmidev/dbvault/internal/config"
	"github.com/semmidev/dbvault/internal/domain"
	"github.com/semmidev/dbvault/internal/infrastructure/workspace"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCycleRun(t *testing.T) {
	Convey("Given a backup cycle", t, func() {
		dir, err := os.MkdirTemp("", "cycle_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)

		ws, err := workspace.New(dir)
		So(err, ShouldBeNil)

		pg := &fakeDumper{engine: domain.EnginePostgreSQL}
		my := &fakeDumper{engine: domain.EngineMySQL}
		dumpers := map[domain.Engine]domain.Dumper{pg.engine: pg, my.engine: my}

		store := newFakeStorage()
		notifier := &fakeNotifier{}
		registry := &fakeRegistry{}
		log, logs := newObservedLogger()
		clock := clockwork.NewFakeClockAt(time.Date(2024, time.March, 1, 2, 3, 4, 0, time.Local))
		timeouts := config.TimeoutConfig{Dump: time.Second, Archive: time.Second, Upload: time.Second, Notify: time.Second}

		newCycle := func(abort bool) *Cycle {
			return NewCycle(dumpers, fakeArchiver{}, store, notifier, ws, registry, clock, log, timeouts, abort)
		}
		scopesLeft := func() int {
			entries, err := os.ReadDir(dir)
			So(err, ShouldBeNil)
			return len(entries)
		}
		ctx := context.Background()

		Convey("When the target list is empty", func() {
			newCycle(false).Run(ctx, nil)

			Convey("It should log exactly one info line and touch nothing", func() {
				So(logs.Len(), ShouldEqual, 1)
				entry := logs.All()[0]
				So(entry.Level, ShouldEqual, zapcore.InfoLevel)
				So(entry.Message, ShouldEqual, "No databases configured, skipping backup cycle")
				So(notifier.messages, ShouldBeEmpty)
				So(store.objects, ShouldBeEmpty)
				So(pg.dumped, ShouldBeEmpty)
				So(registry.cycles, ShouldEqual, 0)
			})
		})

		Convey("When a single postgresql target succeeds", func() {
			newCycle(false).Run(ctx, []string{"postgresql://u:p@h:5432/db"})

			name := "backup-postgresql-2024-03-01_02:03:04-db-h.tar.gz"

			Convey("It should upload the archive under the derived name", func() {
				So(store.objects, ShouldContainKey, name)
				So(string(store.objects[name]), ShouldEqual, "archived:dump of db")
			})

			Convey("It should notify progress and then success", func() {
				So(notifier.messages, ShouldResemble, []string{
					"Backup in progress [1/1]: postgresql db on h",
					"Successfully uploaded backup of postgresql db on h: " + name,
				})
			})

			Convey("It should record the outcome and clean up", func() {
				So(registry.cycles, ShouldEqual, 1)
				So(registry.outcomes, ShouldHaveLength, 1)
				So(registry.outcomes[0].Succeeded(), ShouldBeTrue)
				So(registry.outcomes[0].Size, ShouldEqual, int64(len("archived:dump of db")))
				So(scopesLeft(), ShouldEqual, 0)
			})
		})

		Convey("When an unknown engine precedes a valid target", func() {
			targets := []string{"ftp://h/db", "postgresql://u:p@h:5432/db"}

			Convey("With the abort policy", func() {
				newCycle(true).Run(ctx, targets)

				Convey("It should log once and stop the whole cycle without a failure notice", func() {
					So(logs.FilterMessageSnippet("Unknown database type").Len(), ShouldEqual, 1)
					So(pg.dumped, ShouldBeEmpty)
					So(store.objects, ShouldBeEmpty)
					So(notifier.messages, ShouldResemble, []string{"Backup in progress [1/2]: unknown db on h"})
					So(scopesLeft(), ShouldEqual, 0)
				})
			})

			Convey("With the default policy", func() {
				newCycle(false).Run(ctx, targets)

				Convey("It should notify the failure and process the next target", func() {
					So(logs.FilterMessageSnippet("Unknown database type").Len(), ShouldEqual, 1)
					So(notifier.messages[1], ShouldStartWith, "Backup failed [1/2] for unknown db on h")
					So(notifier.messages[1], ShouldContainSubstring, "unknown database type")
					So(pg.dumped, ShouldResemble, []string{"db"})
					So(store.objects, ShouldHaveLength, 1)
					So(registry.outcomes[0].Stage, ShouldEqual, domain.StageEngine)
				})
			})
		})

		Convey("When a dump fails", func() {
			pg.err = errExit
			newCycle(false).Run(ctx, []string{"postgresql://u:p@h:5432/orders", "mysql://u:p@m/shop"})

			Convey("It should notify the failure and continue with the next target", func() {
				So(notifier.messages, ShouldContain, "Backup failed [1/2] for postgresql orders on h: dump: exit status 1")
				So(my.dumped, ShouldResemble, []string{"shop"})
				So(store.objects, ShouldHaveLength, 1)
				So(registry.outcomes[0].Stage, ShouldEqual, domain.StageDump)
				So(registry.outcomes[1].Succeeded(), ShouldBeTrue)
				So(logs.FilterMessageSnippet("1 succeeded, 1 failed").Len(), ShouldEqual, 1)
			})

			Convey("It should remove every scratch scope", func() {
				So(scopesLeft(), ShouldEqual, 0)
			})
		})

		Convey("When a dump exceeds its deadline", func() {
			timeouts.Dump = 50 * time.Millisecond
			pg.block = true
			newCycle(false).Run(ctx, []string{"postgresql://u:p@h/orders", "mysql://u:p@m/shop"})

			Convey("It should fail that target only", func() {
				So(registry.outcomes[0].Stage, ShouldEqual, domain.StageDump)
				So(registry.outcomes[0].Err.Error(), ShouldContainSubstring, "timed out after 50ms")
				So(my.dumped, ShouldResemble, []string{"shop"})
				So(scopesLeft(), ShouldEqual, 0)
			})
		})

		Convey("When no scratch directory can be allocated", func() {
			c := NewCycle(dumpers, fakeArchiver{}, store, notifier, failingWorkspace{err: errors.New("disk full")},
				registry, clock, log, timeouts, false)
			c.Run(ctx, []string{"postgresql://u:p@h:5432/db"})

			Convey("It should still announce the target before reporting the failure", func() {
				So(notifier.messages, ShouldResemble, []string{
					"Backup in progress [1/1]: postgresql db on h",
					"Backup failed [1/1] for postgresql db on h: disk full",
				})
				So(pg.dumped, ShouldBeEmpty)
			})
		})

		Convey("When the upload exceeds its deadline", func() {
			timeouts.Upload = 50 * time.Millisecond
			store.block = true
			newCycle(false).Run(ctx, []string{"mysql://u:p@m/shop"})

			Convey("It should fail at the upload stage", func() {
				So(registry.outcomes[0].Stage, ShouldEqual, domain.StageUpload)
				So(registry.outcomes[0].Err.Error(), ShouldContainSubstring, "timed out after 50ms")
				So(scopesLeft(), ShouldEqual, 0)
			})
		})

		Convey("When the upload fails", func() {
			store.putErr = errExit
			newCycle(false).Run(ctx, []string{"mysql://u:p@m/shop"})

			Convey("It should report the upload stage", func() {
				So(registry.outcomes[0].Stage, ShouldEqual, domain.StageUpload)
				So(notifier.messages[1], ShouldEqual, "Backup failed [1/1] for mysql shop on m: upload: exit status 1")
			})
		})

		Convey("When a connection string is malformed", func() {
			newCycle(false).Run(ctx, []string{"postgresql://u:s3cret@h:notaport/db", "mysql://u:p@m/shop"})

			Convey("It should notify without leaking the password and continue", func() {
				So(notifier.messages[0], ShouldStartWith, "Backup failed [1/2]")
				So(notifier.messages[0], ShouldNotContainSubstring, "s3cret")
				So(registry.outcomes[0].Stage, ShouldEqual, domain.StageParse)
				So(my.dumped, ShouldResemble, []string{"shop"})
			})
		})

		Convey("When the context is already cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			newCycle(false).Run(cancelled, []string{"postgresql://u:p@h/db"})

			Convey("It should start nothing and log the cancellation", func() {
				So(pg.dumped, ShouldBeEmpty)
				So(logs.FilterMessageSnippet("Backup cycle cancelled").Len(), ShouldEqual, 1)
			})
		})
	})
}

func TestReadFile(t *testing.T) {
	Convey("Given an archive on disk", t, func() {
		dir, err := os.MkdirTemp("", "read_test")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)

		path := filepath.Join(dir, "a.tar.gz")
		So(os.WriteFile(path, []byte("archive bytes"), 0o600), ShouldBeNil)

		Convey("It should read it whole", func() {
			body, err := readFile(context.Background(), path)
			So(err, ShouldBeNil)
			So(string(body), ShouldEqual, "archive bytes")
		})

		Convey("It should stop once the context is done", func() {
			cancelled, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := readFile(cancelled, path)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})

		Convey("It should fail for a missing file", func() {
			_, err := readFile(context.Background(), filepath.Join(dir, "missing"))
			So(err, ShouldNotBeNil)
		})
	})
}
