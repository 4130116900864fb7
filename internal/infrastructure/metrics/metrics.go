package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semmidev/dbvault/internal/domain"
)

const namespace = "dbvault"

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type Registry interface {
	ObserveOutcome(outcome domain.Outcome)
	IncCycles()
	AddRetentionDeleted(count int)
}

type RegistryImpl struct {
	reg *prometheus.Registry

	backupsSucceeded *prometheus.CounterVec
	backupsFailed    *prometheus.CounterVec
	uploadedBytes    *prometheus.CounterVec
	backupDuration   *prometheus.HistogramVec

	cycles           prometheus.Counter
	retentionDeleted prometheus.Counter
}

// New creates the collectors on a private registry, so tests and multiple
// instances never collide on the default one.
func New() *RegistryImpl {
	s := &RegistryImpl{reg: prometheus.NewRegistry()}
	factory := promauto.With(s.reg)

	s.backupsSucceeded = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backups_succeeded_total",
		Help:      "Total count of targets backed up and uploaded",
	}, []string{"engine"})

	s.backupsFailed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backups_failed_total",
		Help:      "Total count of targets that failed, by failing stage",
	}, []string{"engine", "stage"})

	s.uploadedBytes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Bytes of compressed artifacts written to object storage",
	}, []string{"engine"})

	s.backupDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "backup_duration_seconds",
		Help:      "Wall time spent on a single target",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"engine", "status"})

	s.cycles = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cycles_total",
		Help:      "Total count of backup cycles started",
	})

	s.retentionDeleted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retention_deleted_total",
		Help:      "Artifacts removed by the retention sweep",
	})

	return s
}

func (s *RegistryImpl) ObserveOutcome(o domain.Outcome) {
	engine := string(o.Target.Engine)
	if engine == "" {
		engine = string(domain.EngineUnknown)
	}

	status := "succeeded"
	if o.Succeeded() {
		s.backupsSucceeded.WithLabelValues(engine).Inc()
		s.uploadedBytes.WithLabelValues(engine).Add(float64(o.Size))
	} else {
		status = "failed"
		s.backupsFailed.WithLabelValues(engine, string(o.Stage)).Inc()
	}
	s.backupDuration.WithLabelValues(engine, status).Observe(o.Duration.Seconds())
}

func (s *RegistryImpl) IncCycles() {
	s.cycles.Inc()
}

func (s *RegistryImpl) AddRetentionDeleted(count int) {
	s.retentionDeleted.Add(float64(count))
}

func (s *RegistryImpl) Handler() http.Handler {
	return promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{Registry: s.reg})
}

// Serve exposes /metrics on addr until ctx is cancelled. The listener is
// bound before returning so a busy port fails startup.
func (s *RegistryImpl) Serve(ctx context.Context, wg *sync.WaitGroup, addr string, logger Logger) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Infof("Starting metrics server on %s", ln.Addr())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Metrics server failed: %v", err)
		}
		logger.Infof("Metrics server stopped")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Metrics server shutdown error: %v", err)
		}
	}()

	return ln.Addr(), nil
}
