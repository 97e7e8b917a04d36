// Package health implements C10: periodic polling of every registered
// component's Status(), aggregated into a liveness/readiness snapshot and
// exposed as both a JSON health document and Prometheus metrics.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"codeintel.dev/registry"
)

// Aggregate is the overall health level §4.10 defines.
type Aggregate string

const (
	Healthy   Aggregate = "healthy"
	Degraded  Aggregate = "degraded"
	Unhealthy Aggregate = "unhealthy"
)

// ComponentStatus is one component's last poll result.
type ComponentStatus struct {
	Name      string    `json:"name"`
	Critical  bool      `json:"critical"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Snapshot is the document GET /health returns.
type Snapshot struct {
	Status     Aggregate         `json:"status"`
	Components []ComponentStatus `json:"components"`
	CheckedAt  time.Time         `json:"checked_at"`
}

const defaultPollInterval = 30 * time.Second

// Monitor is C10.
type Monitor struct {
	reg          *registry.Registry
	log          *logrus.Logger
	pollInterval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup

	mu       sync.RWMutex
	snapshot Snapshot

	statusGauge  *prometheus.GaugeVec
	pollCounter  prometheus.Counter
}

// New constructs a Monitor. pollInterval <= 0 uses the §4.10 default of 30s.
func New(reg *registry.Registry, pollInterval time.Duration, registerer prometheus.Registerer, log *logrus.Logger) *Monitor {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	m := &Monitor{
		reg:          reg,
		log:          log,
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
		statusGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "codeintel_component_healthy",
			Help: "1 if the component's last Status() check succeeded, 0 otherwise.",
		}, []string{"component"}),
		pollCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "codeintel_health_polls_total",
			Help: "Number of health poll cycles run.",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.statusGauge, m.pollCounter)
	}
	return m
}

// Initialize runs one poll immediately (so /health is meaningful before the
// first timer tick) and starts the background poller.
func (m *Monitor) Initialize(ctx context.Context) error {
	m.poll(ctx)
	m.wg.Add(1)
	go m.loop()
	return nil
}

func (m *Monitor) Cleanup(ctx context.Context) error {
	close(m.stop)
	m.wg.Wait()
	return nil
}

func (m *Monitor) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.poll(context.Background())
		}
	}
}

// Poll runs an on-demand check, satisfying §4.10's "on demand" requirement
// (e.g. GET /health can force a fresh poll instead of serving a stale one).
func (m *Monitor) Poll(ctx context.Context) Snapshot {
	m.poll(ctx)
	return m.Snapshot()
}

func (m *Monitor) poll(ctx context.Context) {
	m.pollCounter.Inc()
	now := time.Now()
	var components []ComponentStatus
	for _, e := range m.reg.Entries() {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := e.Checker.Status(cctx)
		cancel()

		cs := ComponentStatus{Name: e.Name, Critical: e.Critical, Healthy: err == nil, CheckedAt: now}
		if err != nil {
			cs.Error = err.Error()
		}
		components = append(components, cs)

		val := 0.0
		if cs.Healthy {
			val = 1.0
		}
		m.statusGauge.WithLabelValues(e.Name).Set(val)
	}

	snap := Snapshot{Status: aggregate(components), Components: components, CheckedAt: now}
	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()
}

// aggregate applies §4.10's rule: healthy iff every critical component is
// healthy; degraded iff a non-critical component is down while all critical
// ones are healthy; unhealthy otherwise.
func aggregate(components []ComponentStatus) Aggregate {
	criticalHealthy := true
	nonCriticalHealthy := true
	for _, c := range components {
		if c.Critical && !c.Healthy {
			criticalHealthy = false
		}
		if !c.Critical && !c.Healthy {
			nonCriticalHealthy = false
		}
	}
	switch {
	case criticalHealthy && nonCriticalHealthy:
		return Healthy
	case criticalHealthy:
		return Degraded
	default:
		return Unhealthy
	}
}

// Snapshot returns the most recent poll result without forcing a new one.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}
