package health

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"codeintel.dev/registry"
)

type fakeChecker struct{ err error }

func (f fakeChecker) Status(ctx context.Context) error { return f.err }

func newTestRegistry(critical bool, err error) *registry.Registry {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	reg := registry.New(log)
	reg.Register("widget", critical, fakeChecker{err: err})
	return reg
}

func TestAggregateHealthyWhenAllCriticalHealthy(t *testing.T) {
	reg := newTestRegistry(true, nil)
	m := New(reg, time.Hour, prometheus.NewRegistry(), logrus.New())
	snap := m.Poll(context.Background())
	require.Equal(t, Healthy, snap.Status)
}

func TestAggregateDegradedWhenNonCriticalDown(t *testing.T) {
	reg := newTestRegistry(false, errors.New("boom"))
	m := New(reg, time.Hour, prometheus.NewRegistry(), logrus.New())
	snap := m.Poll(context.Background())
	require.Equal(t, Degraded, snap.Status)
}

func TestAggregateUnhealthyWhenCriticalDown(t *testing.T) {
	reg := newTestRegistry(true, errors.New("boom"))
	m := New(reg, time.Hour, prometheus.NewRegistry(), logrus.New())
	snap := m.Poll(context.Background())
	require.Equal(t, Unhealthy, snap.Status)
}
