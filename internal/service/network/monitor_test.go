package network_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/supportdesk/backend/internal/config"
	"github.com/zhouzirui/supportdesk/backend/internal/service/network"
)

func testConfig() config.NetworkConfig {
	return config.NetworkConfig{ProbeInterval: 10 * time.Millisecond, ProbeTimeout: 50 * time.Millisecond}
}

func TestMonitorNotifiesOnlyOnChange(t *testing.T) {
	m := network.NewMonitor(nil, testConfig(), nil, nil)
	assert.Equal(t, network.StatusUnknown, m.Status())

	var seen []network.Status
	m.OnChange(func(s network.Status) { seen = append(seen, s) })

	m.Report(true)
	m.Report(true)
	m.Report(false)
	m.Report(false)
	m.Report(true)

	assert.Equal(t, []network.Status{network.StatusOnline, network.StatusOffline, network.StatusOnline}, seen)
}

func TestProbeFailureOverridesOSSignal(t *testing.T) {
	var healthy atomic.Bool
	prober := network.ProberFunc(func(context.Context) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("captive portal")
	})

	m := network.NewMonitor(prober, testConfig(), nil, nil)
	m.Report(true)
	require.True(t, m.IsOnline())

	assert.False(t, m.Check(context.Background()))
	assert.True(t, m.IsOffline())

	healthy.Store(true)
	assert.True(t, m.Check(context.Background()))
	assert.True(t, m.IsOnline())
}

func TestCheckHonoursTimeout(t *testing.T) {
	prober := network.ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	m := network.NewMonitor(prober, testConfig(), nil, nil)
	start := time.Now()
	assert.False(t, m.Check(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunProbesPeriodically(t *testing.T) {
	var probes atomic.Int32
	prober := network.ProberFunc(func(context.Context) error {
		probes.Add(1)
		return nil
	})
	m := network.NewMonitor(prober, testConfig(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return probes.Load() >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, m.IsOnline())
	cancel()
	require.NoError(t, <-done)
}

func TestHTTPProber(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := network.HTTPProber{URL: srv.URL}
	assert.NoError(t, p.Probe(context.Background()))

	status.Store(http.StatusServiceUnavailable)
	assert.Error(t, p.Probe(context.Background()))
}
