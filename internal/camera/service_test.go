package camera

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilbercode/camwatch/internal/health"
	"github.com/bilbercode/camwatch/internal/rtsp"
	"github.com/bilbercode/camwatch/internal/rtsp/rtsptest"
)

type providerFunc func(ctx context.Context) (string, error)

func (f providerFunc) StreamURI(ctx context.Context) (string, error) { return f(ctx) }

type countingRebooter struct {
	sync.Mutex
	calls int
}

func (r *countingRebooter) Reboot(context.Context) error {
	r.Lock()
	defer r.Unlock()
	r.calls++
	return nil
}

func (r *countingRebooter) Calls() int {
	r.Lock()
	defer r.Unlock()
	return r.calls
}

func newServer(t *testing.T) *rtsptest.Server {
	t.Helper()
	srv, err := rtsptest.NewServer()
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func monitored(t *testing.T, c *Camera) *Monitored {
	t.Helper()
	m, err := NewRegistry().Add(c)
	require.NoError(t, err)
	return m
}

func TestProbeVerdicts(t *testing.T) {
	srv := newServer(t)
	down := "rtsp://" + closedAddr(t) + "/stream"
	deviceDown := errors.New("device service unreachable")

	cases := []struct {
		name     string
		url      string
		provider DeviceProvider
		verdict  health.Verdict
		reboots  int
	}{
		{
			name:    "healthy",
			url:     srv.URL("", "/stream"),
			verdict: health.VerdictHealthy,
		},
		{
			name: "stream only",
			url:  srv.URL("", "/stream"),
			provider: providerFunc(func(context.Context) (string, error) {
				return "", deviceDown
			}),
			verdict: health.VerdictRTSPOnly,
		},
		{
			name: "stream down",
			url:  down,
			provider: providerFunc(func(context.Context) (string, error) {
				return down, nil
			}),
			verdict: health.VerdictReboot,
			reboots: 1,
		},
		{
			name: "both down",
			url:  down,
			provider: providerFunc(func(context.Context) (string, error) {
				return "", deviceDown
			}),
			verdict: health.VerdictBothDown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rebooter := &countingRebooter{}
			cfg := ServiceConfig{
				Timeout:  2 * time.Second,
				Rebooter: func(*Camera) Rebooter { return rebooter },
			}
			if tc.provider != nil {
				cfg.Provider = func(*Camera) DeviceProvider { return tc.provider }
			}
			svc := NewService(cfg, NewRegistry())

			m := monitored(t, &Camera{ID: "cam", IP: "127.0.0.1", DevicePort: 8899, URL: tc.url})
			verdict := svc.Probe(context.Background(), m)

			assert.Equal(t, tc.verdict, verdict)
			assert.Equal(t, tc.verdict, m.Verdict())
			assert.Equal(t, 1, m.Probes())
			assert.Equal(t, tc.reboots, rebooter.Calls())
		})
	}
}

func TestProbePublishesEventsInOrder(t *testing.T) {
	srv := newServer(t)
	svc := NewService(ServiceConfig{Timeout: 2 * time.Second}, NewRegistry())
	m := monitored(t, &Camera{ID: "cam", IP: "127.0.0.1", URL: srv.URL("", "/stream")})

	var events []health.Event
	m.Broker.Subscribe(func(e health.Event) { events = append(events, e) })

	svc.Probe(context.Background(), m)

	assert.Equal(t, []health.Event{
		health.OnvifConnecting,
		health.OnvifHealthy,
		health.RTSPConnecting,
		health.RTSPHealthy,
		health.CompleteBuffer,
	}, events)
	assert.Equal(t, []health.Event{
		health.OnvifConnecting,
		health.OnvifHealthy,
		health.RTSPConnecting,
		health.RTSPHealthy,
	}, m.Condition().Events)
}

func TestProbeRejectedDescribe(t *testing.T) {
	srv := newServer(t)
	srv.Handle(rtsp.MethodDescribe, func(req *rtsp.Request) *rtsp.Response {
		return &rtsp.Response{Code: http.StatusNotFound}
	})

	rebooter := &countingRebooter{}
	svc := NewService(ServiceConfig{
		Timeout:  2 * time.Second,
		Rebooter: func(*Camera) Rebooter { return rebooter },
	}, NewRegistry())
	m := monitored(t, &Camera{ID: "cam", IP: "127.0.0.1", URL: srv.URL("", "/stream")})

	assert.Equal(t, health.VerdictReboot, svc.Probe(context.Background(), m))
	assert.Equal(t, 1, rebooter.Calls())
}

func TestProbeSendsCredentials(t *testing.T) {
	srv := newServer(t)
	svc := NewService(ServiceConfig{Timeout: 2 * time.Second}, NewRegistry())
	m := monitored(t, &Camera{
		ID:       "cam",
		IP:       "127.0.0.1",
		URL:      srv.URL("", "/stream"),
		Username: "admin",
		Password: "secret",
	})

	assert.Equal(t, health.VerdictHealthy, svc.Probe(context.Background(), m))

	describes := srv.RequestsFor(rtsp.MethodDescribe)
	require.Len(t, describes, 1)
	assert.NotContains(t, describes[0].URL, "secret")
}

func TestProbeCancelledContext(t *testing.T) {
	srv := newServer(t)
	rebooter := &countingRebooter{}
	svc := NewService(ServiceConfig{
		Timeout:  2 * time.Second,
		Rebooter: func(*Camera) Rebooter { return rebooter },
	}, NewRegistry())
	m := monitored(t, &Camera{ID: "cam", IP: "127.0.0.1", URL: srv.URL("", "/stream")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, health.VerdictUnknown, svc.Probe(ctx, m))
	assert.Equal(t, 0, rebooter.Calls())
	assert.Equal(t, 0, m.Probes())
	assert.Empty(t, srv.RequestsFor(rtsp.MethodDescribe))
}

func TestProbeCancelledDuringStream(t *testing.T) {
	srv := newServer(t)
	rebooter := &countingRebooter{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := NewService(ServiceConfig{
		Timeout:  2 * time.Second,
		Rebooter: func(*Camera) Rebooter { return rebooter },
		Provider: func(c *Camera) DeviceProvider {
			return providerFunc(func(context.Context) (string, error) {
				cancel()
				return c.URL, nil
			})
		},
	}, NewRegistry())
	m := monitored(t, &Camera{ID: "cam", IP: "127.0.0.1", URL: srv.URL("", "/stream")})

	assert.Equal(t, health.VerdictUnknown, svc.Probe(ctx, m))
	assert.Equal(t, 0, rebooter.Calls())
	assert.Equal(t, 0, m.Probes())

	healthy := NewService(ServiceConfig{Timeout: 2 * time.Second}, NewRegistry())
	assert.Equal(t, health.VerdictHealthy, healthy.Probe(context.Background(), m))
	assert.Equal(t, []health.Event{
		health.OnvifConnecting,
		health.OnvifHealthy,
		health.RTSPConnecting,
		health.RTSPHealthy,
	}, m.Condition().Events)
}

func TestProbeWithoutURL(t *testing.T) {
	svc := NewService(ServiceConfig{Timeout: time.Second}, NewRegistry())
	m := monitored(t, &Camera{ID: "cam", IP: "127.0.0.1"})

	assert.Equal(t, health.VerdictBothDown, svc.Probe(context.Background(), m))
}

func TestServiceStartProbesUntilCancelled(t *testing.T) {
	srv := newServer(t)
	registry := NewRegistry()
	first, err := registry.Add(&Camera{ID: "one", IP: "127.0.0.1", DevicePort: 1, URL: srv.URL("", "/one")})
	require.NoError(t, err)
	second, err := registry.Add(&Camera{ID: "two", IP: "127.0.0.1", DevicePort: 2, URL: srv.URL("", "/two")})
	require.NoError(t, err)

	svc := NewService(ServiceConfig{Interval: 20 * time.Millisecond, Timeout: time.Second}, registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool {
		return first.Probes() >= 2 && second.Probes() >= 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}

	assert.Equal(t, health.VerdictHealthy, first.Verdict())
	assert.False(t, second.LastProbe().IsZero())
}
