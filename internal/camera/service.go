package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"golang.org/x/sync/errgroup"

	"github.com/bilbercode/camwatch/internal/health"
	"github.com/bilbercode/camwatch/internal/rtsp"
)

const (
	DefaultInterval = 55 * time.Second
	DefaultTimeout  = 15 * time.Second

	teardownGrace = time.Second
)

var ErrNoStreamURI = errors.New("no stream URI configured")

var (
	probesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "probes_total",
		Namespace: "camwatch",
		Help:      "number of completed camera probes by verdict",
	}, []string{"camera", "result"})
	rebootsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "reboots_total",
		Namespace: "camwatch",
		Help:      "number of reboots requested for a camera",
	}, []string{"camera"})
)

type ServiceConfig struct {
	Interval time.Duration
	Timeout  time.Duration

	// Session is the template for every probe session. A camera with a
	// SOCKS proxy replaces its Dialer.
	Session rtsp.Config

	// Provider returns the device provider of a camera. Nil uses the
	// configured stream URL.
	Provider func(c *Camera) DeviceProvider
	// Rebooter returns the rebooter of a camera. Nil logs the request.
	Rebooter func(c *Camera) Rebooter
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Provider == nil {
		c.Provider = func(c *Camera) DeviceProvider { return staticProvider{camera: c} }
	}
	if c.Rebooter == nil {
		c.Rebooter = func(c *Camera) Rebooter { return logRebooter{camera: c} }
	}
	return c
}

type service struct {
	cfg      ServiceConfig
	registry *Registry
}

func NewService(cfg ServiceConfig, registry *Registry) Service {
	return &service{cfg: cfg.withDefaults(), registry: registry}
}

func (s *service) Start(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for _, m := range s.registry.All() {
		m := m
		group.Go(func() error {
			log.Infof("watching camera %s at %s", m.Camera, m.Camera.Key())
			return s.watch(ctx, m)
		})
	}
	return group.Wait()
}

func (s *service) watch(ctx context.Context, m *Monitored) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.Probe(ctx, m)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Probe runs one health window for m and acts on the verdict. A probe cut
// short by ctx yields VerdictUnknown and leaves the previous verdict in place.
func (s *service) Probe(ctx context.Context, m *Monitored) health.Verdict {
	cam := m.Camera
	publish := m.Broker.Publish

	if ctx.Err() != nil {
		return health.VerdictUnknown
	}

	publish(health.OnvifConnecting)
	uri, err := s.cfg.Provider(cam).StreamURI(ctx)
	if err != nil {
		log.WithError(err).Warnf("device service for camera %s unavailable", cam)
		publish(health.OnvifUnhealthy)
		uri = cam.URL
	} else {
		publish(health.OnvifHealthy)
	}

	publish(health.RTSPConnecting)
	err = s.probeStream(ctx, cam, uri)
	if ctx.Err() != nil {
		log.WithError(ctx.Err()).Infof("probe of camera %s abandoned", cam)
		m.abandon()
		return health.VerdictUnknown
	}
	if err != nil {
		log.WithError(err).Warnf("stream for camera %s unavailable", cam)
		publish(health.RTSPUnhealthy)
	} else {
		publish(health.RTSPHealthy)
	}
	publish(health.CompleteBuffer)

	verdict := m.Verdict()
	probesTotal.WithLabelValues(cam.ID, verdict.String()).Inc()
	log.Infof("camera %s probe complete: %s", cam, verdict)

	if verdict == health.VerdictReboot {
		rebootsTotal.WithLabelValues(cam.ID).Inc()
		if err := s.cfg.Rebooter(cam).Reboot(ctx); err != nil {
			log.WithError(err).Errorf("failed to reboot camera %s", cam)
		}
	}
	return verdict
}

func (s *service) probeStream(ctx context.Context, cam *Camera, uri string) error {
	if uri == "" {
		return ErrNoStreamURI
	}

	cfg := s.cfg.Session
	if cam.Socks != nil {
		d, err := cam.Socks.Dialer()
		if err != nil {
			return err
		}
		cfg.Dialer = d
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	sess, err := rtsp.Dial(ctx, cam.StreamURL(uri), cfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	if _, err := sess.Describe(); err != nil {
		return fmt.Errorf("failed to describe %s: %w", cam, err)
	}
	if _, err := sess.WaitForState(ctx, rtsp.StateDescribed); err != nil {
		return fmt.Errorf("camera %s did not describe its stream: %w", cam, err)
	}

	if sess.SessionID() != "" {
		if _, err := sess.Teardown(); err == nil {
			select {
			case <-sess.Done():
			case <-time.After(teardownGrace):
			}
		}
	}
	return nil
}

type staticProvider struct {
	camera *Camera
}

func (p staticProvider) StreamURI(context.Context) (string, error) {
	if p.camera.URL == "" {
		return "", ErrNoStreamURI
	}
	return p.camera.URL, nil
}

type logRebooter struct {
	camera *Camera
}

func (r logRebooter) Reboot(context.Context) error {
	log.Warnf("camera %s needs a reboot", r.camera)
	return nil
}
