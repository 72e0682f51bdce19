package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	cli "github.com/jawher/mow.cli"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bilbercode/camwatch/internal/camera"
	"github.com/bilbercode/camwatch/internal/health"
	"github.com/bilbercode/camwatch/internal/media"
	"github.com/bilbercode/camwatch/internal/rtsp"
	"github.com/bilbercode/camwatch/internal/rtsp/transport"
)

const (
	appName = "camwatch"
	appDesc = "RTSP camera health prober"

	frameQueueSize = 256
)

type options struct {
	cameras     *string
	url         *string
	interval    *string
	timeout     *string
	transports  *string
	clientPorts *string
	destination *string
	socks       *string
	socksUser   *string
	socksPass   *string
	metricsAddr *string
	logLevel    *string
}

func main() {
	app := cli.App(appName, appDesc)

	opts := options{
		cameras: app.String(cli.StringOpt{
			Name:   "cameras",
			Desc:   "YAML file listing the cameras to watch",
			EnvVar: "CAMWATCH_CAMERAS",
			Value:  "cameras.yaml",
		}),
		url: app.String(cli.StringOpt{
			Name:   "url",
			Desc:   "single rtsp URL, used instead of the camera list",
			EnvVar: "CAMWATCH_URL",
		}),
		interval: app.String(cli.StringOpt{
			Name:   "interval",
			Desc:   "time between probes of a camera",
			EnvVar: "CAMWATCH_INTERVAL",
			Value:  camera.DefaultInterval.String(),
		}),
		timeout: app.String(cli.StringOpt{
			Name:   "timeout",
			Desc:   "time a camera has to describe its stream",
			EnvVar: "CAMWATCH_TIMEOUT",
			Value:  camera.DefaultTimeout.String(),
		}),
		transports: app.String(cli.StringOpt{
			Name:   "transport",
			Desc:   "comma separated transport variants offered in SETUP",
			EnvVar: "CAMWATCH_TRANSPORT",
			Value:  string(transport.VariantRTPAVPUDP),
		}),
		clientPorts: app.String(cli.StringOpt{
			Name:   "client-ports",
			Desc:   "local RTP-RTCP port pair",
			EnvVar: "CAMWATCH_CLIENT_PORTS",
			Value:  rtsp.DefaultClientPorts.String(),
		}),
		destination: app.String(cli.StringOpt{
			Name:   "destination",
			Desc:   "address the server should send media to",
			EnvVar: "CAMWATCH_DESTINATION",
		}),
		socks: app.String(cli.StringOpt{
			Name:   "socks",
			Desc:   "SOCKS5 proxy host[:port] for the --url camera",
			EnvVar: "CAMWATCH_SOCKS",
		}),
		socksUser: app.String(cli.StringOpt{
			Name:   "socks.user",
			Desc:   "SOCKS5 username",
			EnvVar: "CAMWATCH_SOCKS_USER",
		}),
		socksPass: app.String(cli.StringOpt{
			Name:   "socks.pass",
			Desc:   "SOCKS5 password",
			EnvVar: "CAMWATCH_SOCKS_PASS",
		}),
		metricsAddr: app.String(cli.StringOpt{
			Name:   "metrics.addr",
			Desc:   "address serving /metrics, empty disables it",
			EnvVar: "CAMWATCH_METRICS_ADDR",
			Value:  ":9120",
		}),
		logLevel: app.String(cli.StringOpt{
			Name:   "log.level",
			Desc:   "log level",
			EnvVar: "CAMWATCH_LOG_LEVEL",
			Value:  "info",
		}),
	}

	app.Before = func() {
		level, err := log.ParseLevel(*opts.logLevel)
		if err != nil {
			log.WithError(err).Fatal("invalid log level")
		}
		log.SetLevel(level)
	}

	app.Command("watch", "probe every camera on an interval", func(cmd *cli.Cmd) {
		cmd.Action = func() { run(opts.watch) }
	})
	app.Command("probe", "probe every camera once and print the verdicts", func(cmd *cli.Cmd) {
		cmd.Action = func() { run(opts.probe) }
	})
	app.Command("receive", "play --url and write its H.264 stream to a file", func(cmd *cli.Cmd) {
		cmd.Spec = "[OUT]"
		out := cmd.StringArg("OUT", "stream.h264", "output file")
		cmd.Action = func() {
			run(func(ctx context.Context) error { return opts.receive(ctx, *out) })
		}
	})
	app.Action = func() { run(opts.watch) }

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("failed to execute application")
	}
}

func run(fn func(ctx context.Context) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := fn(ctx); err != nil {
		log.WithError(err).Fatal("stopped")
	}
}

func (o options) sessionConfig() (rtsp.Config, error) {
	variants, err := transport.ParseVariants(*o.transports)
	if err != nil {
		return rtsp.Config{}, err
	}
	ports, err := transport.ParsePortRange(*o.clientPorts)
	if err != nil {
		return rtsp.Config{}, fmt.Errorf("invalid client ports: %w", err)
	}
	return rtsp.Config{
		Destination: *o.destination,
		ClientPorts: ports,
		Transports:  variants,
	}, nil
}

func (o options) serviceConfig() (camera.ServiceConfig, error) {
	session, err := o.sessionConfig()
	if err != nil {
		return camera.ServiceConfig{}, err
	}
	interval, err := time.ParseDuration(*o.interval)
	if err != nil {
		return camera.ServiceConfig{}, fmt.Errorf("invalid interval: %w", err)
	}
	timeout, err := time.ParseDuration(*o.timeout)
	if err != nil {
		return camera.ServiceConfig{}, fmt.Errorf("invalid timeout: %w", err)
	}
	return camera.ServiceConfig{Interval: interval, Timeout: timeout, Session: session}, nil
}

// socksProxy parses --socks into the proxy of the --url camera.
func (o options) socksProxy() *camera.Socks {
	if *o.socks == "" {
		return nil
	}
	s := &camera.Socks{Host: *o.socks, Port: camera.DefaultSocksPort, User: *o.socksUser, Password: *o.socksPass}
	if host, port, err := net.SplitHostPort(*o.socks); err == nil {
		if p, err := strconv.Atoi(port); err == nil {
			s.Host, s.Port = host, p
		}
	}
	return s
}

func (o options) registry() (*camera.Registry, error) {
	var cameras []*camera.Camera
	if *o.url != "" {
		c, err := camera.FromURL("cli", *o.url)
		if err != nil {
			return nil, err
		}
		c.Socks = o.socksProxy()
		cameras = []*camera.Camera{c}
	} else {
		cfg, err := camera.LoadConfig(*o.cameras)
		if err != nil {
			return nil, err
		}
		cameras = cfg.Cameras
	}

	registry := camera.NewRegistry()
	for _, c := range cameras {
		if _, err := registry.Add(c); err != nil {
			return nil, err
		}
	}
	if registry.Len() == 0 {
		return nil, errors.New("no cameras configured")
	}
	return registry, nil
}

func (o options) watch(ctx context.Context) error {
	cfg, err := o.serviceConfig()
	if err != nil {
		return err
	}
	registry, err := o.registry()
	if err != nil {
		return err
	}
	service := camera.NewService(cfg, registry)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return service.Start(ctx)
	})
	if *o.metricsAddr != "" {
		group.Go(func() error {
			return serveMetrics(ctx, *o.metricsAddr)
		})
	}
	return group.Wait()
}

func (o options) probe(ctx context.Context) error {
	cfg, err := o.serviceConfig()
	if err != nil {
		return err
	}
	registry, err := o.registry()
	if err != nil {
		return err
	}
	service := camera.NewService(cfg, registry)

	unhealthy := 0
	for _, m := range registry.All() {
		verdict := service.Probe(ctx, m)
		fmt.Printf("%s\t%s\t%s\n", m.Camera.ID, m.Camera.Key(), verdict)
		if verdict != health.VerdictHealthy {
			unhealthy++
		}
	}
	if unhealthy > 0 {
		return fmt.Errorf("%d of %d cameras unhealthy", unhealthy, registry.Len())
	}
	return nil
}

func (o options) receive(ctx context.Context, out string) error {
	if *o.url == "" {
		return errors.New("receive needs --url")
	}
	cfg, err := o.sessionConfig()
	if err != nil {
		return err
	}
	if s := o.socksProxy(); s != nil {
		if cfg.Dialer, err = s.Dialer(); err != nil {
			return err
		}
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	defer f.Close()

	sink, stopSink := media.QueueSink(frameQueueSize, func(frame []byte) {
		if _, err := f.Write(frame); err != nil {
			log.WithError(err).Error("failed to write frame")
		}
	})
	defer stopSink()

	receiver, err := media.Listen(media.ReceiverConfig{Port: cfg.ClientPorts.RTP}, sink)
	if err != nil {
		return err
	}
	defer receiver.Close()
	reports, err := media.ListenRTCP("", cfg.ClientPorts.RTCP)
	if err != nil {
		return err
	}
	defer reports.Close()

	session, err := rtsp.Dial(ctx, *o.url, cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	if err := start(ctx, session); err != nil {
		return err
	}
	log.Infof("playing %s into %s", session.Base(), out)

	select {
	case <-ctx.Done():
	case <-receiver.Done():
	case <-session.Done():
	}

	if session.Active() {
		if _, err := session.Teardown(); err == nil {
			select {
			case <-session.Done():
			case <-time.After(time.Second):
			}
		}
	}

	stats, rtcpStats := receiver.Stats(), reports.Stats()
	log.WithFields(log.Fields{
		"packets":        stats.Packets,
		"frames":         stats.Frames,
		"dropped":        stats.Dropped,
		"sender_reports": rtcpStats.SenderReports,
	}).Info("stream finished")

	if err := receiver.Err(); err != nil && !errors.Is(err, media.ErrInactive) {
		return err
	}
	return session.Err()
}

// start runs describe, setup and play, waiting for each reply in turn.
func start(ctx context.Context, session *rtsp.Session) error {
	cseq, err := session.Describe()
	if err != nil {
		return err
	}
	if _, err := session.Wait(ctx, cseq); err != nil {
		return err
	}
	if err := session.Err(); err != nil {
		return err
	}

	sequences, err := session.SetupAll()
	if err != nil {
		return err
	}
	for _, cseq := range sequences {
		if _, err := session.Wait(ctx, cseq); err != nil {
			return err
		}
	}

	cseq, err = session.Play("", 0)
	if err != nil {
		return err
	}
	if _, err := session.Wait(ctx, cseq); err != nil {
		return err
	}
	return session.Err()
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	log.Infof("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
