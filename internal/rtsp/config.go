package rtsp

import (
	"context"
	"net"
	"time"

	"github.com/pion/sdp/v3"
	log "github.com/sirupsen/logrus"

	"github.com/bilbercode/camwatch/internal/rtsp/transport"
)

const (
	DefaultKeepaliveInterval = 10 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultUserAgent         = "camwatch/1.0"
	DefaultPort              = "554"

	traceTimeLayout = "2006-01-02 15:04:05.000000"
)

var DefaultClientPorts = transport.PortRange{RTP: 10014, RTCP: 10015}

// Dialer opens the control connection. net.Dialer and the SOCKS5 dialer from
// golang.org/x/net/proxy both satisfy it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Config struct {
	Dialer      Dialer
	DialTimeout time.Duration

	// Destination is the address the server should send media to. Empty
	// means the local address of the control connection.
	Destination string
	ClientPorts transport.PortRange
	Transports  []transport.Variant

	EnableARQ bool
	EnableFEC bool
	NAT       string

	UserAgent         string
	KeepaliveInterval time.Duration

	// LogSink receives protocol trace lines in order, outside the session
	// lock, so it may call back into the session.
	LogSink func(line string)

	// ChooseTransport may replace the transport variants once the session
	// description is known.
	ChooseTransport func(desc *sdp.SessionDescription) []transport.Variant
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.ClientPorts == (transport.PortRange{}) {
		c.ClientPorts = DefaultClientPorts
	}
	if len(c.Transports) == 0 {
		c.Transports = []transport.Variant{transport.VariantRTPAVPUDP}
	} else {
		c.Transports = append([]transport.Variant(nil), c.Transports...)
	}
	if c.LogSink == nil {
		c.LogSink = func(line string) {
			log.WithField("component", "rtsp").Debug(line)
		}
	}
	if c.Dialer == nil {
		c.Dialer = &net.Dialer{Timeout: c.DialTimeout}
	}
	return c
}
