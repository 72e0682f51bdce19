package media

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pion/rtp"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultTimeout    = 5 * time.Second
	DefaultBufferSize = 4096
)

var ErrInactive = errors.New("no RTP packets received within the inactivity timeout")

type ReceiverConfig struct {
	Address    string
	Port       int
	Timeout    time.Duration
	BufferSize int
}

func (c ReceiverConfig) withDefaults() ReceiverConfig {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	return c
}

type Stats struct {
	Packets    uint64
	Frames     uint64
	Dropped    uint64
	LastPacket time.Time
}

// Receiver reads RTP over one UDP socket and feeds H.264 payloads through a
// Reassembler into a FrameSink. The socket and the reassembly state belong to
// the receiver goroutine.
type Receiver struct {
	sync.RWMutex
	cfg   ReceiverConfig
	conn  net.PacketConn
	sink  FrameSink
	label string

	stats   Stats
	running bool
	closed  bool
	err     error
	done    chan struct{}
}

// Listen binds cfg.Address:cfg.Port and starts receiving.
func Listen(cfg ReceiverConfig, sink FrameSink) (*Receiver, error) {
	addr := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return NewReceiver(conn, cfg, sink), nil
}

// NewReceiver starts receiving on an already bound socket.
func NewReceiver(conn net.PacketConn, cfg ReceiverConfig, sink FrameSink) *Receiver {
	if sink == nil {
		sink = func([]byte) {}
	}
	r := &Receiver{
		cfg:     cfg.withDefaults(),
		conn:    conn,
		sink:    sink,
		label:   portLabel(conn.LocalAddr()),
		running: true,
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func portLabel(addr net.Addr) string {
	if _, port, err := net.SplitHostPort(addr.String()); err == nil {
		return port
	}
	return addr.String()
}

func (r *Receiver) loop() {
	var (
		buf         = make([]byte, r.cfg.BufferSize)
		reassembler = &Reassembler{}
	)
	for {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.cfg.Timeout))
		n, _, err := r.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				r.closeWith(ErrInactive)
				return
			}
			r.closeWith(err)
			return
		}
		r.handle(reassembler, buf[:n])
	}
}

func (r *Receiver) handle(reassembler *Reassembler, packet []byte) {
	packetsReceived.WithLabelValues(r.label).Inc()

	var header rtp.Header
	offset, err := header.Unmarshal(packet)
	if err != nil || offset >= len(packet) {
		r.count(0, 1)
		packetsDropped.WithLabelValues(r.label).Inc()
		return
	}
	log.WithFields(log.Fields{
		"seq":       header.SequenceNumber,
		"timestamp": header.Timestamp,
		"type":      header.PayloadType,
		"ssrc":      header.SSRC,
		"marker":    header.Marker,
	}).Trace("rtp packet")

	frame, result := reassembler.Push(packet[offset:])
	switch result {
	case ResultFrame:
		r.count(1, 0)
		framesEmitted.WithLabelValues(r.label).Inc()
		r.sink(frame)
	case ResultDropped:
		r.count(0, 1)
		packetsDropped.WithLabelValues(r.label).Inc()
	default:
		r.count(0, 0)
	}
}

func (r *Receiver) count(frames, dropped uint64) {
	r.Lock()
	defer r.Unlock()
	r.stats.Packets++
	r.stats.Frames += frames
	r.stats.Dropped += dropped
	r.stats.LastPacket = time.Now()
}

// closeWith records why the loop stopped. An error after Close is ignored.
func (r *Receiver) closeWith(err error) {
	r.Lock()
	defer r.Unlock()
	r.running = false
	if r.closed {
		return
	}
	r.closed = true
	r.err = err
	_ = r.conn.Close()
	close(r.done)
}

// Close stops the receiver and releases the socket. Further calls are no-ops.
func (r *Receiver) Close() error {
	r.Lock()
	defer r.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.running = false
	close(r.done)
	return r.conn.Close()
}

func (r *Receiver) Stats() Stats {
	r.RLock()
	defer r.RUnlock()
	return r.stats
}

func (r *Receiver) Running() bool {
	r.RLock()
	defer r.RUnlock()
	return r.running
}

func (r *Receiver) Closed() bool {
	r.RLock()
	defer r.RUnlock()
	return r.closed
}

func (r *Receiver) Err() error {
	r.RLock()
	defer r.RUnlock()
	return r.err
}

func (r *Receiver) Done() <-chan struct{} {
	return r.done
}

func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}
