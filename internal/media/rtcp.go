package media

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pion/rtcp"
	log "github.com/sirupsen/logrus"
)

type RTCPStats struct {
	SenderReports    uint64
	LastSenderReport time.Time
	LastRTPTime      uint32
	Malformed        uint64
	Goodbye          bool
}

// RTCPListener decodes the RTCP companion stream on the port after the RTP
// port.
type RTCPListener struct {
	sync.RWMutex
	conn  net.PacketConn
	label string
	stats RTCPStats

	closed bool
	err    error
	done   chan struct{}
}

func ListenRTCP(address string, port int) (*RTCPListener, error) {
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return NewRTCPListener(conn), nil
}

func NewRTCPListener(conn net.PacketConn) *RTCPListener {
	l := &RTCPListener{
		conn:  conn,
		label: portLabel(conn.LocalAddr()),
		done:  make(chan struct{}),
	}
	go l.loop()
	return l
}

func (l *RTCPListener) loop() {
	buf := make([]byte, DefaultBufferSize)
	for {
		n, _, err := l.conn.ReadFrom(buf)
		if err != nil {
			l.closeWith(err)
			return
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			log.WithError(err).Debug("failed to decode rtcp packet")
			l.Lock()
			l.stats.Malformed++
			l.Unlock()
			continue
		}
		l.record(packets)
	}
}

func (l *RTCPListener) record(packets []rtcp.Packet) {
	l.Lock()
	defer l.Unlock()
	for _, p := range packets {
		switch pkt := p.(type) {
		case *rtcp.SenderReport:
			l.stats.SenderReports++
			l.stats.LastSenderReport = time.Now()
			l.stats.LastRTPTime = pkt.RTPTime
			senderReports.WithLabelValues(l.label).Inc()
		case *rtcp.Goodbye:
			l.stats.Goodbye = true
		}
	}
}

func (l *RTCPListener) closeWith(err error) {
	l.Lock()
	defer l.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.err = err
	_ = l.conn.Close()
	close(l.done)
}

func (l *RTCPListener) Close() error {
	l.Lock()
	defer l.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	return l.conn.Close()
}

func (l *RTCPListener) Stats() RTCPStats {
	l.RLock()
	defer l.RUnlock()
	return l.stats
}

func (l *RTCPListener) Err() error {
	l.RLock()
	defer l.RUnlock()
	return l.err
}

func (l *RTCPListener) Done() <-chan struct{} {
	return l.done
}

func (l *RTCPListener) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}
