package media

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frames struct {
	sync.Mutex
	got [][]byte
}

func (f *frames) sink(frame []byte) {
	f.Lock()
	defer f.Unlock()
	f.got = append(f.got, frame)
}

func (f *frames) all() [][]byte {
	f.Lock()
	defer f.Unlock()
	return append([][]byte(nil), f.got...)
}

func newReceiver(t *testing.T, cfg ReceiverConfig, sink FrameSink) (*Receiver, net.Conn) {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	r := NewReceiver(conn, cfg, sink)
	t.Cleanup(func() { _ = r.Close() })

	client, err := net.Dial("udp", r.LocalAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return r, client
}

func send(t *testing.T, conn net.Conn, p *rtp.Packet) {
	t.Helper()
	b, err := p.Marshal()
	require.NoError(t, err)
	_, err = conn.Write(b)
	require.NoError(t, err)
}

func TestReceiverSkipsCSRCAndExtension(t *testing.T) {
	var f frames
	r, client := newReceiver(t, ReceiverConfig{}, f.sink)

	sps := []byte{0x67, 0x42, 0xC0, 0x1E}
	p := &rtp.Packet{
		Header: rtp.Header{
			Version:          2,
			PayloadType:      96,
			SequenceNumber:   1,
			Timestamp:        90000,
			SSRC:             0x1234,
			CSRC:             []uint32{1, 2},
			Extension:        true,
			ExtensionProfile: 0xBEDE,
		},
		Payload: sps,
	}
	require.NoError(t, p.Header.SetExtension(1, []byte{0xAA, 0xBB}))
	send(t, client, p)

	require.Eventually(t, func() bool { return len(f.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, append([]byte{0, 0, 0, 1}, sps...), f.all()[0])

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Packets)
	assert.Equal(t, uint64(1), stats.Frames)
	assert.False(t, stats.LastPacket.IsZero())
}

func TestReceiverReassemblesFragments(t *testing.T) {
	var f frames
	r, client := newReceiver(t, ReceiverConfig{}, f.sink)

	nal := []byte{0x65, 0x88, 0x84, 0x00, 0x33, 0xFF, 0x10, 0x20, 0x30}
	for i, payload := range fragment(nal, 3) {
		send(t, client, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    96,
				SequenceNumber: uint16(10 + i),
				Marker:         i == 2,
			},
			Payload: payload,
		})
	}
	send(t, client, &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 13},
		Payload: []byte{0x18, 0x00},
	})

	require.Eventually(t, func() bool { return r.Stats().Packets == 4 }, time.Second, 5*time.Millisecond)
	require.Len(t, f.all(), 1)
	assert.Equal(t, append([]byte{0, 0, 0, 1}, nal...), f.all()[0])
	assert.Equal(t, uint64(1), r.Stats().Dropped)
	assert.True(t, r.Running())
}

func TestReceiverDropsUndecodableHeader(t *testing.T) {
	r, client := newReceiver(t, ReceiverConfig{}, nil)

	_, err := client.Write([]byte{0x80, 0x60})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return r.Stats().Dropped == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, r.Closed())
}

func TestReceiverInactivity(t *testing.T) {
	r, _ := newReceiver(t, ReceiverConfig{Timeout: 50 * time.Millisecond}, nil)

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("receiver did not time out")
	}
	assert.ErrorIs(t, r.Err(), ErrInactive)
	assert.True(t, r.Closed())
	assert.False(t, r.Running())
}

func TestReceiverCloseIsIdempotent(t *testing.T) {
	r, _ := newReceiver(t, ReceiverConfig{}, nil)

	require.NoError(t, r.Close())
	assert.NoError(t, r.Close())
	assert.True(t, r.Closed())
	assert.False(t, r.Running())

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, r.Err())
}

func TestListen(t *testing.T) {
	r, err := Listen(ReceiverConfig{Address: "127.0.0.1"}, nil)
	require.NoError(t, err)
	defer r.Close()
	assert.NotEqual(t, "0", portLabel(r.LocalAddr()))
}

func TestQueueSink(t *testing.T) {
	var f frames
	sink, stop := QueueSink(4, f.sink)

	sink([]byte{1})
	sink([]byte{2})
	stop()
	sink([]byte{3})

	assert.Equal(t, [][]byte{{1}, {2}}, f.all())
	stop()
}

func TestQueueSinkDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var f frames
	sink, stop := QueueSink(1, func(frame []byte) {
		<-release
		f.sink(frame)
	})

	for i := 0; i < 10; i++ {
		sink([]byte{byte(i)})
	}
	close(release)
	stop()

	got := f.all()
	assert.Less(t, len(got), 10)
	assert.Equal(t, []byte{0}, got[0])
}

func TestRTCPListener(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	l := NewRTCPListener(conn)
	defer l.Close()

	client, err := net.Dial("udp", l.LocalAddr().String())
	require.NoError(t, err)
	defer client.Close()

	sr, err := rtcp.Marshal([]rtcp.Packet{&rtcp.SenderReport{SSRC: 0x1234, RTPTime: 4242}})
	require.NoError(t, err)
	_, err = client.Write(sr)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return l.Stats().SenderReports == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint32(4242), l.Stats().LastRTPTime)

	_, err = client.Write([]byte{0xFF})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.Stats().Malformed == 1 }, time.Second, 5*time.Millisecond)

	bye, err := rtcp.Marshal([]rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{0x1234}}})
	require.NoError(t, err)
	_, err = client.Write(bye)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.Stats().Goodbye }, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Err())
}
