package media

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "rtp_packets_total",
		Namespace: "camwatch",
		Help:      "number of RTP packets received",
	}, []string{"port"})
	framesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "frames_total",
		Namespace: "camwatch",
		Help:      "number of reassembled NAL units handed to a sink",
	}, []string{"port"})
	packetsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "rtp_dropped_total",
		Namespace: "camwatch",
		Help:      "number of RTP packets dropped as undecodable or unsupported",
	}, []string{"port"})
	queueDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name:      "frame_queue_drops_total",
		Namespace: "camwatch",
		Help:      "number of frames dropped because a sink queue was full",
	})
	senderReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "rtcp_sender_reports_total",
		Namespace: "camwatch",
		Help:      "number of RTCP sender reports received",
	}, []string{"port"})
)
