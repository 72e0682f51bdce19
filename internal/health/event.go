package health

type Event int

const (
	OnvifConnecting Event = iota + 1
	OnvifHealthy
	OnvifUnhealthy
	RTSPConnecting
	RTSPHealthy
	RTSPUnhealthy
	// CompleteBuffer closes the current window.
	CompleteBuffer
)

var eventNames = map[Event]string{
	OnvifConnecting: "ONVIF CONNECTING",
	OnvifHealthy:    "ONVIF OK",
	OnvifUnhealthy:  "ONVIF ERROR",
	RTSPConnecting:  "RTSP CONNECTING",
	RTSPHealthy:     "RTSP OK",
	RTSPUnhealthy:   "RTSP ERROR",
	CompleteBuffer:  "COMPLETE_BUFFER",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "UNKNOWN"
}

// Condition is the set of events seen during one probe window.
type Condition struct {
	Events []Event
}

func (c Condition) Has(e Event) bool {
	for _, got := range c.Events {
		if got == e {
			return true
		}
	}
	return false
}

type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictHealthy
	// VerdictRTSPOnly is a camera that streams but does not answer device
	// management.
	VerdictRTSPOnly
	VerdictBothDown
	// VerdictReboot is a camera whose device service answers while its
	// stream does not.
	VerdictReboot
)

func (v Verdict) String() string {
	switch v {
	case VerdictHealthy:
		return "healthy"
	case VerdictRTSPOnly:
		return "rtsp_only"
	case VerdictBothDown:
		return "both_down"
	case VerdictReboot:
		return "reboot"
	}
	return "unknown"
}

func Classify(c Condition) Verdict {
	switch {
	case c.Has(RTSPUnhealthy) && c.Has(OnvifHealthy):
		return VerdictReboot
	case c.Has(RTSPUnhealthy) && c.Has(OnvifUnhealthy):
		return VerdictBothDown
	case c.Has(RTSPHealthy) && c.Has(OnvifUnhealthy):
		return VerdictRTSPOnly
	case c.Has(RTSPHealthy) && c.Has(OnvifHealthy):
		return VerdictHealthy
	}
	return VerdictUnknown
}
