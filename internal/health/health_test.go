package health

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		events []Event
		want   Verdict
	}{
		{
			name:   "healthy",
			events: []Event{OnvifConnecting, OnvifHealthy, RTSPConnecting, RTSPHealthy},
			want:   VerdictHealthy,
		},
		{
			name:   "stream down device up",
			events: []Event{OnvifConnecting, OnvifHealthy, RTSPConnecting, RTSPUnhealthy},
			want:   VerdictReboot,
		},
		{
			name:   "both down",
			events: []Event{OnvifConnecting, OnvifUnhealthy, RTSPConnecting, RTSPUnhealthy},
			want:   VerdictBothDown,
		},
		{
			name:   "stream only",
			events: []Event{OnvifUnhealthy, RTSPHealthy},
			want:   VerdictRTSPOnly,
		},
		{
			name:   "incomplete",
			events: []Event{OnvifConnecting, OnvifHealthy, RTSPConnecting},
			want:   VerdictUnknown,
		},
		{
			name: "empty",
			want: VerdictUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(Condition{Events: tc.events}))
		})
	}
}

func TestWindowEmitsOnCompleteBuffer(t *testing.T) {
	var got []Condition
	w := NewWindow(WindowConfig{}, func(c Condition) { got = append(got, c) })

	w.Push(OnvifConnecting)
	w.Push(OnvifHealthy)
	assert.Empty(t, got)
	assert.Equal(t, []Event{OnvifConnecting, OnvifHealthy}, w.Pending())

	w.Push(CompleteBuffer)
	require.Len(t, got, 1)
	assert.Equal(t, []Event{OnvifConnecting, OnvifHealthy}, got[0].Events)
	assert.Empty(t, w.Pending())

	w.Push(CompleteBuffer)
	require.Len(t, got, 2)
	assert.Empty(t, got[1].Events)
}

func TestWindowDiscard(t *testing.T) {
	var got []Condition
	w := NewWindow(WindowConfig{}, func(c Condition) { got = append(got, c) })

	w.Push(OnvifConnecting)
	w.Push(OnvifHealthy)
	w.Discard()
	assert.Empty(t, w.Pending())

	w.Push(RTSPHealthy)
	w.Push(CompleteBuffer)
	require.Len(t, got, 1)
	assert.Equal(t, []Event{RTSPHealthy}, got[0].Events)
}

func TestWindowBounded(t *testing.T) {
	w := NewWindow(WindowConfig{MaxBuffered: 2}, func(Condition) {})
	w.Push(OnvifConnecting)
	w.Push(OnvifHealthy)
	w.Push(RTSPConnecting)
	assert.Equal(t, []Event{OnvifHealthy, RTSPConnecting}, w.Pending())
}

func TestBroker(t *testing.T) {
	b := NewBroker()

	var (
		mu   sync.Mutex
		a, c []Event
	)
	unsubscribeA := b.Subscribe(func(e Event) {
		mu.Lock()
		a = append(a, e)
		mu.Unlock()
	})
	b.Subscribe(func(e Event) {
		mu.Lock()
		c = append(c, e)
		mu.Unlock()
	})

	b.Publish(RTSPConnecting)
	unsubscribeA()
	b.Publish(RTSPHealthy)

	assert.Equal(t, []Event{RTSPConnecting}, a)
	assert.Equal(t, []Event{RTSPConnecting, RTSPHealthy}, c)
}

func TestBrokerFeedsWindow(t *testing.T) {
	b := NewBroker()
	var verdicts []Verdict
	w := NewWindow(WindowConfig{}, func(c Condition) { verdicts = append(verdicts, Classify(c)) })
	b.Subscribe(w.Push)

	for _, e := range []Event{OnvifConnecting, OnvifHealthy, RTSPConnecting, RTSPUnhealthy, CompleteBuffer} {
		b.Publish(e)
	}
	assert.Equal(t, []Verdict{VerdictReboot}, verdicts)
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "RTSP ERROR", RTSPUnhealthy.String())
	assert.Equal(t, "UNKNOWN", Event(99).String())
	assert.Equal(t, "reboot", VerdictReboot.String())
}
