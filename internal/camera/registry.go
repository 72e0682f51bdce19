package camera

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bilbercode/camwatch/internal/health"
)

// Monitored is a camera together with its health pipeline.
type Monitored struct {
	sync.RWMutex
	Camera *Camera
	Broker *health.Broker

	window    *health.Window
	verdict   health.Verdict
	condition health.Condition
	probes    int
	lastProbe time.Time
}

func newMonitored(c *Camera) *Monitored {
	m := &Monitored{
		Camera: c,
		Broker: health.NewBroker(),
	}
	m.window = health.NewWindow(health.WindowConfig{}, m.record)
	m.Broker.Subscribe(m.window.Push)
	return m
}

func (m *Monitored) record(c health.Condition) {
	m.Lock()
	defer m.Unlock()
	m.condition = c
	m.verdict = health.Classify(c)
	m.probes++
	m.lastProbe = time.Now()
}

// abandon drops the events of an unfinished probe.
func (m *Monitored) abandon() {
	m.window.Discard()
}

func (m *Monitored) Verdict() health.Verdict {
	m.RLock()
	defer m.RUnlock()
	return m.verdict
}

func (m *Monitored) Condition() health.Condition {
	m.RLock()
	defer m.RUnlock()
	return m.condition
}

func (m *Monitored) Probes() int {
	m.RLock()
	defer m.RUnlock()
	return m.probes
}

func (m *Monitored) LastProbe() time.Time {
	m.RLock()
	defer m.RUnlock()
	return m.lastProbe
}

type Registry struct {
	sync.RWMutex
	cameras map[ID]*Monitored
}

func NewRegistry() *Registry {
	return &Registry{cameras: make(map[ID]*Monitored)}
}

func (r *Registry) Add(c *Camera) (*Monitored, error) {
	r.Lock()
	defer r.Unlock()
	key := c.Key()
	if _, ok := r.cameras[key]; ok {
		return nil, fmt.Errorf("camera %s already registered", key)
	}
	m := newMonitored(c)
	r.cameras[key] = m
	return m, nil
}

func (r *Registry) Get(id ID) (*Monitored, bool) {
	r.RLock()
	defer r.RUnlock()
	m, ok := r.cameras[id]
	return m, ok
}

// All returns the monitored cameras ordered by ID.
func (r *Registry) All() []*Monitored {
	r.RLock()
	defer r.RUnlock()
	out := make([]*Monitored, 0, len(r.cameras))
	for _, m := range r.cameras {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Camera.Key() < out[j].Camera.Key() })
	return out
}

func (r *Registry) Len() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.cameras)
}
