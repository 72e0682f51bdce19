package health

import "sync"

const DefaultMaxBuffered = 64

type WindowConfig struct {
	// MaxBuffered bounds the events kept while waiting for CompleteBuffer;
	// the oldest are discarded first.
	MaxBuffered int
}

// Window buffers events until CompleteBuffer arrives and then hands the
// buffered set to emit as one Condition.
type Window struct {
	sync.Mutex
	cfg  WindowConfig
	buf  []Event
	emit func(Condition)
}

func NewWindow(cfg WindowConfig, emit func(Condition)) *Window {
	if cfg.MaxBuffered <= 0 {
		cfg.MaxBuffered = DefaultMaxBuffered
	}
	return &Window{cfg: cfg, emit: emit}
}

func (w *Window) Push(e Event) {
	w.Lock()
	if e != CompleteBuffer {
		if len(w.buf) == w.cfg.MaxBuffered {
			w.buf = w.buf[1:]
		}
		w.buf = append(w.buf, e)
		w.Unlock()
		return
	}
	cond := Condition{Events: w.buf}
	w.buf = nil
	w.Unlock()

	w.emit(cond)
}

// Pending returns the events buffered so far.
func (w *Window) Pending() []Event {
	w.Lock()
	defer w.Unlock()
	return append([]Event(nil), w.buf...)
}

// Discard drops the buffered events without emitting them.
func (w *Window) Discard() {
	w.Lock()
	defer w.Unlock()
	w.buf = nil
}
