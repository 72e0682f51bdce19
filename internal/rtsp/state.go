package rtsp

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateDescribing
	StateDescribed
	StateSettingUp
	StateSetUp
	StatePlaying
	StatePaused
	StateTearingDown
	StateClosed
	StateError
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateConnecting:  "connecting",
	StateDescribing:  "describing",
	StateDescribed:   "described",
	StateSettingUp:   "setting_up",
	StateSetUp:       "set_up",
	StatePlaying:     "playing",
	StatePaused:      "paused",
	StateTearingDown: "tearing_down",
	StateClosed:      "closed",
	StateError:       "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateError
}
