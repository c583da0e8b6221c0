package merge

// State is the lifecycle stage of a Controller.
type State int

const (
	StateInit State = iota
	StateAwaitRecordingPosition
	StateReplay
	StateCatchup
	StateAttemptLiveJoin
	StateMerged
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateInit:                   "init",
	StateAwaitRecordingPosition: "await_recording_position",
	StateReplay:                 "replay",
	StateCatchup:                "catchup",
	StateAttemptLiveJoin:        "attempt_live_join",
	StateMerged:                 "merged",
	StateFailed:                 "failed",
	StateClosed:                 "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions can happen, apart from
// Close moving Failed or Merged to Closed.
func (s State) Terminal() bool {
	return s == StateMerged || s == StateFailed || s == StateClosed
}
