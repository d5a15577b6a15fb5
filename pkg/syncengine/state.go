package syncengine

import (
	"encoding/json"
	"fmt"

	"pixelgardenlabs.io/localsync/pkg/util"
)

// State is the lifecycle stage of a SyncEngine.
type State int

const (
	InitialScan State = iota
	Active
	Failed
	Canceled
)

var stateToString = map[State]string{
	InitialScan: "initial_scan",
	Active:      "active",
	Failed:      "failed",
	Canceled:    "canceled",
}

var stringToState = util.InvertMap(stateToString)

// String returns the string representation of a State.
func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_sync_state(%d)", s)
}

// ParseState parses a string produced by State.String back into a State.
func ParseState(s string) (State, error) {
	if state, ok := stringToState[s]; ok {
		return state, nil
	}
	return 0, fmt.Errorf("invalid sync state: %q", s)
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("State should be a string, got %s", data)
	}
	state, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// Terminal reports whether s is a terminal state the engine cannot leave.
func (s State) Terminal() bool {
	return s == Failed || s == Canceled
}

// CanTransitionTo enforces the transition table: INITIAL_SCAN -> ACTIVE on
// the first full pass completing; {INITIAL_SCAN, ACTIVE} -> FAILED on
// fatal misconfiguration; {*} -> CANCELED on user stop. FAILED and
// CANCELED are terminal.
func (s State) CanTransitionTo(next State) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case Active:
		return s == InitialScan
	case Failed:
		return s == InitialScan || s == Active
	case Canceled:
		return true
	default:
		return false
	}
}
