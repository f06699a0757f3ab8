package transaction

// State is a transaction's position in its lifecycle:
//
//	Idle -> Starting -> Active -> Committing -> Committed
//	                           \-> RolledBack
//	                           \-> Failed
//
// Starting and Committing are transient; Committed, RolledBack and Failed are terminal.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateActive
	StateCommitting
	StateCommitted
	StateRolledBack
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "IDLE",
	StateStarting:   "STARTING",
	StateActive:     "ACTIVE",
	StateCommitting: "COMMITTING",
	StateCommitted:  "COMMITTED",
	StateRolledBack: "ROLLED_BACK",
	StateFailed:     "FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack || s == StateFailed
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
