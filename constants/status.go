package constants

// State is the lifecycle state of one document run. Values are persisted in
// status.json and the run ledger, so they must stay stable.
type State string

const (
	StateCreated          State = "created"
	StateOCRDone          State = "ocr_done"
	StateStructured       State = "structured"
	StateExtractedWritten State = "extracted_written"
	StateNormalized       State = "normalized"
	StateMapped           State = "mapped"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Stage names, one per forward transition.
const (
	StageOCR       = "ocr"
	StageStructure = "structure"
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StageMap       = "map"
	StageFinalize  = "finalize"
)

var forward = []State{
	StateCreated,
	StateOCRDone,
	StateStructured,
	StateExtractedWritten,
	StateNormalized,
	StateMapped,
	StateCompleted,
}

var stageFor = map[State]string{
	StateCreated:          StageOCR,
	StateOCRDone:          StageStructure,
	StateStructured:       StageExtract,
	StateExtractedWritten: StageNormalize,
	StateNormalized:       StageMap,
	StateMapped:           StageFinalize,
}

// Next returns the successor of s in the forward chain. Terminal states have
// no successor.
func (s State) Next() (State, bool) {
	for i, st := range forward {
		if st == s && i+1 < len(forward) {
			return forward[i+1], true
		}
	}
	return s, false
}

// IsTerminal reports whether s is completed or failed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Stage returns the stage that moves a run out of s.
func (s State) Stage() (string, bool) {
	st, ok := stageFor[s]
	return st, ok
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	if s == StateFailed {
		return true
	}
	for _, st := range forward {
		if st == s {
			return true
		}
	}
	return false
}

// ForwardStates lists the non-failure states in order.
func ForwardStates() []State {
	out := make([]State, len(forward))
	copy(out, forward)
	return out
}
