package constants

// ArbitrationState is the canonical state of a document's arbitration run.
type ArbitrationState string

// Stable values (store these exact strings in checkpoints).
const (
	StatePending      ArbitrationState = "PENDING"
	StatePrimaryRun   ArbitrationState = "PRIMARY_RUN"
	StateGateCheck    ArbitrationState = "GATE_CHECK"
	StateEscalate     ArbitrationState = "ESCALATE"
	StateSecondaryRun ArbitrationState = "SECONDARY_RUN"
	StateFinalCheck   ArbitrationState = "FINAL_CHECK"
	StateAccepted     ArbitrationState = "ACCEPTED" // terminal
	StateReview       ArbitrationState = "REVIEW"   // terminal
)

// IsTerminal reports whether no further transition is possible.
func (s ArbitrationState) IsTerminal() bool {
	return s == StateAccepted || s == StateReview
}

// OutcomeStatus is what a batch run reports for one document.
type OutcomeStatus string

const (
	OutcomeAccepted  OutcomeStatus = "ACCEPTED"
	OutcomeReview    OutcomeStatus = "REVIEW"
	OutcomeSkipped   OutcomeStatus = "SKIPPED"   // already complete, no force
	OutcomeFailed    OutcomeStatus = "FAILED"    // document-level failure
	OutcomeCancelled OutcomeStatus = "CANCELLED" // aborted between witness calls
)

// States lists every arbitration state in transition order.
var States = []ArbitrationState{
	StatePending, StatePrimaryRun, StateGateCheck, StateEscalate,
	StateSecondaryRun, StateFinalCheck, StateAccepted, StateReview,
}

func (s ArbitrationState) IsValid() bool {
	for _, x := range States {
		if x == s {
			return true
		}
	}
	return false
}
