// internal/orchestrator/state.go
package orchestrator

// State is the orchestrator's position in the cycle.
type State int32

const (
	Idle State = iota
	Capturing
	Classifying
	Evaluating
	Dispatching
	Cooldown
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Classifying:
		return "classifying"
	case Evaluating:
		return "evaluating"
	case Dispatching:
		return "dispatching"
	case Cooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// Outcome labels how a cycle ended, for logs and metrics.
type Outcome string

const (
	OutcomeNoGoal          Outcome = "no_goal"
	OutcomeNoRules         Outcome = "no_rules"
	OutcomeNoContext       Outcome = "no_context"
	OutcomePerceptionError Outcome = "perception_error"
	OutcomeClassifyError   Outcome = "classify_error"
	OutcomeStorageError    Outcome = "storage_error"
	OutcomeEvaluated       Outcome = "evaluated"
	OutcomeViolations      Outcome = "violations"
	OutcomePanic           Outcome = "panic"
)

// Failed reports whether the outcome counts as a failed cycle.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomePerceptionError, OutcomeClassifyError, OutcomeStorageError, OutcomePanic:
		return true
	}
	return false
}
