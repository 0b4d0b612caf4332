package models

// Outcome statuses reported by an Executor for a single attempt.
const (
	OutcomeStatusSuccess   = "success"
	OutcomeStatusTransient = "transient"
	OutcomeStatusTerminal  = "terminal"
)

// Outcome is the definitive result of executing one action.
type Outcome struct {
	Status string
	Reason string
}

func Success() Outcome {
	return Outcome{Status: OutcomeStatusSuccess}
}

func Transient(reason string) Outcome {
	return Outcome{Status: OutcomeStatusTransient, Reason: reason}
}

func Terminal(reason string) Outcome {
	return Outcome{Status: OutcomeStatusTerminal, Reason: reason}
}

func (o Outcome) IsSuccess() bool   { return o.Status == OutcomeStatusSuccess }
func (o Outcome) IsTransient() bool { return o.Status == OutcomeStatusTransient }
func (o Outcome) IsTerminal() bool  { return o.Status == OutcomeStatusTerminal }
