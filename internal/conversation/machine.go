// Package conversation drives the per-patient onboarding dialogue on the
// messaging channel.
package conversation

import (
	"fmt"
	"strings"
	"time"

	"saathimed/internal/patient"
	"saathimed/internal/triage"
)

type Action int

const (
	// ActionReply: send Reply, nothing else to do.
	ActionReply Action = iota
	// ActionRegistered: the patient just finished onboarding.
	ActionRegistered
	// ActionTriage: classify Symptoms and send the advice.
	ActionTriage
)

func (a Action) String() string {
	switch a {
	case ActionReply:
		return "reply"
	case ActionRegistered:
		return "registered"
	case ActionTriage:
		return "triage"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

const (
	WelcomeReply        = "Namaste! Welcome to SaathiMed.\nPlease tell us your full name."
	AskNameAgainReply   = "Please tell us your full name."
	AskAgeAgainReply    = "Please tell us your age."
	RegisteredReply     = "Your health card is ready! You are now connected to the doctor."
	EmptySymptomsAdvice = "Please describe your symptoms so I can help."
)

func askAgeReply(name string) string {
	return fmt.Sprintf("Thank you %s! Now please tell us your age.", name)
}

// Transition is the outcome of one inbound message. Record is the next
// version of the patient record, or nil when nothing needs writing. For
// ActionTriage the caller fills in Reply from the classifier's advice.
type Transition struct {
	Record   *patient.Record
	Reply    string
	Action   Action
	Symptoms string
	// Opinion is set when the machine answered without the classifier.
	Opinion *triage.Opinion
}

// Advance moves a patient at most one step through
// NONE -> ASK_NAME -> ASK_AGE -> REGISTERED. rec is nil for an unseen phone
// and is never modified. Only Name, Age, State and UpdatedAt are ever
// changed; the medical history is left alone. A record in a state outside
// that set yields patient.ErrInvalidRecord.
func Advance(rec *patient.Record, phone, text string, now time.Time) (Transition, error) {
	input := strings.TrimSpace(text)

	if rec == nil {
		return Transition{
			Record: patient.NewStub(phone, patient.StateAskName, now),
			Reply:  WelcomeReply,
			Action: ActionReply,
		}, nil
	}

	switch rec.State {
	case patient.StateAskName:
		if input == "" {
			return Transition{Reply: AskNameAgainReply, Action: ActionReply}, nil
		}
		next := rec.Clone()
		next.Name = input
		next.State = patient.StateAskAge
		next.UpdatedAt = now
		return Transition{Record: next, Reply: askAgeReply(input), Action: ActionReply}, nil

	case patient.StateAskAge:
		if input == "" {
			return Transition{Reply: AskAgeAgainReply, Action: ActionReply}, nil
		}
		// Age is kept as typed; "thirty two" is as acceptable as "32".
		next := rec.Clone()
		next.Age = input
		next.State = patient.StateRegistered
		next.UpdatedAt = now
		return Transition{Record: next, Reply: RegisteredReply, Action: ActionRegistered}, nil

	case patient.StateRegistered, patient.StateNone:
		if input == "" {
			op := triage.Opinion{Risk: triage.RiskError, Advice: EmptySymptomsAdvice}
			return Transition{Reply: op.Advice, Action: ActionReply, Opinion: &op}, nil
		}
		return Transition{Action: ActionTriage, Symptoms: input}, nil

	default:
		return Transition{}, fmt.Errorf("%w: unhandled conversation state %q for %s", patient.ErrInvalidRecord, rec.State, phone)
	}
}
