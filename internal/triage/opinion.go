// Package triage turns free-text symptom descriptions into a structured
// clinical risk opinion.
package triage

import (
	"context"
	"fmt"
	"strings"

	"saathimed/internal/patient"
)

type Risk string

const (
	RiskLow     Risk = "Low"
	RiskMedium  Risk = "Medium"
	RiskHigh    Risk = "High"
	RiskUnknown Risk = "Unknown"
	RiskError   Risk = "Error"
)

// ParseRisk matches case-insensitively against the risks a classifier may
// legitimately report. Error is reserved for local failures.
func ParseRisk(s string) (Risk, bool) {
	for _, r := range []Risk{RiskLow, RiskMedium, RiskHigh, RiskUnknown} {
		if strings.EqualFold(strings.TrimSpace(s), string(r)) {
			return r, true
		}
	}
	return "", false
}

// Opinion is the classifier output. It is never persisted.
type Opinion struct {
	Risk             Risk   `json:"risk"`
	Diagnosis        string `json:"diagnosis"`
	Medicine         string `json:"medicine"`
	Advice           string `json:"advice"`
	SpecialistNeeded bool   `json:"specialist_needed"`
}

// Context is what a classifier knows about the patient besides the symptoms.
type Context struct {
	Name    string
	Age     string
	History []patient.Encounter
}

// ContextFor extracts the classifier context from a stored record.
func ContextFor(rec *patient.Record) Context {
	if rec == nil {
		return Context{}
	}
	return Context{Name: rec.Name, Age: rec.Age, History: rec.MedicalHistory}
}

// Classifier never fails: every problem is folded into an Error opinion so
// the conversation can carry on.
type Classifier interface {
	Classify(ctx context.Context, symptoms string, pc Context) Opinion
}

const (
	BusyAdvice    = "AI brain is currently busy."
	NoInputAdvice = "No input provided."
)

// Busy is the opinion returned when the completion service fails or answers
// with something unusable.
func Busy() Opinion {
	return Opinion{Risk: RiskError, Advice: BusyAdvice}
}

// NoInput is the opinion for an empty symptom description.
func NoInput() Opinion {
	return Opinion{Risk: RiskUnknown, Advice: NoInputAdvice}
}

// Strategy names accepted by New.
const (
	StrategyRules = "rules"
	StrategyAI    = "ai"
)

// New picks a classifier strategy. The AI strategy requires a completer.
func New(strategy string, completer Completer, opts ...DelegatedOption) (Classifier, error) {
	switch strategy {
	case StrategyRules, "":
		return Rules{}, nil
	case StrategyAI:
		if completer == nil {
			return nil, fmt.Errorf("triage strategy %q needs a completion client", strategy)
		}
		return NewDelegated(completer, opts...), nil
	default:
		return nil, fmt.Errorf("unknown triage strategy %q", strategy)
	}
}
