package triage

import (
	"context"
	"strings"
)

type rule struct {
	match   func(text string) bool
	opinion Opinion
}

func containsAny(words ...string) func(string) bool {
	return func(text string) bool {
		for _, w := range words {
			if strings.Contains(text, w) {
				return true
			}
		}
		return false
	}
}

func containsAll(words ...string) func(string) bool {
	return func(text string) bool {
		for _, w := range words {
			if !strings.Contains(text, w) {
				return false
			}
		}
		return true
	}
}

// Order matters: the first matching rule wins.
var rules = []rule{
	{
		match: containsAny("chest", "sweating", "breath"),
		opinion: Opinion{
			Risk:             RiskHigh,
			Diagnosis:        "Possible cardiac event",
			Advice:           "Chest pain, sweating or breathlessness can signal a heart problem. Go to the nearest emergency department now and do not travel alone.",
			SpecialistNeeded: true,
		},
	},
	{
		match: containsAll("fever", "joint"),
		opinion: Opinion{
			Risk:      RiskMedium,
			Diagnosis: "Suspected dengue",
			Medicine:  "Paracetamol",
			Advice:    "Fever with joint pain may be dengue. Drink plenty of fluids, take paracetamol only (no aspirin or ibuprofen) and get a platelet count test.",
		},
	},
	{
		match: containsAny("sugar", "dizzy"),
		opinion: Opinion{
			Risk:      RiskMedium,
			Diagnosis: "Possible hypoglycemia",
			Medicine:  "Oral glucose",
			Advice:    "Low blood sugar can cause dizziness. Take glucose, juice or sweets right away, sit down and check your sugar level if you can.",
		},
	},
}

var fallback = Opinion{
	Risk:      RiskLow,
	Diagnosis: "Non-specific symptoms",
	Advice:    "Your symptoms look mild. Rest, stay hydrated and monitor your vitals. Message again if anything gets worse.",
}

// Rules is the deterministic keyword classifier.
type Rules struct{}

func (Rules) Classify(_ context.Context, symptoms string, _ Context) Opinion {
	text := strings.ToLower(strings.TrimSpace(symptoms))
	if text == "" {
		return NoInput()
	}
	for _, r := range rules {
		if r.match(text) {
			return r.opinion
		}
	}
	return fallback
}
