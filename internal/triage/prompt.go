package triage

import (
	"fmt"
	"strings"
)

// maxHistoryInPrompt bounds how many past encounters go into the prompt.
const maxHistoryInPrompt = 5

const systemPrompt = `You are SaathiMed AI, a careful triage assistant for a rural clinic.
You never replace a doctor. Read the patient context and the symptoms and answer
with a single JSON object and nothing else, using exactly these keys:
  "risk": one of "Low", "Medium", "High", "Unknown"
  "diagnosis": short probable condition, or "" if unclear
  "medicine": safe over-the-counter suggestion, or "" if none
  "advice": two or three plain sentences for the patient
  "specialist_needed": true or false
Mark anything that could be life-threatening as "High".`

// HistorySummary renders the most recent encounters, oldest first.
func HistorySummary(pc Context) string {
	if len(pc.History) == 0 {
		return "No records found"
	}
	h := pc.History
	if len(h) > maxHistoryInPrompt {
		h = h[len(h)-maxHistoryInPrompt:]
	}
	parts := make([]string, 0, len(h))
	for _, e := range h {
		parts = append(parts, fmt.Sprintf("%s: %s (rx: %s)", e.Date.Format("2006-01-02"), e.Diagnosis, e.Medicine))
	}
	return strings.Join(parts, "; ")
}

// BuildPrompt embeds the whole patient context; the completion service keeps
// no memory between calls.
func BuildPrompt(symptoms string, pc Context) string {
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nPatient context:\n")
	fmt.Fprintf(&b, "Name: %s\n", orDash(pc.Name))
	fmt.Fprintf(&b, "Age: %s\n", orDash(pc.Age))
	fmt.Fprintf(&b, "History: %s\n", HistorySummary(pc))
	fmt.Fprintf(&b, "\nPatient says: %q\n", symptoms)
	return b.String()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "--"
	}
	return s
}
