package patient

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ConversationState tracks where a patient is in the onboarding dialogue.
type ConversationState string

const (
	StateNone       ConversationState = ""
	StateAskName    ConversationState = "ASK_NAME"
	StateAskAge     ConversationState = "ASK_AGE"
	StateRegistered ConversationState = "REGISTERED"
)

// OnboardingPendingWhatsApp marks stubs created by the extension that the
// WhatsApp bot has not talked to yet.
const OnboardingPendingWhatsApp = "PENDING_VIA_WHATSAPP"

// ParseConversationState rejects labels outside the closed set, so a corrupt
// document cannot smuggle an unknown state into the state machine.
func ParseConversationState(s string) (ConversationState, error) {
	switch st := ConversationState(s); st {
	case StateNone, StateAskName, StateAskAge, StateRegistered:
		return st, nil
	default:
		return StateNone, fmt.Errorf("%w: unknown conversation state %q", ErrInvalidRecord, s)
	}
}

func (s ConversationState) rank() int {
	switch s {
	case StateAskName:
		return 1
	case StateAskAge:
		return 2
	case StateRegistered:
		return 3
	default:
		return 0
	}
}

// Before reports whether s comes strictly earlier in the onboarding order.
func (s ConversationState) Before(other ConversationState) bool {
	return s.rank() < other.rank()
}

func (s ConversationState) String() string {
	if s == StateNone {
		return "NONE"
	}
	return string(s)
}

// Encounter is one clinical visit. It is never modified after being appended.
type Encounter struct {
	ID        uuid.UUID `json:"id"`
	Date      time.Time `json:"date"`
	Diagnosis string    `json:"diagnosis"`
	Medicine  string    `json:"rx"`
}

// Record is the durable patient document, keyed by phone number.
type Record struct {
	Phone            string            `json:"phone"`
	Name             string            `json:"name,omitempty"`
	Age              string            `json:"age,omitempty"`
	Gender           string            `json:"gender,omitempty"`
	State            ConversationState `json:"bot_state,omitempty"`
	OnboardingStatus string            `json:"onboarding_status,omitempty"`
	MedicalHistory   []Encounter       `json:"medical_history"`
	LastVisitDate    *time.Time        `json:"last_visit_date,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers can build the next version of a
// record without touching the one they were handed.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.MedicalHistory != nil {
		c.MedicalHistory = make([]Encounter, len(r.MedicalHistory))
		copy(c.MedicalHistory, r.MedicalHistory)
	}
	if r.LastVisitDate != nil {
		t := *r.LastVisitDate
		c.LastVisitDate = &t
	}
	return &c
}

// Validate checks the record-level invariants.
func (r *Record) Validate() error {
	if r.Phone == "" {
		return fmt.Errorf("%w: no phone", ErrInvalidRecord)
	}
	if _, err := ParseConversationState(string(r.State)); err != nil {
		return err
	}
	if r.State == StateRegistered && (r.Name == "" || r.Age == "") {
		return fmt.Errorf("%w: registered patient %s is missing name or age", ErrInvalidRecord, r.Phone)
	}
	return nil
}
