package patient

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ApplyDoctorUpdate appends an encounter to a copy of rec and returns it with
// the notification text for the patient. History is only ever appended to.
func ApplyDoctorUpdate(rec *Record, diagnosis, medicine string, now time.Time) (*Record, string) {
	next := rec.Clone()
	next.MedicalHistory = append(next.MedicalHistory, Encounter{
		ID:        uuid.New(),
		Date:      now,
		Diagnosis: diagnosis,
		Medicine:  medicine,
	})
	visit := now
	next.LastVisitDate = &visit
	next.UpdatedAt = now

	return next, DoctorNotification(diagnosis, medicine)
}

// DoctorNotification is the message sent to a patient after a doctor update.
func DoctorNotification(diagnosis, medicine string) string {
	return fmt.Sprintf("Doctor update: you have been diagnosed with '%s'.\nMedicine: %s\nPlease rest.", diagnosis, medicine)
}

// NewStub returns the minimal record written when a patient is first seen.
func NewStub(phone string, state ConversationState, now time.Time) *Record {
	return &Record{
		Phone:          phone,
		State:          state,
		MedicalHistory: []Encounter{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
