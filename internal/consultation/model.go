package consultation

import (
	"time"

	"saathimed/internal/patient"
	"saathimed/internal/triage"
)

const (
	StatusFound      = "found"
	StatusNew        = "new"
	StatusReplySent  = "reply_sent"
	StatusRegistered = "registered"
	StatusAdvised    = "advised"
)

// PatientView is the extension's read model of a patient. Unset fields get
// display defaults.
type PatientView struct {
	Name      string              `json:"name"`
	Age       string              `json:"age"`
	Gender    string              `json:"gender"`
	History   []patient.Encounter `json:"history"`
	LastVisit string              `json:"last_visit"`
}

type CheckResult struct {
	Status  string       `json:"status"`
	Data    *PatientView `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
}

type OnboardResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Delivered bool   `json:"delivered"`
}

type InboundResult struct {
	Status    string      `json:"status"`
	Reply     string      `json:"reply,omitempty"`
	State     string      `json:"state"`
	Risk      triage.Risk `json:"risk,omitempty"`
	Delivered bool        `json:"delivered"`
}

type DoctorUpdateResult struct {
	Success      bool   `json:"success"`
	Notification string `json:"notification,omitempty"`
	Delivered    bool   `json:"delivered"`
}

func viewOf(rec *patient.Record) *PatientView {
	v := &PatientView{
		Name:      orDefault(rec.Name, "Unknown"),
		Age:       orDefault(rec.Age, "--"),
		Gender:    orDefault(rec.Gender, "--"),
		History:   rec.MedicalHistory,
		LastVisit: "New",
	}
	if v.History == nil {
		v.History = []patient.Encounter{}
	}
	if rec.LastVisitDate != nil {
		v.LastVisit = rec.LastVisitDate.Format(time.RFC3339)
	}
	return v
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
