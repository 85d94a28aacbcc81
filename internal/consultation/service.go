package consultation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"saathimed/internal/conversation"
	"saathimed/internal/logging"
	"saathimed/internal/patient"
	"saathimed/internal/triage"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)

// Sender delivers a text message to a patient's phone.
type Sender interface {
	Send(ctx context.Context, phone, text string) error
}

// Reporter sends doctor-facing material.
type Reporter interface {
	SendHealthCard(ctx context.Context, rec *patient.Record) error
	SendRiskAlert(ctx context.Context, rec *patient.Record, symptoms string, op triage.Opinion) error
}

type Service interface {
	CheckPatient(ctx context.Context, phone string) (*CheckResult, error)
	OnboardPatient(ctx context.Context, phone string) (*OnboardResult, error)
	HandleInboundMessage(ctx context.Context, phone, text string) (*InboundResult, error)
	AnalyzeSymptoms(ctx context.Context, text string) triage.Opinion
	ApplyDoctorUpdate(ctx context.Context, phone, diagnosis, medicine string) (*DoctorUpdateResult, error)
}

type service struct {
	repo       patient.Repository
	classifier triage.Classifier
	sender     Sender
	reporter   Reporter
	now        func() time.Time
	logger     *slog.Logger
}

// NewService wires the consultation flow. reporter may be nil when no doctor
// chat is configured.
func NewService(repo patient.Repository, classifier triage.Classifier, sender Sender, reporter Reporter) Service {
	return &service{
		repo:       repo,
		classifier: classifier,
		sender:     sender,
		reporter:   reporter,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logging.New("consultation"),
	}
}

func upstream(err error) error {
	return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

// storeError classifies a store failure. Broken record invariants are
// internal errors; anything else means the store could not serve the call.
func storeError(err error) error {
	if errors.Is(err, patient.ErrInvalidRecord) {
		return err
	}
	return upstream(err)
}

func requirePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", fmt.Errorf("%w: phone is required", ErrValidation)
	}
	return phone, nil
}

func (s *service) CheckPatient(ctx context.Context, phone string) (*CheckResult, error) {
	phone, err := requirePhone(phone)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.Get(ctx, phone)
	if errors.Is(err, patient.ErrNotFound) {
		return &CheckResult{Status: StatusNew, Message: "Patient not in database."}, nil
	}
	if err != nil {
		return nil, storeError(err)
	}
	return &CheckResult{Status: StatusFound, Data: viewOf(rec)}, nil
}

const inviteText = "Namaste! Your doctor has added you to SaathiMed. Message us here any time to describe how you feel."

func (s *service) OnboardPatient(ctx context.Context, phone string) (*OnboardResult, error) {
	phone, err := requirePhone(phone)
	if err != nil {
		return nil, err
	}
	stub := patient.NewStub(phone, patient.StateNone, s.now())
	stub.OnboardingStatus = patient.OnboardingPendingWhatsApp

	_, err = s.repo.Create(ctx, stub)
	if errors.Is(err, patient.ErrAlreadyExists) {
		return &OnboardResult{Success: true, Message: "Patient already exists."}, nil
	}
	if err != nil {
		return nil, storeError(err)
	}
	s.logger.Info("patient created via extension", logging.Phone(phone))

	return &OnboardResult{
		Success:   true,
		Message:   "Profile Created. WhatsApp link sent.",
		Delivered: s.deliver(ctx, phone, inviteText),
	}, nil
}

func (s *service) HandleInboundMessage(ctx context.Context, phone, text string) (*InboundResult, error) {
	phone, err := requirePhone(phone)
	if err != nil {
		return nil, err
	}

	var tr conversation.Transition
	now := s.now()
	rec, err := s.repo.Update(ctx, phone, func(current *patient.Record) (*patient.Record, error) {
		var err error
		tr, err = conversation.Advance(current, phone, text, now)
		return tr.Record, err
	})
	if err != nil {
		return nil, storeError(err)
	}
	if rec == nil {
		return nil, fmt.Errorf("no record for %s after transition", phone)
	}

	res := &InboundResult{Status: StatusReplySent, Reply: tr.Reply, State: rec.State.String()}
	switch tr.Action {
	case conversation.ActionRegistered:
		res.Status = StatusRegistered
		if s.reporter != nil {
			if err := s.reporter.SendHealthCard(ctx, rec); err != nil {
				s.logger.Warn("health card not sent", logging.Phone(phone), "error", err)
			}
		}

	case conversation.ActionTriage:
		op := s.classifier.Classify(ctx, tr.Symptoms, triage.ContextFor(rec))
		res.Status = StatusAdvised
		res.Reply = op.Advice
		res.Risk = op.Risk
		s.logger.Info("triage", logging.Phone(phone), "risk", op.Risk, "specialist", op.SpecialistNeeded)
		if op.Risk == triage.RiskHigh && s.reporter != nil {
			if err := s.reporter.SendRiskAlert(ctx, rec, tr.Symptoms, op); err != nil {
				s.logger.Warn("risk alert not sent", logging.Phone(phone), "error", err)
			}
		}

	case conversation.ActionReply:
		if tr.Opinion != nil {
			res.Risk = tr.Opinion.Risk
		}
	}

	res.Delivered = s.deliver(ctx, phone, res.Reply)
	return res, nil
}

func (s *service) AnalyzeSymptoms(ctx context.Context, text string) triage.Opinion {
	return s.classifier.Classify(ctx, text, triage.Context{})
}

func (s *service) ApplyDoctorUpdate(ctx context.Context, phone, diagnosis, medicine string) (*DoctorUpdateResult, error) {
	phone, err := requirePhone(phone)
	if err != nil {
		return nil, err
	}
	diagnosis = strings.TrimSpace(diagnosis)
	if diagnosis == "" {
		return nil, fmt.Errorf("%w: diagnosis is required", ErrValidation)
	}
	medicine = strings.TrimSpace(medicine)

	var note string
	now := s.now()
	_, err = s.repo.Update(ctx, phone, func(current *patient.Record) (*patient.Record, error) {
		if current == nil {
			return nil, patient.ErrNotFound
		}
		var next *patient.Record
		next, note = patient.ApplyDoctorUpdate(current, diagnosis, medicine, now)
		return next, nil
	})
	if errors.Is(err, patient.ErrNotFound) {
		return nil, fmt.Errorf("doctor update for %s: %w", phone, err)
	}
	if err != nil {
		return nil, storeError(err)
	}
	s.logger.Info("doctor update applied", logging.Phone(phone), "diagnosis", diagnosis)

	return &DoctorUpdateResult{
		Success:      true,
		Notification: note,
		Delivered:    s.deliver(ctx, phone, note),
	}, nil
}

// deliver runs after the record is committed. A failed send is reported but
// never undoes the write.
func (s *service) deliver(ctx context.Context, phone, text string) bool {
	if err := s.sender.Send(ctx, phone, text); err != nil {
		s.logger.Warn("delivery failed", logging.Phone(phone), "error", err)
		return false
	}
	return true
}
