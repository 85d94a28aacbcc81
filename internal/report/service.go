// Package report sends doctor-facing material to the clinic's Telegram chat.
package report

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/signintech/gopdf"

	"saathimed/internal/logging"
	"saathimed/internal/patient"
	"saathimed/internal/triage"
)

type TelegramClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName string) error
}

// DefaultFontPaths lists where DejaVuSans usually lives on Debian and Alpine.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

type Service struct {
	tgClient     TelegramClient
	doctorChatID int64
	render       func(rec *patient.Record, issued time.Time) ([]byte, error)
	now          func() time.Time
	logger       *slog.Logger
}

func NewService(tg TelegramClient, doctorChatID int64) *Service {
	return &Service{
		tgClient:     tg,
		doctorChatID: doctorChatID,
		render: func(rec *patient.Record, issued time.Time) ([]byte, error) {
			return RenderHealthCard(rec, issued, DefaultFontPaths)
		},
		now:    time.Now,
		logger: logging.New("report"),
	}
}

// SendHealthCard renders the new patient's health card and sends it to the
// doctor.
func (s *Service) SendHealthCard(ctx context.Context, rec *patient.Record) error {
	pdf, err := s.render(rec, s.now())
	if err != nil {
		return err
	}
	fileName := fmt.Sprintf("health_card_%s.pdf", strings.TrimPrefix(rec.Phone, "+"))
	s.logger.Info("sending health card", logging.Phone(rec.Phone), "chat_id", s.doctorChatID)
	if err := s.tgClient.SendDocument(ctx, s.doctorChatID, pdf, fileName); err != nil {
		return fmt.Errorf("failed to send health card: %w", err)
	}
	return nil
}

// SendRiskAlert tells the doctor about a high-risk triage result.
func (s *Service) SendRiskAlert(ctx context.Context, rec *patient.Record, symptoms string, op triage.Opinion) error {
	if err := s.tgClient.SendMessage(ctx, s.doctorChatID, RiskAlertText(rec, symptoms, op)); err != nil {
		return fmt.Errorf("failed to send risk alert: %w", err)
	}
	return nil
}

// RiskAlertText formats the doctor alert.
func RiskAlertText(rec *patient.Record, symptoms string, op triage.Opinion) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s RISK patient\n", strings.ToUpper(string(op.Risk)))
	fmt.Fprintf(&b, "Name: %s (age %s)\n", valueOr(rec.Name, "Unknown"), valueOr(rec.Age, "--"))
	fmt.Fprintf(&b, "Phone: %s\n", rec.Phone)
	fmt.Fprintf(&b, "Symptoms: %s\n", symptoms)
	if op.Diagnosis != "" {
		fmt.Fprintf(&b, "Likely: %s\n", op.Diagnosis)
	}
	if op.SpecialistNeeded {
		b.WriteString("Specialist needed\n")
	}
	fmt.Fprintf(&b, "Advice given: %s", op.Advice)
	return b.String()
}

// RenderHealthCard draws a one-page A4 card with the patient's details and
// visit history.
func RenderHealthCard(rec *patient.Record, issued time.Time, fontPaths []string) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, fmt.Errorf("failed to load font for PDF, is ttf-dejavu installed? last error: %v", fontErr)
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "SaathiMed Health Card")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 12); err != nil {
		return nil, err
	}
	for _, line := range []string{
		fmt.Sprintf("Name: %s", valueOr(rec.Name, "Unknown")),
		fmt.Sprintf("Age: %s", valueOr(rec.Age, "--")),
		fmt.Sprintf("Phone: %s", rec.Phone),
		fmt.Sprintf("Issued: %s", issued.Format("02.01.2006 15:04")),
	} {
		pdf.Cell(nil, line)
		pdf.Br(15)
	}
	pdf.Br(10)

	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Medical history:")
	pdf.Br(15)

	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return nil, err
	}
	if len(rec.MedicalHistory) == 0 {
		pdf.Cell(nil, "- No records yet.")
		pdf.Br(15)
	}
	for _, e := range rec.MedicalHistory {
		line := fmt.Sprintf("- %s: %s (rx: %s)", e.Date.Format("02.01.2006"), e.Diagnosis, e.Medicine)
		for _, l := range wrapText(pdf.SplitText, line, 500) {
			pdf.Cell(nil, l)
			pdf.Br(12)
		}
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// wrapText splits line to fit width. When splitting fails the whole line is
// kept so no encounter is left off the card.
func wrapText(split func(string, float64) ([]string, error), line string, width float64) []string {
	lines, err := split(line, width)
	if err != nil || len(lines) == 0 {
		return []string{line}
	}
	return lines
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
