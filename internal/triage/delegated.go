package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"saathimed/internal/logging"
)

// Completer is a stateless request/response text completion service.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ErrMalformed is returned by ParseOpinion when the payload does not match
// the opinion shape.
var ErrMalformed = errors.New("malformed triage response")

type DelegatedOption func(*Delegated)

// WithTimeout bounds a single completion call. A timeout is final.
func WithTimeout(d time.Duration) DelegatedOption {
	return func(c *Delegated) { c.timeout = d }
}

// Delegated asks an external completion service for the opinion.
type Delegated struct {
	completer Completer
	timeout   time.Duration
	logger    *slog.Logger
}

func NewDelegated(completer Completer, opts ...DelegatedOption) *Delegated {
	c := &Delegated{
		completer: completer,
		logger:    logging.New("triage"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Delegated) Classify(ctx context.Context, symptoms string, pc Context) Opinion {
	if strings.TrimSpace(symptoms) == "" {
		return NoInput()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	raw, err := c.completer.Complete(ctx, BuildPrompt(symptoms, pc))
	if err != nil {
		c.logger.Warn("completion failed", "error", err)
		return Busy()
	}
	op, err := ParseOpinion(raw)
	if err != nil {
		c.logger.Warn("unusable completion", "error", err, "raw", truncate(raw, 200))
		return Busy()
	}
	return op
}

type wireOpinion struct {
	Risk             *string `json:"risk"`
	Diagnosis        *string `json:"diagnosis"`
	Medicine         *string `json:"medicine"`
	Advice           *string `json:"advice"`
	SpecialistNeeded *bool   `json:"specialist_needed"`
}

// ParseOpinion validates a completion payload. Models like to wrap JSON in
// Markdown fences or a sentence of prose, so the outermost object is
// extracted first.
func ParseOpinion(raw string) (Opinion, error) {
	body, ok := extractObject(raw)
	if !ok {
		return Opinion{}, fmt.Errorf("%w: no JSON object found", ErrMalformed)
	}
	var w wireOpinion
	if err := json.Unmarshal([]byte(body), &w); err != nil {
		return Opinion{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if w.Risk == nil || w.Diagnosis == nil || w.Medicine == nil || w.Advice == nil {
		return Opinion{}, fmt.Errorf("%w: missing field", ErrMalformed)
	}
	risk, ok := ParseRisk(*w.Risk)
	if !ok {
		return Opinion{}, fmt.Errorf("%w: risk %q not allowed", ErrMalformed, *w.Risk)
	}
	if strings.TrimSpace(*w.Advice) == "" {
		return Opinion{}, fmt.Errorf("%w: empty advice", ErrMalformed)
	}

	op := Opinion{
		Risk:      risk,
		Diagnosis: strings.TrimSpace(*w.Diagnosis),
		Medicine:  strings.TrimSpace(*w.Medicine),
		Advice:    strings.TrimSpace(*w.Advice),
	}
	if w.SpecialistNeeded != nil {
		op.SpecialistNeeded = *w.SpecialistNeeded
	}
	return op, nil
}

func extractObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// truncate cuts s to at most n bytes without splitting a character.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
