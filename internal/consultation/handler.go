package consultation

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"saathimed/internal/patient"
)

type Handler struct {
	svc Service
}

func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

type PhoneRequest struct {
	Phone string `json:"phone"`
}

type WebhookRequest struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
}

type AnalyzeRequest struct {
	Text string `json:"text"`
}

type DoctorUpdateRequest struct {
	Phone     string `json:"phone"`
	Diagnosis string `json:"diagnosis"`
	Medicine  string `json:"medicine"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, patient.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrUpstreamUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return false
	}
	return true
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("SaathiMed server is live. WhatsApp bot is listening on /api/whatsapp-webhook\n"))
}

func (h *Handler) CheckPatient(w http.ResponseWriter, r *http.Request) {
	var req PhoneRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.CheckPatient(r.Context(), req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Onboard(w http.ResponseWriter, r *http.Request) {
	var req PhoneRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.OnboardPatient(r.Context(), req.Phone)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) WhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	var req WebhookRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.HandleInboundMessage(r.Context(), req.Phone, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if !decode(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.AnalyzeSymptoms(r.Context(), req.Text))
}

func (h *Handler) DoctorUpdate(w http.ResponseWriter, r *http.Request) {
	var req DoctorUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.svc.ApplyDoctorUpdate(r.Context(), req.Phone, req.Diagnosis, req.Medicine)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func RegisterRoutes(r chi.Router, h *Handler) {
	r.Post("/check-patient", h.CheckPatient)
	r.Post("/onboard", h.Onboard)
	r.Post("/whatsapp-webhook", h.WhatsAppWebhook)
	r.Post("/analyze", h.Analyze)
	r.Post("/doctor-update", h.DoctorUpdate)
}
