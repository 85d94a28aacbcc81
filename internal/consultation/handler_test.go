package consultation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"saathimed/internal/patient"
	"saathimed/internal/triage"
)

func newTestRouter(svc Service) http.Handler {
	h := NewHandler(svc)
	r := chi.NewRouter()
	r.Get("/", h.Health)
	r.Route("/api", func(r chi.Router) {
		RegisterRoutes(r, h)
	})
	return r
}

func post(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandler_Health(t *testing.T) {
	router := newTestRouter(newFixture(t, nil).svc)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "live")
}

func TestHandler_OnboardAndCheck(t *testing.T) {
	router := newTestRouter(newFixture(t, nil).svc)

	rr := post(t, router, "/api/check-patient", `{"phone":"+9150"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var check CheckResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &check))
	assert.Equal(t, StatusNew, check.Status)

	rr = post(t, router, "/api/onboard", `{"phone":"+9150"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var onboard OnboardResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &onboard))
	assert.True(t, onboard.Success)

	rr = post(t, router, "/api/check-patient", `{"phone":"+9150"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &check))
	assert.Equal(t, StatusFound, check.Status)
	assert.Equal(t, "Unknown", check.Data.Name)
	assert.Equal(t, "New", check.Data.LastVisit)
}

func TestHandler_Webhook(t *testing.T) {
	router := newTestRouter(newFixture(t, nil).svc)

	rr := post(t, router, "/api/whatsapp-webhook", `{"phone":"+9151","text":"hi"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var res InboundResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, "ASK_NAME", res.State)
	assert.NotEmpty(t, res.Reply)
}

func TestHandler_Analyze(t *testing.T) {
	router := newTestRouter(newFixture(t, nil).svc)

	rr := post(t, router, "/api/analyze", `{"text":"chest pain"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var op triage.Opinion
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &op))
	assert.Equal(t, triage.RiskHigh, op.Risk)
	assert.True(t, op.SpecialistNeeded)
}

func TestHandler_DoctorUpdate(t *testing.T) {
	f := newFixture(t, nil)
	router := newTestRouter(f.svc)
	_, err := f.svc.OnboardPatient(context.Background(), "+9152")
	require.NoError(t, err)

	rr := post(t, router, "/api/doctor-update", `{"phone":"+9152","diagnosis":"Dengue","medicine":"Paracetamol"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var res DoctorUpdateResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.True(t, res.Success)

	rec, err := f.repo.Get(context.Background(), "+9152")
	require.NoError(t, err)
	assert.Len(t, rec.MedicalHistory, 1)
}

func TestHandler_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		svc  Service
		path string
		body string
		want int
	}{
		{"malformed body", newFixture(t, nil).svc, "/api/check-patient", `{`, http.StatusBadRequest},
		{"missing phone", newFixture(t, nil).svc, "/api/onboard", `{}`, http.StatusBadRequest},
		{"missing diagnosis", newFixture(t, nil).svc, "/api/doctor-update", `{"phone":"+1"}`, http.StatusBadRequest},
		{"unknown patient", newFixture(t, nil).svc, "/api/doctor-update", `{"phone":"+1","diagnosis":"Flu"}`, http.StatusNotFound},
		{"store down", NewService(failingRepo{}, triage.Rules{}, &fakeSender{}, nil), "/api/check-patient", `{"phone":"+1"}`, http.StatusServiceUnavailable},
		{"broken invariant", NewService(corruptRepo{patient.NewMemoryRepository()}, triage.Rules{}, &fakeSender{}, nil), "/api/doctor-update", `{"phone":"+1","diagnosis":"Flu"}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := post(t, newTestRouter(tt.svc), tt.path, tt.body)
			assert.Equal(t, tt.want, rr.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandler_UnknownPatientCreatesNothing(t *testing.T) {
	f := newFixture(t, nil)
	post(t, newTestRouter(f.svc), "/api/doctor-update", `{"phone":"+9153","diagnosis":"Flu"}`)

	_, err := f.repo.Get(context.Background(), "+9153")
	assert.ErrorIs(t, err, patient.ErrNotFound)
}
