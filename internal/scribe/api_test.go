package scribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/audit"
	"github.com/clinscribe/platform/internal/ehr/demo"
	"github.com/clinscribe/platform/internal/extract"
	"github.com/clinscribe/platform/internal/shared/config"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	connector := demo.NewForTesting(zerolog.Nop())
	if err := connector.Initialize(context.Background()); err != nil {
		t.Fatalf("connector initialization failed: %v", err)
	}
	svc := NewService(connector, "demo", audit.NewMemoryRepository(), zerolog.Nop())
	return NewHandler(svc, nil).Routes()
}

// TestGetBackend tests the backend descriptor endpoint
func TestGetBackend(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/backend", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Backend  string `json:"backend"`
		Metadata struct {
			Demo bool `json:"demo"`
		} `json:"metadata"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body.Backend != "demo" || !body.Metadata.Demo {
		t.Errorf("unexpected body: %+v", body)
	}
}

// TestSearchPatientsEndpoint tests the search endpoint, including the
// empty result envelope.
func TestSearchPatientsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patients?q=john", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "John") {
		t.Errorf("expected John in response, got %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patients?q=zzz-no-match", nil))
	var body struct {
		Data  []any `json:"data"`
		Count int   `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if body.Data == nil || body.Count != 0 {
		t.Errorf("expected empty array envelope, got %s", rec.Body.String())
	}
}

// TestCreatePatientEndpoint tests validation and creation
func TestCreatePatientEndpoint(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/patients",
		strings.NewReader(`{"given_name": "Lindiwe"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing family name, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/patients",
		strings.NewReader(`{"given_name": "Lindiwe", "family_name": "Khumalo", "gender": "F", "birthdate": "1995-06-30"}`)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

// TestRecordConsultationEndpoint tests the consultation endpoint
func TestRecordConsultationEndpoint(t *testing.T) {
	router := newTestRouter(t)

	payload := `{
		"patient_id": "DEMO001",
		"notes": "Sore throat, low-grade fever.",
		"diagnoses": [{"text": "Pharyngitis", "confidence": 0.75}]
	}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/consultations", strings.NewReader(payload)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var result ConsultationResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if !result.NoteSaved {
		t.Error("expected note_saved=true")
	}
	if len(result.Diagnoses) != 1 || result.Diagnoses[0].Outcome == "skipped" {
		t.Errorf("unexpected diagnoses: %+v", result.Diagnoses)
	}

	// Empty payload fails validation.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/consultations", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty request, got %d", rec.Code)
	}
}

// TestStructureNotesAudited tests that a structuring run lands in the
// audit trail carrying only the transcript digest and length.
func TestStructureNotesAudited(t *testing.T) {
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]string{
					"role":    "assistant",
					"content": `{"summary": "ok", "conditions": []}`,
				},
			}},
		})
	}))
	defer llm.Close()

	connector := demo.NewForTesting(zerolog.Nop())
	if err := connector.Initialize(context.Background()); err != nil {
		t.Fatalf("connector initialization failed: %v", err)
	}
	repo := audit.NewMemoryRepository()
	svc := NewService(connector, "demo", repo, zerolog.Nop())
	client := extract.New(config.ExtractConfig{BaseURL: llm.URL, APIKey: "test-key", Model: "test-model"}, zerolog.Nop())
	router := NewHandler(svc, client).Routes()

	transcript := "Patient reports chest tightness on exertion."
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notes/structure",
		strings.NewReader(`{"transcript": "`+transcript+`"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	entries, err := repo.List(context.Background(), audit.ListFilter{Action: audit.ActionNoteStructured})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 note-structured entry, got %d (err %v)", len(entries), err)
	}
	details := entries[0].Details
	hash, _ := details["transcript_hash"].(string)
	if hash == "" || strings.Contains(hash, "chest tightness") {
		t.Errorf("expected transcript digest, got %v", details["transcript_hash"])
	}
	if got, ok := details["transcript_length"].(int); !ok || got != len(transcript) {
		t.Errorf("unexpected transcript_length %v", details["transcript_length"])
	}
}

// TestStructureNotesNotConfigured tests the error when no extraction
// client is wired.
func TestStructureNotesNotConfigured(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/notes/structure",
		strings.NewReader(`{"transcript": "some dictation"}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for unconfigured extraction, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not configured") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
