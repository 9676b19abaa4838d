package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/shared/config"
)

// TestParseNotePlainJSON tests parsing an unfenced model response
func TestParseNotePlainJSON(t *testing.T) {
	note, err := parseNote(`{
		"summary": "Follow-up for diabetes management.",
		"conditions": [{"text": "Type 2 diabetes", "icd10": "E11", "confidence": 0.9}],
		"medications": ["Metformin 500mg"],
		"follow_up": "Review in 3 months"
	}`)
	if err != nil {
		t.Fatalf("parseNote failed: %v", err)
	}
	if len(note.Conditions) != 1 || note.Conditions[0].ICD10 != "E11" {
		t.Errorf("unexpected conditions: %+v", note.Conditions)
	}
	if note.FollowUp != "Review in 3 months" {
		t.Errorf("unexpected follow_up %q", note.FollowUp)
	}
}

// TestParseNoteFenced tests stripping a markdown code fence
func TestParseNoteFenced(t *testing.T) {
	note, err := parseNote("```json\n{\"summary\": \"ok\", \"conditions\": []}\n```")
	if err != nil {
		t.Fatalf("parseNote failed: %v", err)
	}
	if note.Summary != "ok" {
		t.Errorf("summary = %q", note.Summary)
	}
}

// TestParseNoteSurroundingProse tests extracting the JSON object from
// surrounding prose.
func TestParseNoteSurroundingProse(t *testing.T) {
	note, err := parseNote(`Here is the structured note:
{"summary": "embedded", "conditions": []}
Let me know if you need anything else.`)
	if err != nil {
		t.Fatalf("parseNote failed: %v", err)
	}
	if note.Summary != "embedded" {
		t.Errorf("summary = %q", note.Summary)
	}
}

// TestParseNoteConfidenceClamping tests clamping out-of-range scores
func TestParseNoteConfidenceClamping(t *testing.T) {
	note, err := parseNote(`{"summary": "x", "conditions": [
		{"text": "a", "confidence": 1.7},
		{"text": "b", "confidence": -0.2}
	]}`)
	if err != nil {
		t.Fatalf("parseNote failed: %v", err)
	}
	if note.Conditions[0].Confidence != 1 {
		t.Errorf("expected clamp to 1, got %v", note.Conditions[0].Confidence)
	}
	if note.Conditions[1].Confidence != 0 {
		t.Errorf("expected clamp to 0, got %v", note.Conditions[1].Confidence)
	}
}

// TestParseNoteNoJSON tests the error path for non-JSON output
func TestParseNoteNoJSON(t *testing.T) {
	if _, err := parseNote("I cannot process this transcript."); err == nil {
		t.Error("expected error for prose-only response")
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(config.ExtractConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "test-model",
	}, zerolog.Nop())
}

// TestStructure tests the full round trip against a fake endpoint
func TestStructure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}

		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "test-model" || len(req.Messages) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]string{
					"role":    "assistant",
					"content": `{"summary": "Cough for two weeks.", "conditions": [{"text": "Acute bronchitis", "confidence": 0.85}]}`,
				},
			}},
		})
	})

	resp, err := client.Structure(context.Background(), StructureRequest{
		Transcript: "Patient reports cough for two weeks...",
	})
	if err != nil {
		t.Fatalf("Structure failed: %v", err)
	}
	if resp.ModelUsed != "test-model" {
		t.Errorf("model = %q", resp.ModelUsed)
	}
	if len(resp.Note.Conditions) != 1 || resp.Note.Conditions[0].Text != "Acute bronchitis" {
		t.Errorf("unexpected note: %+v", resp.Note)
	}
}

// TestStructureEmptyTranscript tests input validation
func TestStructureEmptyTranscript(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("endpoint should not be called for empty transcript")
	})

	if _, err := client.Structure(context.Background(), StructureRequest{Transcript: "   "}); err == nil {
		t.Error("expected error for empty transcript")
	}
}

// TestStructureUpstreamError tests the error envelope from the API
func TestStructureUpstreamError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "invalid api key"},
		})
	})

	_, err := client.Structure(context.Background(), StructureRequest{Transcript: "some transcript"})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}
