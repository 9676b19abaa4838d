package demo

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/ehr"
)

func newConnector(t *testing.T) *Connector {
	t.Helper()
	c := NewForTesting(zerolog.Nop())
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	return c
}

// TestSearchSeededPatients tests searching the pre-seeded patients
func TestSearchSeededPatients(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	tests := []struct {
		query string
		want  int
	}{
		{"demo", 2},
		{"Demo", 2},
		{"DEMO001", 1},
		{"demo001", 1},
		{"john", 1},
		{"Jane Demo", 1},
		{"nobody-here", 0},
	}

	for _, tt := range tests {
		patients, err := c.SearchPatients(ctx, tt.query)
		if err != nil {
			t.Fatalf("SearchPatients(%q) failed: %v", tt.query, err)
		}
		if len(patients) != tt.want {
			t.Errorf("SearchPatients(%q) returned %d patients, want %d", tt.query, len(patients), tt.want)
		}
	}
}

// TestSearchEmptyQuery tests that an empty query lists everyone
func TestSearchEmptyQuery(t *testing.T) {
	c := newConnector(t)

	patients, err := c.SearchPatients(context.Background(), "")
	if err != nil {
		t.Fatalf("SearchPatients failed: %v", err)
	}
	if len(patients) != 2 {
		t.Errorf("expected 2 seeded patients, got %d", len(patients))
	}
}

// TestCreatePatientFindable tests that a created patient is findable
func TestCreatePatientFindable(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	created, err := c.CreatePatient(ctx, ehr.PatientInput{
		GivenName:  "Xavier",
		FamilyName: "Quinn",
		Gender:     "M",
		BirthDate:  "1970-01-01",
	})
	if err != nil {
		t.Fatalf("CreatePatient failed: %v", err)
	}
	if created.Identifier == "" {
		t.Error("expected auto-generated identifier")
	}

	patients, err := c.SearchPatients(ctx, "Xavier")
	if err != nil {
		t.Fatalf("SearchPatients failed: %v", err)
	}
	if len(patients) != 1 || patients[0].ID != created.ID {
		t.Errorf("created patient not found via search, got %d results", len(patients))
	}
}

// TestCreatePatientSuppliedIdentifier tests that a caller-supplied
// identifier is kept and searchable.
func TestCreatePatientSuppliedIdentifier(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	created, err := c.CreatePatient(ctx, ehr.PatientInput{
		GivenName:  "A",
		FamilyName: "B",
		Gender:     "F",
		BirthDate:  "2000-01-01",
		Identifier: "X1",
	})
	if err != nil {
		t.Fatalf("CreatePatient failed: %v", err)
	}
	if created.Identifier != "X1" {
		t.Errorf("identifier = %q, want X1", created.Identifier)
	}

	patients, err := c.SearchPatients(ctx, "X1")
	if err != nil {
		t.Fatalf("SearchPatients failed: %v", err)
	}
	if len(patients) != 1 || patients[0].ID != created.ID {
		t.Errorf("patient with identifier X1 not found, got %d results", len(patients))
	}
}

// TestGetPatient tests the direct lookup by backend id
func TestGetPatient(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	patients, err := c.SearchPatients(ctx, "john")
	if err != nil || len(patients) != 1 {
		t.Fatalf("seed patient lookup failed: %v", err)
	}

	got, err := c.GetPatient(ctx, patients[0].ID)
	if err != nil {
		t.Fatalf("GetPatient failed: %v", err)
	}
	if got.Identifier != "DEMO001" {
		t.Errorf("expected DEMO001, got %s", got.Identifier)
	}

	if _, err := c.GetPatient(ctx, "missing-uuid"); err == nil {
		t.Error("expected error for unknown id")
	}
}

// TestGetOrCreateVisitIdempotent tests that repeated calls return the
// same active visit.
func TestGetOrCreateVisitIdempotent(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	patients, err := c.SearchPatients(ctx, "john")
	if err != nil || len(patients) != 1 {
		t.Fatalf("seed patient lookup failed: %v", err)
	}
	patientID := patients[0].ID

	first, err := c.GetOrCreateVisit(ctx, patientID)
	if err != nil {
		t.Fatalf("GetOrCreateVisit failed: %v", err)
	}
	if !first.Active() {
		t.Error("new visit should be active")
	}

	second, err := c.GetOrCreateVisit(ctx, patientID)
	if err != nil {
		t.Fatalf("second GetOrCreateVisit failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same visit %s, got %s", first.ID, second.ID)
	}
}

// TestConsultationFlow tests the full encounter workflow against the
// in-memory backend.
func TestConsultationFlow(t *testing.T) {
	c := newConnector(t)
	ctx := context.Background()

	patients, _ := c.SearchPatients(ctx, "jane")
	visit, err := c.GetOrCreateVisit(ctx, patients[0].ID)
	if err != nil {
		t.Fatalf("GetOrCreateVisit failed: %v", err)
	}

	enc, err := c.CreateEncounter(ctx, patients[0].ID, visit.ID)
	if err != nil {
		t.Fatalf("CreateEncounter failed: %v", err)
	}

	note, err := c.AddClinicalNotes(ctx, enc.ID, "Patient presents with persistent cough.")
	if err != nil {
		t.Fatalf("AddClinicalNotes failed: %v", err)
	}
	if note.Kind != ehr.ObservationNote {
		t.Errorf("expected note observation, got %s", note.Kind)
	}

	diag, err := c.AddDiagnosis(ctx, enc.ID, ehr.DiagnosisInput{
		Text:       "Acute bronchitis",
		Confidence: 0.85,
		Rank:       1,
	})
	if err != nil {
		t.Fatalf("AddDiagnosis failed: %v", err)
	}
	if diag.Certainty != ehr.CertaintyConfirmed {
		t.Errorf("expected confirmed certainty, got %s", diag.Certainty)
	}
	if diag.Rank != 1 {
		t.Errorf("expected rank 1, got %d", diag.Rank)
	}

	obs := c.Observations(enc.ID)
	if len(obs) != 2 {
		t.Errorf("expected 2 observations on encounter, got %d", len(obs))
	}
}

// TestMetadata tests the demo descriptor
func TestMetadata(t *testing.T) {
	c := newConnector(t)

	meta := c.Metadata()
	if !meta.Demo {
		t.Error("demo connector must report Demo=true")
	}
	if meta.DisplayName == "" {
		t.Error("expected non-empty display name")
	}
}
