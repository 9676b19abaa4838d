package scribe

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/audit"
	"github.com/clinscribe/platform/internal/ehr"
	"github.com/clinscribe/platform/internal/ehr/demo"
)

func newService(t *testing.T) (*Service, *demo.Connector, *audit.MemoryRepository) {
	t.Helper()
	connector := demo.NewForTesting(zerolog.Nop())
	if err := connector.Initialize(context.Background()); err != nil {
		t.Fatalf("connector initialization failed: %v", err)
	}
	repo := audit.NewMemoryRepository()
	svc := NewService(connector, "demo", repo, zerolog.Nop())
	return svc, connector, repo
}

// TestValidateConsultation tests request validation rules
func TestValidateConsultation(t *testing.T) {
	tests := []struct {
		name    string
		req     ConsultationRequest
		wantErr bool
	}{
		{
			name:    "no patient",
			req:     ConsultationRequest{Notes: "some notes"},
			wantErr: true,
		},
		{
			name: "both patient selectors",
			req: ConsultationRequest{
				PatientID:  "p1",
				NewPatient: &ehr.PatientInput{GivenName: "A", FamilyName: "B"},
				Notes:      "notes",
			},
			wantErr: true,
		},
		{
			name:    "no content",
			req:     ConsultationRequest{PatientID: "p1"},
			wantErr: true,
		},
		{
			name:    "valid with notes",
			req:     ConsultationRequest{PatientID: "p1", Notes: "notes"},
			wantErr: false,
		},
		{
			name: "valid with diagnoses only",
			req: ConsultationRequest{
				PatientID: "p1",
				Diagnoses: []ehr.DiagnosisInput{{Text: "Flu", Confidence: 0.7}},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConsultation(tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateConsultation() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestRecordConsultationExistingPatient tests the full workflow for a
// seeded patient.
func TestRecordConsultationExistingPatient(t *testing.T) {
	svc, connector, repo := newService(t)
	ctx := context.Background()

	patients, err := connector.SearchPatients(ctx, "john")
	if err != nil || len(patients) != 1 {
		t.Fatalf("seed patient lookup failed: %v", err)
	}

	result, err := svc.RecordConsultation(ctx, ConsultationRequest{
		PatientID: patients[0].ID,
		Notes:     "Persistent headache, photophobia.",
		Diagnoses: []ehr.DiagnosisInput{
			{Text: "Migraine", Confidence: 0.85},
			{Text: "Tension headache", Confidence: 0.5},
		},
	})
	if err != nil {
		t.Fatalf("RecordConsultation failed: %v", err)
	}

	if result.Patient.ID != patients[0].ID {
		t.Errorf("unexpected patient %s", result.Patient.ID)
	}
	if result.PatientNew {
		t.Error("existing patient should not be reported as created")
	}
	if result.Visit == nil || result.Encounter == nil {
		t.Fatal("expected visit and encounter")
	}
	if !result.NoteSaved {
		t.Error("expected note to be saved")
	}
	if len(result.Diagnoses) != 2 {
		t.Fatalf("expected 2 diagnosis outcomes, got %d", len(result.Diagnoses))
	}
	if result.Diagnoses[0].Certainty != ehr.CertaintyConfirmed {
		t.Errorf("expected confirmed for 0.85, got %s", result.Diagnoses[0].Certainty)
	}
	if result.Diagnoses[1].Certainty != ehr.CertaintyProvisional {
		t.Errorf("expected provisional for 0.5, got %s", result.Diagnoses[1].Certainty)
	}

	// Ranks assigned from list position.
	obs := connector.Observations(result.Encounter.ID)
	ranks := map[int]bool{}
	for _, o := range obs {
		if o.Kind == ehr.ObservationDiagnosis {
			ranks[o.Rank] = true
		}
	}
	if !ranks[1] || !ranks[2] {
		t.Errorf("expected ranks 1 and 2, got %v", ranks)
	}

	// Consultation is audited.
	entries, err := repo.List(ctx, audit.ListFilter{Action: audit.ActionConsultationRecorded})
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 consultation audit entry, got %d (err %v)", len(entries), err)
	}
	if entries[0].Details["notes_hash"] == "Persistent headache, photophobia." {
		t.Error("audit entry must not carry raw notes")
	}
}

// TestRecordConsultationNewPatient tests the create-patient branch
func TestRecordConsultationNewPatient(t *testing.T) {
	svc, _, repo := newService(t)
	ctx := context.Background()

	result, err := svc.RecordConsultation(ctx, ConsultationRequest{
		NewPatient: &ehr.PatientInput{
			GivenName:  "Nomsa",
			FamilyName: "Dube",
			Gender:     "F",
			BirthDate:  "1988-02-17",
		},
		Notes: "Initial consultation.",
	})
	if err != nil {
		t.Fatalf("RecordConsultation failed: %v", err)
	}
	if !result.PatientNew {
		t.Error("expected patient_created=true")
	}
	if result.Patient.Identifier == "" {
		t.Error("expected generated identifier")
	}

	entries, _ := repo.List(ctx, audit.ListFilter{Action: audit.ActionPatientCreated})
	if len(entries) != 1 {
		t.Errorf("expected 1 patient-created audit entry, got %d", len(entries))
	}
}

// TestRecordConsultationUnknownPatient tests the not-found path
func TestRecordConsultationUnknownPatient(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.RecordConsultation(context.Background(), ConsultationRequest{
		PatientID: "no-such-patient-uuid",
		Notes:     "notes",
	})
	if err == nil {
		t.Error("expected error for unknown patient")
	}
}

// TestRecordConsultationByIdentifier tests selecting a patient by the
// facility identifier instead of the backend id.
func TestRecordConsultationByIdentifier(t *testing.T) {
	svc, _, _ := newService(t)

	result, err := svc.RecordConsultation(context.Background(), ConsultationRequest{
		PatientID: "DEMO002",
		Notes:     "Annual check-up.",
	})
	if err != nil {
		t.Fatalf("RecordConsultation failed: %v", err)
	}
	if result.Patient.Identifier != "DEMO002" {
		t.Errorf("expected DEMO002, got %s", result.Patient.Identifier)
	}
}

// uuidBlindConnector wraps the demo connector with a search that never
// surfaces backend ids, as live patient search behaves.
type uuidBlindConnector struct {
	ehr.Connector
	id string
}

func (u *uuidBlindConnector) SearchPatients(ctx context.Context, query string) ([]ehr.Patient, error) {
	if query == u.id {
		return []ehr.Patient{}, nil
	}
	return u.Connector.SearchPatients(ctx, query)
}

// TestRecordConsultationByBackendID tests that a patient referenced by
// the backend id resolves through the direct lookup even when search
// does not surface it.
func TestRecordConsultationByBackendID(t *testing.T) {
	connector := demo.NewForTesting(zerolog.Nop())
	if err := connector.Initialize(context.Background()); err != nil {
		t.Fatalf("connector initialization failed: %v", err)
	}
	patients, err := connector.SearchPatients(context.Background(), "john")
	if err != nil || len(patients) != 1 {
		t.Fatalf("seed patient lookup failed: %v", err)
	}

	svc := NewService(&uuidBlindConnector{Connector: connector, id: patients[0].ID}, "demo", audit.NewMemoryRepository(), zerolog.Nop())

	result, err := svc.RecordConsultation(context.Background(), ConsultationRequest{
		PatientID: patients[0].ID,
		Notes:     "Resolved by direct lookup.",
	})
	if err != nil {
		t.Fatalf("RecordConsultation failed: %v", err)
	}
	if result.Patient.ID != patients[0].ID {
		t.Errorf("unexpected patient %s", result.Patient.ID)
	}
	if result.PatientNew {
		t.Error("existing patient should not be reported as created")
	}
}

// failingConnector wraps the demo connector and fails diagnosis calls
type failingConnector struct {
	ehr.Connector
}

func (f *failingConnector) AddDiagnosis(ctx context.Context, encounterID string, diag ehr.DiagnosisInput) (*ehr.Observation, error) {
	if diag.Text == "poison" {
		return nil, context.DeadlineExceeded
	}
	return f.Connector.AddDiagnosis(ctx, encounterID, diag)
}

// TestDiagnosisFailureDegrades tests that one failing diagnosis does
// not fail the consultation.
func TestDiagnosisFailureDegrades(t *testing.T) {
	connector := demo.NewForTesting(zerolog.Nop())
	if err := connector.Initialize(context.Background()); err != nil {
		t.Fatalf("connector initialization failed: %v", err)
	}
	svc := NewService(&failingConnector{connector}, "demo", audit.NewMemoryRepository(), zerolog.Nop())

	result, err := svc.RecordConsultation(context.Background(), ConsultationRequest{
		PatientID: "DEMO001",
		Diagnoses: []ehr.DiagnosisInput{
			{Text: "poison", Confidence: 0.9},
			{Text: "Influenza", Confidence: 0.9},
		},
	})
	if err != nil {
		t.Fatalf("RecordConsultation failed: %v", err)
	}
	if result.Diagnoses[0].Outcome != "skipped" {
		t.Errorf("expected skipped for failing diagnosis, got %s", result.Diagnoses[0].Outcome)
	}
	if result.Diagnoses[1].Outcome == "skipped" {
		t.Error("subsequent diagnosis should still be recorded")
	}
}
