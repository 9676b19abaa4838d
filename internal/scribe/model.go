package scribe

import (
	"time"

	"github.com/clinscribe/platform/internal/ehr"
)

// ConsultationRequest is the full payload for recording a consultation
// against the EHR backend.
type ConsultationRequest struct {
	// PatientID selects an existing patient; mutually exclusive with NewPatient
	PatientID string `json:"patient_id,omitempty"`
	// NewPatient creates the patient first when PatientID is empty
	NewPatient *ehr.PatientInput `json:"new_patient,omitempty"`

	// Notes is the free-text clinical narrative
	Notes string `json:"notes"`

	// Diagnoses are attached in order; rank is assigned from position
	// when the caller leaves it zero
	Diagnoses []ehr.DiagnosisInput `json:"diagnoses,omitempty"`
}

// DiagnosisOutcome reports what happened to one requested diagnosis
type DiagnosisOutcome struct {
	Text    string `json:"text"`
	Outcome string `json:"outcome"` // recorded, non_coded or skipped
	// ObservationID is empty when the diagnosis was skipped
	ObservationID string `json:"observation_id,omitempty"`
	Certainty     ehr.Certainty `json:"certainty,omitempty"`
}

// ConsultationResult summarises a recorded consultation
type ConsultationResult struct {
	Patient     *ehr.Patient       `json:"patient"`
	Visit       *ehr.Visit         `json:"visit"`
	Encounter   *ehr.Encounter     `json:"encounter"`
	NoteSaved   bool               `json:"note_saved"`
	Diagnoses   []DiagnosisOutcome `json:"diagnoses"`
	PatientNew  bool               `json:"patient_created"`
	CompletedAt time.Time          `json:"completed_at"`
}
