package ehr

import (
	"time"
)

// Patient represents a patient record in the EHR backend
type Patient struct {
	// ID is the backend-assigned opaque unique id (UUID in OpenMRS)
	ID string `json:"id"`
	// Identifier is the facility-assigned identifier, possibly auto-generated
	Identifier string `json:"identifier"`

	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Gender     string `json:"gender"`
	// BirthDate is a calendar date, formatted YYYY-MM-DD
	BirthDate string `json:"birthdate"`

	// Display is the backend's display string, when it provides one
	Display string `json:"display,omitempty"`
}

// PatientInput is the caller-supplied data for creating a patient
type PatientInput struct {
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Gender     string `json:"gender"`
	BirthDate  string `json:"birthdate"`

	// Identifier is optional; when empty the connector attempts
	// auto-generation before giving up.
	Identifier     string `json:"identifier,omitempty"`
	IdentifierType string `json:"identifier_type,omitempty"`
}

// Visit associates a patient with a time span and a location.
// StoppedAt is nil while the visit is active.
type Visit struct {
	ID        string     `json:"id"`
	PatientID string     `json:"patient_id"`
	Location  string     `json:"location,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
}

// Active reports whether the visit has no stop time
func (v *Visit) Active() bool {
	return v.StoppedAt == nil
}

// Encounter is a clinical event nested inside a visit
type Encounter struct {
	ID            string    `json:"id"`
	PatientID     string    `json:"patient_id"`
	VisitID       string    `json:"visit_id"`
	EncounterType string    `json:"encounter_type,omitempty"`
	Location      string    `json:"location,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ObservationKind distinguishes the two observation kinds the workflow records
type ObservationKind string

const (
	ObservationNote      ObservationKind = "note"
	ObservationDiagnosis ObservationKind = "diagnosis"
)

// Observation is a coded-or-free-text fact attached to an encounter
type Observation struct {
	ID          string          `json:"id"`
	EncounterID string          `json:"encounter_id"`
	Kind        ObservationKind `json:"kind"`
	// ConceptID is set when the value was resolved to a coded concept
	ConceptID string `json:"concept_id,omitempty"`
	Value     string `json:"value"`
	Certainty Certainty `json:"certainty,omitempty"`
	Rank      int       `json:"rank,omitempty"`
}

// DiagnosisInput carries a diagnosis to attach to an encounter
type DiagnosisInput struct {
	// Text is the free-text diagnosis, always present
	Text string `json:"text"`
	// CodeHint is an optional structured code, e.g. ICD-10 "E11"
	CodeHint string `json:"code_hint,omitempty"`
	// Confidence in [0,1]; mapped to a certainty level
	Confidence float64 `json:"confidence"`
	// Rank records presentation order among co-occurring diagnoses
	Rank int `json:"rank"`
}

// Certainty is the recorded certainty level of a diagnosis
type Certainty string

const (
	CertaintyProvisional Certainty = "provisional"
	CertaintyPresumed    Certainty = "presumed"
	CertaintyConfirmed   Certainty = "confirmed"
)

// CertaintyForConfidence maps an extraction confidence score to a
// certainty level. Boundaries are inclusive upward: exactly 0.6 is
// presumed, exactly 0.8 is confirmed.
func CertaintyForConfidence(confidence float64) Certainty {
	switch {
	case confidence < 0.6:
		return CertaintyProvisional
	case confidence < 0.8:
		return CertaintyPresumed
	default:
		return CertaintyConfirmed
	}
}

// Metadata is the read-only connector descriptor exposed for display.
// Resolved once during Initialize and cached for the connector lifetime.
type Metadata struct {
	DisplayName   string `json:"display_name"`
	EncounterType string `json:"encounter_type"`
	VisitType     string `json:"visit_type"`
	Location      string `json:"location"`
	Demo          bool   `json:"demo"`
}
