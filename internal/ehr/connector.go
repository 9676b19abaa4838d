// Package ehr defines the capability contract any EHR backend must satisfy
// so the consultation workflow stays backend-agnostic.
package ehr

import (
	"context"
)

// Connector is the capability set an EHR backend exposes to the workflow.
// Implementations are invoked in a fixed sequence: Initialize, then
// SearchPatients/CreatePatient, GetOrCreateVisit, CreateEncounter, and
// finally AddClinicalNotes/AddDiagnosis. All operations may fail; none
// retries automatically.
type Connector interface {
	// Initialize performs one-time setup: authentication checks and
	// metadata resolution. Unresolvable required metadata (encounter
	// type, location, visit type) is fatal to the connector instance.
	Initialize(ctx context.Context) error

	// SearchPatients returns patients whose name or identifier matches
	// query as a case-insensitive substring in either direction. An
	// empty query must not error.
	SearchPatients(ctx context.Context, query string) ([]Patient, error)

	// GetPatient fetches a single patient by its backend ID, returning
	// a not-found error when no such patient exists. Search matches
	// names and identifiers only, so ID references resolve here.
	GetPatient(ctx context.Context, id string) (*Patient, error)

	// CreatePatient creates a patient record. When no identifier is
	// supplied the connector attempts to obtain one before failing
	// with a validation error.
	CreatePatient(ctx context.Context, input PatientInput) (*Patient, error)

	// GetOrCreateVisit returns the patient's current active visit,
	// creating one at the resolved default location and visit type
	// when none is active.
	GetOrCreateVisit(ctx context.Context, patientID string) (*Visit, error)

	// CreateEncounter creates a fresh encounter inside the visit,
	// timestamped now and tagged with the resolved encounter type
	// and location.
	CreateEncounter(ctx context.Context, patientID, visitID string) (*Encounter, error)

	// AddClinicalNotes attaches the free-text narrative to the
	// encounter. When no clinical-notes concept was resolved during
	// Initialize this is a documented no-op: it returns (nil, nil)
	// and logs a warning.
	AddClinicalNotes(ctx context.Context, encounterID, text string) (*Observation, error)

	// AddDiagnosis attaches a diagnosis observation, resolving the
	// free text or code hint to a backend concept where possible and
	// degrading to a non-coded observation, or skipping with a
	// warning, rather than failing the encounter workflow.
	AddDiagnosis(ctx context.Context, encounterID string, diag DiagnosisInput) (*Observation, error)

	// Metadata returns the cached display descriptor. Never performs I/O.
	Metadata() Metadata
}
