// Package scribe implements the consultation recording workflow: it
// drives the EHR connector through patient resolution, visit and
// encounter creation, and note and diagnosis attachment.
package scribe

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/audit"
	"github.com/clinscribe/platform/internal/ehr"
	"github.com/clinscribe/platform/internal/session"
	"github.com/clinscribe/platform/internal/shared/errors"
	"github.com/clinscribe/platform/internal/shared/metrics"
)

// Service orchestrates the consultation workflow against one connector
type Service struct {
	connector ehr.Connector
	backend   string
	auditRepo audit.Repository
	log       zerolog.Logger
}

// NewService creates a new scribe service
func NewService(connector ehr.Connector, backend string, auditRepo audit.Repository, log zerolog.Logger) *Service {
	return &Service{
		connector: connector,
		backend:   backend,
		auditRepo: auditRepo,
		log:       log.With().Str("component", "scribe").Logger(),
	}
}

// Backend returns the configured backend name and metadata
func (s *Service) Backend() (string, ehr.Metadata) {
	return s.backend, s.connector.Metadata()
}

// SearchPatients proxies a patient search to the connector
func (s *Service) SearchPatients(ctx context.Context, query string) ([]ehr.Patient, error) {
	return s.connector.SearchPatients(ctx, query)
}

// CreatePatient creates a patient and audits the creation
func (s *Service) CreatePatient(ctx context.Context, input ehr.PatientInput) (*ehr.Patient, error) {
	patient, err := s.connector.CreatePatient(ctx, input)
	if err != nil {
		return nil, err
	}
	s.auditPatientCreated(ctx, patient)
	return patient, nil
}

// RecordConsultation runs the full workflow. Patient resolution and
// encounter creation failures abort; individual diagnosis failures
// degrade per diagnosis and never fail the consultation.
func (s *Service) RecordConsultation(ctx context.Context, req ConsultationRequest) (*ConsultationResult, error) {
	if err := validateConsultation(req); err != nil {
		return nil, err
	}

	result := &ConsultationResult{}

	patient, created, err := s.resolvePatient(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Patient = patient
	result.PatientNew = created

	visit, err := s.connector.GetOrCreateVisit(ctx, patient.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve visit")
	}
	result.Visit = visit

	encounter, err := s.connector.CreateEncounter(ctx, patient.ID, visit.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create encounter")
	}
	result.Encounter = encounter

	if strings.TrimSpace(req.Notes) != "" {
		obs, err := s.connector.AddClinicalNotes(ctx, encounter.ID, req.Notes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to attach clinical notes")
		}
		result.NoteSaved = obs != nil
	}

	for i, diag := range req.Diagnoses {
		if diag.Rank == 0 {
			diag.Rank = i + 1
		}
		if diag.Confidence == 0 {
			diag.Confidence = 0.8
		}
		result.Diagnoses = append(result.Diagnoses, s.attachDiagnosis(ctx, encounter.ID, diag))
	}

	result.CompletedAt = time.Now().UTC()

	metrics.RecordConsultation(s.backend)
	s.auditConsultation(ctx, req, result)
	s.log.Info().
		Str("patient_id", patient.ID).
		Str("encounter_id", encounter.ID).
		Int("diagnoses", len(result.Diagnoses)).
		Bool("note_saved", result.NoteSaved).
		Msg("consultation recorded")

	return result, nil
}

func validateConsultation(req ConsultationRequest) error {
	if req.PatientID == "" && req.NewPatient == nil {
		return errors.Validation("patient_id or new_patient is required", nil)
	}
	if req.PatientID != "" && req.NewPatient != nil {
		return errors.Validation("patient_id and new_patient are mutually exclusive", nil)
	}
	if strings.TrimSpace(req.Notes) == "" && len(req.Diagnoses) == 0 {
		return errors.Validation("consultation has no notes and no diagnoses", nil)
	}
	return nil
}

func (s *Service) resolvePatient(ctx context.Context, req ConsultationRequest) (*ehr.Patient, bool, error) {
	if req.PatientID != "" {
		patients, err := s.connector.SearchPatients(ctx, req.PatientID)
		if err != nil {
			return nil, false, errors.Wrap(err, "failed to look up patient")
		}
		for i := range patients {
			if patients[i].ID == req.PatientID || patients[i].Identifier == req.PatientID {
				return &patients[i], false, nil
			}
		}
		// Search matches names and identifiers only; a backend ID
		// reference needs the direct lookup.
		patient, err := s.connector.GetPatient(ctx, req.PatientID)
		if err != nil {
			return nil, false, err
		}
		return patient, false, nil
	}

	patient, err := s.connector.CreatePatient(ctx, *req.NewPatient)
	if err != nil {
		return nil, false, err
	}
	s.auditPatientCreated(ctx, patient)
	return patient, true, nil
}

// attachDiagnosis records one diagnosis and classifies the outcome.
// Connector errors degrade to a skip so the rest of the list still
// gets recorded.
func (s *Service) attachDiagnosis(ctx context.Context, encounterID string, diag ehr.DiagnosisInput) DiagnosisOutcome {
	outcome := DiagnosisOutcome{Text: diag.Text}

	obs, err := s.connector.AddDiagnosis(ctx, encounterID, diag)
	switch {
	case err != nil:
		s.log.Warn().Err(err).Str("diagnosis", diag.Text).Msg("diagnosis attachment failed")
		outcome.Outcome = "skipped"
	case obs == nil:
		outcome.Outcome = "skipped"
	case obs.ConceptID != "":
		outcome.Outcome = "recorded"
		outcome.ObservationID = obs.ID
		outcome.Certainty = obs.Certainty
	default:
		outcome.Outcome = "non_coded"
		outcome.ObservationID = obs.ID
		outcome.Certainty = obs.Certainty
	}

	metrics.RecordDiagnosis(s.backend, outcome.Outcome)
	return outcome
}

// AuditNoteStructured records a note-structuring run. Only the digest
// and length of the transcript enter the trail.
func (s *Service) AuditNoteStructured(ctx context.Context, transcript, model string) {
	entry := audit.NewEntry(audit.ActorTypeClient, "scribe", audit.ActionNoteStructured, "note", nil, map[string]any{
		"transcript_hash":   audit.HashSensitive(transcript),
		"transcript_length": len(transcript),
		"model":             model,
	}).WithSession(session.SessionID(ctx))

	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.log.Error().Err(err).Msg("failed to audit note structuring")
	}
}

func (s *Service) auditPatientCreated(ctx context.Context, patient *ehr.Patient) {
	id := patient.ID
	entry := audit.NewEntry(audit.ActorTypeClient, "scribe", audit.ActionPatientCreated, "patient", &id, map[string]any{
		"backend":         s.backend,
		"identifier_hash": audit.HashSensitive(patient.Identifier),
	}).WithSession(session.SessionID(ctx))

	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.log.Error().Err(err).Msg("failed to audit patient creation")
	}
}

func (s *Service) auditConsultation(ctx context.Context, req ConsultationRequest, result *ConsultationResult) {
	id := result.Encounter.ID
	entry := audit.NewEntry(audit.ActorTypeClient, "scribe", audit.ActionConsultationRecorded, "encounter", &id, map[string]any{
		"backend":    s.backend,
		"patient_id": result.Patient.ID,
		"notes_hash": audit.HashSensitive(req.Notes),
		"diagnoses":  len(result.Diagnoses),
	}).WithSession(session.SessionID(ctx))

	if err := s.auditRepo.Append(ctx, entry); err != nil {
		s.log.Error().Err(err).Msg("failed to audit consultation")
	}
}
