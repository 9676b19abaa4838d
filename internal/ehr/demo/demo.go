// Package demo provides an in-memory EHR connector used for demos and
// testing. It fulfills the full connector contract without network I/O
// and never fails.
package demo

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/ehr"
	"github.com/clinscribe/platform/internal/shared/errors"
)

const (
	minLatency = 200 * time.Millisecond
	maxLatency = 500 * time.Millisecond
)

// Connector is an in-memory ehr.Connector pre-seeded with two sample
// patients. All state is process-local; nothing survives a restart.
type Connector struct {
	log zerolog.Logger

	mu           sync.Mutex
	patients     []ehr.Patient
	visits       []ehr.Visit
	encounters   []ehr.Encounter
	observations []ehr.Observation

	// latency disabled in tests
	simulateLatency bool
}

// New creates a demo connector with seeded sample patients
func New(log zerolog.Logger) *Connector {
	return &Connector{
		log:             log.With().Str("backend", "demo").Logger(),
		simulateLatency: true,
		patients: []ehr.Patient{
			{
				ID:         uuid.New().String(),
				Identifier: "DEMO001",
				GivenName:  "John",
				FamilyName: "Demo",
				Gender:     "M",
				BirthDate:  "1985-03-12",
				Display:    "DEMO001 - John Demo",
			},
			{
				ID:         uuid.New().String(),
				Identifier: "DEMO002",
				GivenName:  "Jane",
				FamilyName: "Demo",
				Gender:     "F",
				BirthDate:  "1992-07-24",
				Display:    "DEMO002 - Jane Demo",
			},
		},
	}
}

// NewForTesting creates a demo connector without artificial latency
func NewForTesting(log zerolog.Logger) *Connector {
	c := New(log)
	c.simulateLatency = false
	return c
}

// delay mimics real backend timing for UI testing
func (c *Connector) delay(ctx context.Context) {
	if !c.simulateLatency {
		return
	}
	d := minLatency + time.Duration(rand.Int63n(int64(maxLatency-minLatency)))
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// Initialize is immediate for the demo backend; there is no metadata
// to resolve.
func (c *Connector) Initialize(ctx context.Context) error {
	c.delay(ctx)
	c.log.Info().Msg("demo connector initialized")
	return nil
}

// SearchPatients matches name or identifier case-insensitively, in
// either direction (substring or superstring).
func (c *Connector) SearchPatients(ctx context.Context, query string) ([]ehr.Patient, error) {
	c.delay(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		out := make([]ehr.Patient, len(c.patients))
		copy(out, c.patients)
		return out, nil
	}

	var out []ehr.Patient
	for _, p := range c.patients {
		if matches(p, q) {
			out = append(out, p)
		}
	}
	return out, nil
}

// matches compares the query against the full name and the identifier,
// substring in either direction. Individual name parts are not matched
// on their own so an identifier query does not drag in every patient
// sharing a family name.
func matches(p ehr.Patient, q string) bool {
	if strings.EqualFold(p.ID, q) {
		return true
	}
	fields := []string{
		strings.ToLower(strings.TrimSpace(p.GivenName + " " + p.FamilyName)),
		strings.ToLower(p.Identifier),
	}
	for _, f := range fields {
		if f == "" {
			continue
		}
		if strings.Contains(f, q) || strings.Contains(q, f) {
			return true
		}
	}
	return false
}

// GetPatient fetches a patient by its backend ID
func (c *Connector) GetPatient(ctx context.Context, id string) (*ehr.Patient, error) {
	c.delay(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.patients {
		if p.ID == id {
			out := p
			return &out, nil
		}
	}
	return nil, errors.NotFound("patient", id)
}

// CreatePatient creates a patient, auto-generating an identifier when
// none is supplied.
func (c *Connector) CreatePatient(ctx context.Context, input ehr.PatientInput) (*ehr.Patient, error) {
	c.delay(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	identifier := input.Identifier
	if identifier == "" {
		identifier = "DEMO" + strings.ToUpper(uuid.New().String()[:6])
	}

	p := ehr.Patient{
		ID:         uuid.New().String(),
		Identifier: identifier,
		GivenName:  input.GivenName,
		FamilyName: input.FamilyName,
		Gender:     input.Gender,
		BirthDate:  input.BirthDate,
		Display:    identifier + " - " + input.GivenName + " " + input.FamilyName,
	}
	c.patients = append(c.patients, p)

	c.log.Info().Str("patient_id", p.ID).Str("identifier", p.Identifier).Msg("patient created")
	return &p, nil
}

// GetOrCreateVisit returns the first active visit for the patient,
// creating one when none is active.
func (c *Connector) GetOrCreateVisit(ctx context.Context, patientID string) (*ehr.Visit, error) {
	c.delay(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.visits {
		v := &c.visits[i]
		if v.PatientID == patientID && v.Active() {
			out := *v
			return &out, nil
		}
	}

	v := ehr.Visit{
		ID:        uuid.New().String(),
		PatientID: patientID,
		Location:  "Demo Clinic",
		StartedAt: time.Now(),
	}
	c.visits = append(c.visits, v)
	return &v, nil
}

// CreateEncounter always creates a fresh encounter
func (c *Connector) CreateEncounter(ctx context.Context, patientID, visitID string) (*ehr.Encounter, error) {
	c.delay(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	e := ehr.Encounter{
		ID:            uuid.New().String(),
		PatientID:     patientID,
		VisitID:       visitID,
		EncounterType: "Visit Note",
		Location:      "Demo Clinic",
		Timestamp:     time.Now(),
	}
	c.encounters = append(c.encounters, e)
	return &e, nil
}

// AddClinicalNotes attaches a free-text note observation
func (c *Connector) AddClinicalNotes(ctx context.Context, encounterID, text string) (*ehr.Observation, error) {
	c.delay(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	o := ehr.Observation{
		ID:          uuid.New().String(),
		EncounterID: encounterID,
		Kind:        ehr.ObservationNote,
		Value:       text,
	}
	c.observations = append(c.observations, o)
	return &o, nil
}

// AddDiagnosis attaches a diagnosis observation. The demo backend has
// no concept dictionary, so the free text is recorded as-is.
func (c *Connector) AddDiagnosis(ctx context.Context, encounterID string, diag ehr.DiagnosisInput) (*ehr.Observation, error) {
	c.delay(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	o := ehr.Observation{
		ID:          uuid.New().String(),
		EncounterID: encounterID,
		Kind:        ehr.ObservationDiagnosis,
		Value:       diag.Text,
		Certainty:   ehr.CertaintyForConfidence(diag.Confidence),
		Rank:        diag.Rank,
	}
	c.observations = append(c.observations, o)
	return &o, nil
}

// Metadata returns the demo descriptor
func (c *Connector) Metadata() ehr.Metadata {
	return ehr.Metadata{
		DisplayName:   "Demo EHR (in-memory)",
		EncounterType: "Visit Note",
		VisitType:     "Outpatient",
		Location:      "Demo Clinic",
		Demo:          true,
	}
}

// Observations returns a copy of all recorded observations for an
// encounter. Test and demo inspection helper.
func (c *Connector) Observations(encounterID string) []ehr.Observation {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []ehr.Observation
	for _, o := range c.observations {
		if o.EncounterID == encounterID {
			out = append(out, o)
		}
	}
	return out
}
