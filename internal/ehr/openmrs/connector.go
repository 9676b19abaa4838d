// Package openmrs implements the EHR connector contract against an
// OpenMRS-compatible REST backend.
package openmrs

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/ehr"
	"github.com/clinscribe/platform/internal/shared/errors"
	"github.com/clinscribe/platform/internal/shared/metrics"
)

// openmrsTime is the datetime layout the OpenMRS REST API accepts
const openmrsTime = "2006-01-02T15:04:05.000-0700"

// patientRep asks for exactly the patient fields the workflow reads
const patientRep = "custom:(uuid,display,identifiers:(identifier),person:(gender,birthdate,preferredName:(givenName,familyName)))"

// visitRep asks for exactly the visit fields the workflow reads
const visitRep = "custom:(uuid,startDatetime,stopDatetime,location:(uuid,display),patient:(uuid,display))"

// notesConceptTerms is the preference-ordered search list for the
// clinical-notes concept. The first exact display match wins.
var notesConceptTerms = []string{
	"Text of encounter note",
	"Clinical notes",
	"Consultation note",
}

// nonCodedConceptTerms locates the placeholder concept non-coded
// diagnoses are filed under when no coded concept resolves.
var nonCodedConceptTerms = []string{
	"Diagnosis (non-coded)",
	"Other non-coded",
	"Unspecified",
}

// Config holds the connector's backend settings. Pre-resolved UUIDs
// skip the corresponding lookup during Initialize.
type Config struct {
	// BaseURL is the OpenMRS server root, e.g. "https://host/openmrs",
	// or the local relay mount when routing through the relay.
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration

	EncounterTypeUUID string
	LocationUUID      string
	VisitTypeUUID     string
	NotesConceptUUID  string
}

// metadata is resolved once during Initialize and read-only after
type metadata struct {
	encounterType restRef
	location      restRef
	visitType     restRef
	notesConcept  restRef
	nonCoded      restRef
}

// Connector is the live ehr.Connector over the OpenMRS REST API
type Connector struct {
	client *Client
	cfg    Config
	log    zerolog.Logger

	meta        metadata
	initialized atomic.Bool
}

// New creates an OpenMRS connector. Initialize must be called before
// any patient operation.
func New(cfg Config, log zerolog.Logger) (*Connector, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Configuration("openmrs backend requires a base URL")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	l := log.With().Str("backend", "openmrs").Logger()
	return &Connector{
		client: NewClient(cfg.BaseURL, cfg.Username, cfg.Password, cfg.Timeout, l),
		cfg:    cfg,
		log:    l,
	}, nil
}

func (c *Connector) observe(op string, start time.Time, err error) {
	metrics.RecordEHROperation("openmrs", op, err, time.Since(start))
}

// ready rejects patient operations until Initialize has resolved the
// backend metadata they depend on.
func (c *Connector) ready() error {
	if !c.initialized.Load() {
		return errors.Configuration("openmrs connector is not initialized")
	}
	return nil
}

// Initialize resolves encounter type, location, visit type and the
// clinical-notes concept. The four lookups are independent and run
// concurrently. Required metadata that cannot be resolved is fatal;
// the notes and non-coded concepts only produce warnings.
func (c *Connector) Initialize(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.observe("initialize", start, err) }()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	fail := func(e error) {
		mu.Lock()
		errs = append(errs, e)
		mu.Unlock()
	}

	wg.Add(4)

	go func() {
		defer wg.Done()
		if c.cfg.EncounterTypeUUID != "" {
			c.meta.encounterType = restRef{UUID: c.cfg.EncounterTypeUUID, Display: "Visit Note"}
			return
		}
		ref, e := c.resolveEncounterType(ctx)
		if e != nil {
			fail(e)
			return
		}
		c.meta.encounterType = *ref
	}()

	go func() {
		defer wg.Done()
		if c.cfg.LocationUUID != "" {
			c.meta.location = restRef{UUID: c.cfg.LocationUUID}
			return
		}
		ref, e := c.firstOf(ctx, "/location", "locations")
		if e != nil {
			fail(e)
			return
		}
		c.meta.location = *ref
	}()

	go func() {
		defer wg.Done()
		if c.cfg.VisitTypeUUID != "" {
			c.meta.visitType = restRef{UUID: c.cfg.VisitTypeUUID}
			return
		}
		ref, e := c.firstOf(ctx, "/visittype", "visit types")
		if e != nil {
			fail(e)
			return
		}
		c.meta.visitType = *ref
	}()

	go func() {
		defer wg.Done()
		if c.cfg.NotesConceptUUID != "" {
			c.meta.notesConcept = restRef{UUID: c.cfg.NotesConceptUUID, Display: "Text of encounter note"}
		} else if ref := c.resolveConceptFromTerms(ctx, notesConceptTerms); ref != nil {
			c.meta.notesConcept = *ref
		} else {
			c.log.Warn().Msg("no clinical-notes concept found; notes will not be recorded")
		}

		if ref := c.resolveConceptFromTerms(ctx, nonCodedConceptTerms); ref != nil {
			c.meta.nonCoded = *ref
		} else {
			c.log.Warn().Msg("no non-coded placeholder concept found; unresolved diagnoses will be skipped")
		}
	}()

	wg.Wait()

	if len(errs) > 0 {
		err = errors.Wrap(errs[0], "connector initialization failed")
		return err
	}

	c.initialized.Store(true)
	c.log.Info().
		Str("encounter_type", c.meta.encounterType.Display).
		Str("location", c.meta.location.Display).
		Str("visit_type", c.meta.visitType.Display).
		Msg("openmrs connector initialized")
	return nil
}

// resolveEncounterType prefers a type whose display contains
// "visit note", falling back to the first type available.
func (c *Connector) resolveEncounterType(ctx context.Context) (*restRef, error) {
	var page refResults
	if err := c.client.Get(ctx, "/encountertype", nil, &page); err != nil {
		return nil, err
	}
	if len(page.Results) == 0 {
		return nil, errors.Configuration("backend has no encounter types configured")
	}
	for i := range page.Results {
		if strings.Contains(strings.ToLower(page.Results[i].Display), "visit note") {
			return &page.Results[i], nil
		}
	}
	return &page.Results[0], nil
}

// firstOf resolves the first available item of a metadata listing
func (c *Connector) firstOf(ctx context.Context, path, what string) (*restRef, error) {
	var page refResults
	if err := c.client.Get(ctx, path, nil, &page); err != nil {
		return nil, err
	}
	if len(page.Results) == 0 {
		return nil, errors.Configuration(fmt.Sprintf("backend has no %s configured", what))
	}
	return &page.Results[0], nil
}

// SearchPatients queries the backend's patient search. An empty query
// returns an empty list without a backend call.
func (c *Connector) SearchPatients(ctx context.Context, query string) (patients []ehr.Patient, err error) {
	start := time.Now()
	defer func() { c.observe("search_patients", start, err) }()

	if err = c.ready(); err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return []ehr.Patient{}, nil
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("v", patientRep)

	var page patientResults
	if err = c.client.Get(ctx, "/patient", q, &page); err != nil {
		return nil, err
	}

	patients = make([]ehr.Patient, 0, len(page.Results))
	for _, rp := range page.Results {
		patients = append(patients, mapPatient(rp))
	}
	return patients, nil
}

func mapPatient(rp restPatient) ehr.Patient {
	p := ehr.Patient{
		ID:         rp.UUID,
		Display:    rp.Display,
		GivenName:  rp.Person.PreferredName.GivenName,
		FamilyName: rp.Person.PreferredName.FamilyName,
		Gender:     rp.Person.Gender,
		BirthDate:  rp.Person.Birthdate,
	}
	if len(p.BirthDate) > 10 {
		p.BirthDate = p.BirthDate[:10]
	}
	if len(rp.Identifiers) > 0 {
		p.Identifier = rp.Identifiers[0].Identifier
	}
	return p
}

// GetPatient fetches a single patient by backend UUID. The search
// endpoint matches names and identifiers only, so UUID references
// need this direct lookup.
func (c *Connector) GetPatient(ctx context.Context, id string) (patient *ehr.Patient, err error) {
	start := time.Now()
	defer func() { c.observe("get_patient", start, err) }()

	if err = c.ready(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("v", patientRep)

	var rp restPatient
	if err = c.client.Get(ctx, "/patient/"+id, q, &rp); err != nil {
		if appErr, ok := err.(*errors.AppError); ok && appErr.Details["upstream_status"] == "404" {
			err = errors.NotFound("patient", id)
		}
		return nil, err
	}
	if rp.UUID == "" {
		return nil, errors.NotFound("patient", id)
	}

	p := mapPatient(rp)
	return &p, nil
}

// CreatePatient creates a patient record, auto-generating an
// identifier through the idgen module when none is supplied.
func (c *Connector) CreatePatient(ctx context.Context, input ehr.PatientInput) (patient *ehr.Patient, err error) {
	start := time.Now()
	defer func() { c.observe("create_patient", start, err) }()

	if err = c.ready(); err != nil {
		return nil, err
	}

	identifierType := input.IdentifierType
	if identifierType == "" {
		identifierType, err = c.defaultIdentifierType(ctx)
		if err != nil {
			return nil, err
		}
	}

	identifier := input.Identifier
	if identifier == "" {
		identifier, err = c.generateIdentifier(ctx, identifierType)
		if err != nil {
			return nil, err
		}
		if identifier == "" {
			return nil, errors.Validation(
				"no patient identifier could be determined: supply one manually or configure identifier auto-generation (idgen) on the backend",
				map[string]string{"field": "identifier"},
			)
		}
	}

	identifierPayload := map[string]any{
		"identifier":     identifier,
		"identifierType": identifierType,
		"preferred":      true,
	}
	if c.meta.location.UUID != "" {
		identifierPayload["location"] = c.meta.location.UUID
	}

	body := map[string]any{
		"person": map[string]any{
			"names": []map[string]any{
				{"givenName": input.GivenName, "familyName": input.FamilyName},
			},
			"gender":    input.Gender,
			"birthdate": input.BirthDate,
		},
		"identifiers": []map[string]any{identifierPayload},
	}

	var created restPatient
	if err = c.client.Post(ctx, "/patient", body, &created); err != nil {
		return nil, err
	}

	p := mapPatient(created)
	if p.Identifier == "" {
		p.Identifier = identifier
	}
	if p.GivenName == "" {
		p.GivenName = input.GivenName
		p.FamilyName = input.FamilyName
		p.Gender = input.Gender
		p.BirthDate = input.BirthDate
	}

	c.log.Info().Str("patient_id", p.ID).Str("identifier", p.Identifier).Msg("patient created")
	return &p, nil
}

// GetOrCreateVisit returns the patient's active visit, creating one at
// the resolved default location and visit type when none is active.
func (c *Connector) GetOrCreateVisit(ctx context.Context, patientID string) (visit *ehr.Visit, err error) {
	start := time.Now()
	defer func() { c.observe("get_or_create_visit", start, err) }()

	if err = c.ready(); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("patient", patientID)
	q.Set("includeInactive", "false")
	q.Set("v", visitRep)

	var page visitResults
	if err = c.client.Get(ctx, "/visit", q, &page); err != nil {
		return nil, err
	}

	for _, rv := range page.Results {
		if rv.StopDatetime == nil || *rv.StopDatetime == "" {
			v := mapVisit(rv, patientID)
			return &v, nil
		}
	}

	body := map[string]any{
		"patient":       patientID,
		"visitType":     c.meta.visitType.UUID,
		"location":      c.meta.location.UUID,
		"startDatetime": time.Now().Format(openmrsTime),
	}

	var created restVisit
	if err = c.client.Post(ctx, "/visit", body, &created); err != nil {
		return nil, err
	}

	v := mapVisit(created, patientID)
	c.log.Info().Str("visit_id", v.ID).Str("patient_id", patientID).Msg("visit started")
	return &v, nil
}

func mapVisit(rv restVisit, patientID string) ehr.Visit {
	v := ehr.Visit{
		ID:        rv.UUID,
		PatientID: patientID,
		StartedAt: parseTime(rv.StartDatetime),
	}
	if rv.Patient != nil && rv.Patient.UUID != "" {
		v.PatientID = rv.Patient.UUID
	}
	if rv.Location != nil {
		v.Location = rv.Location.Display
	}
	if rv.StopDatetime != nil && *rv.StopDatetime != "" {
		t := parseTime(*rv.StopDatetime)
		v.StoppedAt = &t
	}
	return v
}

func parseTime(s string) time.Time {
	for _, layout := range []string{openmrsTime, time.RFC3339, "2006-01-02T15:04:05-0700"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// CreateEncounter creates a fresh encounter inside the visit
func (c *Connector) CreateEncounter(ctx context.Context, patientID, visitID string) (encounter *ehr.Encounter, err error) {
	start := time.Now()
	defer func() { c.observe("create_encounter", start, err) }()

	if err = c.ready(); err != nil {
		return nil, err
	}

	now := time.Now()
	body := map[string]any{
		"patient":           patientID,
		"visit":             visitID,
		"encounterType":     c.meta.encounterType.UUID,
		"location":          c.meta.location.UUID,
		"encounterDatetime": now.Format(openmrsTime),
	}

	var created restEncounter
	if err = c.client.Post(ctx, "/encounter", body, &created); err != nil {
		return nil, err
	}

	e := ehr.Encounter{
		ID:            created.UUID,
		PatientID:     patientID,
		VisitID:       visitID,
		EncounterType: c.meta.encounterType.Display,
		Location:      c.meta.location.Display,
		Timestamp:     now,
	}
	c.log.Info().Str("encounter_id", e.ID).Str("visit_id", visitID).Msg("encounter created")
	return &e, nil
}

// encounterPatient fetches the patient a recorded encounter belongs to
func (c *Connector) encounterPatient(ctx context.Context, encounterID string) (string, error) {
	q := url.Values{}
	q.Set("v", "custom:(uuid,patient:(uuid,display))")

	var enc restEncounter
	if err := c.client.Get(ctx, "/encounter/"+encounterID, q, &enc); err != nil {
		return "", err
	}
	if enc.Patient == nil || enc.Patient.UUID == "" {
		return "", errors.NotFound("encounter patient", encounterID)
	}
	return enc.Patient.UUID, nil
}

// AddClinicalNotes attaches the free-text narrative as an observation
// under the resolved clinical-notes concept. When the concept is
// missing the operation is a no-op with a warning: partial
// documentation is preferred over a failed encounter.
func (c *Connector) AddClinicalNotes(ctx context.Context, encounterID, text string) (obs *ehr.Observation, err error) {
	start := time.Now()
	defer func() { c.observe("add_clinical_notes", start, err) }()

	if err = c.ready(); err != nil {
		return nil, err
	}

	if c.meta.notesConcept.UUID == "" {
		c.log.Warn().Str("encounter_id", encounterID).Msg("clinical-notes concept unresolved; skipping note")
		return nil, nil
	}

	personUUID, err := c.encounterPatient(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"person":      personUUID,
		"encounter":   encounterID,
		"concept":     c.meta.notesConcept.UUID,
		"obsDatetime": time.Now().Format(openmrsTime),
		"value":       text,
	}

	var created restObs
	if err = c.client.Post(ctx, "/obs", body, &created); err != nil {
		return nil, err
	}

	return &ehr.Observation{
		ID:          created.UUID,
		EncounterID: encounterID,
		Kind:        ehr.ObservationNote,
		ConceptID:   c.meta.notesConcept.UUID,
		Value:       text,
	}, nil
}

// AddDiagnosis attaches a diagnosis, resolving free text or a code
// hint to a coded concept where possible. Resolution order: exact code
// lookup, free-text concept search, non-coded placeholder, skip.
func (c *Connector) AddDiagnosis(ctx context.Context, encounterID string, diag ehr.DiagnosisInput) (obs *ehr.Observation, err error) {
	start := time.Now()
	defer func() { c.observe("add_diagnosis", start, err) }()

	if err = c.ready(); err != nil {
		return nil, err
	}

	certainty := ehr.CertaintyForConfidence(diag.Confidence)

	personUUID, err := c.encounterPatient(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	if concept := c.resolveDiagnosisConcept(ctx, diag.Text, diag.CodeHint); concept != nil {
		body := map[string]any{
			"patient":   personUUID,
			"encounter": encounterID,
			"diagnosis": map[string]any{"coded": concept.UUID},
			"certainty": string(certainty),
			"rank":      diag.Rank,
		}

		var created restDiagnosis
		if err = c.client.Post(ctx, "/patientdiagnoses", body, &created); err != nil {
			return nil, err
		}

		metrics.RecordDiagnosis("openmrs", "recorded")
		return &ehr.Observation{
			ID:          created.UUID,
			EncounterID: encounterID,
			Kind:        ehr.ObservationDiagnosis,
			ConceptID:   concept.UUID,
			Value:       diag.Text,
			Certainty:   certainty,
			Rank:        diag.Rank,
		}, nil
	}

	if c.meta.nonCoded.UUID == "" {
		c.log.Warn().Str("diagnosis", diag.Text).Msg("no concept or placeholder resolved; skipping diagnosis")
		metrics.RecordDiagnosis("openmrs", "skipped")
		return nil, nil
	}

	// Placeholder path: the free text travels as the observation value
	// under the generic non-coded concept.
	body := map[string]any{
		"person":      personUUID,
		"encounter":   encounterID,
		"concept":     c.meta.nonCoded.UUID,
		"obsDatetime": time.Now().Format(openmrsTime),
		"value":       diag.Text,
		"comment":     fmt.Sprintf("certainty=%s rank=%d", certainty, diag.Rank),
	}

	var created restObs
	if err = c.client.Post(ctx, "/obs", body, &created); err != nil {
		return nil, err
	}

	metrics.RecordDiagnosis("openmrs", "non_coded")
	return &ehr.Observation{
		ID:          created.UUID,
		EncounterID: encounterID,
		Kind:        ehr.ObservationDiagnosis,
		ConceptID:   c.meta.nonCoded.UUID,
		Value:       diag.Text,
		Certainty:   certainty,
		Rank:        diag.Rank,
	}, nil
}

// Metadata returns the cached display descriptor
func (c *Connector) Metadata() ehr.Metadata {
	host := c.cfg.BaseURL
	if u, err := url.Parse(c.cfg.BaseURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return ehr.Metadata{
		DisplayName:   "OpenMRS (" + host + ")",
		EncounterType: c.meta.encounterType.Display,
		VisitType:     c.meta.visitType.Display,
		Location:      c.meta.location.Display,
		Demo:          false,
	}
}
