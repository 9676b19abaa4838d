package scribe

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinscribe/platform/internal/ehr"
	"github.com/clinscribe/platform/internal/extract"
	"github.com/clinscribe/platform/internal/shared/errors"
)

// Handler provides HTTP handlers for the scribe workflow
type Handler struct {
	service *Service
	extract *extract.Client
}

// NewHandler creates a new scribe handler. extractClient may be nil
// when note structuring is not configured.
func NewHandler(service *Service, extractClient *extract.Client) *Handler {
	return &Handler{service: service, extract: extractClient}
}

// Routes registers the scribe routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/backend", h.GetBackend)
	r.Get("/patients", h.SearchPatients)
	r.Post("/patients", h.CreatePatient)
	r.Post("/consultations", h.RecordConsultation)
	r.Post("/notes/structure", h.StructureNotes)

	return r
}

// GetBackend reports the active backend and its resolved metadata
func (h *Handler) GetBackend(w http.ResponseWriter, r *http.Request) {
	name, meta := h.service.Backend()
	writeJSON(w, http.StatusOK, map[string]any{
		"backend":  name,
		"metadata": meta,
	})
}

// SearchPatients searches patients by name or identifier
func (h *Handler) SearchPatients(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	patients, err := h.service.SearchPatients(r.Context(), query)
	if err != nil {
		writeError(w, err)
		return
	}

	if patients == nil {
		patients = []ehr.Patient{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  patients,
		"count": len(patients),
	})
}

// CreatePatient creates a patient record
func (h *Handler) CreatePatient(w http.ResponseWriter, r *http.Request) {
	var input ehr.PatientInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	if input.GivenName == "" || input.FamilyName == "" {
		writeError(w, errors.Validation("given_name and family_name are required", nil))
		return
	}

	patient, err := h.service.CreatePatient(r.Context(), input)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, patient)
}

// RecordConsultation runs the full consultation workflow
func (h *Handler) RecordConsultation(w http.ResponseWriter, r *http.Request) {
	var req ConsultationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	result, err := h.service.RecordConsultation(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// StructureNotes turns a raw transcript into a structured note
func (h *Handler) StructureNotes(w http.ResponseWriter, r *http.Request) {
	if h.extract == nil {
		writeError(w, errors.Configuration("note structuring is not configured"))
		return
	}

	var req extract.StructureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	result, err := h.extract.Structure(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.service.AuditNoteStructured(r.Context(), req.Transcript, result.ModelUsed)

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
