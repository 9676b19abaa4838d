// Package audit provides the append-only, hash-chained audit trail.
// Entries never contain raw patient data or transcripts: sensitive
// values are reduced to short digests before they enter an entry.
package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/clinscribe/platform/internal/shared/types"
)

// ActorType defines the type of actor
type ActorType string

const (
	ActorTypeClient ActorType = "client"
	ActorTypeSystem ActorType = "system"
)

// Audit actions recorded by the scribe workflow
const (
	ActionSessionCreated       = "session.created"
	ActionSessionDestroyed     = "session.destroyed"
	ActionNoteStructured       = "note.structured"
	ActionPatientCreated       = "patient.created"
	ActionConsultationRecorded = "consultation.recorded"
	ActionUnauthorizedAccess   = "access.unauthorized"
)

// Entry represents an immutable audit log entry
type Entry struct {
	ID        types.ID  `json:"id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Hash      string    `json:"hash"`
	PrevHash  string    `json:"prev_hash,omitempty"`

	ActorType ActorType `json:"actor_type"`
	ActorID   string    `json:"actor_id"`
	ActorIP   string    `json:"actor_ip,omitempty"`

	Action       string  `json:"action"`
	ResourceType string  `json:"resource_type"`
	ResourceID   *string `json:"resource_id,omitempty"`

	Details map[string]any `json:"details,omitempty"`

	SessionID *types.ID `json:"session_id,omitempty"`
}

// NewEntry creates a new audit entry. The hash is recomputed by the
// repository once the previous hash is known.
func NewEntry(actorType ActorType, actorID, action, resourceType string, resourceID *string, details map[string]any) *Entry {
	e := &Entry{
		ID:           types.NewID(),
		Timestamp:    time.Now().UTC().Truncate(time.Microsecond),
		ActorType:    actorType,
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
	}
	e.Hash = e.calculateHash()
	return e
}

// WithSession attaches the originating session to the entry
func (e *Entry) WithSession(sessionID *types.ID) *Entry {
	e.SessionID = sessionID
	return e
}

// WithIP attaches the client address to the entry
func (e *Entry) WithIP(ip string) *Entry {
	e.ActorIP = ip
	return e
}

// calculateHash calculates the SHA-256 hash of the entry using
// canonical JSON so the result is independent of map key ordering.
// Timestamps hash in UTC so verification does not depend on the
// verifier's timezone.
func (e *Entry) calculateHash() string {
	data := map[string]any{
		"id":            e.ID,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":     e.PrevHash,
		"actor_type":    e.ActorType,
		"actor_id":      e.ActorID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
	}
	if e.ResourceID != nil {
		data["resource_id"] = *e.ResourceID
	}
	if len(e.Details) > 0 {
		data["details"] = e.Details
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash verifies the entry's hash
func (e *Entry) VerifyHash() bool {
	return e.Hash == e.calculateHash()
}

// HashSensitive reduces a sensitive value (transcript, identifier,
// token) to a short digest suitable for audit details.
func HashSensitive(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalJSON produces deterministic JSON output with sorted map
// keys. Go maps iterate in random order and PostgreSQL JSONB may
// reorder keys, so hashing requires a canonical form.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}
