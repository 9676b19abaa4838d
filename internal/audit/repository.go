package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinscribe/platform/internal/shared/errors"
	"github.com/clinscribe/platform/internal/shared/metrics"
)

// ListFilter narrows entry listings. Listings are newest first unless
// Ascending is set; chain verification walks ascending from genesis.
type ListFilter struct {
	Action    string
	SessionID string
	Limit     int
	Offset    int
	Ascending bool
}

// Repository is the audit storage contract
type Repository interface {
	Initialize(ctx context.Context) error
	Append(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
}

// PostgresRepository provides append-only audit log operations on pgx
type PostgresRepository struct {
	pool     *pgxpool.Pool
	mu       sync.Mutex
	lastHash string
}

// NewPostgresRepository creates a new Postgres-backed audit repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Initialize loads the last chain hash from the database
func (r *PostgresRepository) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hash string
	err := r.pool.QueryRow(ctx, `
		SELECT hash FROM audit.entries
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&hash)

	if err != nil && !strings.Contains(err.Error(), "no rows") {
		return errors.Wrap(err, "failed to get last audit hash")
	}

	r.lastHash = hash
	return nil
}

// Append appends a new audit entry (thread-safe)
func (r *PostgresRepository) Append(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.PrevHash = r.lastHash
	entry.Hash = entry.calculateHash()

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return errors.Wrap(err, "failed to marshal details")
	}

	query := `
		INSERT INTO audit.entries (
			id, timestamp, hash, prev_hash,
			actor_type, actor_id, actor_ip,
			action, resource_type, resource_id,
			details, session_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		) RETURNING sequence`

	err = r.pool.QueryRow(ctx, query,
		entry.ID, entry.Timestamp, entry.Hash, entry.PrevHash,
		entry.ActorType, entry.ActorID, entry.ActorIP,
		entry.Action, entry.ResourceType, entry.ResourceID,
		detailsJSON, entry.SessionID,
	).Scan(&entry.Sequence)

	if err != nil {
		return errors.Wrap(err, "failed to append audit entry")
	}

	r.lastHash = entry.Hash
	metrics.RecordAuditEntry()
	return nil
}

// List lists audit entries with filters (read-only)
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var conditions []string
	var args []interface{}
	argNum := 1

	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argNum))
		args = append(args, filter.Action)
		argNum++
	}
	if filter.SessionID != "" {
		conditions = append(conditions, fmt.Sprintf("session_id = $%d", argNum))
		args = append(args, filter.SessionID)
		argNum++
	}

	query := `
		SELECT sequence, id, timestamp, hash, prev_hash,
			actor_type, actor_id, actor_ip,
			action, resource_type, resource_id,
			details, session_id
		FROM audit.entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	if filter.Ascending {
		query += " ORDER BY sequence ASC"
	} else {
		query += " ORDER BY sequence DESC"
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list audit entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var detailsJSON []byte
		if err := rows.Scan(
			&e.Sequence, &e.ID, &e.Timestamp, &e.Hash, &e.PrevHash,
			&e.ActorType, &e.ActorID, &e.ActorIP,
			&e.Action, &e.ResourceType, &e.ResourceID,
			&detailsJSON, &e.SessionID,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
				return nil, errors.Wrap(err, "failed to decode audit details")
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// MemoryRepository keeps the audit trail in memory. Used when no
// database is configured (demo mode); entries are lost on restart.
type MemoryRepository struct {
	mu       sync.Mutex
	entries  []Entry
	lastHash string
}

// NewMemoryRepository creates an in-memory audit repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Initialize is a no-op for the memory repository
func (r *MemoryRepository) Initialize(ctx context.Context) error {
	return nil
}

// Append appends a new audit entry
func (r *MemoryRepository) Append(ctx context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry.PrevHash = r.lastHash
	entry.Hash = entry.calculateHash()
	entry.Sequence = int64(len(r.entries) + 1)

	r.entries = append(r.entries, *entry)
	r.lastHash = entry.Hash
	metrics.RecordAuditEntry()
	return nil
}

// List lists audit entries, newest first by default
func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []Entry
	for _, e := range r.entries {
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.SessionID != "" && (e.SessionID == nil || e.SessionID.String() != filter.SessionID) {
			continue
		}
		matched = append(matched, e)
	}

	if !filter.Ascending {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []Entry{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// VerifyChain walks entries oldest-first and reports the first broken
// link, if any. prevHash anchors the window: "" for the genesis entry,
// or the hash of the entry preceding the window when verifying the
// chain in pages.
func VerifyChain(entries []Entry, prevHash string) error {
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prevHash {
			return fmt.Errorf("chain broken at sequence %d: prev_hash mismatch", e.Sequence)
		}
		if !e.VerifyHash() {
			return fmt.Errorf("chain broken at sequence %d: hash mismatch", e.Sequence)
		}
		prevHash = e.Hash
	}
	return nil
}
