package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/dexmaker/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.AuditStore = (*AuditStore)(nil)

// NewAuditStore creates an AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Append implements domain.AuditStore. The details map is stored as JSONB.
func (s *AuditStore) Append(ctx context.Context, ev domain.AuditEvent) error {
	var detailsJSON []byte
	if len(ev.Details) > 0 {
		var err error
		detailsJSON, err = json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("postgres: marshal audit details: %w", err)
		}
	}

	const query = `
		INSERT INTO audit_events (id, account, kind, reason, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Account, string(ev.Kind), ev.Reason, detailsJSON, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append audit event %s: %w", ev.Kind, err)
	}
	return nil
}

// ListBefore implements domain.AuditStore, oldest first so the archiver
// writes chronologically ordered batches.
func (s *AuditStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.AuditEvent, error) {
	const query = `
		SELECT id, account, kind, reason, details, created_at
		FROM audit_events
		WHERE created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit events: %w", err)
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var (
			ev          domain.AuditEvent
			kind        string
			detailsJSON []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Account, &kind, &ev.Reason, &detailsJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit event: %w", err)
		}
		ev.Kind = domain.AuditKind(kind)
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &ev.Details); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit details: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit events rows: %w", err)
	}
	return events, nil
}

// DeleteBefore implements domain.AuditStore and returns how many rows went.
func (s *AuditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
