package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/dexmaker/internal/domain"
)

// Archiver drains aged audit events from the primary store into JSONL
// objects in blob storage. Rows are deleted only up to the newest event
// actually uploaded, so a partial batch never loses data.
type Archiver struct {
	writer    domain.BlobWriter
	store     domain.AuditStore
	retention time.Duration
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. retention is how long events stay in the
// primary store; interval is how often the drain runs.
func NewArchiver(writer domain.BlobWriter, store domain.AuditStore, retention, interval time.Duration, batchSize int, logger *slog.Logger) *Archiver {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Archiver{
		writer:    writer,
		store:     store,
		retention: retention,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run drains on the configured interval until the context is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "archiver started",
		slog.Duration("retention", a.retention),
		slog.Duration("interval", a.interval),
	)
	defer a.logger.Info("archiver stopped")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := a.ArchiveOnce(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "archive pass failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if count > 0 {
				a.logger.InfoContext(ctx, "audit events archived",
					slog.Int64("count", count),
				)
			}
		}
	}
}

// ArchiveOnce uploads one batch of events older than the retention window
// and deletes the archived rows. It returns how many events were archived.
func (a *Archiver) ArchiveOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-a.retention)

	events, err := a.store.ListBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	newest := events[len(events)-1].CreatedAt
	key := archiveKey(newest)
	if err := a.writer.Put(ctx, key, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	// Delete only what was uploaded; events between newest and cutoff wait
	// for the next pass.
	if _, err := a.store.DeleteBefore(ctx, newest.Add(time.Nanosecond)); err != nil {
		return 0, fmt.Errorf("s3blob: archive delete: %w", err)
	}
	return int64(len(events)), nil
}

// archiveKey builds the object key for one batch, partitioned by day with a
// timestamp suffix so batches never collide.
//
//	archive/audit/2025-01-07/150405.jsonl
func archiveKey(newest time.Time) string {
	return fmt.Sprintf("archive/audit/%s/%s.jsonl",
		newest.Format("2006-01-02"), newest.Format("150405.000000000"))
}

// marshalJSONL serialises audit events as newline-delimited JSON, one
// compact line per event.
func marshalJSONL(events []domain.AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, ev := range events {
		line := struct {
			ID        string            `json:"id"`
			Account   string            `json:"account,omitempty"`
			Kind      string            `json:"kind"`
			Reason    string            `json:"reason,omitempty"`
			Details   map[string]string `json:"details,omitempty"`
			CreatedAt time.Time         `json:"created_at"`
		}{
			ID:        ev.ID,
			Account:   ev.Account,
			Kind:      string(ev.Kind),
			Reason:    ev.Reason,
			Details:   ev.Details,
			CreatedAt: ev.CreatedAt,
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
