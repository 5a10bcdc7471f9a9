// Package postgres implements the production-grade backings for the
// pipeline engine's context/transaction stores, the stream processor's
// dedup/event stores, and the watchdog's stuck-event finder, grounded on
// the teacher's raw-SQL-plus-JSONB style (system/events/store_postgres.go)
// adapted to sqlx for the scan boilerplate.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/event"
	"github.com/integration-core/core/internal/domain/transaction"
	"github.com/integration-core/core/internal/stream"
)

// The table layout every store in this package depends on lives in
// migrations/0001_init.up.sql, applied via Migrate. Single context table
// with a discriminator column mirrors the original's
// single-Mongo-collection-with-type-field design
// (integrationos-domain's RootContext/PipelineContext/ExtractorContext
// sharing one collection), adapted to a JSONB "document" column rather
// than a BSON document, since the sum-type payload itself already has
// its own discriminated wire encoding (see domain/context's MarshalJSON).

// ContextStore implements pipeline.ContextStore and watchdog.StuckEventFinder.
type ContextStore struct {
	db *sqlx.DB
}

func NewContextStore(db *sqlx.DB) *ContextStore { return &ContextStore{db: db} }

func (s *ContextStore) LatestRoot(ctx context.Context, eventKey string) (coreContext.RootContext, bool, error) {
	var doc []byte
	err := s.db.GetContext(ctx, &doc, `
		SELECT document FROM contexts
		WHERE type = 'root' AND event_key = $1
		ORDER BY timestamp DESC LIMIT 1
	`, eventKey)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return coreContext.RootContext{}, false, nil
		}
		return coreContext.RootContext{}, false, fmt.Errorf("postgres: latest root context: %w", err)
	}
	var rc coreContext.RootContext
	if err := json.Unmarshal(doc, &rc); err != nil {
		return coreContext.RootContext{}, false, fmt.Errorf("postgres: decode root context: %w", err)
	}
	return rc, true, nil
}

func (s *ContextStore) SaveRoot(ctx context.Context, rc coreContext.RootContext) error {
	doc, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("postgres: encode root context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contexts (type, event_key, document, timestamp)
		VALUES ('root', $1, $2, $3)
	`, rc.EventKey, doc, rc.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: save root context: %w", err)
	}
	return nil
}

func (s *ContextStore) LatestPipeline(ctx context.Context, eventKey, pipelineKey string) (coreContext.PipelineContext, bool, error) {
	var doc []byte
	err := s.db.GetContext(ctx, &doc, `
		SELECT document FROM contexts
		WHERE type = 'pipeline' AND event_key = $1 AND pipeline_key = $2
		ORDER BY timestamp DESC LIMIT 1
	`, eventKey, pipelineKey)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return coreContext.PipelineContext{}, false, nil
		}
		return coreContext.PipelineContext{}, false, fmt.Errorf("postgres: latest pipeline context: %w", err)
	}
	var pc coreContext.PipelineContext
	if err := json.Unmarshal(doc, &pc); err != nil {
		return coreContext.PipelineContext{}, false, fmt.Errorf("postgres: decode pipeline context: %w", err)
	}
	return pc, true, nil
}

func (s *ContextStore) SavePipeline(ctx context.Context, pc coreContext.PipelineContext) error {
	doc, err := json.Marshal(pc)
	if err != nil {
		return fmt.Errorf("postgres: encode pipeline context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contexts (type, event_key, pipeline_key, document, timestamp)
		VALUES ('pipeline', $1, $2, $3, $4)
	`, pc.EventKey, pc.PipelineKey, doc, pc.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: save pipeline context: %w", err)
	}
	return nil
}

func (s *ContextStore) LatestExtractor(ctx context.Context, eventKey, pipelineKey, extractorKey string) (coreContext.ExtractorContext, bool, error) {
	var doc []byte
	err := s.db.GetContext(ctx, &doc, `
		SELECT document FROM contexts
		WHERE type = 'extractor' AND event_key = $1 AND pipeline_key = $2 AND extractor_key = $3
		ORDER BY timestamp DESC LIMIT 1
	`, eventKey, pipelineKey, extractorKey)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return coreContext.ExtractorContext{}, false, nil
		}
		return coreContext.ExtractorContext{}, false, fmt.Errorf("postgres: latest extractor context: %w", err)
	}
	var ec coreContext.ExtractorContext
	if err := json.Unmarshal(doc, &ec); err != nil {
		return coreContext.ExtractorContext{}, false, fmt.Errorf("postgres: decode extractor context: %w", err)
	}
	return ec, true, nil
}

func (s *ContextStore) SaveExtractor(ctx context.Context, ec coreContext.ExtractorContext) error {
	doc, err := json.Marshal(ec)
	if err != nil {
		return fmt.Errorf("postgres: encode extractor context: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contexts (type, event_key, pipeline_key, extractor_key, document, timestamp)
		VALUES ('extractor', $1, $2, $3, $4, $5)
	`, ec.EventKey, ec.PipelineKey, ec.ExtractorKey, doc, ec.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: save extractor context: %w", err)
	}
	return nil
}

// FindStuck implements the exact three-stage aggregation from
// integrationos-watchdog/src/client.rs's Mongo pipeline ($sort by
// timestamp desc, $group by event_key taking the first stage/status and
// counting recent rows, $match stage != Finished && status == Succeeded
// && count == 0) as one SQL query over the root-context rows.
func (s *ContextStore) FindStuck(ctx context.Context, timeout time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-timeout)

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_key FROM (
			SELECT DISTINCT ON (event_key)
				event_key,
				document->'stage'->>'kind' AS stage_kind,
				document->'status'->>'kind' AS status_kind
			FROM contexts
			WHERE type = 'root'
			ORDER BY event_key, timestamp DESC
		) latest
		WHERE latest.stage_kind != 'finished'
		  AND latest.status_kind = 'succeeded'
		  AND NOT EXISTS (
			SELECT 1 FROM contexts c
			WHERE c.type = 'root' AND c.event_key = latest.event_key AND c.timestamp > $1
		  )
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: find stuck event keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("postgres: scan stuck event key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// TransactionStore implements pipeline.TransactionStore.
type TransactionStore struct {
	db *sqlx.DB
}

func NewTransactionStore(db *sqlx.DB) *TransactionStore { return &TransactionStore{db: db} }

func (s *TransactionStore) Append(ctx context.Context, tx transaction.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (id, event_id, key, output, error, state, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, tx.ID.String(), tx.EventID.String(), tx.Key, []byte(tx.Output), tx.Err, string(tx.State), tx.Timestamp)
	if err != nil {
		return fmt.Errorf("postgres: append transaction: %w", err)
	}
	return nil
}

// DedupStore implements stream.DedupStore, using Postgres' unique
// constraint violation (SQLSTATE 23505) as the concurrent-duplicate
// signal (§4.6 step 2).
type DedupStore struct {
	db *sqlx.DB
}

func NewDedupStore(db *sqlx.DB) *DedupStore { return &DedupStore{db: db} }

func (s *DedupStore) Exists(ctx context.Context, entityID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM dedup_records WHERE entity_id = $1)`, entityID)
	if err != nil {
		return false, fmt.Errorf("postgres: dedup exists: %w", err)
	}
	return exists, nil
}

func (s *DedupStore) Create(ctx context.Context, entityID string, metadata map[string]interface{}) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("postgres: encode dedup metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO dedup_records (entity_id, metadata) VALUES ($1, $2)`, entityID, meta)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return stream.ErrDuplicateEntity
		}
		return fmt.Errorf("postgres: create dedup record: %w", err)
	}
	return nil
}

func (s *DedupStore) Delete(ctx context.Context, entityID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup_records WHERE entity_id = $1`, entityID)
	if err != nil {
		return fmt.Errorf("postgres: delete dedup record: %w", err)
	}
	return nil
}

// EventStore implements stream.EventStore and watchdog.EventLookup.
type EventStore struct {
	db *sqlx.DB
}

func NewEventStore(db *sqlx.DB) *EventStore { return &EventStore{db: db} }

func (s *EventStore) Persist(ctx context.Context, ev event.Event) error {
	headers, err := json.Marshal(ev.Headers)
	if err != nil {
		return fmt.Errorf("postgres: encode event headers: %w", err)
	}
	body, err := json.Marshal(ev.Body)
	if err != nil {
		return fmt.Errorf("postgres: encode event body: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, access_key, name, headers, body, ownership, state, duplicates, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID.String(), ev.AccessKey, ev.Name, headers, body, ev.Ownership, string(ev.State), ev.Duplicates, ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: persist event: %w", err)
	}
	return nil
}

func (s *EventStore) Get(ctx context.Context, eventKey string) (event.Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, access_key, name, headers, body, ownership, state, duplicates, created_at, updated_at
		FROM events WHERE id = $1
	`, eventKey)

	var ev event.Event
	var id, state string
	var headers, body []byte
	if err := row.Scan(&id, &ev.AccessKey, &ev.Name, &headers, &body, &ev.Ownership, &state, &ev.Duplicates, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return event.Event{}, false, nil
		}
		return event.Event{}, false, fmt.Errorf("postgres: get event: %w", err)
	}
	if err := ev.ID.UnmarshalText([]byte(id)); err != nil {
		return event.Event{}, false, fmt.Errorf("postgres: decode event id: %w", err)
	}
	ev.State = event.State(state)
	if len(headers) > 0 {
		_ = json.Unmarshal(headers, &ev.Headers)
	}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &ev.Body)
	}
	return ev, true, nil
}

func (s *EventStore) SetState(ctx context.Context, id string, state event.State) error {
	_, err := s.db.ExecContext(ctx, `UPDATE events SET state = $2, updated_at = now() WHERE id = $1`, id, string(state))
	if err != nil {
		return fmt.Errorf("postgres: set event state: %w", err)
	}
	return nil
}

// SetOutcome persists the event's latest processing outcome, reusing
// EventEntity's discriminated-union JSON encoding so the column holds the
// same wire shape the stream topics carry.
func (s *EventStore) SetOutcome(ctx context.Context, id string, outcome event.Outcome) error {
	entity := event.EventEntity{EntityID: id, Outcome: outcome}
	doc, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("postgres: encode event outcome: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE events SET outcome = $2, updated_at = now() WHERE id = $1`, id, doc)
	if err != nil {
		return fmt.Errorf("postgres: record event outcome: %w", err)
	}
	return nil
}
