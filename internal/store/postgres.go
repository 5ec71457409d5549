package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/okline/readpulse/internal/tracing"
)

// PostgresStore implements Store on PostgreSQL, holding every collection in
// a single telemetry_records table with a JSONB fields column (see
// migrations/000001_create_telemetry_records.up.sql).
//
// Note: numeric field values read back through JSONB decode as float64.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore on an open database handle.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// AppendRecord inserts a new record.
// Returns ErrRecordExists if the (collection, id) pair is taken.
func (s *PostgresStore) AppendRecord(ctx context.Context, collection, id string, fields map[string]any) (err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, collection, tracing.StoreOpAppend)
	defer func() { endSpan(err) }()

	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	query := `
		INSERT INTO telemetry_records (collection, id, fields)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, collection, id, payload)
	if err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("append %s/%s: %w", collection, id, ErrRecordExists)
	}
	return nil
}

// UpsertRecord creates the record or merges fields into an existing one.
func (s *PostgresStore) UpsertRecord(ctx context.Context, collection, id string, fields map[string]any) (err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, collection, tracing.StoreOpUpsert)
	defer func() { endSpan(err) }()

	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}

	query := `
		INSERT INTO telemetry_records (collection, id, fields)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, id)
		DO UPDATE SET fields = telemetry_records.fields || EXCLUDED.fields,
		              updated_at = now()
	`
	if _, err = s.db.ExecContext(ctx, query, collection, id, payload); err != nil {
		return fmt.Errorf("failed to upsert record: %w", err)
	}
	return nil
}

// GetRecord retrieves a record by id.
func (s *PostgresStore) GetRecord(ctx context.Context, collection, id string) (rec *Record, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, collection, tracing.StoreOpQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT fields FROM telemetry_records
		WHERE collection = $1 AND id = $2
	`
	var payload []byte
	err = s.db.QueryRowContext(ctx, query, collection, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	fields, err := decodeFields(payload)
	if err != nil {
		return nil, err
	}
	return &Record{ID: id, Fields: fields}, nil
}

// QueryLatest returns the matching record with the greatest orderByField
// value. Filters compare top-level fields by JSONB containment; the order
// field is compared as text, which preserves chronological order for the
// RFC3339 timestamps the pipeline stores.
func (s *PostgresStore) QueryLatest(ctx context.Context, collection string, filters map[string]any, orderByField string) (rec *Record, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, collection, tracing.StoreOpQuery)
	defer func() { endSpan(err) }()

	filterPayload, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("failed to encode filters: %w", err)
	}

	query := `
		SELECT id, fields FROM telemetry_records
		WHERE collection = $1 AND fields @> $2::jsonb
		ORDER BY fields->>$3 DESC
		LIMIT 1
	`
	var id string
	var payload []byte
	err = s.db.QueryRowContext(ctx, query, collection, filterPayload, orderByField).Scan(&id, &payload)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest record: %w", err)
	}

	fields, err := decodeFields(payload)
	if err != nil {
		return nil, err
	}
	return &Record{ID: id, Fields: fields}, nil
}

// ListRecords returns up to limit records in ascending id order, starting
// after afterID.
func (s *PostgresStore) ListRecords(ctx context.Context, collection, afterID string, limit int) (recs []*Record, err error) {
	ctx, endSpan := tracing.StartStoreSpan(ctx, collection, tracing.StoreOpQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT id, fields FROM telemetry_records
		WHERE collection = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, collection, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var payload []byte
		if err = rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		fields, decErr := decodeFields(payload)
		if decErr != nil {
			return nil, decErr
		}
		recs = append(recs, &Record{ID: id, Fields: fields})
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return recs, nil
}

// CommitBatch applies all writes in a single transaction.
func (s *PostgresStore) CommitBatch(ctx context.Context, writes []Write) (err error) {
	if len(writes) == 0 {
		return nil
	}

	ctx, endSpan := tracing.StartStoreSpan(ctx, "batch", tracing.StoreOpCommit)
	defer func() { endSpan(err) }()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			s.logger.Warn("failed to rollback transaction",
				slog.String("error", rbErr.Error()))
		}
	}()

	for _, w := range writes {
		payload, encErr := json.Marshal(w.Fields)
		if encErr != nil {
			return fmt.Errorf("failed to encode fields for %s/%s: %w", w.Collection, w.ID, encErr)
		}

		switch w.Op {
		case WriteAppend:
			query := `
				INSERT INTO telemetry_records (collection, id, fields)
				VALUES ($1, $2, $3)
			`
			if _, err = tx.ExecContext(ctx, query, w.Collection, w.ID, payload); err != nil {
				return fmt.Errorf("batch append %s/%s: %w", w.Collection, w.ID, err)
			}
		case WriteUpsert:
			query := `
				INSERT INTO telemetry_records (collection, id, fields)
				VALUES ($1, $2, $3)
				ON CONFLICT (collection, id)
				DO UPDATE SET fields = telemetry_records.fields || EXCLUDED.fields,
				              updated_at = now()
			`
			if _, err = tx.ExecContext(ctx, query, w.Collection, w.ID, payload); err != nil {
				return fmt.Errorf("batch upsert %s/%s: %w", w.Collection, w.ID, err)
			}
		case WriteUpdate:
			query := `
				UPDATE telemetry_records
				SET fields = fields || $3::jsonb, updated_at = now()
				WHERE collection = $1 AND id = $2
			`
			result, execErr := tx.ExecContext(ctx, query, w.Collection, w.ID, payload)
			if execErr != nil {
				return fmt.Errorf("batch update %s/%s: %w", w.Collection, w.ID, execErr)
			}
			rows, raErr := result.RowsAffected()
			if raErr != nil {
				return fmt.Errorf("batch update %s/%s: %w", w.Collection, w.ID, raErr)
			}
			if rows == 0 {
				err = fmt.Errorf("batch update %s/%s: %w", w.Collection, w.ID, ErrRecordNotFound)
				return err
			}
		default:
			err = fmt.Errorf("unknown write op %q", w.Op)
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func decodeFields(payload []byte) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return fields, nil
}
