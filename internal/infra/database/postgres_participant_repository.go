package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"study_engagement_bot/internal/domain/participant"

	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

// PostgresParticipantRepository stores each participant as one JSONB document
// row, mirroring the document-per-key layout the study data lives in. Update
// serializes concurrent writers for the same chat ID with SELECT ... FOR
// UPDATE, so the read-modify-write of the engagement ledger is atomic.
type PostgresParticipantRepository struct {
	db *sql.DB
}

func NewPostgresParticipantRepository(db *sql.DB) *PostgresParticipantRepository {
	return &PostgresParticipantRepository{db: db}
}

func (r *PostgresParticipantRepository) Create(ctx context.Context, rec *participant.Record) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("error marshaling participant %s: %w", rec.ChatID, err)
	}

	query := `INSERT INTO participants (chat_id, doc) VALUES ($1, $2)`
	if _, err := r.db.ExecContext(ctx, query, rec.ChatID, doc); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return participant.ErrDuplicate
		}
		return fmt.Errorf("error creating participant: %w", err)
	}
	return nil
}

func (r *PostgresParticipantRepository) GetByID(ctx context.Context, chatID string) (*participant.Record, error) {
	query := `SELECT doc FROM participants WHERE chat_id = $1`
	var doc []byte
	err := r.db.QueryRowContext(ctx, query, chatID).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, participant.ErrNotFound
		}
		return nil, fmt.Errorf("error getting participant by chat ID: %w", err)
	}
	return unmarshalRecord(doc)
}

func (r *PostgresParticipantRepository) Update(ctx context.Context, chatID string, mutate func(*participant.Record) error) (*participant.Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error beginning participant update: %w", err)
	}
	defer tx.Rollback()

	// Row lock held until commit: concurrent updates for this chat ID queue up
	// behind it instead of racing.
	var doc []byte
	err = tx.QueryRowContext(ctx, `SELECT doc FROM participants WHERE chat_id = $1 FOR UPDATE`, chatID).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, participant.ErrNotFound
		}
		return nil, fmt.Errorf("error locking participant row: %w", err)
	}

	rec, err := unmarshalRecord(doc)
	if err != nil {
		return nil, err
	}

	if err := mutate(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Now()

	updated, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("error marshaling participant %s: %w", chatID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE participants SET doc = $1, updated_at = NOW() WHERE chat_id = $2`, updated, chatID); err != nil {
		return nil, fmt.Errorf("error writing participant %s: %w", chatID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing participant update: %w", err)
	}
	return rec, nil
}

func (r *PostgresParticipantRepository) ListEnabled(ctx context.Context) ([]*participant.Record, error) {
	query := `SELECT doc FROM participants WHERE (doc->>'notifications_enabled')::boolean = TRUE ORDER BY chat_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing enabled participants: %w", err)
	}
	defer rows.Close()

	recs := make([]*participant.Record, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("error scanning participant: %w", err)
		}
		rec, err := unmarshalRecord(doc)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participants: %w", err)
	}
	return recs, nil
}

func unmarshalRecord(doc []byte) (*participant.Record, error) {
	rec := &participant.Record{}
	if err := json.Unmarshal(doc, rec); err != nil {
		return nil, fmt.Errorf("error unmarshaling participant document: %w", err)
	}
	return rec, nil
}
