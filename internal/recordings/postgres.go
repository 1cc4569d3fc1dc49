package recordings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxnote/backend/internal/models"
)

// PostgresRepository stores recordings in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a recordings repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts rec under its ID.
func (r *PostgresRepository) Create(ctx context.Context, rec *models.Recording) error {
	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("invalid recording id %q: %w", rec.ID, err)
	}
	utterances, err := encodeList(rec.Utterances)
	if err != nil {
		return fmt.Errorf("encode utterances: %w", err)
	}
	words, err := encodeList(rec.Words)
	if err != nil {
		return fmt.Errorf("encode words: %w", err)
	}
	const q = `INSERT INTO recordings (id, name, audio_url, audio_key, content_type, file_size, duration_seconds, transcript,
		transcript_status, transcript_error, transcript_strategy, utterances, words, embedding, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13::jsonb, $14, $15, NOW())
		RETURNING updated_at`
	err = r.pool.QueryRow(ctx, q, id, rec.Name, rec.AudioURL, rec.AudioKey, rec.ContentType, rec.FileSize,
		rec.DurationSeconds, rec.Transcript, rec.TranscriptStatus, rec.TranscriptError, rec.TranscriptStrategy,
		utterances, words, rec.Embedding, rec.CreatedAt).
		Scan(&rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	return nil
}

// GetByID returns a recording by ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Recording, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, models.ErrRecordingNotFound
	}
	q := `SELECT ` + selectColumns + ` FROM recordings WHERE id = $1`
	rec, err := scanPostgres(r.pool.QueryRow(ctx, q, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrRecordingNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every recording, newest first.
func (r *PostgresRepository) List(ctx context.Context) ([]models.Recording, error) {
	q := `SELECT ` + selectColumns + ` FROM recordings ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()
	list := []models.Recording{}
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// Update applies the set fields of patch.
func (r *PostgresRepository) Update(ctx context.Context, id string, patch models.RecordingPatch) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return models.ErrRecordingNotFound
	}
	sets, err := patchAssignments(patch)
	if err != nil {
		return err
	}
	clauses := make([]string, 0, len(sets)+1)
	args := make([]any, 0, len(sets)+1)
	for i, a := range sets {
		placeholder := fmt.Sprintf("$%d", i+1)
		if a.json {
			placeholder += "::jsonb"
		}
		clauses = append(clauses, a.column+" = "+placeholder)
		args = append(args, a.value)
	}
	clauses = append(clauses, "updated_at = NOW()")
	args = append(args, uid)
	q := fmt.Sprintf(`UPDATE recordings SET %s WHERE id = $%d`, strings.Join(clauses, ", "), len(args))
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrRecordingNotFound
	}
	return nil
}

// Delete removes a recording row.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return models.ErrRecordingNotFound
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM recordings WHERE id = $1`, uid)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrRecordingNotFound
	}
	return nil
}

func scanPostgres(row pgx.Row) (*models.Recording, error) {
	var (
		rec        models.Recording
		id         uuid.UUID
		utterances []byte
		words      []byte
	)
	err := row.Scan(&id, &rec.Name, &rec.AudioURL, &rec.AudioKey, &rec.ContentType, &rec.FileSize,
		&rec.DurationSeconds, &rec.Transcript, &rec.TranscriptStatus, &rec.TranscriptError,
		&rec.TranscriptStrategy, &utterances, &words, &rec.Embedding, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.ID = id.String()
	if err := decodeTimings(&rec, utterances, words); err != nil {
		return nil, err
	}
	return &rec, nil
}
