package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const sessionColumns = `id, doctor_id, patient_id, doctor_name, patient_name, scheduled_at, duration_minutes, status, type, notes`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var notes *string

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.PatientID,
		&s.DoctorName,
		&s.PatientName,
		&s.ScheduledAt,
		&s.Duration,
		&s.Status,
		&s.Type,
		&notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if notes != nil {
		s.Notes = *notes
	}
	s.ScheduledAt = s.ScheduledAt.UTC()
	return &s, nil
}

func (p *PgStore) Get(ctx context.Context, id string) (*Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

func (p *PgStore) ListByDoctor(ctx context.Context, doctorID string) ([]Session, error) {
	return p.query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE doctor_id = $1
		ORDER BY scheduled_at, id
	`, doctorID)
}

func (p *PgStore) List(ctx context.Context) ([]Session, error) {
	return p.query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		ORDER BY scheduled_at, id
	`)
}

func (p *PgStore) query(ctx context.Context, sql string, args ...any) ([]Session, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var result []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (p *PgStore) Save(ctx context.Context, s Session) error {
	var notes *string
	if s.Notes != "" {
		notes = &s.Notes
	}

	_, err := p.pool.Exec(ctx, `
		INSERT INTO sessions (`+sessionColumns+`, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET doctor_id = EXCLUDED.doctor_id,
		    patient_id = EXCLUDED.patient_id,
		    doctor_name = EXCLUDED.doctor_name,
		    patient_name = EXCLUDED.patient_name,
		    scheduled_at = EXCLUDED.scheduled_at,
		    duration_minutes = EXCLUDED.duration_minutes,
		    status = EXCLUDED.status,
		    type = EXCLUDED.type,
		    notes = EXCLUDED.notes,
		    updated_at = now()
	`, s.ID, s.DoctorID, s.PatientID, s.DoctorName, s.PatientName, s.ScheduledAt, s.Duration, s.Status, s.Type, notes)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
