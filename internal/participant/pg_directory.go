package participant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func scanAccount(row pgx.Row) (*account, error) {
	var a account
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.Name,
		&a.Role,
		&a.hash,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidParticipant
		}
		return nil, err
	}
	return &a, nil
}

func (d *PgDirectory) Lookup(ctx context.Context, id string) (Participant, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, username, name, role, password_hash
		FROM participants
		WHERE id = $1
	`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, ErrInvalidParticipant) {
			return Participant{}, err
		}
		return Participant{}, fmt.Errorf("lookup participant: %w", err)
	}
	return a.Participant, nil
}

func (d *PgDirectory) Authenticate(ctx context.Context, username, password string, role Role) (Participant, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, username, name, role, password_hash
		FROM participants
		WHERE username = $1 AND role = $2
	`, username, role)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, ErrInvalidParticipant) {
			return Participant{}, ErrInvalidCredentials
		}
		return Participant{}, fmt.Errorf("authenticate participant: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword(a.hash, []byte(password)); err != nil {
		return Participant{}, ErrInvalidCredentials
	}
	return a.Participant, nil
}

// Insert upserts a participant. Used by the seed command.
func (d *PgDirectory) Insert(ctx context.Context, tx pgx.Tx, p Participant, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO participants (id, username, name, role, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			password_hash = EXCLUDED.password_hash
	`, p.ID, p.Username, p.Name, p.Role, hash)
	if err != nil {
		return fmt.Errorf("insert participant %s: %w", p.ID, err)
	}
	return nil
}
