package participant

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

var (
	ErrInvalidParticipant = errors.New("unknown participant")
	ErrInvalidCredentials = errors.New("invalid username, password or role")
)

// Participant is the identity a connection is bound to. The core only keeps
// copies of it; the directory owns the record.
type Participant struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// Directory is the credential-check collaborator.
type Directory interface {
	Lookup(ctx context.Context, id string) (Participant, error)
	Authenticate(ctx context.Context, username, password string, role Role) (Participant, error)
}

type account struct {
	Participant
	hash []byte
}

// MemoryDirectory keeps accounts in process memory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	byID     map[string]account
	byHandle map[string]string
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:     make(map[string]account),
		byHandle: make(map[string]string),
	}
}

// NewDemoDirectory returns the three demo accounts the web client ships with.
func NewDemoDirectory() (*MemoryDirectory, error) {
	d := NewMemoryDirectory()
	demo := []Participant{
		{ID: "p1", Username: "patient", Name: "John Doe", Role: RolePatient},
		{ID: "p2", Username: "patient2", Name: "Alice Smith", Role: RolePatient},
		{ID: "d1", Username: "doctor", Name: "Dr. Jane Wilson", Role: RoleDoctor},
	}
	for _, p := range demo {
		if err := d.Add(p, "password"); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add stores p with a bcrypt hash of password.
func (d *MemoryDirectory) Add(p Participant, password string) error {
	if p.ID == "" || !p.Role.Valid() {
		return fmt.Errorf("add participant %q: %w", p.ID, ErrInvalidParticipant)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.byID[p.ID] = account{Participant: p, hash: hash}
	if p.Username != "" {
		d.byHandle[p.Username] = p.ID
	}
	return nil
}

func (d *MemoryDirectory) Lookup(_ context.Context, id string) (Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.byID[id]
	if !ok {
		return Participant{}, ErrInvalidParticipant
	}
	return acc.Participant, nil
}

func (d *MemoryDirectory) Authenticate(_ context.Context, username, password string, role Role) (Participant, error) {
	d.mu.RLock()
	acc, ok := d.byID[d.byHandle[username]]
	d.mu.RUnlock()
	if !ok || acc.Role != role {
		return Participant{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return Participant{}, ErrInvalidCredentials
	}
	return acc.Participant, nil
}
