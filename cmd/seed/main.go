package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hackgods/telehealth-realtime/internal/db"
	"github.com/hackgods/telehealth-realtime/internal/event"
	"github.com/hackgods/telehealth-realtime/internal/participant"
	"github.com/hackgods/telehealth-realtime/internal/scheduler"
)

// discard satisfies scheduler.Publisher; nobody is connected while seeding.
type discard struct{}

func (discard) Publish(string, event.Event) int { return 0 }

var _ scheduler.Publisher = discard{}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	doctors := envInt("SEED_DOCTORS", 20)
	patients := envInt("SEED_PATIENTS", 500)
	sessions := envInt("SEED_SESSIONS", 200)

	gofakeit.Seed(time.Now().UnixNano())

	dir := participant.NewPgDirectory(pool)

	if err := seedDemoAccounts(context.Background(), pool, dir); err != nil {
		log.Fatalf("seed demo accounts: %v", err)
	}
	if err := seedParticipants(context.Background(), pool, dir, participant.RoleDoctor, doctors); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedParticipants(context.Background(), pool, dir, participant.RolePatient, patients); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSessions(context.Background(), pool, dir, doctors, patients, sessions); err != nil {
		log.Fatalf("seed sessions: %v", err)
	}

	log.Println("seed complete")
}

func seedDemoAccounts(ctx context.Context, pool *pgxpool.Pool, dir *participant.PgDirectory) error {
	demo := []participant.Participant{
		{ID: "p1", Username: "patient", Name: "John Doe", Role: participant.RolePatient},
		{ID: "p2", Username: "patient2", Name: "Alice Smith", Role: participant.RolePatient},
		{ID: "d1", Username: "doctor", Name: "Dr. Jane Wilson", Role: participant.RoleDoctor},
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, p := range demo {
		if err := dir.Insert(ctx, tx, p, "password"); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("demo accounts seeded")
	return nil
}

func seedParticipants(ctx context.Context, pool *pgxpool.Pool, dir *participant.PgDirectory, role participant.Role, count int) error {
	log.Printf("seeding %d %ss", count, role)

	// bcrypt dominates, keep transactions short
	const batchSize = 50

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			name := gofakeit.Name()
			if role == participant.RoleDoctor {
				name = "Dr. " + name
			}
			p := participant.Participant{
				ID:       seedID(role, i),
				Username: fmt.Sprintf("%s%d", gofakeit.Username(), i),
				Name:     name,
				Role:     role,
			}
			if err := dir.Insert(ctx, tx, p, "password"); err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("%ss seeded: %d/%d", role, end, count)
	}

	return nil
}

// seedSessions books random future slots through the scheduler so seeded
// calendars obey the same overlap rule as live bookings.
func seedSessions(ctx context.Context, pool *pgxpool.Pool, dir participant.Directory, doctors, patients, count int) error {
	if doctors == 0 || patients == 0 {
		return nil
	}
	log.Printf("seeding up to %d sessions", count)

	rule := scheduler.DefaultSlotRule()
	svc := scheduler.NewService(scheduler.NewPgStore(pool), scheduler.NewKeyedLocker(), discard{}, dir, rule, zap.NewNop())

	day := time.Now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	slotsPerDay := (rule.DayEnd - rule.DayStart) / rule.Minutes

	var booked, conflicts int
	for i := 0; i < count; i++ {
		start := day.
			AddDate(0, 0, gofakeit.Number(0, rule.DaysAhead-1)).
			Add(time.Duration(rule.DayStart+gofakeit.Number(0, slotsPerDay-1)*rule.Minutes) * time.Minute)

		typ := scheduler.TypeVideo
		if gofakeit.Bool() {
			typ = scheduler.TypeChat
		}

		_, err := svc.Schedule(ctx, scheduler.Session{
			DoctorID:    seedID(participant.RoleDoctor, gofakeit.Number(0, doctors-1)),
			PatientID:   seedID(participant.RolePatient, gofakeit.Number(0, patients-1)),
			ScheduledAt: start,
			Duration:    rule.Minutes,
			Type:        typ,
			Notes:       "Referred by " + gofakeit.Name(),
		})
		switch {
		case err == nil:
			booked++
		case errors.Is(err, scheduler.ErrSchedulingConflict):
			conflicts++
		default:
			return err
		}
	}

	log.Printf("sessions seeded: %d booked, %d skipped as conflicts", booked, conflicts)
	return nil
}

func seedID(role participant.Role, i int) string {
	if role == participant.RoleDoctor {
		return fmt.Sprintf("doc-%04d", i)
	}
	return fmt.Sprintf("pat-%05d", i)
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}
