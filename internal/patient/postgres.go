package patient

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"saathimed/migrations"
)

type postgresRepo struct {
	db *sql.DB
}

// NewPostgresRepository stores one row per patient, with the encounter log
// kept as a JSONB array.
func NewPostgresRepository(db *sql.DB) Repository {
	return &postgresRepo{db: db}
}

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to init migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration init failed: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

const selectPatient = `
	SELECT phone, name, age, gender, bot_state, onboarding_status,
	       medical_history, last_visit_date, created_at, updated_at
	FROM patients WHERE phone = $1`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec         Record
		state       string
		historyJSON []byte
		lastVisit   sql.NullTime
	)
	err := row.Scan(
		&rec.Phone,
		&rec.Name,
		&rec.Age,
		&rec.Gender,
		&state,
		&rec.OnboardingStatus,
		&historyJSON,
		&lastVisit,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if rec.State, err = ParseConversationState(state); err != nil {
		return nil, err
	}
	rec.MedicalHistory = []Encounter{}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &rec.MedicalHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
	}
	if lastVisit.Valid {
		t := lastVisit.Time
		rec.LastVisitDate = &t
	}
	return &rec, nil
}

func (r *postgresRepo) Get(ctx context.Context, phone string) (*Record, error) {
	return scanRecord(r.db.QueryRowContext(ctx, selectPatient, phone))
}

func (r *postgresRepo) Create(ctx context.Context, rec *Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	historyJSON, err := json.Marshal(historyOrEmpty(rec.MedicalHistory))
	if err != nil {
		return nil, err
	}
	stampTimes(rec)

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO patients (phone, name, age, gender, bot_state, onboarding_status,
		                      medical_history, last_visit_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (phone) DO NOTHING`,
		rec.Phone, rec.Name, rec.Age, rec.Gender, string(rec.State), rec.OnboardingStatus,
		string(historyJSON), rec.LastVisitDate, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		existing, err := r.Get(ctx, rec.Phone)
		if err != nil {
			return nil, err
		}
		return existing, ErrAlreadyExists
	}
	return rec.Clone(), nil
}

// Update serialises writers per phone with a transaction-scoped advisory
// lock. Row locks alone would not cover the case where the row is absent.
func (r *postgresRepo) Update(ctx context.Context, phone string, fn UpdateFunc) (*Record, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, phone); err != nil {
		return nil, fmt.Errorf("failed to lock patient: %w", err)
	}

	current, err := scanRecord(tx.QueryRowContext(ctx, selectPatient+" FOR UPDATE", phone))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current, tx.Commit()
	}
	next.Phone = phone
	if err := checkWrite(current, next); err != nil {
		return nil, err
	}
	if err := upsert(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func upsert(ctx context.Context, tx *sql.Tx, rec *Record) error {
	historyJSON, err := json.Marshal(historyOrEmpty(rec.MedicalHistory))
	if err != nil {
		return err
	}
	stampTimes(rec)

	// The WHERE clause refuses any write that would shorten the history.
	res, err := tx.ExecContext(ctx, `
		INSERT INTO patients (phone, name, age, gender, bot_state, onboarding_status,
		                      medical_history, last_visit_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (phone) DO UPDATE SET
			name = EXCLUDED.name,
			age = EXCLUDED.age,
			gender = EXCLUDED.gender,
			bot_state = EXCLUDED.bot_state,
			onboarding_status = EXCLUDED.onboarding_status,
			medical_history = EXCLUDED.medical_history,
			last_visit_date = EXCLUDED.last_visit_date,
			updated_at = EXCLUDED.updated_at
		WHERE jsonb_array_length(EXCLUDED.medical_history) >= jsonb_array_length(patients.medical_history)`,
		rec.Phone, rec.Name, rec.Age, rec.Gender, string(rec.State), rec.OnboardingStatus,
		string(historyJSON), rec.LastVisitDate, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: refusing to shrink medical history of %s", ErrInvalidRecord, rec.Phone)
	}
	return nil
}

func stampTimes(rec *Record) {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = now
	}
}

func historyOrEmpty(h []Encounter) []Encounter {
	if h == nil {
		return []Encounter{}
	}
	return h
}
