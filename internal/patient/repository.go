package patient

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotFound      = errors.New("patient not found")
	ErrAlreadyExists = errors.New("patient already exists")
	// ErrInvalidRecord marks writes or stored data that break record
	// invariants.
	ErrInvalidRecord = errors.New("invalid patient record")
)

// UpdateFunc computes the next version of a record from the current one.
// current is nil when no record exists. Returning a nil record skips the
// write. UpdateFunc must not retain or mutate current: stores with
// optimistic transactions may call it more than once.
type UpdateFunc func(current *Record) (*Record, error)

// Repository is the patient record store. Update is an atomic
// read-modify-write on a single phone number.
type Repository interface {
	Get(ctx context.Context, phone string) (*Record, error)
	Create(ctx context.Context, rec *Record) (*Record, error)
	Update(ctx context.Context, phone string, fn UpdateFunc) (*Record, error)
}

type memoryRepo struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryRepository returns a process-local Repository. Records are lost
// on restart.
func NewMemoryRepository() Repository {
	return &memoryRepo{records: make(map[string]*Record)}
}

func (r *memoryRepo) Get(ctx context.Context, phone string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[phone]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *memoryRepo) Create(ctx context.Context, rec *Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[rec.Phone]; ok {
		return existing.Clone(), ErrAlreadyExists
	}
	r.records[rec.Phone] = rec.Clone()
	return rec.Clone(), nil
}

func (r *memoryRepo) Update(ctx context.Context, phone string, fn UpdateFunc) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.records[phone]
	next, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		return current.Clone(), nil
	}
	next.Phone = phone
	if err := checkWrite(current, next); err != nil {
		return nil, err
	}
	r.records[phone] = next.Clone()
	return next.Clone(), nil
}

// checkWrite enforces the invariants every store applies before persisting
// next over current: a valid record, no state regression and no shrinking
// history.
func checkWrite(current, next *Record) error {
	if err := next.Validate(); err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if next.State.Before(current.State) {
		return fmt.Errorf("%w: conversation state of %s cannot move from %s back to %s", ErrInvalidRecord, next.Phone, current.State, next.State)
	}
	if len(next.MedicalHistory) < len(current.MedicalHistory) {
		return fmt.Errorf("%w: refusing to shrink medical history of %s", ErrInvalidRecord, next.Phone)
	}
	return nil
}
