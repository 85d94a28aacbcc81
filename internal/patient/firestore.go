package patient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection is the Firestore collection holding patient documents.
const DefaultCollection = "patients"

// Patient documents are read and written as plain maps. Older documents in
// the collection store dates as ISO strings, keep "None yet" in
// medical_history and carry fields this store does not know about. They must
// all load, and writes merge so unknown fields survive.
func toFirestore(rec *Record) map[string]any {
	history := make([]any, 0, len(rec.MedicalHistory))
	for _, e := range rec.MedicalHistory {
		history = append(history, map[string]any{
			"id":        e.ID.String(),
			"date":      e.Date,
			"diagnosis": e.Diagnosis,
			"rx":        e.Medicine,
		})
	}
	data := map[string]any{
		"phone":           rec.Phone,
		"medical_history": history,
		"created_at":      rec.CreatedAt,
		"updated_at":      rec.UpdatedAt,
	}
	for key, v := range map[string]string{
		"name":              rec.Name,
		"age":               rec.Age,
		"gender":            rec.Gender,
		"bot_state":         string(rec.State),
		"onboarding_status": rec.OnboardingStatus,
	} {
		if v != "" {
			data[key] = v
		}
	}
	if rec.LastVisitDate != nil {
		data["last_visit_date"] = *rec.LastVisitDate
	}
	return data
}

func fromFirestore(id string, data map[string]any) (*Record, error) {
	state, err := ParseConversationState(stringField(data["bot_state"]))
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", id, err)
	}
	rec := &Record{
		Phone:            stringField(data["phone"]),
		Name:             stringField(data["name"]),
		Age:              stringField(data["age"]),
		Gender:           stringField(data["gender"]),
		State:            state,
		OnboardingStatus: stringField(data["onboarding_status"]),
		MedicalHistory:   historyField(data["medical_history"]),
		CreatedAt:        timeField(data["created_at"]),
		UpdatedAt:        timeField(data["updated_at"]),
	}
	if rec.Phone == "" {
		rec.Phone = id
	}
	if t := timeField(data["last_visit_date"]); !t.IsZero() {
		rec.LastVisitDate = &t
	}
	return rec, nil
}

func stringField(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// timeField accepts Firestore timestamps and ISO-8601 strings. Anything else
// is the zero time.
func timeField(v any) time.Time {
	switch v := v.(type) {
	case time.Time:
		return v.UTC()
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// historyField reads an encounter array. A string placeholder such as
// "None yet" means no encounters.
func historyField(v any) []Encounter {
	items, ok := v.([]any)
	if !ok {
		return []Encounter{}
	}
	history := make([]Encounter, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		// Entries written before IDs existed keep a nil ID.
		id, _ := uuid.Parse(stringField(m["id"]))
		history = append(history, Encounter{
			ID:        id,
			Date:      timeField(m["date"]),
			Diagnosis: stringField(m["diagnosis"]),
			Medicine:  stringField(m["rx"]),
		})
	}
	return history
}

type firestoreRepo struct {
	client     *firestore.Client
	collection string
}

// OpenFirestore connects to Firestore. With an empty credentialsFile the
// client falls back to application default credentials.
func OpenFirestore(ctx context.Context, projectID, credentialsFile string) (*firestore.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to firestore: %w", err)
	}
	return client, nil
}

// NewFirestoreRepository keeps one document per patient, with the phone
// number as document ID.
func NewFirestoreRepository(client *firestore.Client, collection string) Repository {
	if collection == "" {
		collection = DefaultCollection
	}
	return &firestoreRepo{client: client, collection: collection}
}

func (r *firestoreRepo) doc(phone string) *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(phone)
}

func (r *firestoreRepo) Get(ctx context.Context, phone string) (*Record, error) {
	snap, err := r.doc(phone).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fromFirestore(snap.Ref.ID, snap.Data())
}

func (r *firestoreRepo) Create(ctx context.Context, rec *Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	stampTimes(rec)
	if _, err := r.doc(rec.Phone).Create(ctx, toFirestore(rec)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			existing, getErr := r.Get(ctx, rec.Phone)
			if getErr != nil {
				return nil, getErr
			}
			return existing, ErrAlreadyExists
		}
		return nil, err
	}
	return rec.Clone(), nil
}

// Update runs fn inside a Firestore transaction. Firestore retries the
// transaction on contention, which re-runs fn against the fresh document.
func (r *firestoreRepo) Update(ctx context.Context, phone string, fn UpdateFunc) (*Record, error) {
	ref := r.doc(phone)
	var result *Record

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var current *Record
		snap, err := tx.Get(ref)
		switch {
		case err == nil:
			if current, err = fromFirestore(snap.Ref.ID, snap.Data()); err != nil {
				return err
			}
		case status.Code(err) == codes.NotFound:
		default:
			return err
		}

		next, err := fn(current.Clone())
		if err != nil {
			return err
		}
		if next == nil {
			result = current
			return nil
		}
		next.Phone = phone
		if err := checkWrite(current, next); err != nil {
			return err
		}
		stampTimes(next)
		result = next
		return tx.Set(ref, toFirestore(next), firestore.MergeAll)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
