package account

import (
	"context"
	"time"
)

// Queries is the set of single-statement operations the service runs against
// the relational store. Lookups that match no row return ErrNotFound; unique
// and foreign key violations return ErrConstraintViolation; any other store
// failure returns ErrStoreUnavailable.
type Queries interface {
	InsertIdentity(ctx context.Context, identity Identity) (Identity, error)
	IdentityByID(ctx context.Context, id int64) (Identity, error)
	IdentityByUsername(ctx context.Context, username string, activeOnly bool) (Identity, error)
	UpdateCredentialHash(ctx context.Context, id int64, hash string, at time.Time) error
	UpdateIdentityContact(ctx context.Context, id int64, email, firstName, lastName string, at time.Time) error
	SetIdentityActive(ctx context.Context, id int64, active bool, at time.Time) error
	CountIdentitiesByUsername(ctx context.Context, username string) (int64, error)
	CountIdentitiesByEmail(ctx context.Context, email string) (int64, error)

	InsertStudent(ctx context.Context, student Student) (Student, error)
	StudentByID(ctx context.Context, id int64) (Student, error)
	StudentByNumber(ctx context.Context, number string) (Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	UpdateStudent(ctx context.Context, student Student, at time.Time) error
	SetStudentActive(ctx context.Context, id int64, active bool, at time.Time) error
	CountStudents(ctx context.Context, enrolledSince *time.Time) (int64, error)
}

// Store is a pooled relational store. Every Queries call acquires a
// connection for its own duration. InTx runs fn on one connection inside a
// transaction that commits when fn returns nil and rolls back otherwise,
// including when fn panics.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
	EnsureSchema(ctx context.Context) error
	Ping(ctx context.Context) error
}

type rowScanner interface {
	Scan(dest ...any) error
}

const dateLayout = "2006-01-02"

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
