package account

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTempStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "accounts.db")
	store, err := OpenSQLite(context.Background(), path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func countRows(t *testing.T, store *SQLiteStore, table string) int64 {
	t.Helper()
	var n int64
	if err := store.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func testIdentity(username string) Identity {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return Identity{
		Username:       username,
		CredentialHash: "$2a$10$abcdefghijklmnopqrstuuu5XJ6dV6gJ3N0f1vMfEJmQH7S1l7pG2",
		Email:          username + "@example.com",
		FirstName:      "Test",
		LastName:       "User",
		Role:           RoleTeacher,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	if _, err := OpenSQLite(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSQLiteIdentityRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	created, err := store.InsertIdentity(ctx, testIdentity("teacher1"))
	if err != nil {
		t.Fatalf("insert identity: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected generated id")
	}

	got, err := store.IdentityByUsername(ctx, "teacher1", true)
	if err != nil {
		t.Fatalf("identity by username: %v", err)
	}
	if got.ID != created.ID || got.Email != "teacher1@example.com" || got.Role != RoleTeacher || !got.Active {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("expected created_at %v, got %v", created.CreatedAt, got.CreatedAt)
	}

	if _, err := store.IdentityByUsername(ctx, "Teacher1", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected case-sensitive lookup to miss, got %v", err)
	}
}

func TestSQLiteDuplicateUsernameIsConstraintViolation(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.InsertIdentity(ctx, testIdentity("dup")); err != nil {
		t.Fatalf("insert identity: %v", err)
	}
	second := testIdentity("dup")
	second.Email = "other@example.com"
	if _, err := store.InsertIdentity(ctx, second); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestSQLiteEmptyEmailsDoNotCollide(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	for _, username := range []string{"a", "b"} {
		identity := testIdentity(username)
		identity.Email = ""
		if _, err := store.InsertIdentity(ctx, identity); err != nil {
			t.Fatalf("insert %s: %v", username, err)
		}
	}
	n, err := store.CountIdentitiesByEmail(ctx, "")
	if err != nil {
		t.Fatalf("count by email: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected blank email to match nothing, got %d", n)
	}
}

func TestSQLiteInTxRollsBackOnError(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(q Queries) error {
		if _, err := q.InsertIdentity(ctx, testIdentity("ghost")); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if n := countRows(t, store, "identities"); n != 0 {
		t.Fatalf("expected rollback, found %d identities", n)
	}
}

func TestSQLiteInTxRollsBackOnPanic(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = store.InTx(ctx, func(q Queries) error {
			if _, err := q.InsertIdentity(ctx, testIdentity("ghost")); err != nil {
				return err
			}
			panic("mid-transaction")
		})
	}()

	if n := countRows(t, store, "identities"); n != 0 {
		t.Fatalf("expected rollback after panic, found %d identities", n)
	}
	// The connection must be usable again.
	if _, err := store.InsertIdentity(ctx, testIdentity("after")); err != nil {
		t.Fatalf("insert after panic: %v", err)
	}
}

func TestSQLiteStudentForeignKey(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	_, err := store.InsertStudent(ctx, Student{
		IdentityID:     999,
		StudentNumber:  "S-404",
		EnrollmentDate: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		Active:         true,
	})
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected foreign key violation, got %v", err)
	}
}

func TestSQLiteStudentDatesRoundTrip(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	owner, err := store.InsertIdentity(ctx, testIdentity("stu"))
	if err != nil {
		t.Fatalf("insert identity: %v", err)
	}
	dob := time.Date(2010, 6, 15, 0, 0, 0, 0, time.UTC)
	created, err := store.InsertStudent(ctx, Student{
		IdentityID:     owner.ID,
		StudentNumber:  "S-100",
		DateOfBirth:    &dob,
		Gender:         GenderFemale,
		EnrollmentDate: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		Active:         true,
		CreatedAt:      owner.CreatedAt,
		UpdatedAt:      owner.UpdatedAt,
	})
	if err != nil {
		t.Fatalf("insert student: %v", err)
	}

	got, err := store.StudentByNumber(ctx, "S-100")
	if err != nil {
		t.Fatalf("student by number: %v", err)
	}
	if got.ID != created.ID || got.IdentityID != owner.ID || got.Username != "stu" {
		t.Fatalf("unexpected student: %+v", got)
	}
	if got.DateOfBirth == nil || !got.DateOfBirth.Equal(dob) {
		t.Fatalf("expected date of birth %v, got %v", dob, got.DateOfBirth)
	}
	if got.GraduationDate != nil {
		t.Fatalf("expected no graduation date, got %v", got.GraduationDate)
	}
	if got.Gender != GenderFemale {
		t.Fatalf("expected gender FEMALE, got %q", got.Gender)
	}
}

func TestSQLiteUpdateMissingRowIsNotFound(t *testing.T) {
	store := openTempStore(t)
	err := store.UpdateCredentialHash(context.Background(), 42, "$2a$10$x", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
