package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestClassifyPostgres(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		want       error
		constraint string
	}{
		{"no rows", pgx.ErrNoRows, ErrNotFound, ""},
		{"wrapped no rows", fmt.Errorf("scan identity: %w", pgx.ErrNoRows), ErrNotFound, ""},
		{"unique violation", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "identities_username_key"}, ErrConstraintViolation, "identities_username_key"},
		{"foreign key violation", &pgconn.PgError{Code: pgForeignKeyViolation, ConstraintName: "students_identity_id_fkey"}, ErrConstraintViolation, "students_identity_id_fkey"},
		{"check violation", &pgconn.PgError{Code: pgCheckViolation, ConstraintName: "identities_role_check"}, ErrConstraintViolation, "identities_role_check"},
		{"wrapped unique violation", fmt.Errorf("insert student: %w", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "students_student_number_key"}), ErrConstraintViolation, "students_student_number_key"},
		{"other server error", &pgconn.PgError{Code: "53300", Message: "too many connections"}, ErrStoreUnavailable, ""},
		{"transport failure", context.DeadlineExceeded, ErrStoreUnavailable, ""},
	}
	for _, tc := range cases {
		got := classifyPostgres(tc.err)
		if !errors.Is(got, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
		if tc.constraint != "" && !strings.Contains(got.Error(), tc.constraint) {
			t.Fatalf("%s: expected constraint name in %q", tc.name, got)
		}
		if tc.want == ErrStoreUnavailable && !errors.Is(got, tc.err) {
			t.Fatalf("%s: expected cause to stay matchable, got %v", tc.name, got)
		}
	}
}

func TestAffectedOne(t *testing.T) {
	if err := affectedOne(pgconn.NewCommandTag("UPDATE 1"), nil); err != nil {
		t.Fatalf("expected nil for one affected row, got %v", err)
	}
	if err := affectedOne(pgconn.NewCommandTag("UPDATE 0"), nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for zero rows, got %v", err)
	}
	dup := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "identities_email_key"}
	if err := affectedOne(pgconn.CommandTag{}, dup); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected ErrConstraintViolation, got %v", err)
	}
}
