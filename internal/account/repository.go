package account

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema/postgres.sql
var postgresSchema string

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

const pgStudentColumns = `s.id, s.identity_id, s.student_number, s.date_of_birth, s.gender, s.address,
        s.phone_number, s.parent_contact, s.enrollment_date, s.graduation_date, s.active,
        s.created_at, s.updated_at, i.username, i.email, i.first_name, i.last_name
        FROM students s INNER JOIN identities i ON i.id = s.identity_id`

const pgIdentityColumns = `id, username, credential_hash, email, first_name, last_name, role, active, created_at, updated_at`

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	pgQueries
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed account store. The caller owns
// the pool and closes it.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pgQueries: pgQueries{db: db}, db: db}
}

// EnsureSchema creates the identities and students tables when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Ping checks that a pooled connection can reach the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return classifyPostgres(err)
	}
	return nil
}

// InTx runs fn inside a single transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classifyPostgres(err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(pgQueries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyPostgres(err)
	}
	return nil
}

type pgQueries struct {
	db pgQuerier
}

// InsertIdentity inserts an identity and returns it with its generated id.
func (q pgQueries) InsertIdentity(ctx context.Context, identity Identity) (Identity, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO identities (username, credential_hash, email, first_name, last_name, role, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		identity.Username, identity.CredentialHash, nullIfEmpty(identity.Email), identity.FirstName, identity.LastName,
		string(identity.Role), identity.Active, identity.CreatedAt.UTC(), identity.UpdatedAt.UTC())
	if err := row.Scan(&identity.ID); err != nil {
		return Identity{}, classifyPostgres(err)
	}
	return identity, nil
}

// IdentityByID fetches an identity regardless of its active flag.
func (q pgQueries) IdentityByID(ctx context.Context, id int64) (Identity, error) {
	row := q.db.QueryRow(ctx, `SELECT `+pgIdentityColumns+` FROM identities WHERE id = $1`, id)
	return scanPostgresIdentity(row)
}

// IdentityByUsername fetches an identity by exact username.
func (q pgQueries) IdentityByUsername(ctx context.Context, username string, activeOnly bool) (Identity, error) {
	query := `SELECT ` + pgIdentityColumns + ` FROM identities WHERE username = $1`
	if activeOnly {
		query += ` AND active = TRUE`
	}
	return scanPostgresIdentity(q.db.QueryRow(ctx, query, username))
}

// UpdateCredentialHash overwrites the stored hash of one identity.
func (q pgQueries) UpdateCredentialHash(ctx context.Context, id int64, hash string, at time.Time) error {
	cmd, err := q.db.Exec(ctx, `UPDATE identities SET credential_hash = $1, updated_at = $2 WHERE id = $3`, hash, at.UTC(), id)
	return affectedOne(cmd, err)
}

// UpdateIdentityContact updates the email and name of one identity.
func (q pgQueries) UpdateIdentityContact(ctx context.Context, id int64, email, firstName, lastName string, at time.Time) error {
	cmd, err := q.db.Exec(ctx, `UPDATE identities SET email = $1, first_name = $2, last_name = $3, updated_at = $4 WHERE id = $5`,
		nullIfEmpty(email), firstName, lastName, at.UTC(), id)
	return affectedOne(cmd, err)
}

// SetIdentityActive flips the soft-delete flag of one identity.
func (q pgQueries) SetIdentityActive(ctx context.Context, id int64, active bool, at time.Time) error {
	cmd, err := q.db.Exec(ctx, `UPDATE identities SET active = $1, updated_at = $2 WHERE id = $3`, active, at.UTC(), id)
	return affectedOne(cmd, err)
}

// CountIdentitiesByUsername counts identities holding username.
func (q pgQueries) CountIdentitiesByUsername(ctx context.Context, username string) (int64, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM identities WHERE username = $1`, username)
}

// CountIdentitiesByEmail counts identities holding email.
func (q pgQueries) CountIdentitiesByEmail(ctx context.Context, email string) (int64, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM identities WHERE email = $1`, email)
}

// InsertStudent inserts a student profile and returns it with its generated id.
func (q pgQueries) InsertStudent(ctx context.Context, student Student) (Student, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO students (identity_id, student_number, date_of_birth, gender, address,
        phone_number, parent_contact, enrollment_date, graduation_date, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		student.IdentityID, student.StudentNumber, student.DateOfBirth, nullIfEmpty(string(student.Gender)), student.Address,
		student.PhoneNumber, student.ParentContact, student.EnrollmentDate, student.GraduationDate, student.Active,
		student.CreatedAt.UTC(), student.UpdatedAt.UTC())
	if err := row.Scan(&student.ID); err != nil {
		return Student{}, classifyPostgres(err)
	}
	return student, nil
}

// StudentByID fetches an active student by id.
func (q pgQueries) StudentByID(ctx context.Context, id int64) (Student, error) {
	row := q.db.QueryRow(ctx, `SELECT `+pgStudentColumns+` WHERE s.id = $1 AND s.active = TRUE`, id)
	return scanPostgresStudent(row)
}

// StudentByNumber fetches an active student by student number.
func (q pgQueries) StudentByNumber(ctx context.Context, number string) (Student, error) {
	row := q.db.QueryRow(ctx, `SELECT `+pgStudentColumns+` WHERE s.student_number = $1 AND s.active = TRUE`, number)
	return scanPostgresStudent(row)
}

// ListStudents returns all active students, newest first.
func (q pgQueries) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := q.db.Query(ctx, `SELECT `+pgStudentColumns+` WHERE s.active = TRUE ORDER BY s.id DESC`)
	if err != nil {
		return nil, classifyPostgres(err)
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		student, err := scanPostgresStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, student)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgres(err)
	}
	return students, nil
}

// UpdateStudent overwrites the profile fields of one student row.
func (q pgQueries) UpdateStudent(ctx context.Context, student Student, at time.Time) error {
	cmd, err := q.db.Exec(ctx, `UPDATE students SET student_number = $1, date_of_birth = $2, gender = $3, address = $4,
        phone_number = $5, parent_contact = $6, graduation_date = $7, updated_at = $8 WHERE id = $9`,
		student.StudentNumber, student.DateOfBirth, nullIfEmpty(string(student.Gender)), student.Address,
		student.PhoneNumber, student.ParentContact, student.GraduationDate, at.UTC(), student.ID)
	return affectedOne(cmd, err)
}

// SetStudentActive flips the soft-delete flag of one student row.
func (q pgQueries) SetStudentActive(ctx context.Context, id int64, active bool, at time.Time) error {
	cmd, err := q.db.Exec(ctx, `UPDATE students SET active = $1, updated_at = $2 WHERE id = $3`, active, at.UTC(), id)
	return affectedOne(cmd, err)
}

// CountStudents counts active students, optionally only those enrolled on or
// after enrolledSince.
func (q pgQueries) CountStudents(ctx context.Context, enrolledSince *time.Time) (int64, error) {
	if enrolledSince == nil {
		return q.count(ctx, `SELECT COUNT(*) FROM students WHERE active = TRUE`)
	}
	return q.count(ctx, `SELECT COUNT(*) FROM students WHERE active = TRUE AND enrollment_date >= $1`, truncateDate(*enrolledSince))
}

func (q pgQueries) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := q.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, classifyPostgres(err)
	}
	return n, nil
}

func scanPostgresIdentity(row rowScanner) (Identity, error) {
	var (
		identity Identity
		email    *string
		role     string
	)
	if err := row.Scan(&identity.ID, &identity.Username, &identity.CredentialHash, &email, &identity.FirstName,
		&identity.LastName, &role, &identity.Active, &identity.CreatedAt, &identity.UpdatedAt); err != nil {
		return Identity{}, classifyPostgres(err)
	}
	identity.Email = derefString(email)
	identity.Role = Role(role)
	identity.CreatedAt = identity.CreatedAt.UTC()
	identity.UpdatedAt = identity.UpdatedAt.UTC()
	return identity, nil
}

func scanPostgresStudent(row rowScanner) (Student, error) {
	var (
		student Student
		gender  *string
		email   *string
	)
	if err := row.Scan(&student.ID, &student.IdentityID, &student.StudentNumber, &student.DateOfBirth, &gender,
		&student.Address, &student.PhoneNumber, &student.ParentContact, &student.EnrollmentDate, &student.GraduationDate,
		&student.Active, &student.CreatedAt, &student.UpdatedAt, &student.Username, &email, &student.FirstName,
		&student.LastName); err != nil {
		return Student{}, classifyPostgres(err)
	}
	student.Gender = Gender(derefString(gender))
	student.Email = derefString(email)
	student.CreatedAt = student.CreatedAt.UTC()
	student.UpdatedAt = student.UpdatedAt.UTC()
	return student, nil
}

func affectedOne(cmd pgconn.CommandTag, err error) error {
	if err != nil {
		return classifyPostgres(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// classifyPostgres maps pgx errors onto the account error kinds.
func classifyPostgres(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgForeignKeyViolation, pgCheckViolation:
			return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
