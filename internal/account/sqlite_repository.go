package account

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

const sqliteStudentColumns = `s.id, s.identity_id, s.student_number, s.date_of_birth, s.gender, s.address,
        s.phone_number, s.parent_contact, s.enrollment_date, s.graduation_date, s.active,
        s.created_at, s.updated_at, i.username, i.email, i.first_name, i.last_name
        FROM students s INNER JOIN identities i ON i.id = s.identity_id`

const sqliteIdentityColumns = `id, username, credential_hash, email, first_name, last_name, role, active, created_at, updated_at`

// sqliteQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store over a single SQLite file. It backs embedded
// deployments and tests.
type SQLiteStore struct {
	sqliteQueries
	db *sql.DB
}

// OpenSQLite opens the SQLite database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &SQLiteStore{sqliteQueries: sqliteQueries{db: db}, db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema creates the identities and students tables when missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

// Ping checks that the database file is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classifySQLite(err)
	}
	return nil
}

// InTx runs fn inside a single transaction.
func (s *SQLiteStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classifySQLite(err)
	}
	defer tx.Rollback() // nolint:errcheck

	if err := fn(sqliteQueries{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classifySQLite(err)
	}
	return nil
}

type sqliteQueries struct {
	db sqliteQuerier
}

func (q sqliteQueries) InsertIdentity(ctx context.Context, identity Identity) (Identity, error) {
	row := q.db.QueryRowContext(ctx, `INSERT INTO identities (username, credential_hash, email, first_name, last_name, role, active, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		identity.Username, identity.CredentialHash, nullIfEmpty(identity.Email), identity.FirstName, identity.LastName,
		string(identity.Role), identity.Active, toMillis(identity.CreatedAt), toMillis(identity.UpdatedAt))
	if err := row.Scan(&identity.ID); err != nil {
		return Identity{}, classifySQLite(err)
	}
	return identity, nil
}

func (q sqliteQueries) IdentityByID(ctx context.Context, id int64) (Identity, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+sqliteIdentityColumns+` FROM identities WHERE id = ?`, id)
	return scanSQLiteIdentity(row)
}

func (q sqliteQueries) IdentityByUsername(ctx context.Context, username string, activeOnly bool) (Identity, error) {
	query := `SELECT ` + sqliteIdentityColumns + ` FROM identities WHERE username = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	return scanSQLiteIdentity(q.db.QueryRowContext(ctx, query, username))
}

func (q sqliteQueries) UpdateCredentialHash(ctx context.Context, id int64, hash string, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE identities SET credential_hash = ?, updated_at = ? WHERE id = ?`, hash, toMillis(at), id)
	return sqliteAffectedOne(res, err)
}

func (q sqliteQueries) UpdateIdentityContact(ctx context.Context, id int64, email, firstName, lastName string, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE identities SET email = ?, first_name = ?, last_name = ?, updated_at = ? WHERE id = ?`,
		nullIfEmpty(email), firstName, lastName, toMillis(at), id)
	return sqliteAffectedOne(res, err)
}

func (q sqliteQueries) SetIdentityActive(ctx context.Context, id int64, active bool, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE identities SET active = ?, updated_at = ? WHERE id = ?`, active, toMillis(at), id)
	return sqliteAffectedOne(res, err)
}

func (q sqliteQueries) CountIdentitiesByUsername(ctx context.Context, username string) (int64, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM identities WHERE username = ?`, username)
}

func (q sqliteQueries) CountIdentitiesByEmail(ctx context.Context, email string) (int64, error) {
	return q.count(ctx, `SELECT COUNT(*) FROM identities WHERE email = ?`, email)
}

func (q sqliteQueries) InsertStudent(ctx context.Context, student Student) (Student, error) {
	row := q.db.QueryRowContext(ctx, `INSERT INTO students (identity_id, student_number, date_of_birth, gender, address,
        phone_number, parent_contact, enrollment_date, graduation_date, active, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		student.IdentityID, student.StudentNumber, dateParam(student.DateOfBirth), nullIfEmpty(string(student.Gender)),
		student.Address, student.PhoneNumber, student.ParentContact, student.EnrollmentDate.Format(dateLayout),
		dateParam(student.GraduationDate), student.Active, toMillis(student.CreatedAt), toMillis(student.UpdatedAt))
	if err := row.Scan(&student.ID); err != nil {
		return Student{}, classifySQLite(err)
	}
	return student, nil
}

func (q sqliteQueries) StudentByID(ctx context.Context, id int64) (Student, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+sqliteStudentColumns+` WHERE s.id = ? AND s.active = 1`, id)
	return scanSQLiteStudent(row)
}

func (q sqliteQueries) StudentByNumber(ctx context.Context, number string) (Student, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+sqliteStudentColumns+` WHERE s.student_number = ? AND s.active = 1`, number)
	return scanSQLiteStudent(row)
}

func (q sqliteQueries) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+sqliteStudentColumns+` WHERE s.active = 1 ORDER BY s.id DESC`)
	if err != nil {
		return nil, classifySQLite(err)
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		student, err := scanSQLiteStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, student)
	}
	if err := rows.Err(); err != nil {
		return nil, classifySQLite(err)
	}
	return students, nil
}

func (q sqliteQueries) UpdateStudent(ctx context.Context, student Student, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE students SET student_number = ?, date_of_birth = ?, gender = ?, address = ?,
        phone_number = ?, parent_contact = ?, graduation_date = ?, updated_at = ? WHERE id = ?`,
		student.StudentNumber, dateParam(student.DateOfBirth), nullIfEmpty(string(student.Gender)), student.Address,
		student.PhoneNumber, student.ParentContact, dateParam(student.GraduationDate), toMillis(at), student.ID)
	return sqliteAffectedOne(res, err)
}

func (q sqliteQueries) SetStudentActive(ctx context.Context, id int64, active bool, at time.Time) error {
	res, err := q.db.ExecContext(ctx, `UPDATE students SET active = ?, updated_at = ? WHERE id = ?`, active, toMillis(at), id)
	return sqliteAffectedOne(res, err)
}

func (q sqliteQueries) CountStudents(ctx context.Context, enrolledSince *time.Time) (int64, error) {
	if enrolledSince == nil {
		return q.count(ctx, `SELECT COUNT(*) FROM students WHERE active = 1`)
	}
	return q.count(ctx, `SELECT COUNT(*) FROM students WHERE active = 1 AND enrollment_date >= ?`, enrolledSince.Format(dateLayout))
}

func (q sqliteQueries) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, classifySQLite(err)
	}
	return n, nil
}

func scanSQLiteIdentity(row rowScanner) (Identity, error) {
	var (
		identity  Identity
		email     sql.NullString
		role      string
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&identity.ID, &identity.Username, &identity.CredentialHash, &email, &identity.FirstName,
		&identity.LastName, &role, &identity.Active, &createdAt, &updatedAt); err != nil {
		return Identity{}, classifySQLite(err)
	}
	identity.Email = email.String
	identity.Role = Role(role)
	identity.CreatedAt = fromMillis(createdAt)
	identity.UpdatedAt = fromMillis(updatedAt)
	return identity, nil
}

func scanSQLiteStudent(row rowScanner) (Student, error) {
	var (
		student        Student
		dateOfBirth    sql.NullString
		gender         sql.NullString
		enrollmentDate string
		graduationDate sql.NullString
		createdAt      int64
		updatedAt      int64
		email          sql.NullString
	)
	if err := row.Scan(&student.ID, &student.IdentityID, &student.StudentNumber, &dateOfBirth, &gender,
		&student.Address, &student.PhoneNumber, &student.ParentContact, &enrollmentDate, &graduationDate,
		&student.Active, &createdAt, &updatedAt, &student.Username, &email, &student.FirstName,
		&student.LastName); err != nil {
		return Student{}, classifySQLite(err)
	}

	var err error
	if student.DateOfBirth, err = parseNullDate(dateOfBirth); err != nil {
		return Student{}, err
	}
	if student.GraduationDate, err = parseNullDate(graduationDate); err != nil {
		return Student{}, err
	}
	if student.EnrollmentDate, err = time.Parse(dateLayout, enrollmentDate); err != nil {
		return Student{}, fmt.Errorf("parse enrollment date: %w", err)
	}
	student.Gender = Gender(gender.String)
	student.Email = email.String
	student.CreatedAt = fromMillis(createdAt)
	student.UpdatedAt = fromMillis(updatedAt)
	return student, nil
}

func sqliteAffectedOne(res sql.Result, err error) error {
	if err != nil {
		return classifySQLite(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifySQLite(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// classifySQLite maps database/sql and modernc errors onto the account error kinds.
func classifySQLite(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %s", ErrConstraintViolation, sqliteErr.Error())
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func dateParam(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func parseNullDate(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, value.String)
	if err != nil {
		return nil, fmt.Errorf("parse date %q: %w", value.String, err)
	}
	return &t, nil
}
