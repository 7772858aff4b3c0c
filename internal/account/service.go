package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/school-records/school_records/internal/credential"
	"github.com/school-records/school_records/internal/logging"
	"github.com/school-records/school_records/internal/notification"
)

const temporaryPasswordLength = 12

// Service provisions accounts and authenticates logins.
type Service struct {
	store    Store
	logger   *slog.Logger
	notifier notification.Notifier
	policy   bool
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger used for operation outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNotifier sets where generated temporary passwords are delivered.
func WithNotifier(n notification.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithPasswordPolicy rejects new passwords that fail credential.MeetsPolicy.
func WithPasswordPolicy() Option {
	return func(s *Service) { s.policy = true }
}

// WithClock overrides the time source used for row timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates an account service on top of store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: logging.Discard(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateIdentity creates an identity without a role profile.
func (s *Service) CreateIdentity(ctx context.Context, in NewIdentity, password string) (Principal, error) {
	const op = "account.create_identity"

	if strings.TrimSpace(in.Username) == "" {
		return Principal{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if !in.Role.Valid() {
		return Principal{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	hash, err := s.hashNew(password)
	if err != nil {
		s.logger.Warn("create identity rejected", slog.String("op", op), slog.String("username", in.Username), slog.Any("error", err))
		return Principal{}, err
	}

	now := s.now()
	identity := Identity{
		Username:       in.Username,
		CredentialHash: hash,
		Email:          strings.TrimSpace(in.Email),
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Role:           in.Role,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.store.InTx(ctx, func(q Queries) error {
		created, err := q.InsertIdentity(ctx, identity)
		if err != nil {
			return fmt.Errorf("insert identity: %w", err)
		}
		identity = created
		return nil
	})
	if err != nil {
		s.logFailure("create identity failed", err, slog.String("op", op), slog.String("username", in.Username))
		return Principal{}, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	s.logger.Info("identity created", slog.String("op", op), slog.String("username", identity.Username),
		slog.Int64("identity_id", identity.ID), slog.String("role", string(identity.Role)))
	return identity.Principal(), nil
}

// CreateStudent creates a STUDENT identity and its student profile in one
// transaction. Either both rows persist or neither does. An empty password
// provisions a generated temporary password, delivered through the notifier.
func (s *Service) CreateStudent(ctx context.Context, student Student, username, password, email string) (Student, error) {
	const op = "account.create_student"

	if strings.TrimSpace(username) == "" {
		return Student{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if strings.TrimSpace(student.StudentNumber) == "" {
		return Student{}, fmt.Errorf("%w: student number is required", ErrInvalidInput)
	}
	gender, err := ParseGender(string(student.Gender))
	if err != nil {
		return Student{}, err
	}

	generated := password == ""
	if generated {
		password = temporaryPassword()
	}
	hash, err := s.hashNew(password)
	if err != nil {
		s.logger.Warn("create student rejected", slog.String("op", op), slog.String("username", username), slog.Any("error", err))
		return Student{}, err
	}

	now := s.now()
	email = strings.TrimSpace(email)
	student.StudentNumber = strings.TrimSpace(student.StudentNumber)
	student.Gender = gender
	student.Active = true
	student.CreatedAt = now
	student.UpdatedAt = now
	if student.EnrollmentDate.IsZero() {
		student.EnrollmentDate = truncateDate(now)
	} else {
		student.EnrollmentDate = truncateDate(student.EnrollmentDate)
	}
	student.DateOfBirth = truncateDatePtr(student.DateOfBirth)
	student.GraduationDate = truncateDatePtr(student.GraduationDate)

	identity := Identity{
		Username:       username,
		CredentialHash: hash,
		Email:          email,
		FirstName:      student.FirstName,
		LastName:       student.LastName,
		Role:           RoleStudent,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var created Student
	err = s.store.InTx(ctx, func(q Queries) error {
		owner, err := q.InsertIdentity(ctx, identity)
		if err != nil {
			return fmt.Errorf("insert identity: %w", err)
		}
		profile := student
		profile.IdentityID = owner.ID
		created, err = q.InsertStudent(ctx, profile)
		if err != nil {
			return fmt.Errorf("insert student: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logFailure("create student failed", err, slog.String("op", op), slog.String("username", username),
			slog.String("student_number", student.StudentNumber))
		return Student{}, fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	created.Username = username
	created.Email = email
	created.FirstName = identity.FirstName
	created.LastName = identity.LastName

	s.logger.Info("student created", slog.String("op", op), slog.String("username", username),
		slog.Int64("identity_id", created.IdentityID), slog.Int64("student_id", created.ID),
		slog.String("student_number", created.StudentNumber), slog.Bool("temporary_password", generated))

	if generated {
		s.deliverTemporaryPassword(ctx, username, email, password)
	}
	return created, nil
}

// Authenticate checks username and password against the active identities.
// An unknown username and a wrong password both yield ErrAuthFailed.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Principal, error) {
	const op = "account.authenticate"

	identity, err := s.store.IdentityByUsername(ctx, username, true)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn the same bcrypt work as a real comparison.
			credential.Verify(password, s.dummy())
			s.logger.Warn("authentication failed: unknown username", slog.String("op", op), slog.String("username", username))
			return Principal{}, ErrAuthFailed
		}
		s.logger.Error("authentication lookup failed", slog.String("op", op), slog.String("username", username), slog.Any("error", err))
		return Principal{}, err
	}

	if !credential.Verify(password, identity.CredentialHash) {
		s.logger.Warn("authentication failed: invalid password", slog.String("op", op), slog.String("username", username),
			slog.Int64("identity_id", identity.ID))
		return Principal{}, ErrAuthFailed
	}

	s.logger.Info("authenticated", slog.String("op", op), slog.String("username", username), slog.Int64("identity_id", identity.ID))
	return identity.Principal(), nil
}

// UpdatePassword re-hashes password and stores it for identity id.
func (s *Service) UpdatePassword(ctx context.Context, id int64, password string) error {
	const op = "account.update_password"

	hash, err := s.hashNew(password)
	if err != nil {
		s.logger.Warn("update password rejected", slog.String("op", op), slog.Int64("identity_id", id), slog.Any("error", err))
		return err
	}
	if err := s.store.UpdateCredentialHash(ctx, id, hash, s.now()); err != nil {
		s.logFailure("update password failed", err, slog.String("op", op), slog.Int64("identity_id", id))
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	s.logger.Info("password updated", slog.String("op", op), slog.Int64("identity_id", id))
	return nil
}

// UsernameExists reports whether any identity, active or not, holds username.
// A store failure returns ErrIndeterminate rather than false.
func (s *Service) UsernameExists(ctx context.Context, username string) (bool, error) {
	n, err := s.store.CountIdentitiesByUsername(ctx, username)
	if err != nil {
		s.logger.Error("username existence check failed", slog.String("op", "account.username_exists"),
			slog.String("username", username), slog.Any("error", err))
		return false, fmt.Errorf("%w: %w", ErrIndeterminate, err)
	}
	return n > 0, nil
}

// EmailExists reports whether any identity holds email. A store failure
// returns ErrIndeterminate rather than false.
func (s *Service) EmailExists(ctx context.Context, email string) (bool, error) {
	n, err := s.store.CountIdentitiesByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		s.logger.Error("email existence check failed", slog.String("op", "account.email_exists"),
			slog.String("email", email), slog.Any("error", err))
		return false, fmt.Errorf("%w: %w", ErrIndeterminate, err)
	}
	return n > 0, nil
}

// Lookup returns the identity holding username regardless of its active flag.
func (s *Service) Lookup(ctx context.Context, username string) (Principal, error) {
	identity, err := s.store.IdentityByUsername(ctx, username, false)
	if err != nil {
		s.logFailure("identity lookup failed", err, slog.String("op", "account.lookup"), slog.String("username", username))
		return Principal{}, err
	}
	return identity.Principal(), nil
}

// Identity returns the identity with the given id.
func (s *Service) Identity(ctx context.Context, id int64) (Principal, error) {
	identity, err := s.store.IdentityByID(ctx, id)
	if err != nil {
		s.logFailure("identity lookup failed", err, slog.String("op", "account.identity"), slog.Int64("identity_id", id))
		return Principal{}, err
	}
	return identity.Principal(), nil
}

// DeactivateIdentity soft deletes an identity. It can no longer log in.
func (s *Service) DeactivateIdentity(ctx context.Context, id int64) error {
	const op = "account.deactivate_identity"
	if err := s.store.SetIdentityActive(ctx, id, false, s.now()); err != nil {
		s.logFailure("deactivate identity failed", err, slog.String("op", op), slog.Int64("identity_id", id))
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	s.logger.Info("identity deactivated", slog.String("op", op), slog.Int64("identity_id", id))
	return nil
}

// Student returns an active student by id.
func (s *Service) Student(ctx context.Context, id int64) (Student, error) {
	student, err := s.store.StudentByID(ctx, id)
	if err != nil {
		s.logFailure("student lookup failed", err, slog.String("op", "account.student"), slog.Int64("student_id", id))
		return Student{}, err
	}
	return student, nil
}

// StudentByNumber returns an active student by student number.
func (s *Service) StudentByNumber(ctx context.Context, number string) (Student, error) {
	student, err := s.store.StudentByNumber(ctx, number)
	if err != nil {
		s.logFailure("student lookup failed", err, slog.String("op", "account.student_by_number"), slog.String("student_number", number))
		return Student{}, err
	}
	return student, nil
}

// ListStudents returns every active student, newest first.
func (s *Service) ListStudents(ctx context.Context) ([]Student, error) {
	students, err := s.store.ListStudents(ctx)
	if err != nil {
		s.logFailure("list students failed", err, slog.String("op", "account.list_students"))
		return nil, err
	}
	return students, nil
}

// UpdateStudent updates a student profile together with the email and name of
// its owning identity, in one transaction.
func (s *Service) UpdateStudent(ctx context.Context, student Student) (Student, error) {
	const op = "account.update_student"

	if strings.TrimSpace(student.StudentNumber) == "" {
		return Student{}, fmt.Errorf("%w: student number is required", ErrInvalidInput)
	}
	gender, err := ParseGender(string(student.Gender))
	if err != nil {
		return Student{}, err
	}
	student.StudentNumber = strings.TrimSpace(student.StudentNumber)
	student.Gender = gender
	student.DateOfBirth = truncateDatePtr(student.DateOfBirth)
	student.GraduationDate = truncateDatePtr(student.GraduationDate)

	now := s.now()
	var updated Student
	err = s.store.InTx(ctx, func(q Queries) error {
		current, err := q.StudentByID(ctx, student.ID)
		if err != nil {
			return fmt.Errorf("load student: %w", err)
		}
		if err := q.UpdateStudent(ctx, student, now); err != nil {
			return fmt.Errorf("update student: %w", err)
		}
		if err := q.UpdateIdentityContact(ctx, current.IdentityID, strings.TrimSpace(student.Email), student.FirstName, student.LastName, now); err != nil {
			return fmt.Errorf("update identity: %w", err)
		}
		updated, err = q.StudentByID(ctx, student.ID)
		return err
	})
	if err != nil {
		s.logFailure("update student failed", err, slog.String("op", op), slog.Int64("student_id", student.ID))
		return Student{}, fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	s.logger.Info("student updated", slog.String("op", op), slog.Int64("student_id", updated.ID),
		slog.String("student_number", updated.StudentNumber))
	return updated, nil
}

// DeactivateStudent soft deletes a student profile.
func (s *Service) DeactivateStudent(ctx context.Context, id int64) error {
	const op = "account.deactivate_student"
	if err := s.store.SetStudentActive(ctx, id, false, s.now()); err != nil {
		s.logFailure("deactivate student failed", err, slog.String("op", op), slog.Int64("student_id", id))
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}
	s.logger.Info("student deactivated", slog.String("op", op), slog.Int64("student_id", id))
	return nil
}

// CountStudents returns the number of active students.
func (s *Service) CountStudents(ctx context.Context) (int64, error) {
	n, err := s.store.CountStudents(ctx, nil)
	if err != nil {
		s.logFailure("count students failed", err, slog.String("op", "account.count_students"))
		return 0, err
	}
	return n, nil
}

// CountStudentsEnrolledSince returns the number of active students enrolled
// on or after the given day.
func (s *Service) CountStudentsEnrolledSince(ctx context.Context, since time.Time) (int64, error) {
	day := truncateDate(since)
	n, err := s.store.CountStudents(ctx, &day)
	if err != nil {
		s.logFailure("count students failed", err, slog.String("op", "account.count_students_since"),
			slog.String("since", day.Format(dateLayout)))
		return 0, err
	}
	return n, nil
}

// hashNew validates a new plaintext password and hashes it.
func (s *Service) hashNew(password string) (string, error) {
	if s.policy && !credential.MeetsPolicy(password) {
		return "", fmt.Errorf("%w: password must be at least %d characters and contain a letter and a digit",
			ErrInvalidInput, credential.MinPolicyLength)
	}
	hash, err := credential.Hash(password)
	if err != nil {
		if errors.Is(err, credential.ErrInvalidInput) {
			return "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		return "", err
	}
	return hash, nil
}

func (s *Service) deliverTemporaryPassword(ctx context.Context, username, email, password string) {
	if s.notifier == nil {
		s.logger.Warn("temporary password generated without a notifier", slog.String("username", username))
		return
	}
	destination := email
	if destination == "" {
		destination = username
	}
	err := s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindTemporaryCredential,
		Destination: destination,
		Subject:     username,
		Body:        password,
	})
	if err != nil {
		s.logger.Error("temporary password delivery failed", slog.String("username", username), slog.Any("error", err))
	}
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = credential.Hash(credential.RandomPassword(temporaryPasswordLength))
	})
	return s.dummyHash
}

// logFailure logs business rejections at warn and infrastructure failures at error.
func (s *Service) logFailure(msg string, err error, attrs ...any) {
	attrs = append(attrs, slog.Any("error", err))
	if errors.Is(err, ErrConstraintViolation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) {
		s.logger.Warn(msg, attrs...)
		return
	}
	s.logger.Error(msg, attrs...)
}

func temporaryPassword() string {
	for {
		p := credential.RandomPassword(temporaryPasswordLength)
		if credential.MeetsPolicy(p) {
			return p
		}
	}
}

func truncateDatePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := truncateDate(*t)
	return &d
}
