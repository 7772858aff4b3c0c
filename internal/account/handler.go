package account

import (
	"errors"
	"net/http"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"

	"github.com/school-records/school_records/internal/credential"
)

// Handler exposes identity, student and login endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createIdentityRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

func (r createIdentityRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required, validation.Length(1, 50)),
		validation.Field(&r.Password, validation.Required, validation.Length(1, credential.MaxLength)),
		validation.Field(&r.Email, validation.Length(0, 100), is.Email),
		validation.Field(&r.FirstName, validation.Length(0, 100)),
		validation.Field(&r.LastName, validation.Length(0, 100)),
		validation.Field(&r.Role, validation.Required),
	)
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (r passwordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required, validation.Length(1, credential.MaxLength)),
	)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type studentRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	StudentNumber  string `json:"student_number"`
	DateOfBirth    string `json:"date_of_birth"`
	Gender         string `json:"gender"`
	Address        string `json:"address"`
	PhoneNumber    string `json:"phone_number"`
	ParentContact  string `json:"parent_contact"`
	EnrollmentDate string `json:"enrollment_date"`
	GraduationDate string `json:"graduation_date"`
}

func (r *studentRequest) profileRules() []*validation.FieldRules {
	return []*validation.FieldRules{
		validation.Field(&r.Email, validation.Length(0, 100), is.Email),
		validation.Field(&r.FirstName, validation.Length(0, 100)),
		validation.Field(&r.LastName, validation.Length(0, 100)),
		validation.Field(&r.StudentNumber, validation.Required, validation.Length(1, 20)),
		validation.Field(&r.DateOfBirth, validation.Date(dateLayout)),
		validation.Field(&r.Gender, validation.By(func(value interface{}) error {
			_, err := ParseGender(value.(string))
			return err
		})),
		validation.Field(&r.PhoneNumber, validation.Length(0, 20)),
		validation.Field(&r.EnrollmentDate, validation.Date(dateLayout)),
		validation.Field(&r.GraduationDate, validation.Date(dateLayout)),
	}
}

// ValidateCreate checks a provisioning payload. An empty password is allowed
// and means a temporary password is generated.
func (r studentRequest) ValidateCreate() error {
	rules := append(r.profileRules(),
		validation.Field(&r.Username, validation.Required, validation.Length(1, 50)),
		validation.Field(&r.Password, validation.Length(0, credential.MaxLength)),
	)
	return validation.ValidateStruct(&r, rules...)
}

// ValidateUpdate checks a profile update payload.
func (r studentRequest) ValidateUpdate() error {
	return validation.ValidateStruct(&r, r.profileRules()...)
}

// toStudent assumes the request has been validated.
func (r studentRequest) toStudent() Student {
	s := Student{
		StudentNumber:  r.StudentNumber,
		FirstName:      r.FirstName,
		LastName:       r.LastName,
		Email:          r.Email,
		Gender:         Gender(r.Gender),
		Address:        r.Address,
		PhoneNumber:    r.PhoneNumber,
		ParentContact:  r.ParentContact,
		DateOfBirth:    parseOptionalDate(r.DateOfBirth),
		GraduationDate: parseOptionalDate(r.GraduationDate),
	}
	if d := parseOptionalDate(r.EnrollmentDate); d != nil {
		s.EnrollmentDate = *d
	}
	return s
}

type principalResponse struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
	Role      Role   `json:"role"`
	Active    bool   `json:"active"`
}

func newPrincipalResponse(p Principal) principalResponse {
	return principalResponse{
		ID:        p.ID,
		Username:  p.Username,
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		FullName:  p.FullName(),
		Role:      p.Role,
		Active:    p.Active,
	}
}

type studentResponse struct {
	ID             int64  `json:"id"`
	IdentityID     int64  `json:"identity_id"`
	StudentNumber  string `json:"student_number"`
	Username       string `json:"username"`
	Email          string `json:"email,omitempty"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	DateOfBirth    string `json:"date_of_birth,omitempty"`
	Gender         Gender `json:"gender,omitempty"`
	Address        string `json:"address,omitempty"`
	PhoneNumber    string `json:"phone_number,omitempty"`
	ParentContact  string `json:"parent_contact,omitempty"`
	EnrollmentDate string `json:"enrollment_date"`
	GraduationDate string `json:"graduation_date,omitempty"`
	Active         bool   `json:"active"`
}

func newStudentResponse(s Student) studentResponse {
	return studentResponse{
		ID:             s.ID,
		IdentityID:     s.IdentityID,
		StudentNumber:  s.StudentNumber,
		Username:       s.Username,
		Email:          s.Email,
		FirstName:      s.FirstName,
		LastName:       s.LastName,
		DateOfBirth:    formatOptionalDate(s.DateOfBirth),
		Gender:         s.Gender,
		Address:        s.Address,
		PhoneNumber:    s.PhoneNumber,
		ParentContact:  s.ParentContact,
		EnrollmentDate: s.EnrollmentDate.Format(dateLayout),
		GraduationDate: formatOptionalDate(s.GraduationDate),
		Active:         s.Active,
	}
}

// CreateIdentity provisions an identity without a role profile.
func (h *Handler) CreateIdentity(c *fiber.Ctx) error {
	var req createIdentityRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		return httpError(err)
	}
	principal, err := h.service.CreateIdentity(c.UserContext(), NewIdentity{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
	}, req.Password)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(newPrincipalResponse(principal))
}

// GetIdentity returns one identity by id.
func (h *Handler) GetIdentity(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	principal, err := h.service.Identity(c.UserContext(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(newPrincipalResponse(principal))
}

// DeactivateIdentity soft deletes one identity.
func (h *Handler) DeactivateIdentity(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.service.DeactivateIdentity(c.UserContext(), id); err != nil {
		return httpError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// UpdatePassword replaces the password of one identity.
func (h *Handler) UpdatePassword(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.UpdatePassword(c.UserContext(), id, req.Password); err != nil {
		return httpError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Exists answers whether a username or email is already taken. When both are
// given, either being taken counts.
func (h *Handler) Exists(c *fiber.Ctx) error {
	username := strings.TrimSpace(c.Query("username"))
	email := strings.TrimSpace(c.Query("email"))
	if username == "" && email == "" {
		return fiber.NewError(http.StatusBadRequest, "username or email query parameter is required")
	}

	exists := false
	if username != "" {
		taken, err := h.service.UsernameExists(c.UserContext(), username)
		if err != nil {
			return httpError(err)
		}
		exists = taken
	}
	if !exists && email != "" {
		taken, err := h.service.EmailExists(c.UserContext(), email)
		if err != nil {
			return httpError(err)
		}
		exists = taken
	}
	return c.JSON(fiber.Map{"exists": exists})
}

// Login authenticates a username and password.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := req.Validate(); err != nil {
		return fiber.NewError(http.StatusUnauthorized, ErrAuthFailed.Error())
	}
	principal, err := h.service.Authenticate(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(newPrincipalResponse(principal))
}

// CreateStudent provisions a STUDENT identity together with its profile.
func (h *Handler) CreateStudent(c *fiber.Ctx) error {
	var req studentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := req.ValidateCreate(); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	student, err := h.service.CreateStudent(c.UserContext(), req.toStudent(), req.Username, req.Password, req.Email)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(newStudentResponse(student))
}

// ListStudents returns every active student.
func (h *Handler) ListStudents(c *fiber.Ctx) error {
	students, err := h.service.ListStudents(c.UserContext())
	if err != nil {
		return httpError(err)
	}
	out := make([]studentResponse, 0, len(students))
	for _, s := range students {
		out = append(out, newStudentResponse(s))
	}
	return c.JSON(out)
}

// CountStudents returns the number of active students, optionally only those
// enrolled on or after the since query parameter.
func (h *Handler) CountStudents(c *fiber.Ctx) error {
	since := strings.TrimSpace(c.Query("since"))
	if since == "" {
		n, err := h.service.CountStudents(c.UserContext())
		if err != nil {
			return httpError(err)
		}
		return c.JSON(fiber.Map{"count": n})
	}
	day, err := time.Parse(dateLayout, since)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "since must be formatted as YYYY-MM-DD")
	}
	n, err := h.service.CountStudentsEnrolledSince(c.UserContext(), day)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(fiber.Map{"count": n, "since": since})
}

// GetStudent returns one active student by id.
func (h *Handler) GetStudent(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	student, err := h.service.Student(c.UserContext(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(newStudentResponse(student))
}

// GetStudentByNumber returns one active student by student number.
func (h *Handler) GetStudentByNumber(c *fiber.Ctx) error {
	student, err := h.service.StudentByNumber(c.UserContext(), c.Params("number"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(newStudentResponse(student))
}

// UpdateStudent replaces the profile and contact fields of one student.
func (h *Handler) UpdateStudent(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req studentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := req.ValidateUpdate(); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	student := req.toStudent()
	student.ID = id
	updated, err := h.service.UpdateStudent(c.UserContext(), student)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(newStudentResponse(updated))
}

// DeactivateStudent soft deletes one student profile.
func (h *Handler) DeactivateStudent(c *fiber.Ctx) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.service.DeactivateStudent(c.UserContext(), id); err != nil {
		return httpError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// httpError maps account error kinds onto HTTP status codes. Infrastructure
// details never reach the client.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrAuthFailed):
		return fiber.NewError(http.StatusUnauthorized, ErrAuthFailed.Error())
	case errors.Is(err, ErrInvalidInput):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrConstraintViolation):
		return fiber.NewError(http.StatusConflict, "username, email or student number already in use")
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "not found")
	case errors.Is(err, ErrIndeterminate):
		return fiber.NewError(http.StatusServiceUnavailable, "cannot determine availability right now")
	case errors.Is(err, ErrStoreUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, "store unavailable")
	default:
		return fiber.NewError(http.StatusInternalServerError, "internal error")
	}
}

func pathID(c *fiber.Ctx) (int64, error) {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return 0, fiber.NewError(http.StatusBadRequest, "id must be a positive integer")
	}
	return int64(id), nil
}

func parseOptionalDate(value string) *time.Time {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, value)
	if err != nil {
		return nil
	}
	return &t
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}
