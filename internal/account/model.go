package account

import (
	"fmt"
	"strings"
	"time"
)

// Role tags an identity with the single permission class it belongs to.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleTeacher Role = "TEACHER"
	RoleStudent Role = "STUDENT"
	RoleParent  Role = "PARENT"
)

// ParseRole converts free-form input into a Role. Matching ignores case and
// surrounding whitespace.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent:
		return true
	default:
		return false
	}
}

// Gender is the optional gender recorded on a student profile.
type Gender string

const (
	GenderUnset  Gender = ""
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

// ParseGender converts free-form input into a Gender. Blank input is GenderUnset.
func ParseGender(s string) (Gender, error) {
	g := Gender(strings.ToUpper(strings.TrimSpace(s)))
	switch g {
	case GenderUnset, GenderMale, GenderFemale, GenderOther:
		return g, nil
	default:
		return "", fmt.Errorf("%w: unknown gender %q", ErrInvalidInput, s)
	}
}

// Identity is the authentication-bearing account row.
type Identity struct {
	ID             int64
	Username       string
	CredentialHash string
	Email          string
	FirstName      string
	LastName       string
	Role           Role
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Principal returns the public fields of the identity.
func (i Identity) Principal() Principal {
	return Principal{
		ID:        i.ID,
		Username:  i.Username,
		Email:     i.Email,
		FirstName: i.FirstName,
		LastName:  i.LastName,
		Role:      i.Role,
		Active:    i.Active,
	}
}

// Principal is an identity as seen by callers: everything but the hash.
type Principal struct {
	ID        int64
	Username  string
	Email     string
	FirstName string
	LastName  string
	Role      Role
	Active    bool
}

// FullName joins first and last name.
func (p Principal) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// NewIdentity carries the caller supplied fields for CreateIdentity.
type NewIdentity struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Role      Role
}

// Student is the role profile owned one-to-one by a STUDENT identity. The
// Username, Email, FirstName and LastName fields mirror the owning identity.
type Student struct {
	ID             int64
	IdentityID     int64
	StudentNumber  string
	DateOfBirth    *time.Time
	Gender         Gender
	Address        string
	PhoneNumber    string
	ParentContact  string
	EnrollmentDate time.Time
	GraduationDate *time.Time
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Username  string
	Email     string
	FirstName string
	LastName  string
}
