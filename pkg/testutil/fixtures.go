package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// UserFixture represents test user data
type UserFixture struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	Status       string
	RoleID       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoleFixture represents test role data
type RoleFixture struct {
	ID          string
	Name        string
	Slug        string
	IsSystem    bool
	Permissions []string
}

// StudentFixture represents test student data
type StudentFixture struct {
	ID              string
	AdmissionNumber string
	FirstName       string
	LastName        string
	SectionID       *string
	Status          string
	CreatedAt       time.Time
}

// FeeStructureFixture represents test fee structure data
type FeeStructureFixture struct {
	ID                string
	AcademicSessionID string
	Category          string
	FinalAmount       string // two-fractional-digit decimal string
	LateFeePerDay     string
	DueDay            int
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// User creates a user fixture with defaults
func (f *FixtureFactory) User(opts ...func(*UserFixture)) UserFixture {
	seq := f.nextSeq()
	hash, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)

	user := UserFixture{
		ID:           uuid.New().String(),
		Email:        fmt.Sprintf("user%d@test.schoolcore.local", seq),
		PasswordHash: string(hash),
		FirstName:    fmt.Sprintf("Test%d", seq),
		LastName:     "User",
		Status:       "active",
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	for _, opt := range opts {
		opt(&user)
	}

	return user
}

// WithEmail sets the user email
func WithEmail(email string) func(*UserFixture) {
	return func(u *UserFixture) {
		u.Email = email
	}
}

// WithUsername sets the user's login username
func WithUsername(username string) func(*UserFixture) {
	return func(u *UserFixture) {
		u.Username = username
	}
}

// WithName sets the user's first and last name
func WithName(first, last string) func(*UserFixture) {
	return func(u *UserFixture) {
		u.FirstName = first
		u.LastName = last
	}
}

// WithStatus sets the user status
func WithStatus(status string) func(*UserFixture) {
	return func(u *UserFixture) {
		u.Status = status
	}
}

// WithPassword sets the user password (hashed)
func WithPassword(password string) func(*UserFixture) {
	return func(u *UserFixture) {
		hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		u.PasswordHash = string(hash)
	}
}

// WithRoleID sets the user's role ID
func WithRoleID(roleID string) func(*UserFixture) {
	return func(u *UserFixture) {
		u.RoleID = roleID
	}
}

// Role creates a role fixture with defaults
func (f *FixtureFactory) Role(opts ...func(*RoleFixture)) RoleFixture {
	seq := f.nextSeq()

	role := RoleFixture{
		ID:          uuid.New().String(),
		Name:        fmt.Sprintf("Role %d", seq),
		Slug:        fmt.Sprintf("role_%d", seq),
		IsSystem:    false,
		Permissions: []string{"academics.students.view"},
	}

	for _, opt := range opts {
		opt(&role)
	}

	return role
}

// AdminRole creates the system admin role fixture
func (f *FixtureFactory) AdminRole() RoleFixture {
	return RoleFixture{
		ID:          uuid.New().String(),
		Name:        "Admin",
		Slug:        "admin",
		IsSystem:    true,
		Permissions: []string{"*"},
	}
}

// TeacherRole creates the teacher role fixture
func (f *FixtureFactory) TeacherRole() RoleFixture {
	return RoleFixture{
		ID:          uuid.New().String(),
		Name:        "Teacher",
		Slug:        "teacher",
		IsSystem:    false,
		Permissions: []string{"academics.students.view", "attendance.mark", "marks.enter"},
	}
}

// Student creates a student fixture with defaults
func (f *FixtureFactory) Student(opts ...func(*StudentFixture)) StudentFixture {
	seq := f.nextSeq()

	student := StudentFixture{
		ID:              uuid.New().String(),
		AdmissionNumber: fmt.Sprintf("ADM%03d", seq),
		FirstName:       fmt.Sprintf("Student%d", seq),
		LastName:        "Test",
		Status:          "active",
		CreatedAt:       time.Now(),
	}

	for _, opt := range opts {
		opt(&student)
	}

	return student
}

// WithAdmissionNumber sets the student's admission number
func WithAdmissionNumber(number string) func(*StudentFixture) {
	return func(s *StudentFixture) {
		s.AdmissionNumber = number
	}
}

// WithSection assigns the student to a section
func WithSection(sectionID string) func(*StudentFixture) {
	return func(s *StudentFixture) {
		s.SectionID = &sectionID
	}
}

// FeeStructure creates a fee structure fixture with defaults
func (f *FixtureFactory) FeeStructure(sessionID string, opts ...func(*FeeStructureFixture)) FeeStructureFixture {
	seq := f.nextSeq()

	fs := FeeStructureFixture{
		ID:                uuid.New().String(),
		AcademicSessionID: sessionID,
		Category:          fmt.Sprintf("tuition_%d", seq),
		FinalAmount:       "1000.00",
		LateFeePerDay:     "0.00",
		DueDay:            10,
	}

	for _, opt := range opts {
		opt(&fs)
	}

	return fs
}

// WithFinalAmount sets the structure's billed amount
func WithFinalAmount(amount string) func(*FeeStructureFixture) {
	return func(fs *FeeStructureFixture) {
		fs.FinalAmount = amount
	}
}

// WithLateFee sets the structure's per-day late fee and due day
func WithLateFee(perDay string, dueDay int) func(*FeeStructureFixture) {
	return func(fs *FeeStructureFixture) {
		fs.LateFeePerDay = perDay
		fs.DueDay = dueDay
	}
}

// DefaultTestUsers returns a set of standard test users
func DefaultTestUsers(factory *FixtureFactory) []UserFixture {
	return []UserFixture{
		factory.User(WithEmail("admin@greenfield.school"), WithName("Priya", "Sharma")),
		factory.User(WithEmail("teacher@greenfield.school"), WithName("Arun", "Mehta")),
		factory.User(WithEmail("clerk@greenfield.school"), WithName("Sara", "Khan")),
		factory.User(WithEmail("inactive@greenfield.school"), WithName("Dev", "Patel"), WithStatus("inactive")),
	}
}

// DefaultTestRoles returns standard test roles
func DefaultTestRoles() []RoleFixture {
	return []RoleFixture{
		{ID: uuid.New().String(), Name: "Admin", Slug: "admin", IsSystem: true, Permissions: []string{"*"}},
		{ID: uuid.New().String(), Name: "Teacher", Slug: "teacher", Permissions: []string{"academics.students.view", "attendance.mark", "marks.enter"}},
		{ID: uuid.New().String(), Name: "Accountant", Slug: "accountant", Permissions: []string{"fees.view", "fees.collect", "fees.refund"}},
		{ID: uuid.New().String(), Name: "Student", Slug: "student", Permissions: []string{"academics.self.view"}},
	}
}
