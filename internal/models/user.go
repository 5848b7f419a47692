package models

import "time"

// UserRole represents the available roles for authorization decisions.
type UserRole string

const (
	RoleStudent    UserRole = "student"
	RoleInstructor UserRole = "instructor"
	RoleAdmin      UserRole = "admin"
)

// Academic year labels accepted for student accounts.
var AcademicYears = []string{"1st", "2nd", "3rd", "4th", "Graduate"}

// User represents an application user stored in the users table.
// The password hash is never serialized to clients.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FirstName    string    `db:"first_name" json:"first_name"`
	LastName     string    `db:"last_name" json:"last_name"`
	Role         UserRole  `db:"role" json:"role"`
	StudentID    *string   `db:"student_id" json:"student_id,omitempty"`
	Department   string    `db:"department" json:"department"`
	Year         *string   `db:"year" json:"year,omitempty"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// UserDetail enriches a user with the derived list of enrolled courses.
type UserDetail struct {
	User
	EnrolledCourses []CourseSummary `json:"enrolled_courses"`
}

// PublicUser is the reduced projection exposed by the instructor directory.
type PublicUser struct {
	ID         string `db:"id" json:"id"`
	FirstName  string `db:"first_name" json:"first_name"`
	LastName   string `db:"last_name" json:"last_name"`
	Email      string `db:"email" json:"email"`
	Department string `db:"department" json:"department"`
}

// StudentSummary describes an enrolled student in course listings.
type StudentSummary struct {
	ID         string  `db:"id" json:"id"`
	FirstName  string  `db:"first_name" json:"first_name"`
	LastName   string  `db:"last_name" json:"last_name"`
	Email      string  `db:"email" json:"email"`
	StudentID  *string `db:"student_id" json:"student_id,omitempty"`
	Department string  `db:"department" json:"department"`
	Year       *string `db:"year" json:"year,omitempty"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role       UserRole
	Department string
	Year       string
	Page       int
	Limit      int
}

// RoleCount aggregates users per grouping key for the admin stats endpoint.
type RoleCount struct {
	Key   string `db:"key" json:"key"`
	Count int    `db:"count" json:"count"`
}

// UserStats summarises the user population for administrators.
type UserStats struct {
	TotalUsers       int         `json:"total_users"`
	TotalStudents    int         `json:"total_students"`
	TotalInstructors int         `json:"total_instructors"`
	TotalAdmins      int         `json:"total_admins"`
	DepartmentStats  []RoleCount `json:"department_stats"`
	YearStats        []RoleCount `json:"year_stats"`
}

// Principal carries the authenticated identity attached to a request.
// Services take it explicitly; no ambient identity exists.
type Principal struct {
	ID     string
	Role   UserRole
	Active bool
}

// IsAdmin reports whether the principal holds the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}
