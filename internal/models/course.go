package models

import (
	"time"

	"github.com/lib/pq"
)

// Semester enumerates the offered terms.
type Semester string

const (
	SemesterFall   Semester = "Fall"
	SemesterSpring Semester = "Spring"
	SemesterSummer Semester = "Summer"
)

// CourseStatus represents the enrollment lifecycle of a course.
type CourseStatus string

const (
	CourseStatusOpen      CourseStatus = "open"
	CourseStatusClosed    CourseStatus = "closed"
	CourseStatusCancelled CourseStatus = "cancelled"
)

// Weekday names accepted in course schedules.
var Weekdays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Course represents a course offering stored in the courses table.
// EnrolledCount mirrors the number of active enrollments and is maintained
// atomically alongside enrollment writes.
type Course struct {
	ID            string         `db:"id" json:"id"`
	Code          string         `db:"code" json:"code"`
	Title         string         `db:"title" json:"title"`
	Description   string         `db:"description" json:"description"`
	Credits       int            `db:"credits" json:"credits"`
	Department    string         `db:"department" json:"department"`
	InstructorID  string         `db:"instructor_id" json:"instructor_id"`
	MaxStudents   int            `db:"max_students" json:"max_students"`
	EnrolledCount int            `db:"enrolled_count" json:"enrollment_count"`
	ScheduleDays  pq.StringArray `db:"schedule_days" json:"schedule_days" swaggertype:"array,string"`
	StartTime     string         `db:"start_time" json:"start_time"`
	EndTime       string         `db:"end_time" json:"end_time"`
	Room          *string        `db:"room" json:"room,omitempty"`
	Semester      Semester       `db:"semester" json:"semester"`
	Year          int            `db:"year" json:"year"`
	Status        CourseStatus   `db:"status" json:"status"`
	Active        bool           `db:"active" json:"active"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// AvailableSpots returns the remaining capacity.
func (c *Course) AvailableSpots() int {
	return c.MaxStudents - c.EnrolledCount
}

// IsFull reports whether active enrollments have reached capacity.
func (c *Course) IsFull() bool {
	return c.EnrolledCount >= c.MaxStudents
}

// CourseSummary is the reduced projection used when expanding references.
type CourseSummary struct {
	ID      string `db:"id" json:"id"`
	Code    string `db:"code" json:"code"`
	Title   string `db:"title" json:"title"`
	Credits int    `db:"credits" json:"credits"`
}

// CourseDetail enriches a course with instructor info, derived capacity
// fields and optionally expanded references.
type CourseDetail struct {
	Course
	InstructorFirstName string           `db:"instructor_first_name" json:"instructor_first_name"`
	InstructorLastName  string           `db:"instructor_last_name" json:"instructor_last_name"`
	InstructorEmail     string           `db:"instructor_email" json:"instructor_email"`
	AvailableSpots      int              `db:"-" json:"available_spots"`
	Full                bool             `db:"-" json:"is_full"`
	Prerequisites       []CourseSummary  `db:"-" json:"prerequisites,omitempty"`
	EnrolledStudents    []StudentSummary `db:"-" json:"enrolled_students,omitempty"`
}

// ComputeDerived fills the derived capacity fields from stored state.
func (d *CourseDetail) ComputeDerived() {
	d.AvailableSpots = d.Course.AvailableSpots()
	d.Full = d.Course.IsFull()
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	Department   string
	Semester     Semester
	Year         int
	Status       CourseStatus
	InstructorID string
	Page         int
	Limit        int
}
