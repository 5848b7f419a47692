package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusEnrolled  EnrollmentStatus = "enrolled"
	EnrollmentStatusDropped   EnrollmentStatus = "dropped"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusFailed    EnrollmentStatus = "failed"
)

// Grades accepted on an enrollment record.
var AllowedGrades = []string{"A+", "A", "A-", "B+", "B", "B-", "C+", "C", "C-", "D+", "D", "F", "P", "NP"}

// Enrollment is the authoritative join record between a student and a
// course. At most one active enrollment exists per (student, course) pair;
// this is backed by a partial unique index.
type Enrollment struct {
	ID                   string           `db:"id" json:"id"`
	StudentID            string           `db:"student_id" json:"student_id"`
	CourseID             string           `db:"course_id" json:"course_id"`
	EnrolledAt           time.Time        `db:"enrolled_at" json:"enrolled_at"`
	Status               EnrollmentStatus `db:"status" json:"status"`
	Grade                *string          `db:"grade" json:"grade,omitempty"`
	TotalClasses         int              `db:"total_classes" json:"total_classes"`
	AttendedClasses      int              `db:"attended_classes" json:"attended_classes"`
	AttendancePercentage int              `db:"attendance_percentage" json:"attendance_percentage"`
	Notes                *string          `db:"notes" json:"notes,omitempty"`
	Active               bool             `db:"active" json:"active"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendancePercent computes round(100 * attended / total), 0 when no
// classes were held. The stored column is always recomputed from this,
// never accepted as input.
func AttendancePercent(attended, total int) int {
	if total <= 0 {
		return 0
	}
	return int(float64(attended)/float64(total)*100 + 0.5)
}

// EnrollmentDetail enriches an enrollment with student and course context.
type EnrollmentDetail struct {
	Enrollment
	StudentFirstName   string  `db:"student_first_name" json:"student_first_name"`
	StudentLastName    string  `db:"student_last_name" json:"student_last_name"`
	StudentEmail       string  `db:"student_email" json:"student_email"`
	StudentNumber      *string `db:"student_number" json:"student_number,omitempty"`
	CourseCode         string  `db:"course_code" json:"course_code"`
	CourseTitle        string  `db:"course_title" json:"course_title"`
	CourseCredits      int     `db:"course_credits" json:"course_credits"`
	CourseDepartment   string  `db:"course_department" json:"course_department"`
	CourseInstructorID string  `db:"course_instructor_id" json:"course_instructor_id"`
}
