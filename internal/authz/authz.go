// Package authz holds the declarative capability table mapping
// (role, operation) to allowed. Route middleware consults it before any
// handler logic runs; ownership refinements (own course, own enrollment,
// self profile) stay in the services because the entity must be loaded
// before the owner is known.
package authz

import "github.com/openedu/course-enrollment-api/internal/models"

// Operation names a protected API capability.
type Operation string

const (
	OpCourseCreate Operation = "course:create"
	OpCourseUpdate Operation = "course:update"
	OpCourseDelete Operation = "course:delete"

	OpEnrollmentCreate        Operation = "enrollment:create"
	OpEnrollmentDrop          Operation = "enrollment:drop"
	OpEnrollmentListByStudent Operation = "enrollment:list_by_student"
	OpEnrollmentListByCourse  Operation = "enrollment:list_by_course"
	OpEnrollmentExport        Operation = "enrollment:export"
	OpGradeUpdate             Operation = "enrollment:grade"
	OpAttendanceUpdate        Operation = "enrollment:attendance"

	OpUserList             Operation = "user:list"
	OpUserGet              Operation = "user:get"
	OpUserUpdate           Operation = "user:update"
	OpUserDeactivate       Operation = "user:deactivate"
	OpUserStats            Operation = "user:stats"
	OpInstructorCreate     Operation = "user:create_instructor"
	OpEnrolledStudentsList Operation = "user:list_enrolled_students"

	OpAdvisorAsk Operation = "advisor:ask"
)

var capabilities = map[Operation][]models.UserRole{
	OpCourseCreate: {models.RoleInstructor, models.RoleAdmin},
	OpCourseUpdate: {models.RoleInstructor, models.RoleAdmin},
	OpCourseDelete: {models.RoleAdmin},

	OpEnrollmentCreate:        {models.RoleStudent, models.RoleAdmin},
	OpEnrollmentDrop:          {models.RoleStudent, models.RoleAdmin},
	OpEnrollmentListByStudent: {models.RoleStudent, models.RoleInstructor, models.RoleAdmin},
	OpEnrollmentListByCourse:  {models.RoleInstructor, models.RoleAdmin},
	OpEnrollmentExport:        {models.RoleInstructor, models.RoleAdmin},
	OpGradeUpdate:             {models.RoleInstructor, models.RoleAdmin},
	OpAttendanceUpdate:        {models.RoleInstructor, models.RoleAdmin},

	OpUserList:             {models.RoleAdmin},
	OpUserGet:              {models.RoleStudent, models.RoleInstructor, models.RoleAdmin},
	OpUserUpdate:           {models.RoleAdmin},
	OpUserDeactivate:       {models.RoleAdmin},
	OpUserStats:            {models.RoleAdmin},
	OpInstructorCreate:     {models.RoleAdmin},
	OpEnrolledStudentsList: {models.RoleInstructor, models.RoleAdmin},

	OpAdvisorAsk: {models.RoleStudent, models.RoleInstructor, models.RoleAdmin},
}

// Allowed reports whether the role may perform the operation.
func Allowed(role models.UserRole, op Operation) bool {
	for _, allowed := range capabilities[op] {
		if role == allowed {
			return true
		}
	}
	return false
}
