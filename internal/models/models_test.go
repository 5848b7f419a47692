package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttendancePercent(t *testing.T) {
	assert.Equal(t, 0, AttendancePercent(0, 0))
	assert.Equal(t, 0, AttendancePercent(5, 0))
	assert.Equal(t, 0, AttendancePercent(0, 10))
	assert.Equal(t, 67, AttendancePercent(2, 3))
	assert.Equal(t, 83, AttendancePercent(10, 12))
	assert.Equal(t, 100, AttendancePercent(12, 12))
}

func TestNewPagination(t *testing.T) {
	p := NewPagination(2, 10, 25)
	assert.Equal(t, 2, p.Current)
	assert.Equal(t, 3, p.Pages)
	assert.Equal(t, 25, p.Total)

	p = NewPagination(0, 0, 0)
	assert.Equal(t, 1, p.Current)
	assert.Equal(t, 10, p.Limit)
	assert.Equal(t, 0, p.Pages)
}

func TestCourseCapacity(t *testing.T) {
	course := Course{MaxStudents: 30, EnrolledCount: 28}
	assert.Equal(t, 2, course.AvailableSpots())
	assert.False(t, course.IsFull())

	course.EnrolledCount = 30
	assert.True(t, course.IsFull())
	assert.Equal(t, 0, course.AvailableSpots())
}

func TestPrincipalIsAdmin(t *testing.T) {
	admin := Principal{Role: RoleAdmin}
	assert.True(t, admin.IsAdmin())

	student := Principal{Role: RoleStudent}
	assert.False(t, student.IsAdmin())

	var nobody *Principal
	assert.False(t, nobody.IsAdmin())
}
