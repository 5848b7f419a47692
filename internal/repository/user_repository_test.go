package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/openedu/course-enrollment-api/internal/models"
)

func TestUserRepositoryFindByEmail(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "first_name", "last_name", "role",
		"student_id", "department", "year", "active", "created_at", "updated_at"}).
		AddRow("user-1", "ada@example.edu", "hash", "Ada", "Lovelace", models.RoleStudent,
			nil, "Mathematics", nil, true, time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE LOWER(email) = LOWER($1) LIMIT 1")).
		WithArgs("Ada@Example.edu").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "Ada@Example.edu")
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
	require.Equal(t, models.RoleStudent, user.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateMapsUniqueViolations(t *testing.T) {
	cases := []struct {
		name       string
		constraint string
		want       error
	}{
		{"email taken", "users_email_key", ErrEmailTaken},
		{"student id taken", "users_student_id_key", ErrStudentIDTaken},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, cleanup := newRepoMock(t)
			defer cleanup()
			repo := NewUserRepository(db)

			mock.ExpectExec("INSERT INTO users").
				WillReturnError(&pq.Error{Code: "23505", Constraint: tc.constraint})

			err := repo.Create(context.Background(), &models.User{
				Email:     "ada@example.edu",
				FirstName: "Ada",
				LastName:  "Lovelace",
				Role:      models.RoleStudent,
			})
			require.ErrorIs(t, err, tc.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUserRepositoryCreateLowercasesEmail(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	user := &models.User{Email: "Ada@Example.edu", FirstName: "Ada", LastName: "Lovelace", Role: models.RoleStudent}
	require.NoError(t, repo.Create(context.Background(), user))
	require.Equal(t, "ada@example.edu", user.Email)
	require.NotEmpty(t, user.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryDeactivate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1")).
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Deactivate(context.Background(), "user-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
