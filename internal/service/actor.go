package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-mastery-api/internal/models"
)

// Role names carried in the access token.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// ErrForbidden is returned when a resource belongs to another tenant or user.
var ErrForbidden = errors.New("access to this resource is forbidden")

// ErrConcurrentAttempt is returned when a parallel request claimed the same attempt number.
var ErrConcurrentAttempt = errors.New("another attempt was started concurrently")

// ErrSubmissionChanged is returned when answers were saved while a completion was being graded.
var ErrSubmissionChanged = errors.New("submission answers changed while grading")

// ErrDuplicateAnswer is returned when a question already has an answer in the attempt or submission.
var ErrDuplicateAnswer = errors.New("question already answered")

// Actor is the already-authenticated caller of a use case.
type Actor struct {
	ID       uint
	Role     string
	SchoolID uint
}

// IsStaff reports whether the actor may author homework and review answers.
func (a Actor) IsStaff() bool {
	return a.Role == RoleTeacher || a.Role == RoleAdmin
}

// CanSee applies the single tenant check: global content or content of the actor's school.
func (a Actor) CanSee(ownerSchoolID *uint) bool {
	return models.VisibleTo(ownerSchoolID, a.SchoolID)
}

// QuestionError identifies the offending question of an integrity error.
type QuestionError struct {
	QuestionID uint
	Err        error
}

func (e *QuestionError) Error() string {
	return fmt.Sprintf("question %d: %v", e.QuestionID, e.Err)
}

func (e *QuestionError) Unwrap() error {
	return e.Err
}

// notFoundAs maps a missing row to the domain error of the caller.
func notFoundAs(err, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}
