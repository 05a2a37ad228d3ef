package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const day = 24 * time.Hour

// ErrLateSubmissionNotAllowed is returned past the grace period when late work is disabled.
var ErrLateSubmissionNotAllowed = errors.New("late submission not allowed")

// ErrSubmissionTooLate is returned when a submission exceeds the allowed late days.
var ErrSubmissionTooLate = errors.New("submission is too late")

// TooLateError carries the numbers behind ErrSubmissionTooLate.
type TooLateError struct {
	DaysLate    int
	MaxLateDays int
}

func (e *TooLateError) Error() string {
	return fmt.Sprintf("submission is %d days late, at most %d allowed", e.DaysLate, e.MaxLateDays)
}

// Unwrap lets errors.Is match ErrSubmissionTooLate.
func (e *TooLateError) Unwrap() error {
	return ErrSubmissionTooLate
}

// LatePolicy mirrors the late-work settings of a homework.
type LatePolicy struct {
	Allowed       bool
	GracePeriod   time.Duration
	PenaltyPerDay float64
	MaxLateDays   int
}

// LatePenalty describes the penalty for one submission time.
type LatePenalty struct {
	IsLate   bool
	DaysLate int
	Percent  float64
}

// CalculateLatePenalty decides whether a submission is accepted and at what penalty.
// Any started day past the grace period counts as a full day.
func CalculateLatePenalty(policy LatePolicy, due, submittedAt time.Time) (LatePenalty, error) {
	if !submittedAt.After(due) {
		return LatePenalty{}, nil
	}

	graceEnd := due.Add(policy.GracePeriod)
	if !submittedAt.After(graceEnd) {
		return LatePenalty{IsLate: true}, nil
	}

	if !policy.Allowed {
		return LatePenalty{IsLate: true}, ErrLateSubmissionNotAllowed
	}

	daysLate := int(submittedAt.Sub(graceEnd)/day) + 1
	if daysLate > policy.MaxLateDays {
		return LatePenalty{IsLate: true, DaysLate: daysLate}, &TooLateError{DaysLate: daysLate, MaxLateDays: policy.MaxLateDays}
	}

	return LatePenalty{
		IsLate:   true,
		DaysLate: daysLate,
		Percent:  math.Min(float64(daysLate)*policy.PenaltyPerDay, 100),
	}, nil
}

// ApplyLatePenalty reduces a raw score by a percentage.
func ApplyLatePenalty(raw, percent float64) float64 {
	if percent <= 0 {
		return raw
	}
	return raw * (1 - percent/100)
}
