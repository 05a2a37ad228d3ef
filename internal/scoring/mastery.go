package scoring

import "github.com/noah-isme/gema-mastery-api/internal/models"

// Paragraph status thresholds. Averages are score fractions in [0,1].
const (
	// MasteredAverage is the lowest average that marks a paragraph mastered.
	MasteredAverage = 0.8
	// StrugglingAverage is the average below which a paragraph is struggling.
	StrugglingAverage = 0.5
	// MinAttemptsForStatus is how many completed attempts a paragraph needs before it can be mastered or struggling.
	MinAttemptsForStatus = 2
)

// Chapter level thresholds on the 0-100 mastery score.
const (
	// LevelAThreshold is the lowest score graded A.
	LevelAThreshold = 85.0
	// LevelBThreshold is the lowest score graded B; anything below is C.
	LevelBThreshold = 60.0
)

// MasteryLevelFor maps a 0-100 chapter mastery score to its tier. Thresholds are inclusive.
func MasteryLevelFor(score float64) models.MasteryLevel {
	switch {
	case score >= LevelAThreshold:
		return models.MasteryLevelA
	case score >= LevelBThreshold:
		return models.MasteryLevelB
	default:
		return models.MasteryLevelC
	}
}

// ParagraphStatusFor derives a paragraph status from its score history.
func ParagraphStatusFor(average float64, attempts int, active bool) models.ParagraphStatus {
	if attempts >= MinAttemptsForStatus {
		switch {
		case average >= MasteredAverage:
			return models.ParagraphStatusMastered
		case average < StrugglingAverage:
			return models.ParagraphStatusStruggling
		}
	}
	if attempts > 0 || active {
		return models.ParagraphStatusInProgress
	}
	return models.ParagraphStatusNotStarted
}

// ClampPercent keeps a value within [0,100].
func ClampPercent(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 100 {
		return 100
	}
	return value
}
