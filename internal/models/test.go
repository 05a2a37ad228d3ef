package models

import "time"

// QuestionType enumerates the closed set of gradable question kinds.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "single_choice"
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeTrueFalse      QuestionType = "true_false"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
	QuestionTypeOpenEnded      QuestionType = "open_ended"
)

// IsChoice reports whether answers of this type are option selections.
func (t QuestionType) IsChoice() bool {
	switch t {
	case QuestionTypeSingleChoice, QuestionTypeMultipleChoice, QuestionTypeTrueFalse:
		return true
	default:
		return false
	}
}

// TestPurpose decides whether attempts of a test feed the mastery model.
type TestPurpose string

const (
	TestPurposeFormative TestPurpose = "formative"
	TestPurposeSummative TestPurpose = "summative"
	TestPurposePractice  TestPurpose = "practice"
)

// AffectsMastery is false for practice tests.
func (p TestPurpose) AffectsMastery() bool {
	return p == TestPurposeFormative || p == TestPurposeSummative
}

// Test is an immutable assessment definition owned by the content catalog.
type Test struct {
	ID               uint        `gorm:"primaryKey" json:"id"`
	SchoolID         *uint       `gorm:"index" json:"school_id"`
	ChapterID        uint        `gorm:"index;not null" json:"chapter_id"`
	ParagraphID      *uint       `gorm:"index" json:"paragraph_id"`
	Title            string      `gorm:"size:255;not null" json:"title"`
	Purpose          TestPurpose `gorm:"size:32;not null" json:"purpose"`
	PassingScore     float64     `gorm:"not null" json:"passing_score"`
	TimeLimitMinutes *int        `json:"time_limit_minutes"`
	IsActive         bool        `gorm:"not null" json:"is_active"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
	Questions        []Question  `json:"questions,omitempty"`
}

// TotalPoints sums the points of every question.
func (t Test) TotalPoints() float64 {
	var total float64
	for _, q := range t.Questions {
		total += q.Points
	}
	return total
}

// Question returns the question with the given id when it belongs to the test.
func (t Test) Question(id uint) (Question, bool) {
	for _, q := range t.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Question is one item of a test.
type Question struct {
	ID            uint             `gorm:"primaryKey" json:"id"`
	TestID        uint             `gorm:"index;not null" json:"test_id"`
	QuestionType  QuestionType     `gorm:"size:32;not null" json:"question_type"`
	Text          string           `gorm:"type:text;not null" json:"text"`
	Points        float64          `gorm:"not null" json:"points"`
	SortOrder     int              `gorm:"default:0" json:"sort_order"`
	CorrectAnswer string           `gorm:"type:text" json:"correct_answer"`
	Explanation   string           `gorm:"type:text" json:"explanation"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Options       []QuestionOption `json:"options,omitempty"`
}

// CorrectOptionIDs lists the ids of options flagged correct, in display order.
func (q Question) CorrectOptionIDs() []uint {
	ids := make([]uint, 0, 1)
	for _, option := range q.Options {
		if option.IsCorrect {
			ids = append(ids, option.ID)
		}
	}
	return ids
}

// QuestionOption is a selectable answer for choice questions.
type QuestionOption struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	QuestionID uint   `gorm:"index;not null" json:"question_id"`
	Text       string `gorm:"type:text;not null" json:"text"`
	IsCorrect  bool   `gorm:"not null;default:false" json:"is_correct"`
	SortOrder  int    `gorm:"default:0" json:"sort_order"`
}
