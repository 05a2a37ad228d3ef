package models

import "time"

// Chapter groups paragraphs of a textbook. SchoolID is nil for global content.
type Chapter struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	TextbookID uint        `gorm:"index;not null" json:"textbook_id"`
	SchoolID   *uint       `gorm:"index" json:"school_id"`
	Title      string      `gorm:"size:255;not null" json:"title"`
	Number     int         `gorm:"default:0" json:"number"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Paragraphs []Paragraph `json:"paragraphs,omitempty"`
}

// Paragraph is the smallest unit of content mastery is tracked against.
type Paragraph struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChapterID uint      `gorm:"index;not null" json:"chapter_id"`
	SchoolID  *uint     `gorm:"index" json:"school_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Number    int       `gorm:"default:0" json:"number"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// VisibleTo reports whether content owned by ownerSchoolID can be used by a caller of schoolID.
func VisibleTo(ownerSchoolID *uint, schoolID uint) bool {
	return ownerSchoolID == nil || *ownerSchoolID == schoolID
}
