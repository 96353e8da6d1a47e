package domain

import (
	"context"
	"time"
)

// Note is a single idea recorded from an inbound message.
type Note struct {
	ID          string          `json:"id"`
	Content     string          `json:"content"`
	SourceID    string          `json:"source"`
	SourceName  string          `json:"source_name,omitempty"`
	Recipient   string          `json:"recipient"`
	IsCommand   bool            `json:"is_command"`
	CommandType string          `json:"command_type,omitempty"`
	IsFile      bool            `json:"is_file"`
	File        *FileDescriptor `json:"file,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// FileDescriptor describes a relocated attachment. Either every field is
// set or the note carries no descriptor at all.
type FileDescriptor struct {
	Type      string `json:"file_type"`
	Name      string `json:"file_name"`
	URL       string `json:"file_url"`
	DriveID   string `json:"google_drive_id"`
	DriveLink string `json:"google_drive_link"`
}

// Complete reports whether all descriptor fields are populated.
func (f *FileDescriptor) Complete() bool {
	return f != nil && f.Type != "" && f.Name != "" && f.URL != "" && f.DriveID != "" && f.DriveLink != ""
}

// NewNote is the input for NoteStore.CreateNote.
type NewNote struct {
	Content     string
	SourceID    string
	Recipient   string
	IsCommand   bool
	CommandType string
	File        *FileDescriptor
}

// Period bounds note retrieval for summaries.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// Since returns the inclusive lower bound of the period relative to now,
// in now's location. The zero time means unbounded.
func (p Period) Since(now time.Time) time.Time {
	switch p {
	case PeriodToday:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	case PeriodWeek:
		return now.AddDate(0, 0, -7)
	case PeriodMonth:
		return now.AddDate(0, 0, -30)
	default:
		return time.Time{}
	}
}

// SearchLimit caps the number of notes returned by NoteStore.SearchNotes.
const SearchLimit = 10

// NoteStore is the Message Store contract. Every listing excludes command
// notes and is ordered newest-first.
type NoteStore interface {
	CreateNote(ctx context.Context, n NewNote) (*Note, error)
	ListNotes(ctx context.Context, recipient string, since time.Time) ([]Note, error)
	SearchNotes(ctx context.Context, recipient, term string) ([]Note, error)
}
