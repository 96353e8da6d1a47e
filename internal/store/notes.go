package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"memoryagent/internal/domain"
)

const noteColumns = `n.id, n.content, n.source_id, s.name, n.recipient, n.is_command, n.command_type,
	n.is_file, n.file_type, n.file_name, n.file_url, n.google_drive_id, n.google_drive_link,
	n.created_at, n.updated_at`

// CreateNote persists a note. A file descriptor is stored only when complete.
func (s *Store) CreateNote(ctx context.Context, in domain.NewNote) (*domain.Note, error) {
	if in.SourceID == "" {
		return nil, fmt.Errorf("note source is required")
	}
	if in.File != nil && !in.File.Complete() {
		return nil, fmt.Errorf("incomplete file descriptor for %q", in.File.Name)
	}

	now := s.timestamp()
	n := &domain.Note{
		ID:          uuid.NewString(),
		Content:     in.Content,
		SourceID:    in.SourceID,
		Recipient:   in.Recipient,
		IsCommand:   in.IsCommand,
		CommandType: in.CommandType,
		IsFile:      in.File != nil,
		File:        in.File,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var f domain.FileDescriptor
	if in.File != nil {
		f = *in.File
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO notes (id, content, source_id, recipient, is_command, command_type,
			is_file, file_type, file_name, file_url, google_drive_id, google_drive_link,
			created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.Content, n.SourceID, n.Recipient, n.IsCommand, n.CommandType,
		n.IsFile, f.Type, f.Name, f.URL, f.DriveID, f.DriveLink,
		n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	return n, nil
}

// ListNotes returns the recipient's non-command notes created at or after
// since, newest first. A zero since means no lower bound.
func (s *Store) ListNotes(ctx context.Context, recipient string, since time.Time) ([]domain.Note, error) {
	query := `SELECT ` + noteColumns + `
		FROM notes n JOIN sources s ON s.id = n.source_id
		WHERE n.recipient = ? AND NOT n.is_command`
	args := []any{recipient}
	if !since.IsZero() {
		query += ` AND n.created_at >= ?`
		args = append(args, since.UTC())
	}
	query += ` ORDER BY n.created_at DESC`

	return s.queryNotes(ctx, query, args...)
}

// SearchNotes matches term as a case-insensitive substring of the content.
func (s *Store) SearchNotes(ctx context.Context, recipient, term string) ([]domain.Note, error) {
	pattern := "%" + escapeLike(strings.ToLower(term)) + "%"
	return s.queryNotes(ctx, `SELECT `+noteColumns+`
		FROM notes n JOIN sources s ON s.id = n.source_id
		WHERE n.recipient = ? AND NOT n.is_command
		  AND `+s.lowerFunc()+`(n.content) LIKE ? ESCAPE '\'
		ORDER BY n.created_at DESC
		LIMIT ?`,
		recipient, pattern, domain.SearchLimit,
	)
}

func (s *Store) queryNotes(ctx context.Context, query string, args ...any) ([]domain.Note, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer rows.Close()

	var notes []domain.Note
	for rows.Next() {
		var n domain.Note
		var f domain.FileDescriptor
		if err := rows.Scan(&n.ID, &n.Content, &n.SourceID, &n.SourceName, &n.Recipient,
			&n.IsCommand, &n.CommandType, &n.IsFile,
			&f.Type, &f.Name, &f.URL, &f.DriveID, &f.DriveLink,
			&n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, err
		}
		if n.IsFile {
			n.File = &f
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// CountNotes returns the number of stored notes, for diagnostics.
func (s *Store) CountNotes(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&n)
	return n, err
}
