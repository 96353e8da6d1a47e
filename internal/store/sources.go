package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"memoryagent/internal/domain"
)

const sourceColumns = `id, name, api_key, url, credentials, is_active, created_at, updated_at`

func (s *Store) FindActiveSource(ctx context.Context, name string) (*domain.Source, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT `+sourceColumns+` FROM sources WHERE lower(name) = lower(?) AND is_active`),
		name,
	)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find source %q: %w", name, err)
	}
	return src, nil
}

func (s *Store) CreateSource(ctx context.Context, src domain.Source) (bool, error) {
	if src.Name == "" {
		return false, fmt.Errorf("source name is required")
	}
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	creds, err := src.Credentials.MarshalColumn()
	if err != nil {
		return false, err
	}
	now := s.timestamp()

	res, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO sources (`+sourceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`),
		src.ID, src.Name, src.APIKey, src.URL, creds, src.Active, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("create source %q: %w", src.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ListSources(ctx context.Context) ([]domain.Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// SetSourceActive flips the active flag. Sources are never hard-deleted.
func (s *Store) SetSourceActive(ctx context.Context, name string, active bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE sources SET is_active = ?, updated_at = ? WHERE lower(name) = lower(?)`),
		active, s.timestamp(), name,
	)
	if err != nil {
		return fmt.Errorf("update source %q: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, name)
	}
	return nil
}

// UpdateSource overwrites the api key, url, credentials and active flag of
// the source named src.Name.
func (s *Store) UpdateSource(ctx context.Context, src domain.Source) error {
	creds, err := src.Credentials.MarshalColumn()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE sources SET api_key = ?, url = ?, credentials = ?, is_active = ?, updated_at = ?
		 WHERE lower(name) = lower(?)`),
		src.APIKey, src.URL, creds, src.Active, s.timestamp(), src.Name,
	)
	if err != nil {
		return fmt.Errorf("update source %q: %w", src.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrSourceNotFound, src.Name)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*domain.Source, error) {
	var src domain.Source
	var creds string
	if err := row.Scan(&src.ID, &src.Name, &src.APIKey, &src.URL, &creds,
		&src.Active, &src.CreatedAt, &src.UpdatedAt); err != nil {
		return nil, err
	}
	if err := src.Credentials.UnmarshalColumn(creds); err != nil {
		return nil, fmt.Errorf("source %q: %w", src.Name, err)
	}
	return &src, nil
}
