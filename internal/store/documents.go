package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"docgrid/internal/document"
)

const documentColumns = "id, class, fields, created_at, updated_at"

var _ document.Backend = (*Store)(nil)

// Insert writes a new document row.
func (s *Store) Insert(ctx context.Context, rec document.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`) VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.Class, string(fields), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	return err
}

// Update rewrites the fields of an existing document row.
func (s *Store) Update(ctx context.Context, rec document.Record) error {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET class = ?, fields = ?, updated_at = ? WHERE id = ?`,
		rec.Class, string(fields), formatTime(rec.UpdatedAt), rec.ID,
	)
	if err != nil {
		return err
	}
	return requireAffected(result, rec.ID)
}

// Delete removes one document row.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireAffected(result, id)
}

// Load returns one document row.
func (s *Store) Load(ctx context.Context, id string) (*document.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	rec, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, document.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Count returns the number of rows whose class is one of classes.
func (s *Store) Count(ctx context.Context, classes []string) (int, error) {
	if len(classes) == 0 {
		return 0, nil
	}
	query := "SELECT COUNT(*) FROM documents WHERE class IN (" + placeholders(len(classes)) + ")"
	var count int
	if err := s.db.QueryRowContext(ctx, query, stringArgs(classes)...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// List returns rows of the given classes, most recently updated first.
// limit <= 0 means no limit.
func (s *Store) List(ctx context.Context, classes []string, limit int) ([]document.Record, error) {
	if len(classes) == 0 {
		return []document.Record{}, nil
	}
	query := `SELECT ` + documentColumns + ` FROM documents WHERE class IN (` + placeholders(len(classes)) + `) ORDER BY updated_at DESC, id ASC`
	args := stringArgs(classes)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []document.Record{}
	for rows.Next() {
		rec, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*document.Record, error) {
	var (
		rec                  document.Record
		fields               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&rec.ID, &rec.Class, &fields, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(fields)))
	dec.UseNumber()
	if err := dec.Decode(&rec.Fields); err != nil {
		return nil, fmt.Errorf("decode fields for %s: %w", rec.ID, err)
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %s: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %s: %w", rec.ID, err)
	}
	return &rec, nil
}

func requireAffected(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("document %s: %w", id, document.ErrNotFound)
	}
	return nil
}

func placeholders(count int) string {
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, 0, len(values))
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}
