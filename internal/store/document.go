package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/penmark/internal/model"
)

// Load returns the document stored under key. A missing key is not an
// error: it returns nil, nil so the caller can start from an empty document.
func (s *Store) Load(ctx context.Context, key string) (*model.Document, error) {
	var encoding string
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT encoding, value FROM app_data WHERE key = ?`, key,
	).Scan(&encoding, &value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	raw, err := decodeValue(encoding, value)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return &doc, nil
}

// Save replaces the document stored under key with doc.
func (s *Store) Save(ctx context.Context, key string, doc *model.Document) error {
	if doc == nil {
		return fmt.Errorf("save %s: nil document", key)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	encoding, value := encodingJSON, raw
	if s.compress {
		encoding, value = encodeValue(raw)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO app_data (key, encoding, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET encoding = excluded.encoding, value = excluded.value, updated_at = excluded.updated_at`,
		key, encoding, value, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// UpdatedAt returns when key was last written, or the zero time if it never was.
func (s *Store) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM app_data WHERE key = ?`, key).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return t, err
}
