package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mozilla-it/ctms-api-sub000/internal/acoustic"
)

// FieldConfigRepo loads the Acoustic allow-lists and the newsletter
// mapping from their authoritative tables. It implements
// acoustic.ConfigSource.
type FieldConfigRepo struct{ db *sql.DB }

// NewFieldConfigRepo creates a Postgres-backed field config source.
func NewFieldConfigRepo(db *sql.DB) *FieldConfigRepo { return &FieldConfigRepo{db: db} }

func (r *FieldConfigRepo) LoadFieldConfig(ctx context.Context) (*acoustic.FieldConfig, error) {
	cfg := &acoustic.FieldConfig{
		MainFields:        map[string]bool{},
		WaitlistFields:    map[string]bool{},
		NewsletterMapping: map[string]string{},
	}

	rows, err := r.db.QueryContext(ctx, `SELECT tablename, field FROM acoustic_field`)
	if err != nil {
		return nil, fmt.Errorf("load acoustic fields: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var tablename, field string
		if err := rows.Scan(&tablename, &field); err != nil {
			return nil, fmt.Errorf("scan acoustic field: %w", err)
		}
		switch tablename {
		case "main":
			cfg.MainFields[field] = true
		case "waitlist":
			cfg.WaitlistFields[field] = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load acoustic fields: %w", err)
	}

	mappings, err := r.db.QueryContext(ctx, `SELECT source, destination FROM acoustic_newsletter_mapping`)
	if err != nil {
		return nil, fmt.Errorf("load newsletter mappings: %w", err)
	}
	defer mappings.Close()
	for mappings.Next() {
		var source, destination string
		if err := mappings.Scan(&source, &destination); err != nil {
			return nil, fmt.Errorf("scan newsletter mapping: %w", err)
		}
		cfg.NewsletterMapping[source] = destination
	}
	return cfg, mappings.Err()
}
