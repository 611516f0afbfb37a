package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Jeremy-Gitau/launch-pad/internal/store"
)

// DB implements store.Store backed by PostgreSQL via the pgx stdlib
// driver. Useful when several developers share one history database.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS service_transitions(
			id BIGSERIAL PRIMARY KEY,
			service TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			detail TEXT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_service_transitions_service ON service_transitions(service);`,
		`CREATE INDEX IF NOT EXISTS idx_service_transitions_occurred ON service_transitions(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) RecordTransition(ctx context.Context, rec store.Record) error {
	detail := sql.NullString{String: rec.Detail, Valid: rec.Detail != ""}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO service_transitions(service, from_state, to_state, detail, occurred_at)
		VALUES($1,$2,$3,$4,$5)`,
		rec.Service, rec.From, rec.To, detail, rec.At.UTC())
	return err
}

func (p *DB) History(ctx context.Context, service string, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		rows *sql.Rows
		err  error
	)
	if service == "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT service, from_state, to_state, detail, occurred_at
			FROM service_transitions ORDER BY id DESC LIMIT $1`, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT service, from_state, to_state, detail, occurred_at
			FROM service_transitions WHERE service = $1 ORDER BY id DESC LIMIT $2`, service, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []store.Record
	for rows.Next() {
		var rec store.Record
		var detail sql.NullString
		if err := rows.Scan(&rec.Service, &rec.From, &rec.To, &detail, &rec.At); err != nil {
			return nil, err
		}
		rec.Detail = detail.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *DB) Close() error { return p.db.Close() }
