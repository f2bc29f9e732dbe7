package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// PostgresStore persists audit events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Append(ctx context.Context, event *Event) error {
	meta := "{}"
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		meta = string(b)
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, action, actor_id, actor_email, actor_role, resource_id, resource_type, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::JSONB, $11)
	`, event.ID, string(event.Action), event.ActorID, event.ActorEmail, event.ActorRole,
		nullable(event.ResourceID), nullable(event.ResourceType),
		nullable(event.IPAddress), nullable(event.UserAgent), meta, event.CreatedAt)
	return err
}

func (p *PostgresStore) Query(ctx context.Context, f Filter, limit, offset int) ([]*Event, int64, error) {
	where, args := buildWhere(f)

	var total int64
	countQuery := "SELECT COUNT(*) FROM audit_events" + where
	if err := p.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT id, action, actor_id, actor_email, actor_role,
			COALESCE(resource_id, ''), COALESCE(resource_type, ''),
			COALESCE(ip_address, ''), COALESCE(user_agent, ''),
			COALESCE(metadata::TEXT, '{}'), created_at
		FROM audit_events%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var action, meta string
		if err := rows.Scan(&e.ID, &action, &e.ActorID, &e.ActorEmail, &e.ActorRole,
			&e.ResourceID, &e.ResourceType, &e.IPAddress, &e.UserAgent, &meta, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.Action = Action(action)
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &e.Metadata)
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

func buildWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	if f.ResourceID != "" {
		add("resource_id = $%d", f.ResourceID)
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}
	if !f.Before.IsZero() {
		add("created_at <= $%d", f.Before)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
