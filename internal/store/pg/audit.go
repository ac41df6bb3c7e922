package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"bazaar.org/internal/audit"
)

// Append implements audit.Sink. The audit_log table rejects updates and
// deletes at the database level.
func (s *Store) Append(ctx context.Context, e audit.Entry) error {
	oldValue, err := marshalValue(e.OldValue)
	if err != nil {
		return err
	}
	newValue, err := marshalValue(e.NewValue)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log (id, actor_id, action, resource, resource_id, old_value, new_value,
			ip_address, user_agent, success, error_message, request_id, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, e.ID, nullIfEmpty(e.ActorID), e.Action, e.Resource, nullIfEmpty(e.ResourceID), oldValue, newValue,
		e.IPAddress, e.UserAgent, e.Success, nullIfEmpty(e.ErrorMessage), nullIfEmpty(e.RequestID), e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent implements audit.Reader.
func (s *Store) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		select id, actor_id, action, resource, resource_id, old_value, new_value,
			ip_address, user_agent, success, error_message, request_id, created_at
		from audit_log
		order by created_at desc, id desc
		limit $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e                           audit.Entry
			actor, resourceID, msg, rid sql.NullString
			rawOld, rawNew              []byte
		)
		if err := rows.Scan(&e.ID, &actor, &e.Action, &e.Resource, &resourceID, &rawOld, &rawNew,
			&e.IPAddress, &e.UserAgent, &e.Success, &msg, &rid, &e.Timestamp); err != nil {
			return nil, err
		}
		e.ActorID, e.ResourceID, e.ErrorMessage, e.RequestID = actor.String, resourceID.String, msg.String, rid.String
		if e.OldValue, err = unmarshalValue(rawOld); err != nil {
			return nil, err
		}
		if e.NewValue, err = unmarshalValue(rawNew); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalValue(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal audit value: %w", err)
	}
	return raw, nil
}

func unmarshalValue(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode audit value: %w", err)
	}
	return v, nil
}
