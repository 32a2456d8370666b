package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SQLiteStore persists history in the history table created by db.InitSchema.
type SQLiteStore struct {
	DB *sql.DB
}

// Load returns the session history in chronological order.
func (s *SQLiteStore) Load(ctx context.Context, session string) ([]Message, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT msg_id, role, content, name, tool_call_id, tool_calls
		 FROM history WHERE session_id = ? ORDER BY id ASC`,
		session,
	)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", session, err)
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var (
			m     Message
			role  string
			calls sql.NullString
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &m.Name, &m.ToolCallID, &calls); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		m.Role = Role(role)
		if calls.Valid && calls.String != "" {
			if err := json.Unmarshal([]byte(calls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls for %s: %w", m.ID, err)
			}
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// Replace swaps the whole session history in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, session string, msgs []Message) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin history tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE session_id = ?`, session); err != nil {
		return fmt.Errorf("clear history %s: %w", session, err)
	}
	if err := insertMessages(ctx, tx, session, msgs); err != nil {
		return err
	}
	return tx.Commit()
}

func insertMessages(ctx context.Context, tx *sql.Tx, session string, msgs []Message) error {
	for _, m := range msgs {
		var calls any
		if len(m.ToolCalls) > 0 {
			data, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
			calls = string(data)
		}
		id := m.ID
		if id == "" {
			id = newID()
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO history (session_id, msg_id, role, content, name, tool_call_id, tool_calls)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			session, id, string(m.Role), m.Content, m.Name, m.ToolCallID, calls,
		)
		if err != nil {
			return fmt.Errorf("insert history message: %w", err)
		}
	}
	return nil
}
