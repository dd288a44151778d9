package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"chatmcp/model"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AddMessage appends msg to the chat with the given storage id. The chat id
// argument wins over msg.ChatID; a zero timestamp becomes now.
func (db *DB) AddMessage(ctx context.Context, chatID int64, msg model.Message) error {
	if err := insertMessage(ctx, db.sql, chatID, msg); err != nil {
		return err
	}
	db.log.Debug().Int64("chat_id", chatID).Str("message", msg.ID).Str("role", string(msg.Role)).Msg("message stored")
	return nil
}

func insertMessage(ctx context.Context, ex execer, chatID int64, msg model.Message) error {
	if msg.ID == "" {
		return fmt.Errorf("message has no id")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	content, err := nullableJSON(msg.Content, msg.Content.IsNull())
	if err != nil {
		return fmt.Errorf("failed to encode content: %w", err)
	}
	toolCalls, err := nullableJSON(msg.ToolCalls, len(msg.ToolCalls) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode tool calls: %w", err)
	}
	raw, err := nullableJSON(msg.Raw, len(msg.Raw) == 0)
	if err != nil {
		return fmt.Errorf("failed to encode raw payload: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, model, role, content, name, tool_calls, tool_call_id, timestamp, seen, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, chatID, msg.Model, string(msg.Role), content, msg.Name, toolCalls,
		msg.ToolCallID, formatTime(msg.Timestamp), boolToInt(msg.Seen), raw)
	if err != nil {
		return fmt.Errorf("failed to insert message %s: %w", msg.ID, err)
	}
	return nil
}

// GetMessages returns the chat's messages in insertion order.
func (db *DB) GetMessages(ctx context.Context, chatID int64) ([]model.Message, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT id, chat_id, model, role, content, name, tool_calls, tool_call_id, timestamp, seen, raw
		FROM messages WHERE chat_id = ? ORDER BY rowid`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages for chat %d: %w", chatID, err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var (
			msg       model.Message
			role      string
			content   sql.NullString
			toolCalls sql.NullString
			timestamp string
			seen      int
			raw       sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Model, &role, &content, &msg.Name,
			&toolCalls, &msg.ToolCallID, &timestamp, &seen, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		msg.Role = model.Role(role)
		msg.Timestamp = parseTime(timestamp)
		msg.Seen = seen != 0

		if content.Valid {
			if err := json.Unmarshal([]byte(content.String), &msg.Content); err != nil {
				return nil, fmt.Errorf("failed to decode content of %s: %w", msg.ID, err)
			}
		}
		if toolCalls.Valid {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to decode tool calls of %s: %w", msg.ID, err)
			}
		}
		if raw.Valid {
			if err := json.Unmarshal([]byte(raw.String), &msg.Raw); err != nil {
				return nil, fmt.Errorf("failed to decode raw payload of %s: %w", msg.ID, err)
			}
		}

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// MarkMessagesSeen flips the seen flag on every message of a chat. This is
// the only update a stored message ever receives.
func (db *DB) MarkMessagesSeen(ctx context.Context, chatID int64) error {
	if _, err := db.sql.ExecContext(ctx,
		`UPDATE messages SET seen = 1 WHERE chat_id = ? AND seen = 0`, chatID); err != nil {
		return fmt.Errorf("failed to mark messages seen for chat %d: %w", chatID, err)
	}
	return nil
}

func nullableJSON(v any, isNull bool) (any, error) {
	if isNull {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
