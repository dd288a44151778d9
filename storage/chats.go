package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chatmcp/model"
)

// TitleLength is the number of characters of the first user message kept
// as a chat title.
const TitleLength = 50

// GenerateChatTitle derives a title from the first user message.
func GenerateChatTitle(firstMessage string) string {
	title := firstMessage
	if utf8.RuneCountInString(title) > TitleLength {
		title = string([]rune(title)[:TitleLength])
	}

	title = strings.ReplaceAll(title, "\r", " ")
	title = strings.ReplaceAll(title, "\n", " ")

	if strings.TrimSpace(title) == "" {
		return "New Chat"
	}
	return title
}

// AddChat inserts a chat row and returns its identifiers.
func (db *DB) AddChat(ctx context.Context, title, chatUUID string) (model.ChatRef, error) {
	res, err := db.sql.ExecContext(ctx,
		`INSERT INTO chats (uuid, title, created_at) VALUES (?, ?, ?)`,
		chatUUID, title, formatTime(time.Now()))
	if err != nil {
		return model.ChatRef{}, fmt.Errorf("failed to insert chat %s: %w", chatUUID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return model.ChatRef{}, fmt.Errorf("failed to read chat id: %w", err)
	}

	db.log.Debug().Str("chat", chatUUID).Int64("id", id).Msg("chat created")
	return model.ChatRef{IntID: id, UUID: chatUUID}, nil
}

// CreateChat inserts the chat row and its first message in one transaction.
// Either both exist afterwards or neither does.
func (db *DB) CreateChat(ctx context.Context, title, chatUUID string, first model.Message) (model.ChatRef, error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return model.ChatRef{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO chats (uuid, title, created_at) VALUES (?, ?, ?)`,
		chatUUID, title, formatTime(time.Now()))
	if err != nil {
		return model.ChatRef{}, fmt.Errorf("failed to insert chat %s: %w", chatUUID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.ChatRef{}, fmt.Errorf("failed to read chat id: %w", err)
	}

	if err := insertMessage(ctx, tx, id, first); err != nil {
		return model.ChatRef{}, err
	}

	if err := tx.Commit(); err != nil {
		return model.ChatRef{}, fmt.Errorf("failed to commit chat %s: %w", chatUUID, err)
	}

	db.log.Debug().Str("chat", chatUUID).Int64("id", id).Msg("chat created with first message")
	return model.ChatRef{IntID: id, UUID: chatUUID}, nil
}

// GetChatIntegerIDByUUID resolves the storage id for a chat UUID.
func (db *DB) GetChatIntegerIDByUUID(ctx context.Context, chatUUID string) (int64, bool, error) {
	var id int64
	err := db.sql.QueryRowContext(ctx, `SELECT id FROM chats WHERE uuid = ?`, chatUUID).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to look up chat %s: %w", chatUUID, err)
	}
	return id, true, nil
}

// GetChat returns nil, nil when the chat does not exist.
func (db *DB) GetChat(ctx context.Context, chatUUID string) (*model.Chat, error) {
	row := db.sql.QueryRowContext(ctx,
		`SELECT id, uuid, title, created_at FROM chats WHERE uuid = ?`, chatUUID)

	chat, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat %s: %w", chatUUID, err)
	}
	return &chat, nil
}

// ListChats returns all chats, newest first.
func (db *DB) ListChats(ctx context.Context) ([]model.Chat, error) {
	rows, err := db.sql.QueryContext(ctx,
		`SELECT id, uuid, title, created_at FROM chats ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []model.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// DeleteChatAndMessagesByUUID removes a chat; its messages go with it.
// It reports whether a chat was removed.
func (db *DB) DeleteChatAndMessagesByUUID(ctx context.Context, chatUUID string) (bool, error) {
	res, err := db.sql.ExecContext(ctx, `DELETE FROM chats WHERE uuid = ?`, chatUUID)
	if err != nil {
		return false, fmt.Errorf("failed to delete chat %s: %w", chatUUID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// DeleteAllChats removes every chat and message. It reports whether
// anything was removed.
func (db *DB) DeleteAllChats(ctx context.Context) (bool, error) {
	tx, err := db.sql.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return false, fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chats`)
	if err != nil {
		return false, fmt.Errorf("failed to delete chats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(r rowScanner) (model.Chat, error) {
	var (
		chat      model.Chat
		createdAt string
	)
	if err := r.Scan(&chat.ID, &chat.UUID, &chat.Title, &createdAt); err != nil {
		return model.Chat{}, err
	}
	chat.CreatedAt = parseTime(createdAt)
	return chat, nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
