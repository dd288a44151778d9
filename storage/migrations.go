package storage

import (
	"database/sql"
	"fmt"
)

// migration is one step of the schema ladder. Steps are additive only.
type migration struct {
	Version int
	Name    string
	SQL     string
	Apply   func(tx *sql.Tx) error
}

func (m migration) apply(tx *sql.Tx) error {
	if m.SQL != "" {
		if _, err := tx.Exec(m.SQL); err != nil {
			return err
		}
	}
	if m.Apply != nil {
		return m.Apply(tx)
	}
	return nil
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create chats and messages",
		SQL: `
			CREATE TABLE IF NOT EXISTS chats (
				id          INTEGER PRIMARY KEY AUTOINCREMENT,
				uuid        TEXT NOT NULL UNIQUE,
				title       TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS messages (
				id            TEXT PRIMARY KEY,
				chat_id       INTEGER NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
				model         TEXT NOT NULL DEFAULT '',
				role          TEXT NOT NULL,
				content       TEXT,
				name          TEXT NOT NULL DEFAULT '',
				tool_calls    TEXT,
				tool_call_id  TEXT NOT NULL DEFAULT '',
				timestamp     TEXT NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages (chat_id);
		`,
	},
	{
		Version: 2,
		Name:    "add messages.seen",
		Apply:   addColumn("messages", "seen", "INTEGER NOT NULL DEFAULT 0"),
	},
	{
		Version: 3,
		Name:    "add messages.raw",
		Apply:   addColumn("messages", "raw", "TEXT"),
	},
}

func addColumn(table, column, decl string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		exists, err := columnExists(tx, table, column)
		if err != nil {
			return fmt.Errorf("failed to check for %s column: %w", column, err)
		}
		if exists {
			return nil
		}
		if _, err := tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
			return fmt.Errorf("failed to add %s column: %w", column, err)
		}
		return nil
	}
}
