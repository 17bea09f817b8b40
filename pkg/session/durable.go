package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresHistory implements the authoritative durable tier on the
// chat_session / chat schema (see migrations/).
type PostgresHistory struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresHistory opens the durable-tier pool. The DSN is validated
// but no connection is established until first use; call Ping to verify.
func NewPostgresHistory(cfg Config, logger *slog.Logger) (*PostgresHistory, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresHistory{
		db:     db,
		logger: logger.With("component", "session_history"),
	}, nil
}

// NewPostgresHistoryFromDB wraps an existing pool, used by tests and by
// the migration runner.
func NewPostgresHistoryFromDB(db *sql.DB, logger *slog.Logger) *PostgresHistory {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresHistory{db: db, logger: logger.With("component", "session_history")}
}

// Messages returns every message for the session joined through
// chat_session, ordered by creation time.
func (h *PostgresHistory) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	const query = `
		SELECT chat.content, chat.is_bot, chat.created_at
		FROM chat
		JOIN chat_session ON chat_session.id = chat.chat_session_id
		WHERE chat_session.session_id = $1
		ORDER BY chat.created_at ASC, chat.id ASC`

	rows, err := h.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, &HistoryError{SessionID: sessionID, Err: err}
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			content   string
			isBot     bool
			createdAt time.Time
		)
		if err := rows.Scan(&content, &isBot, &createdAt); err != nil {
			return nil, &HistoryError{SessionID: sessionID, Err: err}
		}

		role := RoleUser
		if isBot {
			role = RoleAssistant
		}
		messages = append(messages, Message{
			Role:      role,
			Content:   content,
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &HistoryError{SessionID: sessionID, Err: err}
	}

	return messages, nil
}

// Record persists one message, creating the chat_session row on the
// session's first write. System-role messages are a prompt concern and
// are not persisted.
func (h *PostgresHistory) Record(ctx context.Context, sessionID string, message Message) error {
	if message.Role == RoleSystem {
		return nil
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return &HistoryError{SessionID: sessionID, Err: err}
	}
	defer tx.Rollback()

	var chatSessionID int64
	const upsert = `
		INSERT INTO chat_session (session_id)
		VALUES ($1)
		ON CONFLICT (session_id) DO UPDATE SET session_id = EXCLUDED.session_id
		RETURNING id`
	if err := tx.QueryRowContext(ctx, upsert, sessionID).Scan(&chatSessionID); err != nil {
		return &HistoryError{SessionID: sessionID, Err: err}
	}

	createdAt := message.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const insert = `
		INSERT INTO chat (chat_session_id, content, is_bot, created_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := tx.ExecContext(ctx, insert,
		chatSessionID,
		message.Content,
		message.Role == RoleAssistant,
		createdAt,
	); err != nil {
		return &HistoryError{SessionID: sessionID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &HistoryError{SessionID: sessionID, Err: err}
	}

	return nil
}

// Ping verifies durable-tier connectivity.
func (h *PostgresHistory) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

// Close releases the pool.
func (h *PostgresHistory) Close() error {
	return h.db.Close()
}
