package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"evolveme/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL,
    role           TEXT NOT NULL,
    content        TEXT NOT NULL,
    created_at     TEXT NOT NULL,
    embedding_json TEXT,
    is_liked       INTEGER,
    is_disliked    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_user_created
    ON conversation_turns (user_id, role, created_at);
`

// SQLiteStore keeps turns in a SQLite file with embeddings as JSON text.
// created_at holds timestampLayout strings, which sort chronologically.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection: SQLite has a single writer and ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveTurn(ctx context.Context, turn models.Conversation) (models.Conversation, error) {
	turn, err := prepareTurn(turn, uuid.NewString)
	if err != nil {
		return models.Conversation{}, err
	}

	var embeddingJSON sql.NullString
	if turn.Embedding != nil {
		encoded, err := models.EncodeEmbedding(*turn.Embedding)
		if err != nil {
			return models.Conversation{}, err
		}
		embeddingJSON = sql.NullString{String: encoded, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO conversation_turns
        (id, user_id, role, content, created_at, embedding_json, is_liked, is_disliked)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.UserID, turn.Role, turn.Content, FormatTimestamp(turn.Timestamp),
		embeddingJSON, turn.IsLiked, turn.IsDisliked,
	)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("insert turn: %w", err)
	}
	return turn, nil
}

func (s *SQLiteStore) FindUserTurnsWithEmbedding(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, role, content, created_at, embedding_json, is_liked, is_disliked
        FROM conversation_turns
        WHERE user_id = ? AND role = ? AND embedding_json IS NOT NULL
        ORDER BY created_at ASC, rowid ASC`,
		userID, models.RoleUser,
	)
	if err != nil {
		return nil, fmt.Errorf("query user turns: %w", err)
	}
	return scanSQLiteTurns(rows, func(conv models.Conversation, err error) bool {
		if err != nil {
			logSkippedEmbedding(err)
			return false
		}
		return conv.Embedding != nil
	})
}

func (s *SQLiteStore) FindNextAssistantTurn(ctx context.Context, userID string, after time.Time) (*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, role, content, created_at, embedding_json, is_liked, is_disliked
        FROM conversation_turns
        WHERE user_id = ? AND role = ? AND created_at > ?
        ORDER BY created_at ASC, rowid ASC
        LIMIT 1`,
		userID, models.RoleAssistant, FormatTimestamp(after),
	)
	if err != nil {
		return nil, fmt.Errorf("query next assistant turn: %w", err)
	}
	turns, err := scanSQLiteTurns(rows, keepAll)
	if err != nil || len(turns) == 0 {
		return nil, err
	}
	return &turns[0], nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, role, content, created_at, embedding_json, is_liked, is_disliked
        FROM conversation_turns
        WHERE user_id = ?
        ORDER BY created_at ASC, rowid ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	return scanSQLiteTurns(rows, keepAll)
}

func (s *SQLiteStore) UpdateMessageFlag(ctx context.Context, userID string, timestamp time.Time, isLiked, isDisliked *bool) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE conversation_turns
        SET is_liked = COALESCE(?, is_liked), is_disliked = COALESCE(?, is_disliked)
        WHERE user_id = ? AND created_at = ?`,
		isLiked, isDisliked, userID, FormatTimestamp(timestamp),
	)
	if err != nil {
		return fmt.Errorf("update message flag: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTurnNotFound
	}
	return nil
}

func (s *SQLiteStore) FindUserTurnsNeedingEmbedding(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, user_id, role, content, created_at, embedding_json, is_liked, is_disliked
        FROM conversation_turns
        WHERE role = ?
        ORDER BY created_at ASC, rowid ASC`,
		models.RoleUser,
	)
	if err != nil {
		return nil, fmt.Errorf("query user turns: %w", err)
	}
	return scanSQLiteTurns(rows, func(conv models.Conversation, err error) bool {
		return err != nil || conv.Embedding == nil
	})
}

func (s *SQLiteStore) UpdateEmbedding(ctx context.Context, turn models.Conversation, e models.Embedding) error {
	encoded, err := models.EncodeEmbedding(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE conversation_turns SET embedding_json = ? WHERE id = ?`,
		encoded, turn.ID,
	)
	if err != nil {
		return fmt.Errorf("update embedding of turn %s: %w", turn.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// keepAll keeps every row; an unreadable embedding is simply left off.
func keepAll(models.Conversation, error) bool { return true }

// scanSQLiteTurns reads and closes rows. keep decides per row, given the
// embedding decode error if any, whether the row is returned.
func scanSQLiteTurns(rows *sql.Rows, keep func(models.Conversation, error) bool) ([]models.Conversation, error) {
	defer rows.Close()

	turns := make([]models.Conversation, 0)
	for rows.Next() {
		var (
			conv          models.Conversation
			createdAt     string
			embeddingJSON sql.NullString
			isLiked       sql.NullBool
			isDisliked    sql.NullBool
		)
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Role, &conv.Content, &createdAt, &embeddingJSON, &isLiked, &isDisliked); err != nil {
			return nil, fmt.Errorf("row scan failed: %w", err)
		}
		ts, err := ParseTimestamp(createdAt)
		if err != nil {
			return nil, fmt.Errorf("turn %s: parse timestamp: %w", conv.ID, err)
		}
		conv.Timestamp = ts
		conv.IsLiked = nullBoolPtr(isLiked)
		conv.IsDisliked = nullBoolPtr(isDisliked)

		embedding, embErr := decodeStoredEmbedding(conv.ID, embeddingJSON.String)
		if embErr != nil && !errors.Is(embErr, models.ErrInvalidEmbedding) {
			return nil, embErr
		}
		conv.Embedding = embedding
		if keep(conv, embErr) {
			turns = append(turns, conv)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return turns, nil
}
