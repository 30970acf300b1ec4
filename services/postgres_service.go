package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"evolveme/models"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id          TEXT PRIMARY KEY,
    user_id     TEXT NOT NULL,
    role        TEXT NOT NULL,
    content     TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL,
    embedding   FLOAT8[],
    is_liked    BOOLEAN,
    is_disliked BOOLEAN
);
CREATE INDEX IF NOT EXISTS idx_conversation_turns_user_created
    ON conversation_turns (user_id, role, created_at);
`

// Turns sharing a created_at are ordered by id so pairing and listing are deterministic.
const postgresTurnOrder = "ORDER BY created_at ASC, id ASC"

const (
	postgresSelectTurns = `
        SELECT id, user_id, role, content, created_at, embedding, is_liked, is_disliked
        FROM conversation_turns`

	postgresUserTurnsQuery = postgresSelectTurns + `
        WHERE user_id = $1 AND role = $2 AND embedding IS NOT NULL
        ` + postgresTurnOrder

	postgresNextAssistantQuery = postgresSelectTurns + `
        WHERE user_id = $1 AND role = $2 AND created_at > $3
        ` + postgresTurnOrder + `
        LIMIT 1`

	postgresConversationsQuery = postgresSelectTurns + `
        WHERE user_id = $1
        ` + postgresTurnOrder

	postgresNeedingEmbeddingQuery = `
        SELECT id, user_id, role, content, created_at, NULL::float8[], is_liked, is_disliked
        FROM conversation_turns
        WHERE role = $1 AND (embedding IS NULL OR cardinality(embedding) <> $2)
        ` + postgresTurnOrder
)

// PostgresStore keeps turns in PostgreSQL with embeddings as float8[].
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, postgresURI string) (*PostgresStore, error) {
	connStr := postgresURI
	if !strings.Contains(postgresURI, "sslmode=") {
		switch {
		case strings.Contains(postgresURI, "?"):
			connStr += "&sslmode=disable"
		case strings.Contains(postgresURI, "://"):
			connStr += "?sslmode=disable"
		default:
			connStr += " sslmode=disable"
		}
	}

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, turn models.Conversation) (models.Conversation, error) {
	turn, err := prepareTurn(turn, uuid.NewString)
	if err != nil {
		return models.Conversation{}, err
	}

	var embedding interface{}
	if turn.Embedding != nil {
		embedding = turn.Embedding.Float64Array()
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO conversation_turns
        (id, user_id, role, content, created_at, embedding, is_liked, is_disliked)
        VALUES ($1, $2, $3, $4, $5, $6::float8[], $7, $8)`,
		turn.ID, turn.UserID, turn.Role, turn.Content, turn.Timestamp, embedding, turn.IsLiked, turn.IsDisliked,
	)
	if err != nil {
		return models.Conversation{}, fmt.Errorf("failed to save to postgres: %w", err)
	}
	return turn, nil
}

func (s *PostgresStore) FindUserTurnsWithEmbedding(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, postgresUserTurnsQuery, userID, models.RoleUser)
	if err != nil {
		return nil, fmt.Errorf("query user turns: %w", err)
	}
	turns, err := scanPostgresTurns(rows, true)
	if err != nil {
		return nil, err
	}

	withEmbedding := turns[:0]
	for _, t := range turns {
		if t.Embedding != nil {
			withEmbedding = append(withEmbedding, t)
		}
	}
	return withEmbedding, nil
}

func (s *PostgresStore) FindNextAssistantTurn(ctx context.Context, userID string, after time.Time) (*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, postgresNextAssistantQuery, userID, models.RoleAssistant, after.UTC())
	if err != nil {
		return nil, fmt.Errorf("query next assistant turn: %w", err)
	}
	turns, err := scanPostgresTurns(rows, false)
	if err != nil || len(turns) == 0 {
		return nil, err
	}
	return &turns[0], nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, postgresConversationsQuery, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	return scanPostgresTurns(rows, false)
}

func (s *PostgresStore) UpdateMessageFlag(ctx context.Context, userID string, timestamp time.Time, isLiked, isDisliked *bool) error {
	res, err := s.db.ExecContext(ctx, `
        UPDATE conversation_turns
        SET is_liked = COALESCE($3, is_liked), is_disliked = COALESCE($4, is_disliked)
        WHERE user_id = $1 AND created_at = $2`,
		userID, timestamp.UTC(), isLiked, isDisliked,
	)
	if err != nil {
		return fmt.Errorf("update message flag: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTurnNotFound
	}
	return nil
}

func (s *PostgresStore) FindUserTurnsNeedingEmbedding(ctx context.Context) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, postgresNeedingEmbeddingQuery, models.RoleUser, models.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("query turns needing embedding: %w", err)
	}
	return scanPostgresTurns(rows, false)
}

func (s *PostgresStore) UpdateEmbedding(ctx context.Context, turn models.Conversation, e models.Embedding) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversation_turns SET embedding = $1::float8[] WHERE id = $2`,
		e.Float64Array(), turn.ID,
	)
	if err != nil {
		return fmt.Errorf("update embedding of turn %s: %w", turn.ID, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// scanPostgresTurns reads and closes rows. When skipInvalid is set, rows with
// an unusable embedding are logged and dropped; otherwise they are returned
// without embedding.
func scanPostgresTurns(rows *sql.Rows, skipInvalid bool) ([]models.Conversation, error) {
	defer rows.Close()

	turns := make([]models.Conversation, 0)
	for rows.Next() {
		var (
			conv       models.Conversation
			vector     pq.Float64Array
			isLiked    sql.NullBool
			isDisliked sql.NullBool
		)
		if err := rows.Scan(&conv.ID, &conv.UserID, &conv.Role, &conv.Content, &conv.Timestamp, &vector, &isLiked, &isDisliked); err != nil {
			return nil, fmt.Errorf("row scan failed: %w", err)
		}
		conv.Timestamp = conv.Timestamp.UTC()
		conv.IsLiked = nullBoolPtr(isLiked)
		conv.IsDisliked = nullBoolPtr(isDisliked)

		if vector != nil {
			e, err := models.EmbeddingFromFloat64Array(vector)
			switch {
			case err == nil:
				conv.Embedding = &e
			case skipInvalid && errors.Is(err, models.ErrInvalidEmbedding):
				logSkippedEmbedding(fmt.Errorf("turn %s: %w", conv.ID, err))
				continue
			}
		}
		turns = append(turns, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return turns, nil
}

func nullBoolPtr(b sql.NullBool) *bool {
	if !b.Valid {
		return nil
	}
	v := b.Bool
	return &v
}
