package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arcadian-io/docchat/models"
)

// Record is one stored turn of a conversation.
type Record struct {
	UserID         string                  `json:"user_id"`
	ConversationID string                  `json:"conversation_id"`
	MessageID      string                  `json:"message_id"`
	Role           string                  `json:"role"`
	Content        string                  `json:"content"`
	Sources        []models.SourceDocument `json:"sources,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// Store persists chat turns keyed by user, conversation and message.
type Store struct {
	DB *sql.DB
}

// New wraps the database handle.
func New(db *sql.DB) *Store { return &Store{DB: db} }

// Append stores one turn, assigning a message id when absent.
func (s *Store) Append(ctx context.Context, rec Record) (string, error) {
	if rec.UserID == "" || rec.ConversationID == "" {
		return "", fmt.Errorf("user and conversation ids required")
	}
	if rec.MessageID == "" {
		rec.MessageID = uuid.NewString()
	}
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return "", fmt.Errorf("serialize sources: %w", err)
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO chat_messages (user_id, conversation_id, message_id, role, content, sources, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (user_id, conversation_id, message_id) DO UPDATE SET
  role = EXCLUDED.role,
  content = EXCLUDED.content,
  sources = EXCLUDED.sources;
`, rec.UserID, rec.ConversationID, rec.MessageID, rec.Role, rec.Content, sources)
	if err != nil {
		return "", fmt.Errorf("append chat message: %w", err)
	}
	return rec.MessageID, nil
}

// Conversation returns a conversation's turns oldest first.
func (s *Store) Conversation(ctx context.Context, userID, conversationID string) (models.ChatHistory, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT role, content
FROM chat_messages
WHERE user_id = $1 AND conversation_id = $2
ORDER BY created_at ASC
`, userID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	defer rows.Close()
	var history models.ChatHistory
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return nil, err
		}
		history = append(history, m)
	}
	return history, rows.Err()
}

// DeleteConversation removes every turn of a conversation.
func (s *Store) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	_, err := s.DB.ExecContext(ctx, `
DELETE FROM chat_messages WHERE user_id = $1 AND conversation_id = $2
`, userID, conversationID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ListConversations returns the distinct conversation ids of a user, most
// recently active first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT conversation_id
FROM chat_messages
WHERE user_id = $1
GROUP BY conversation_id
ORDER BY MAX(created_at) DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
