package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/IreinStark/marketgo/internal/domain"
)

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

var _ domain.MessageRepository = (*MessageRepo)(nil)

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	query := `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, content, type, photo_url, created_at, read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := r.db.ExecContext(ctx, query,
		m.ID,
		m.ConversationID,
		m.SenderID,
		m.SenderName,
		m.Content,
		m.Type,
		m.PhotoURL,
		m.CreatedAt,
		m.Read,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID string) ([]*domain.Message, error) {
	// rowid breaks ties between messages written within the same timestamp
	// granularity, preserving write order.
	query := `
		SELECT id, conversation_id, sender_id, sender_name, content, type, photo_url, created_at, read
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var res []*domain.Message
	for rows.Next() {
		m := &domain.Message{}
		if err := rows.Scan(
			&m.ID,
			&m.ConversationID,
			&m.SenderID,
			&m.SenderName,
			&m.Content,
			&m.Type,
			&m.PhotoURL,
			&m.CreatedAt,
			&m.Read,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r *MessageRepo) MarkRead(ctx context.Context, conversationID, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id FROM messages
		WHERE conversation_id = ? AND sender_id <> ? AND read = 0
	`, conversationID, userID)
	if err != nil {
		return nil, fmt.Errorf("select unread: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := r.db.ExecContext(ctx, `
		UPDATE messages SET read = 1
		WHERE conversation_id = ? AND sender_id <> ? AND read = 0
	`, conversationID, userID); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return ids, nil
}
