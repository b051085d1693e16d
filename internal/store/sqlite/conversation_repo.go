package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/IreinStark/marketgo/internal/domain"
)

type ConversationRepo struct {
	db *sql.DB
}

func NewConversationRepo(db *sql.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

var _ domain.ConversationRepository = (*ConversationRepo)(nil)

func (r *ConversationRepo) Create(ctx context.Context, c *domain.Conversation, participants []domain.Participant) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Timestamps are always written from Go in UTC so ORDER BY comparisons
	// never mix formats.
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, product_id, product_title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.ProductID, c.ProductTitle, now, now); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, p := range participants {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, display_name, unread_count)
			VALUES (?, ?, ?, 0)
		`, c.ID, p.UserID, p.DisplayName); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *ConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	query := `
		SELECT id, product_id, product_title, last_message, last_message_time, created_at, updated_at
		FROM conversations
		WHERE id = ?
	`
	c := &domain.Conversation{}
	var lastMessageTime sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID,
		&c.ProductID,
		&c.ProductTitle,
		&c.LastMessage,
		&lastMessageTime,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if lastMessageTime.Valid {
		c.LastMessageTime = &lastMessageTime.Time
	}
	return c, nil
}

func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	query := `
		SELECT c.id, c.product_id, c.product_title, c.last_message, c.last_message_time, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants cp ON cp.conversation_id = c.id
		WHERE cp.user_id = ?
		ORDER BY c.updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var res []*domain.Conversation
	for rows.Next() {
		c := &domain.Conversation{}
		var lastMessageTime sql.NullTime
		if err := rows.Scan(
			&c.ID,
			&c.ProductID,
			&c.ProductTitle,
			&c.LastMessage,
			&lastMessageTime,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if lastMessageTime.Valid {
			c.LastMessageTime = &lastMessageTime.Time
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// FindByParticipants looks for a conversation whose participant set is exactly
// participantIDs and whose product id matches (both nil or both equal). Used
// to make conversation creation idempotent.
func (r *ConversationRepo) FindByParticipants(ctx context.Context, participantIDs []string, productID *string) (*domain.Conversation, error) {
	if len(participantIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimRight(strings.Repeat("?,", len(participantIDs)), ",")
	args := make([]any, 0, len(participantIDs)+3)
	for _, id := range participantIDs {
		args = append(args, id)
	}
	args = append(args, len(participantIDs), len(participantIDs))

	query := fmt.Sprintf(`
		SELECT c.id
		FROM conversations c
		WHERE (SELECT COUNT(*) FROM conversation_participants cp
		       WHERE cp.conversation_id = c.id AND cp.user_id IN (%s)) = ?
		  AND (SELECT COUNT(*) FROM conversation_participants cp
		       WHERE cp.conversation_id = c.id) = ?
	`, placeholders)
	if productID == nil {
		query += " AND c.product_id IS NULL"
	} else {
		query += " AND c.product_id = ?"
		args = append(args, *productID)
	}
	query += " LIMIT 1"

	var id string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find conversation by participants: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *ConversationRepo) SetLastMessage(ctx context.Context, id, preview string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE conversations
		SET last_message = ?, last_message_time = ?, updated_at = ?
		WHERE id = ?
	`, preview, at, at, id)
	if err != nil {
		return fmt.Errorf("set last message: %w", err)
	}
	return nil
}
