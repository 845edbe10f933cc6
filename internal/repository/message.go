package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kialiao1999-ui/my-messaging-app/internal/model"
)

var (
	ErrMessageNotFound = errors.New("message not found")
)

// MessageRepository 消息数据访问
type MessageRepository struct {
	db *pgxpool.Pool
}

// NewMessageRepository 创建消息仓库
func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, read, created_at`

func scanMessage(row pgx.Row) (*model.Message, error) {
	var msg model.Message
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Content,
		&msg.Read,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListByConversation 按创建时间升序获取会话完整消息历史
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// Insert 写入消息，返回带服务端 ID 和权威时间戳的记录
func (r *MessageRepository) Insert(ctx context.Context, conversationID, senderID, content string) (*model.Message, error) {
	query := `
		INSERT INTO messages (conversation_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING ` + messageColumns + `
	`

	return scanMessage(r.db.QueryRow(ctx, query, conversationID, senderID, content))
}

// MarkConversationRead 把会话中非本人发送的未读消息全部置为已读
// 返回被更新的消息，用于向变更通道发布更新事件
func (r *MessageRepository) MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]model.Message, error) {
	query := `
		UPDATE messages SET read = true
		WHERE conversation_id = $1 AND sender_id <> $2 AND read = false
		RETURNING ` + messageColumns + `
	`

	rows, err := r.db.Query(ctx, query, conversationID, readerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var updated []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		updated = append(updated, *msg)
	}
	return updated, rows.Err()
}

// MarkRead 把单条消息置为已读
func (r *MessageRepository) MarkRead(ctx context.Context, messageID string) (*model.Message, error) {
	query := `
		UPDATE messages SET read = true
		WHERE id = $1
		RETURNING ` + messageColumns + `
	`

	msg, err := scanMessage(r.db.QueryRow(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

// UnreadCounts 统计各会话中非本人发送且未读的消息数
func (r *MessageRepository) UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	if len(conversationIDs) == 0 {
		return map[string]int{}, nil
	}

	query := `
		SELECT conversation_id, COUNT(*)
		FROM messages
		WHERE conversation_id = ANY($1) AND sender_id <> $2 AND read = false
		GROUP BY conversation_id
	`

	rows, err := r.db.Query(ctx, query, conversationIDs, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int, len(conversationIDs))
	for rows.Next() {
		var convID string
		var count int
		if err := rows.Scan(&convID, &count); err != nil {
			return nil, err
		}
		counts[convID] = count
	}
	return counts, rows.Err()
}

// LastMessages 获取各会话最新一条消息（列表预览和排序键）
func (r *MessageRepository) LastMessages(ctx context.Context, conversationIDs []string) (map[string]model.Message, error) {
	if len(conversationIDs) == 0 {
		return map[string]model.Message{}, nil
	}

	query := `
		SELECT DISTINCT ON (conversation_id) ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ANY($1)
		ORDER BY conversation_id, created_at DESC
	`

	rows, err := r.db.Query(ctx, query, conversationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	last := make(map[string]model.Message, len(conversationIDs))
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		last[msg.ConversationID] = *msg
	}
	return last, rows.Err()
}
