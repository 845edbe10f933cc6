package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kialiao1999-ui/my-messaging-app/internal/model"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
)

// ConversationRepository 会话数据访问
type ConversationRepository struct {
	db *pgxpool.Pool
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// IDsForUser 获取用户参与的所有会话 ID
func (r *ConversationRepository) IDsForUser(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT conversation_id FROM conversation_participants WHERE user_id = $1`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
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

// IDsForUserIn 在给定会话集合中筛选出该用户也参与的会话 ID
// 与 IDsForUser 组合实现两个用户的成员交集查找
func (r *ConversationRepository) IDsForUserIn(ctx context.Context, userID string, conversationIDs []string) ([]string, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT conversation_id FROM conversation_participants
		WHERE user_id = $1 AND conversation_id = ANY($2)
	`

	rows, err := r.db.Query(ctx, query, userID, conversationIDs)
	if err != nil {
		return nil, err
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

// Create 创建会话并原子写入两条参与者记录
func (r *ConversationRepository) Create(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var conv model.Conversation
	err = tx.QueryRow(ctx, `
		INSERT INTO conversations DEFAULT VALUES
		RETURNING id, created_at, updated_at
	`).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id)
		VALUES ($1, $2), ($1, $3)
	`, conv.ID, userA, userB)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &conv, nil
}

// Touch 更新会话的最后更新时间（新消息落库后调用）
func (r *ConversationRepository) Touch(ctx context.Context, id string) error {
	query := `UPDATE conversations SET updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

// CounterpartsFor 获取各会话中对方参与者的资料
// 解析不到对方资料的会话不会出现在结果里，由调用方丢弃
func (r *ConversationRepository) CounterpartsFor(ctx context.Context, userID string, conversationIDs []string) (map[string]model.Profile, error) {
	if len(conversationIDs) == 0 {
		return map[string]model.Profile{}, nil
	}

	query := `
		SELECT cp.conversation_id, ` + prefixedProfileColumns("p") + `
		FROM conversation_participants cp
		JOIN profiles p ON p.id = cp.user_id
		WHERE cp.conversation_id = ANY($1) AND cp.user_id <> $2
	`

	rows, err := r.db.Query(ctx, query, conversationIDs, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counterparts := make(map[string]model.Profile, len(conversationIDs))
	for rows.Next() {
		var convID string
		var p model.Profile
		var phone, avatar, pushToken *string
		err := rows.Scan(
			&convID,
			&p.ID,
			&p.DisplayName,
			&p.Email,
			&phone,
			&avatar,
			&p.Online,
			&p.LastSeenAt,
			&pushToken,
			&p.CreatedAt,
			&p.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if phone != nil {
			p.Phone = *phone
		}
		if avatar != nil {
			p.Avatar = *avatar
		}
		if pushToken != nil {
			p.PushToken = *pushToken
		}
		counterparts[convID] = p
	}
	return counterparts, rows.Err()
}

// prefixedProfileColumns 带表别名的资料列名
func prefixedProfileColumns(alias string) string {
	return alias + `.id, ` + alias + `.display_name, ` + alias + `.email, ` +
		alias + `.phone, ` + alias + `.avatar, ` + alias + `.online, ` +
		alias + `.last_seen_at, ` + alias + `.push_token, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}
