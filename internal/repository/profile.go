package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kialiao1999-ui/my-messaging-app/internal/model"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
)

// ProfileRepository 用户资料数据访问
type ProfileRepository struct {
	db *pgxpool.Pool
}

// NewProfileRepository 创建资料仓库
func NewProfileRepository(db *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `id, display_name, email, phone, avatar, online, last_seen_at, push_token, created_at, updated_at`

func scanProfile(row pgx.Row) (*model.Profile, error) {
	var p model.Profile
	var phone, avatar, pushToken *string
	err := row.Scan(
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
	return &p, nil
}

// GetByID 通过 ID 获取资料
func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`

	p, err := scanProfile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return p, nil
}

// Create 创建资料
// ON CONFLICT DO NOTHING 保证同一主体并发重复调用只产生一行
// 返回是否真正插入了新行
func (r *ProfileRepository) Create(ctx context.Context, p *model.Profile) (bool, error) {
	query := `
		INSERT INTO profiles (id, display_name, email, phone, avatar)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
		ON CONFLICT (id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, p.ID, p.DisplayName, p.Email, p.Phone, p.Avatar)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SearchByEmail 按邮箱模糊查找用户（排除自己）
func (r *ProfileRepository) SearchByEmail(ctx context.Context, pattern string, excludeID string) ([]model.Profile, error) {
	query := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE email ILIKE '%' || $1 || '%' AND id <> $2
		ORDER BY email
		LIMIT 20
	`

	rows, err := r.db.Query(ctx, query, pattern, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []model.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// UpdatePresence 更新在线状态和最后活跃时间
func (r *ProfileRepository) UpdatePresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	query := `UPDATE profiles SET online = $2, last_seen_at = $3, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, online, lastSeen)
	return err
}

// UpdatePhone 更新手机号（完成引导流程时调用）
func (r *ProfileRepository) UpdatePhone(ctx context.Context, id string, phone string) error {
	query := `UPDATE profiles SET phone = $2, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, phone)
	return err
}

// UpdatePushToken 保存推送令牌
func (r *ProfileRepository) UpdatePushToken(ctx context.Context, id string, token string) error {
	query := `UPDATE profiles SET push_token = $2, updated_at = now() WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id, token)
	return err
}
