package model

import "time"

// Profile 用户资料
// 主键是认证服务下发的不透明 ID，首次登录时创建，之后只做增量更新
type Profile struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	Online      bool      `json:"online"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	PushToken   string    `json:"pushToken,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
