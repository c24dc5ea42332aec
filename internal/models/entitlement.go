package models

import (
	"time"
)

// Tier 订阅档位
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// EntitlementState 用户订阅权益状态
// 存储在用户 Firestore 文档的 subscription 命名空间下，
// 作为统一的订阅状态源
type EntitlementState struct {
	// 档位：free 或 premium
	Tier Tier `json:"tier" firestore:"tier"`

	// 升级为 premium 的时间，free 状态下为空
	StartedAt *time.Time `json:"started_at,omitempty" firestore:"startedAt,omitempty"`

	// 过期时间。premium 且为空表示永久权益（终身授予）；
	// 购买流程总是写入具体过期时间，为空只会由运营人工写入产生
	ExpiresAt *time.Time `json:"expires_at,omitempty" firestore:"expiresAt,omitempty"`

	// 最后写入时间，由存储端赋值，不参与语义比较
	UpdatedAt *time.Time `json:"updated_at,omitempty" firestore:"updatedAt,omitempty"`
}

// DefaultEntitlement 返回默认状态（free，无日期）
// 用户文档不存在时 fetch 返回该状态
func DefaultEntitlement() EntitlementState {
	return EntitlementState{Tier: TierFree}
}

// Normalize 归一化状态
// 存储层的字段缺失与显式空值在这里收敛为同一个规范形态：
// 未知档位视为 free，零值时间收敛为 nil，时间统一为 UTC。
// 幂等：Normalize(Normalize(s)) == Normalize(s)
func Normalize(s EntitlementState) EntitlementState {
	if s.Tier != TierPremium {
		s.Tier = TierFree
	}
	s.StartedAt = normalizeTime(s.StartedAt)
	s.ExpiresAt = normalizeTime(s.ExpiresAt)
	s.UpdatedAt = normalizeTime(s.UpdatedAt)
	return s
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

// IsActive 判断当前时刻权益是否有效
// 纯函数：只依赖记录本身和调用方提供的时钟读数，
// premium 且（无过期时间或过期时间晚于 now）时为 true。
// now >= expiresAt 时为 false
func IsActive(s EntitlementState, now time.Time) bool {
	if s.Tier != TierPremium {
		return false
	}
	if s.ExpiresAt == nil {
		// 终身权益
		return true
	}
	return s.ExpiresAt.After(now)
}

// Equal 语义相等比较
// UpdatedAt 由存储端赋值，不影响权益判定，比较时忽略
func Equal(a, b EntitlementState) bool {
	a, b = Normalize(a), Normalize(b)
	return a.Tier == b.Tier &&
		timeEqual(a.StartedAt, b.StartedAt) &&
		timeEqual(a.ExpiresAt, b.ExpiresAt)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
