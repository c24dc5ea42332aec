package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/pkg/logging"
)

// 用户文档所在集合
const usersCollection = "users"

// FirestoreStore Firestore 适配器
// 权益字段写在用户文档的 subscription 命名空间下，
// 与同一文档上其他子系统的资料字段互不干扰
type FirestoreStore struct {
	client *firestore.Client
}

// NewFirestoreStore 创建 Firestore 适配器
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

// userDocument 用户文档中与订阅相关的部分
type userDocument struct {
	Subscription models.EntitlementState `firestore:"subscription"`
}

func (s *FirestoreStore) doc(userID string) *firestore.DocumentRef {
	return s.client.Collection(usersCollection).Doc(userID)
}

// Fetch 单次读取用户权益状态
// 文档不存在返回默认状态（free，无日期），不视为错误
func (s *FirestoreStore) Fetch(ctx context.Context, userID string) (models.EntitlementState, error) {
	snap, err := s.doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return models.DefaultEntitlement(), nil
		}
		return models.EntitlementState{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return decodeSnapshot(snap)
}

// Upsert 合并写入权益字段
// 只覆盖 subscription 下的字段，updatedAt 由服务端时间戳赋值。
// 四个字段一次写入，不会出现部分落盘
func (s *FirestoreStore) Upsert(ctx context.Context, userID string, state models.EntitlementState) error {
	state = models.Normalize(state)

	fields := map[string]interface{}{
		"tier":      string(state.Tier),
		"updatedAt": firestore.ServerTimestamp,
	}
	// 空日期显式清除，降级表现为 tier=free 且 expiresAt 被删除
	if state.StartedAt != nil {
		fields["startedAt"] = *state.StartedAt
	} else {
		fields["startedAt"] = firestore.Delete
	}
	if state.ExpiresAt != nil {
		fields["expiresAt"] = *state.ExpiresAt
	} else {
		fields["expiresAt"] = firestore.Delete
	}

	_, err := s.doc(userID).Set(ctx, map[string]interface{}{
		"subscription": fields,
	}, firestore.MergeAll)
	if err != nil {
		switch status.Code(err) {
		case codes.PermissionDenied, codes.Unauthenticated:
			return fmt.Errorf("%w: %v", ErrWriteRejected, err)
		default:
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

// Listen 订阅用户文档变更
// 快照迭代器立即投递当前状态，之后按该文档的写入顺序投递每次变更，
// 包括本进程自己的写入。返回的取消句柄随时可调用，
// 取消后最多还有一次已在途的投递
func (s *FirestoreStore) Listen(ctx context.Context, userID string, onChange func(models.EntitlementState), onError func(error)) (CancelFunc, error) {
	lctx, cancel := context.WithCancel(ctx)
	it := s.doc(userID).Snapshots(lctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if lctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				logging.Errorf("Entitlement listener failed - user: %s, error: %v", userID, err)
				if onError != nil {
					onError(fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
				}
				return
			}

			state := models.DefaultEntitlement()
			if snap.Exists() {
				decoded, err := decodeSnapshot(snap)
				if err != nil {
					logging.Errorf("Failed to decode entitlement snapshot - user: %s, error: %v", userID, err)
					if onError != nil {
						onError(err)
					}
					continue
				}
				state = decoded
			}
			onChange(state)
		}
	}()

	return CancelFunc(cancel), nil
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (models.EntitlementState, error) {
	if !snap.Exists() {
		return models.DefaultEntitlement(), nil
	}
	var doc userDocument
	if err := snap.DataTo(&doc); err != nil {
		return models.EntitlementState{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return models.Normalize(doc.Subscription), nil
}
