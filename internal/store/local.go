package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/fitbattle/internal/model"
	"github.com/hitoshi/fitbattle/internal/notify"
	"github.com/hitoshi/fitbattle/internal/repository"
)

// ActivitiesKey はローカルKVStore上で記録一覧を保存するキー。
const ActivitiesKey = "activities"

const backendLocal = "local"

// LocalStore はKVStoreに記録一覧をJSON配列で保存するActivityStore。
// 一覧は追加順を保持する。書き込みはこのプロセスからのみ行われる前提。
type LocalStore struct {
	kv   repository.KVStore
	opts Options

	mu         sync.Mutex
	state      State
	activities []model.Activity
	broadcast  *notify.Broadcaster[[]model.Activity]
}

// NewLocalStore はLocalStoreを生成する。Loadを呼ぶまで記録は読み込まれない。
func NewLocalStore(kv repository.KVStore, opts Options) *LocalStore {
	return &LocalStore{
		kv:         kv,
		opts:       opts.withDefaults(),
		activities: []model.Activity{},
		broadcast:  notify.New[[]model.Activity](),
	}
}

// Load は保存済みの記録を読み込みReady状態にする。
// 保存内容が解析できない場合はMalformedConfigurationErrorを返し、Uninitializedに戻る。
func (s *LocalStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateLoading
	raw, ok, err := s.kv.Get(ctx, ActivitiesKey)
	if err != nil {
		s.state = StateUninitialized
		return model.NewBackendUnavailableError(err.Error())
	}

	activities := []model.Activity{}
	if ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &activities); err != nil {
			s.state = StateUninitialized
			return model.NewMalformedConfigurationError(ActivitiesKey, err.Error())
		}
		if activities == nil {
			activities = []model.Activity{}
		}
	}

	s.activities = activities
	s.state = StateReady
	s.broadcast.Publish(cloneActivities(activities))
	s.opts.Logger.Info("運動記録を読み込みました",
		slog.String("backend", backendLocal),
		slog.Int("count", len(activities)),
	)
	return nil
}

// Add は記録を検証して末尾に追加し、保存してから購読者へ通知する。
func (s *LocalStore) Add(ctx context.Context, in model.ActivityInput) (model.Activity, error) {
	activity, err := validateInput(in, s.opts)
	if err != nil {
		return model.Activity{}, err
	}
	activity.ID = uuid.NewString()
	activity.Date = s.opts.Clock().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return model.Activity{}, model.NewBackendUnavailableError("記録がまだ読み込まれていません")
	}

	next := make([]model.Activity, len(s.activities), len(s.activities)+1)
	copy(next, s.activities)
	next = append(next, activity)
	if err := s.persistLocked(ctx, next); err != nil {
		return model.Activity{}, err
	}

	s.opts.Metrics.RecordActivityAdded(backendLocal)
	return activity, nil
}

// Remove は指定IDの記録を削除する。存在しない場合は何もしない。
func (s *LocalStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return model.NewBackendUnavailableError("記録がまだ読み込まれていません")
	}

	idx := -1
	for i, a := range s.activities {
		if a.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	next := make([]model.Activity, 0, len(s.activities)-1)
	next = append(next, s.activities[:idx]...)
	next = append(next, s.activities[idx+1:]...)
	if err := s.persistLocked(ctx, next); err != nil {
		return err
	}

	s.opts.Metrics.RecordActivityRemoved(backendLocal)
	return nil
}

// List は追加順の記録一覧を返す。
func (s *LocalStore) List(_ context.Context) ([]model.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return []model.Activity{}, nil
	}
	return cloneActivities(s.activities), nil
}

// Subscribe は一覧の変更を購読する。
func (s *LocalStore) Subscribe(fn func([]model.Activity)) func() {
	return s.broadcast.Subscribe(fn)
}

// State は初期化状態を返す。
func (s *LocalStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close は購読者への配信を停止する。
func (s *LocalStore) Close() {
	s.broadcast.Close()
}

// persistLocked はnextを保存し、成功した場合のみメモリ上の一覧を置き換えて通知する。
func (s *LocalStore) persistLocked(ctx context.Context, next []model.Activity) error {
	raw, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("運動記録のエンコードに失敗しました: %w", err)
	}
	if err := s.kv.Set(ctx, ActivitiesKey, raw); err != nil {
		s.opts.Logger.Error("運動記録の保存に失敗しました",
			slog.String("backend", backendLocal),
			slog.String("error", err.Error()),
		)
		return model.NewBackendUnavailableError(err.Error())
	}

	s.activities = next
	s.opts.Metrics.RecordStoreEvent(backendLocal)
	s.broadcast.Publish(cloneActivities(next))
	return nil
}
