package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/fitbattle/internal/model"
	"github.com/hitoshi/fitbattle/internal/notify"
	"github.com/hitoshi/fitbattle/internal/repository"
)

// ActivitiesPath は共有ツリー上で記録を保持するパス。
const ActivitiesPath = "activities"

const backendRealtime = "realtime"

// activityRecord は共有ツリーに保存する記録の形。IDは子ノードのキーを使う。
type activityRecord struct {
	User       string    `json:"user"`
	Type       string    `json:"type"`
	Distance   float64   `json:"distance"`
	WithFriend bool      `json:"withFriend"`
	Photo      string    `json:"photo,omitempty"`
	Date       time.Time `json:"date"`
}

// RealtimeStore はTreeStoreを正本とするActivityStore。
// 書き込みはツリーへ送るだけで、手元の一覧はツリーからの変更通知でのみ更新する。
// 一覧は日時の降順、同時刻はIDの降順で並ぶ。
type RealtimeStore struct {
	tree repository.TreeStore
	opts Options

	mu          sync.Mutex
	state       State
	activities  []model.Activity
	cancelWatch func()
	broadcast   *notify.Broadcaster[[]model.Activity]
}

// NewRealtimeStore はRealtimeStoreを生成する。Startを呼ぶまで購読は開始されない。
func NewRealtimeStore(tree repository.TreeStore, opts Options) *RealtimeStore {
	return &RealtimeStore{
		tree:       tree,
		opts:       opts.withDefaults(),
		activities: []model.Activity{},
		broadcast:  notify.New[[]model.Activity](),
	}
}

// Start は共有ツリーの購読を開始しLoading状態にする。
// 初回スナップショットを受信した時点でReadyになる。
func (s *RealtimeStore) Start() {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return
	}
	s.state = StateLoading
	s.mu.Unlock()

	cancel := s.tree.Watch(ActivitiesPath, s.apply)

	s.mu.Lock()
	s.cancelWatch = cancel
	s.mu.Unlock()
}

// apply はツリーのスナップショットで一覧を置き換え、購読者へ通知する。
func (s *RealtimeStore) apply(snap repository.TreeSnapshot) {
	activities := make([]model.Activity, 0, len(snap.Children))
	for _, child := range snap.Children {
		var rec activityRecord
		if err := json.Unmarshal(child.Value, &rec); err != nil {
			s.opts.Logger.Warn("解析できない運動記録をスキップしました",
				slog.String("id", child.Key),
				slog.String("error", err.Error()),
			)
			continue
		}
		activities = append(activities, model.Activity{
			ID:         child.Key,
			User:       rec.User,
			Type:       rec.Type,
			Distance:   rec.Distance,
			WithFriend: rec.WithFriend,
			Photo:      rec.Photo,
			Date:       rec.Date.UTC(),
		})
	}
	SortByDateDesc(activities)

	s.mu.Lock()
	if s.state == StateUninitialized {
		// Close済み
		s.mu.Unlock()
		return
	}
	first := s.state == StateLoading
	s.activities = activities
	s.state = StateReady
	s.mu.Unlock()

	if first {
		s.opts.Logger.Info("共有ツリーから運動記録を読み込みました",
			slog.String("backend", backendRealtime),
			slog.Int("count", len(activities)),
		)
	}
	s.opts.Metrics.RecordStoreEvent(backendRealtime)
	s.broadcast.Publish(cloneActivities(activities))
}

// Add は記録を検証して共有ツリーへ追加する。
// 手元の一覧への反映は変更通知を待って行われる。
func (s *RealtimeStore) Add(ctx context.Context, in model.ActivityInput) (model.Activity, error) {
	activity, err := validateInput(in, s.opts)
	if err != nil {
		return model.Activity{}, err
	}
	activity.Date = s.opts.Clock().UTC()

	raw, err := json.Marshal(activityRecord{
		User:       activity.User,
		Type:       activity.Type,
		Distance:   activity.Distance,
		WithFriend: activity.WithFriend,
		Photo:      activity.Photo,
		Date:       activity.Date,
	})
	if err != nil {
		return model.Activity{}, fmt.Errorf("運動記録のエンコードに失敗しました: %w", err)
	}

	key, err := s.tree.Push(ctx, ActivitiesPath, raw)
	if err != nil {
		s.opts.Logger.Error("運動記録の追加に失敗しました",
			slog.String("backend", backendRealtime),
			slog.String("error", err.Error()),
		)
		return model.Activity{}, model.NewBackendUnavailableError(err.Error())
	}
	activity.ID = key

	s.opts.Metrics.RecordActivityAdded(backendRealtime)
	return activity, nil
}

// Remove は共有ツリーから記録を削除する。存在しない場合は何もしない。
func (s *RealtimeStore) Remove(ctx context.Context, id string) error {
	if err := s.tree.Remove(ctx, ActivitiesPath, id); err != nil {
		s.opts.Logger.Error("運動記録の削除に失敗しました",
			slog.String("backend", backendRealtime),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return model.NewBackendUnavailableError(err.Error())
	}
	s.opts.Metrics.RecordActivityRemoved(backendRealtime)
	return nil
}

// List は日時降順の記録一覧を返す。Loading中は空スライスを返す。
func (s *RealtimeStore) List(_ context.Context) ([]model.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return []model.Activity{}, nil
	}
	return cloneActivities(s.activities), nil
}

// Subscribe は一覧の変更を購読する。Ready前に登録した場合、初回配信はReady時に行われる。
func (s *RealtimeStore) Subscribe(fn func([]model.Activity)) func() {
	return s.broadcast.Subscribe(fn)
}

// State は初期化状態を返す。
func (s *RealtimeStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close は共有ツリーの購読と購読者への配信を停止する。
func (s *RealtimeStore) Close() {
	s.mu.Lock()
	cancel := s.cancelWatch
	s.cancelWatch = nil
	s.state = StateUninitialized
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.broadcast.Close()
}

// SortByDateDesc は記録を日時の降順に並べる。同時刻はIDの降順。
func SortByDateDesc(activities []model.Activity) {
	sort.SliceStable(activities, func(i, j int) bool {
		a, b := activities[i], activities[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.After(b.Date)
		}
		return a.ID > b.ID
	})
}
