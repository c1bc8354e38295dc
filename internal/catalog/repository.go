package catalog

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hitoshi/fitbattle/internal/model"
	"github.com/hitoshi/fitbattle/internal/repository"
)

const (
	// TypesKey はローカルKVStore上でカタログを保存するキー。
	TypesKey = "activity-types"
	// TypesPath は共有ツリー上でカタログを保持するパス。
	TypesPath = "activityTypes"
)

// Repository はカタログ全体を1つの値として読み書きする永続化インターフェース。
type Repository interface {
	// Load は保存済みのカタログを返す。未保存の場合はfalseを返す。
	// 保存内容が解析できない場合はMalformedConfigurationErrorを返す。
	Load(ctx context.Context) ([]model.ActivityType, bool, error)

	// Save はカタログ全体を上書き保存する。
	Save(ctx context.Context, types []model.ActivityType) error
}

// Watcher は他クライアントによるカタログの変更を通知できるRepository。
type Watcher interface {
	Watch(fn func([]model.ActivityType)) (cancel func())
}

func decodeTypes(source string, raw []byte) ([]model.ActivityType, error) {
	var types []model.ActivityType
	if err := json.Unmarshal(raw, &types); err != nil {
		return nil, model.NewMalformedConfigurationError(source, err.Error())
	}
	if types == nil {
		types = []model.ActivityType{}
	}
	return types, nil
}

// KVRepository はKVStoreにカタログを保存するRepository。
type KVRepository struct {
	kv repository.KVStore
}

// NewKVRepository はKVRepositoryを生成する。
func NewKVRepository(kv repository.KVStore) *KVRepository {
	return &KVRepository{kv: kv}
}

// Load は保存済みのカタログを読み込む。
func (r *KVRepository) Load(ctx context.Context) ([]model.ActivityType, bool, error) {
	raw, ok, err := r.kv.Get(ctx, TypesKey)
	if err != nil {
		return nil, false, model.NewBackendUnavailableError(err.Error())
	}
	if !ok || len(raw) == 0 {
		return nil, false, nil
	}
	types, err := decodeTypes(TypesKey, raw)
	if err != nil {
		return nil, false, err
	}
	return types, true, nil
}

// Save はカタログを保存する。
func (r *KVRepository) Save(ctx context.Context, types []model.ActivityType) error {
	raw, err := json.Marshal(types)
	if err != nil {
		return err
	}
	if err := r.kv.Set(ctx, TypesKey, raw); err != nil {
		return model.NewBackendUnavailableError(err.Error())
	}
	return nil
}

// TreeRepository は共有ツリーのパスにカタログ配列を保存するRepository。
type TreeRepository struct {
	tree   repository.TreeStore
	logger *slog.Logger
}

// NewTreeRepository はTreeRepositoryを生成する。
func NewTreeRepository(tree repository.TreeStore, logger *slog.Logger) *TreeRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeRepository{tree: tree, logger: logger}
}

// Load は共有ツリーからカタログを読み込む。
func (r *TreeRepository) Load(ctx context.Context) ([]model.ActivityType, bool, error) {
	snap, err := r.tree.Snapshot(ctx, TypesPath)
	if err != nil {
		return nil, false, model.NewBackendUnavailableError(err.Error())
	}
	if snap.Value == nil {
		return nil, false, nil
	}
	types, err := decodeTypes(TypesPath, snap.Value)
	if err != nil {
		return nil, false, err
	}
	return types, true, nil
}

// Save はカタログ全体を共有ツリーへ書き込む。同時書き込みは後勝ちになる。
func (r *TreeRepository) Save(ctx context.Context, types []model.ActivityType) error {
	raw, err := json.Marshal(types)
	if err != nil {
		return err
	}
	if err := r.tree.Set(ctx, TypesPath, raw); err != nil {
		return model.NewBackendUnavailableError(err.Error())
	}
	return nil
}

// Watch は共有ツリー上のカタログの変更を購読する。
// 未保存の状態や解析できない値は通知しない。
func (r *TreeRepository) Watch(fn func([]model.ActivityType)) func() {
	return r.tree.Watch(TypesPath, func(snap repository.TreeSnapshot) {
		if snap.Value == nil {
			return
		}
		types, err := decodeTypes(TypesPath, snap.Value)
		if err != nil {
			r.logger.Warn("共有カタログを解析できません", slog.String("error", err.Error()))
			return
		}
		fn(types)
	})
}
