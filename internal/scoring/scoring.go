// Package scoring は運動記録からスコアとランキングを算出する純粋関数を提供する。
//
// ここにある関数は副作用を持たず、同じ入力に対して常にビット単位で同じ結果を返す。
// ランキングは毎回ゼロから再計算し、部分和をキャッシュしない。
package scoring

import (
	"sort"

	"github.com/hitoshi/fitbattle/internal/model"
)

const (
	// DefaultMultiplier はカタログに存在しない種別に適用する倍率。
	DefaultMultiplier = 1.0
	// FriendBonus は友人と一緒に行った運動に適用する倍率。
	FriendBonus = 1.1
)

// Catalog はスコア計算が参照する運動種別カタログのインターフェース。
type Catalog interface {
	// Lookup は名前が完全一致する種別を返す。見つからない場合はfalseを返す。
	Lookup(name string) (model.ActivityType, bool)
}

// TypeList は運動種別のスライスをCatalogとして扱うための型。
// 重複した名前がある場合は先頭の要素が優先される。
type TypeList []model.ActivityType

// Lookup は名前が完全一致する最初の種別を返す。
func (l TypeList) Lookup(name string) (model.ActivityType, bool) {
	for _, t := range l {
		if t.Name == name {
			return t, true
		}
	}
	return model.ActivityType{}, false
}

// Multiplier は種別名に対応する倍率を返す。
// 未登録の種別や、catalogがnilの場合はDefaultMultiplierを返す。
func Multiplier(typeName string, catalog Catalog) float64 {
	if catalog == nil {
		return DefaultMultiplier
	}
	if t, ok := catalog.Lookup(typeName); ok {
		return t.Multiplier
	}
	return DefaultMultiplier
}

// friendBonus は友人フラグに対応する倍率を返す。
func friendBonus(withFriend bool) float64 {
	if withFriend {
		return FriendBonus
	}
	return 1.0
}

// ComputeScore は1件の運動記録のスコアを返す。
// distance × 種別倍率 × 友人ボーナス。
func ComputeScore(activity model.Activity, catalog Catalog) float64 {
	return activity.Distance * Multiplier(activity.Type, catalog) * friendBonus(activity.WithFriend)
}

// ComputeRankings はメンバー・運動記録・カタログからランキングを算出する。
//
// 全メンバーを0.0で初期化し、各記録のスコアをUserの文字列をキーに加算する。
// ロスターに存在しないUserもそのままの名前で集計し、初出順にロスターの後ろへ並べる。
// 並べ替えはスコア降順の安定ソートで、同点の場合は上記の列挙順を維持する。
func ComputeRankings(members []model.Member, activities []model.Activity, catalog Catalog) []model.RankingEntry {
	index := make(map[string]int, len(members))
	entries := make([]model.RankingEntry, 0, len(members))

	for _, m := range members {
		if _, seen := index[m.Name]; seen {
			continue
		}
		index[m.Name] = len(entries)
		entries = append(entries, model.RankingEntry{Name: m.Name, Score: 0.0})
	}

	for _, a := range activities {
		i, ok := index[a.User]
		if !ok {
			i = len(entries)
			index[a.User] = i
			entries = append(entries, model.RankingEntry{Name: a.User, Score: 0.0})
		}
		entries[i].Score += ComputeScore(a, catalog)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	return entries
}

// Top はランキングの1位を返す。ランキングが空の場合はfalseを返す。
func Top(rankings []model.RankingEntry) (model.RankingEntry, bool) {
	if len(rankings) == 0 {
		return model.RankingEntry{}, false
	}
	return rankings[0], true
}
