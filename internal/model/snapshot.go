package model

import "time"

// RankingEntry はランキングの1行を表す。永続化されない導出値。
type RankingEntry struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// Snapshot は再計算のたびに生成される不変の導出状態。
// 購読者へはこの値がそのまま渡されるため、受け取った側で変更してはならない。
type Snapshot struct {
	Version          uint64         `json:"version"`
	Rankings         []RankingEntry `json:"rankings"`
	RecentActivities []Activity     `json:"recentActivities"`
	TotalActivities  int            `json:"totalActivities"`
	ComputedAt       time.Time      `json:"computedAt"`
}

// ShareSummary は外部の共有モジュールに渡す読み取り専用の要約。
// 1位が存在しない場合、TopNameは空文字列、TopScoreは0になる。
type ShareSummary struct {
	TopName         string  `json:"topName"`
	TopScore        float64 `json:"topScore"`
	TotalActivities int     `json:"totalActivities"`
}
