package model

// ActivityType は運動種別とスコア倍率の組を表す。
// Nameは大文字小文字を区別するキーだが、重複は許容される（検索は先頭一致）。
type ActivityType struct {
	Name       string  `json:"name"`
	Multiplier float64 `json:"multiplier"`
}

// DefaultActivityTypes は初回起動時に書き込まれる既定の運動種別。
// 並び順はカタログ画面の表示順になる。
func DefaultActivityTypes() []ActivityType {
	return []ActivityType{
		{Name: "러닝", Multiplier: 1.0},
		{Name: "수영", Multiplier: 1.5},
		{Name: "바다수영", Multiplier: 2.0},
		{Name: "등산", Multiplier: 1.0},
		{Name: "사이클", Multiplier: 1.0},
	}
}
