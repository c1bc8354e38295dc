package model

import "time"

// Activity は記録された1件の運動を表す。
// IDとDateはストアが採番・付与し、スコア計算側からは読み取り専用として扱う。
type Activity struct {
	ID         string    `json:"id"`
	User       string    `json:"user"`
	Type       string    `json:"type"`
	Distance   float64   `json:"distance"`
	WithFriend bool      `json:"withFriend"`
	Photo      string    `json:"photo,omitempty"` // data URI。中身は解釈しない
	Date       time.Time `json:"date"`
}

// ActivityInput は書き込み側から渡される未保存の運動記録。
// Distanceはフォーム入力をそのまま受けるため文字列で保持する。
type ActivityInput struct {
	User       string
	Type       string
	Distance   string
	WithFriend bool
	Photo      string
}
