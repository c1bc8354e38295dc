// Package model はドメインモデルを定義する。
package model

// Member は競争に参加する固定メンバーを表す。
// ロスターは設定から与えられ、実行中に増減しない。
type Member struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// DefaultMembers は設定でロスターが指定されなかった場合のメンバー一覧。
func DefaultMembers() []Member {
	return []Member{
		{ID: 1, Name: "강동훈"},
		{ID: 2, Name: "권영근"},
		{ID: 3, Name: "서정환"},
		{ID: 4, Name: "정성효"},
		{ID: 5, Name: "조현오"},
		{ID: 6, Name: "천창익"},
		{ID: 7, Name: "황대한"},
	}
}
