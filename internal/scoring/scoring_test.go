package scoring

import (
	"math"
	"reflect"
	"testing"

	"github.com/hitoshi/fitbattle/internal/model"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func defaults() TypeList {
	return TypeList(model.DefaultActivityTypes())
}

func TestComputeScore(t *testing.T) {
	tests := []struct {
		name     string
		activity model.Activity
		want     float64
	}{
		{"running without friend", model.Activity{Type: "러닝", Distance: 5}, 5.0},
		{"swimming with friend", model.Activity{Type: "수영", Distance: 2, WithFriend: true}, 3.3},
		{"sea swimming", model.Activity{Type: "바다수영", Distance: 1.5}, 3.0},
		{"unknown type defaults to 1.0", model.Activity{Type: "미등록", Distance: 10}, 10.0},
		{"unknown type with friend", model.Activity{Type: "미등록", Distance: 10, WithFriend: true}, 11.0},
		{"zero distance", model.Activity{Type: "수영", Distance: 0, WithFriend: true}, 0.0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeScore(tc.activity, defaults())
			if !almostEqual(got, tc.want) {
				t.Errorf("ComputeScore() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestComputeScore_NilCatalog(t *testing.T) {
	got := ComputeScore(model.Activity{Type: "수영", Distance: 4}, nil)
	if got != 4.0 {
		t.Errorf("ComputeScore(nil catalog) = %v, want 4", got)
	}
}

func TestTypeList_Lookup_FirstMatchWins(t *testing.T) {
	list := TypeList{
		{Name: "요가", Multiplier: 2.0},
		{Name: "요가", Multiplier: 3.0},
	}
	got, ok := list.Lookup("요가")
	if !ok {
		t.Fatal("expected lookup hit")
	}
	if got.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0 (first match)", got.Multiplier)
	}
	if _, ok := list.Lookup("요가 "); ok {
		t.Error("lookup must be exact match")
	}
}

func TestComputeRankings_ExampleScore(t *testing.T) {
	members := []model.Member{{ID: 1, Name: "A"}}
	activities := []model.Activity{
		{User: "A", Type: "러닝", Distance: 5, WithFriend: false},
		{User: "A", Type: "수영", Distance: 2, WithFriend: true},
	}

	got := ComputeRankings(members, activities, defaults())
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].Name != "A" || !almostEqual(got[0].Score, 8.3) {
		t.Errorf("got %+v, want A=8.3", got[0])
	}
}

func TestComputeRankings_EmptyInputs(t *testing.T) {
	got := ComputeRankings(nil, nil, defaults())
	if len(got) != 0 {
		t.Errorf("ComputeRankings([], [], defaults) = %v, want []", got)
	}
	if got == nil {
		t.Error("expected empty non-nil slice for JSON encoding")
	}
}

func TestComputeRankings_NoActivities_RosterOrderAtZero(t *testing.T) {
	members := model.DefaultMembers()
	got := ComputeRankings(members, nil, defaults())

	if len(got) != len(members) {
		t.Fatalf("len = %d, want %d", len(got), len(members))
	}
	for i, m := range members {
		if got[i].Name != m.Name {
			t.Errorf("rankings[%d].Name = %q, want %q", i, got[i].Name, m.Name)
		}
		if got[i].Score != 0.0 {
			t.Errorf("rankings[%d].Score = %v, want exactly 0", i, got[i].Score)
		}
	}
}

func TestComputeRankings_EmptyRosterStillScoresUsers(t *testing.T) {
	activities := []model.Activity{
		{User: "X", Type: "러닝", Distance: 1},
		{User: "Y", Type: "러닝", Distance: 3},
	}
	got := ComputeRankings(nil, activities, defaults())
	want := []model.RankingEntry{{Name: "Y", Score: 3}, {Name: "X", Score: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestComputeRankings_NonRosterUserAppended(t *testing.T) {
	members := []model.Member{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}
	activities := []model.Activity{{User: "게스트", Type: "러닝", Distance: 0}}

	got := ComputeRankings(members, activities, defaults())
	names := []string{got[0].Name, got[1].Name, got[2].Name}
	want := []string{"A", "B", "게스트"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v", names, want)
	}
}

func TestComputeRankings_StableTieBreak(t *testing.T) {
	members := []model.Member{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}, {ID: 3, Name: "C"}, {ID: 4, Name: "D"}}
	activities := []model.Activity{
		{User: "D", Type: "러닝", Distance: 5},
		{User: "B", Type: "러닝", Distance: 5},
		{User: "C", Type: "러닝", Distance: 7},
	}

	got := ComputeRankings(members, activities, defaults())
	var names []string
	for _, e := range got {
		names = append(names, e.Name)
	}
	// B と D は同点なのでロスター順（B が先）、A は0点で最後
	want := []string{"C", "B", "D", "A"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("order = %v, want %v", names, want)
	}
}

func TestComputeRankings_SortedNonIncreasing(t *testing.T) {
	members := model.DefaultMembers()
	var activities []model.Activity
	for i := 0; i < 50; i++ {
		m := members[(i*3)%len(members)]
		activities = append(activities, model.Activity{
			User:       m.Name,
			Type:       defaults()[i%5].Name,
			Distance:   float64(i%7) + 0.5,
			WithFriend: i%2 == 0,
		})
	}

	got := ComputeRankings(members, activities, defaults())
	for i := 1; i < len(got); i++ {
		if got[i-1].Score < got[i].Score {
			t.Fatalf("rankings not sorted at %d: %v < %v", i, got[i-1].Score, got[i].Score)
		}
	}
}

func TestComputeRankings_Idempotent(t *testing.T) {
	members := model.DefaultMembers()
	activities := []model.Activity{
		{User: members[0].Name, Type: "수영", Distance: 1.7, WithFriend: true},
		{User: members[3].Name, Type: "바다수영", Distance: 0.3},
		{User: "외부인", Type: "미등록", Distance: 2.2},
	}

	first := ComputeRankings(members, activities, defaults())
	second := ComputeRankings(members, activities, defaults())
	if !reflect.DeepEqual(first, second) {
		t.Errorf("ComputeRankings is not idempotent: %v vs %v", first, second)
	}
}

func TestComputeRankings_CoversRosterAndUsers(t *testing.T) {
	members := []model.Member{{ID: 1, Name: "A"}, {ID: 2, Name: "B"}}
	activities := []model.Activity{
		{User: "A", Type: "러닝", Distance: 1},
		{User: "Z", Type: "러닝", Distance: 1},
		{User: "Z", Type: "러닝", Distance: 1},
	}
	got := ComputeRankings(members, activities, defaults())
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (A, B, Z)", len(got))
	}
	for _, e := range got {
		if e.Name == "B" && e.Score != 0.0 {
			t.Errorf("B score = %v, want 0", e.Score)
		}
	}
}

func TestComputeRankings_DoesNotMutateInputs(t *testing.T) {
	members := []model.Member{{ID: 1, Name: "A"}}
	activities := []model.Activity{{ID: "1", User: "A", Type: "러닝", Distance: 3}}
	catalog := defaults()

	before := append([]model.Activity(nil), activities...)
	_ = ComputeRankings(members, activities, catalog)
	if !reflect.DeepEqual(before, activities) {
		t.Error("ComputeRankings mutated activities")
	}
}

func TestTop(t *testing.T) {
	if _, ok := Top(nil); ok {
		t.Error("Top(nil) should report false")
	}
	top, ok := Top([]model.RankingEntry{{Name: "A", Score: 2}, {Name: "B", Score: 1}})
	if !ok || top.Name != "A" {
		t.Errorf("Top() = %+v, %v", top, ok)
	}
}
