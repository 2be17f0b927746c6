package domain

import "testing"

func TestLevelFor_Table(t *testing.T) {
	tests := []struct {
		points    int
		wantLevel int
	}{
		{-5, 1}, {0, 1}, {20, 1}, {24, 1}, {25, 2}, {29, 2}, {30, 3},
		{74, 3}, {75, 4}, {999, 9}, {1000, 10}, {50000, 10},
	}
	for _, tc := range tests {
		if got := LevelFor(tc.points).Level; got != tc.wantLevel {
			t.Fatalf("LevelFor(%d) = %d; want %d", tc.points, got, tc.wantLevel)
		}
	}
}

func TestLevels_AscendingAndCopied(t *testing.T) {
	ls := Levels()
	if ls[0].MinPoints != 0 {
		t.Fatalf("table must start at zero points")
	}
	for i := 1; i < len(ls); i++ {
		if ls[i].MinPoints <= ls[i-1].MinPoints || ls[i].Level != ls[i-1].Level+1 {
			t.Fatalf("table not strictly ascending at %d: %+v", i, ls[i])
		}
	}
	ls[0].Title = "mutated"
	if Levels()[0].Title == "mutated" {
		t.Fatalf("Levels must return a copy")
	}
}

func TestUser_AddPoints_RecomputesLevelAndTitle(t *testing.T) {
	u := &User{AchievementPoints: 20, UserLevel: 1, UserTitle: "Newcomer"}
	prev, next := u.AddPoints(10)
	if prev.Level != 1 || next.Level != 3 {
		t.Fatalf("expected 1 -> 3, got %d -> %d", prev.Level, next.Level)
	}
	if u.AchievementPoints != 30 || u.UserLevel != 3 || u.UserTitle != next.Title {
		t.Fatalf("user not updated consistently: %+v", u)
	}
	if LevelFor(u.AchievementPoints).Level != u.UserLevel {
		t.Fatalf("level out of sync with points")
	}
}

func TestNextLevel(t *testing.T) {
	next, ok := NextLevel(0)
	if !ok || next.Level != 2 || next.MinPoints != 25 {
		t.Fatalf("NextLevel(0) = %+v, %v", next, ok)
	}
	next, ok = NextLevel(29)
	if !ok || next.Level != 3 {
		t.Fatalf("NextLevel(29) = %+v, %v", next, ok)
	}
	if _, ok := NextLevel(5000); ok {
		t.Fatal("expected no level above the top")
	}
}
