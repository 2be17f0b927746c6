package domain

// Level is one row of the fixed progression table.
type Level struct {
	MinPoints int    `json:"min_points"`
	Level     int    `json:"level"`
	Title     string `json:"title"`
}

// levelTable is ordered by MinPoints ascending and starts at zero.
var levelTable = []Level{
	{MinPoints: 0, Level: 1, Title: "Newcomer"},
	{MinPoints: 25, Level: 2, Title: "Reader"},
	{MinPoints: 30, Level: 3, Title: "Contributor"},
	{MinPoints: 75, Level: 4, Title: "Regular"},
	{MinPoints: 150, Level: 5, Title: "Modder"},
	{MinPoints: 250, Level: 6, Title: "Skilled Modder"},
	{MinPoints: 400, Level: 7, Title: "Veteran"},
	{MinPoints: 600, Level: 8, Title: "Expert"},
	{MinPoints: 800, Level: 9, Title: "Master"},
	{MinPoints: 1000, Level: 10, Title: "Legend"},
}

// LevelFor returns the highest level whose threshold is <= points.
// Negative totals map to the first level.
func LevelFor(points int) Level {
	lv := levelTable[0]
	for _, row := range levelTable[1:] {
		if points < row.MinPoints {
			break
		}
		lv = row
	}
	return lv
}

// Levels returns a copy of the progression table.
func Levels() []Level {
	out := make([]Level, len(levelTable))
	copy(out, levelTable)
	return out
}

// AddPoints adds delta to the user's points and recomputes level and title.
// It returns the level before and after the change.
func (u *User) AddPoints(delta int) (prev, next Level) {
	prev = LevelFor(u.AchievementPoints)
	u.AchievementPoints += delta
	next = LevelFor(u.AchievementPoints)
	u.UserLevel = next.Level
	u.UserTitle = next.Title
	return prev, next
}

// NextLevel returns the level following the one points currently earns, or
// false at the top of the table.
func NextLevel(points int) (Level, bool) {
	cur := LevelFor(points)
	for _, row := range levelTable {
		if row.Level == cur.Level+1 {
			return row, true
		}
	}
	return Level{}, false
}
