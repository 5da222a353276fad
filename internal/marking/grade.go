package marking

// GradeUngraded is the grade below the lowest ladder step.
const GradeUngraded = "U"

// gradeLadder maps a minimum percentage to a grade, highest first.
var gradeLadder = []struct {
	minPercent int
	grade      string
}{
	{97, "9"},
	{90, "8"},
	{80, "7"},
	{70, "6"},
	{60, "5"},
	{50, "4"},
	{40, "3"},
	{30, "2"},
	{20, "1"},
}

// GradeForScore derives a grade from score out of maxScore. The comparison is
// done in integers so boundary scores never fall through on rounding.
func GradeForScore(score, maxScore int) string {
	if maxScore <= 0 {
		maxScore = DefaultMaxScore
	}
	for _, step := range gradeLadder {
		if score*100 >= step.minPercent*maxScore {
			return step.grade
		}
	}
	return GradeUngraded
}

// IsValidGrade reports whether g is a grade the ladder can produce.
func IsValidGrade(g string) bool {
	if g == GradeUngraded {
		return true
	}
	for _, step := range gradeLadder {
		if step.grade == g {
			return true
		}
	}
	return false
}

// ClampScore bounds score to [0, maxScore]. ClampScore(ClampScore(x)) equals
// ClampScore(x) for every x.
func ClampScore(score, maxScore int) int {
	if maxScore <= 0 {
		maxScore = DefaultMaxScore
	}
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
