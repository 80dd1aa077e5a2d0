package interview

import "math"

// QuestionCount maps an interview duration in minutes to the number of
// questions asked.
func QuestionCount(durationMinutes int) int {
	switch {
	case durationMinutes <= 10:
		return 6
	case durationMinutes <= 30:
		return 14
	case durationMinutes <= 60:
		return 25
	default:
		return int(math.Ceil(float64(durationMinutes) / 60 * 25))
	}
}
