package sourcemodel

import "math"

// ScoreStats summarizes the window scores of one file.
type ScoreStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes the population statistics of the window scores.
func Summarize(windows []WindowScore) ScoreStats {
	if len(windows) == 0 {
		return ScoreStats{}
	}

	stats := ScoreStats{
		Count: len(windows),
		Min:   windows[0].Score,
		Max:   windows[0].Score,
	}

	sum := 0.0
	for _, w := range windows {
		sum += w.Score
		stats.Min = math.Min(stats.Min, w.Score)
		stats.Max = math.Max(stats.Max, w.Score)
	}
	stats.Mean = sum / float64(len(windows))

	variance := 0.0
	for _, w := range windows {
		d := w.Score - stats.Mean
		variance += d * d
	}
	stats.StdDev = math.Sqrt(variance / float64(len(windows)))

	return stats
}

// ZScore returns how many standard deviations score lies from the mean,
// or 0 when the scores do not vary.
func (s ScoreStats) ZScore(score float64) float64 {
	if s.StdDev == 0 {
		return 0
	}
	return (score - s.Mean) / s.StdDev
}

// Z-score levels.
const (
	LevelVeryLow  = "very_low"
	LevelLow      = "low"
	LevelNormal   = "normal"
	LevelHigh     = "high"
	LevelVeryHigh = "very_high"
)

// InterpretZScore buckets a z-score by whole standard deviations.
func InterpretZScore(z float64) string {
	switch {
	case z < -2.0:
		return LevelVeryLow
	case z < -1.0:
		return LevelLow
	case z <= 1.0:
		return LevelNormal
	case z <= 2.0:
		return LevelHigh
	default:
		return LevelVeryHigh
	}
}
