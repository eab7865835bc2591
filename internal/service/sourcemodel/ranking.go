package sourcemodel

import (
	"context"
	"fmt"
	"strings"

	"unnatural-go/internal/model/lexeme"
)

// RankedWindow is a window annotated for reporting.
type RankedWindow struct {
	WindowScore
	ZScore float64 `json:"z_score"`
	Level  string  `json:"level"`
	Text   string  `json:"text"`
}

// Ranking is the result of ranking the windows of one sequence.
type Ranking struct {
	WindowSize int            `json:"window_size"`
	Lexemes    int            `json:"lexemes"`
	Stats      ScoreStats     `json:"stats"`
	Windows    []RankedWindow `json:"windows"`
}

// Rank ranks the windows of the significant lexemes of seq and keeps the
// top worst; top < 1 keeps every window. Statistics cover every window.
func (m *SourceModel) Rank(ctx context.Context, seq lexeme.Sequence, windowSize, top int) (*Ranking, error) {
	if windowSize < 1 {
		windowSize = m.opts.WindowSize
	}
	significant := seq.Significant()

	worst, err := m.WorstWindows(ctx, significant, windowSize)
	if err != nil {
		return nil, err
	}

	ranking := &Ranking{
		WindowSize: windowSize,
		Lexemes:    len(significant),
		Stats:      Summarize(worst),
	}
	if top > 0 && top < len(worst) {
		worst = worst[:top]
	}

	ranking.Windows = make([]RankedWindow, 0, len(worst))
	for _, w := range worst {
		text, err := m.Corpify(significant.Window(w.Index, windowSize))
		if err != nil {
			return nil, err
		}
		z := ranking.Stats.ZScore(w.Score)
		ranking.Windows = append(ranking.Windows, RankedWindow{
			WindowScore: w,
			ZScore:      z,
			Level:       InterpretZScore(z),
			Text:        text,
		})
	}
	return ranking, nil
}

// String renders the ranking as a summary line and one line per window.
func (r *Ranking) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d windows of %d tokens, mean %.4f, std dev %.4f\n",
		r.Stats.Count, r.WindowSize, r.Stats.Mean, r.Stats.StdDev)
	for i, w := range r.Windows {
		fmt.Fprintf(&b, "%d. window %d at %s-%s score %.4f z %.2f (%s): %s\n",
			i+1, w.Index, w.Start, w.End, w.Score, w.ZScore, w.Level, w.Text)
	}
	return b.String()
}
