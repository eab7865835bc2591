package sourcemodel

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"sort"

	"unnatural-go/internal/model"
	"unnatural-go/internal/model/lexeme"
	"unnatural-go/internal/service/stringify"
	"unnatural-go/internal/service/tokenizer"

	"go.uber.org/zap"
)

// Corpus is the part of a corpus manager the source model needs.
type Corpus interface {
	AppendTrainingText(ctx context.Context, text string) error
	QueryCorpus(ctx context.Context, text string) (float64, error)
	Release() error
}

// Options configures a SourceModel.
type Options struct {
	WindowSize int    // default window size for windowed queries
	Language   string // tokenizer for paths with an unregistered extension
}

// WindowScore is the score of one window of a lexeme sequence.
type WindowScore struct {
	Index int             `json:"index"`
	Score float64         `json:"score"`
	Start lexeme.Position `json:"start"`
	End   lexeme.Position `json:"end"`
}

// FileFailure records why one file of a project did not train.
type FileFailure struct {
	Path string
	Err  error
}

// ProjectReport summarizes a TrainProject run.
type ProjectReport struct {
	Succeeded []string
	Failed    []FileFailure
}

// Total returns the number of files attempted.
func (r *ProjectReport) Total() int {
	return len(r.Succeeded) + len(r.Failed)
}

// SourceModel trains and queries a corpus with source code, going through
// the tokenizer and stringifier.
type SourceModel struct {
	corpus     Corpus
	tokenizers *tokenizer.TokenizerRegistry
	opts       Options
	logger     *zap.Logger
}

// NewSourceModel wraps corpus. The model releases corpus on Release; the
// tokenizer registry stays owned by the caller.
func NewSourceModel(corpus Corpus, tokenizers *tokenizer.TokenizerRegistry, opts Options, logger *zap.Logger) *SourceModel {
	if opts.WindowSize < 1 {
		opts.WindowSize = 20
	}
	if opts.Language == "" {
		opts.Language = "python"
	}
	return &SourceModel{
		corpus:     corpus,
		tokenizers: tokenizers,
		opts:       opts,
		logger:     logger,
	}
}

// WindowSize returns the default window size.
func (m *SourceModel) WindowSize() int {
	return m.opts.WindowSize
}

func (m *SourceModel) tokenizerFor(language string) (tokenizer.Tokenizer, error) {
	if language == "" {
		language = m.opts.Language
	}
	tok, ok := m.tokenizers.GetTokenizer(language)
	if !ok {
		return nil, &model.TokenizeError{Language: language, Msg: "no tokenizer registered"}
	}
	return tok, nil
}

func (m *SourceModel) tokenizerForPath(path string) (tokenizer.Tokenizer, error) {
	if tok, ok := m.tokenizers.GetTokenizerForPath(path); ok {
		return tok, nil
	}
	return m.tokenizerFor("")
}

// Lex tokenizes source with the tokenizer for language, or the default
// language when it is empty.
func (m *SourceModel) Lex(ctx context.Context, language string, source []byte) (lexeme.Sequence, error) {
	tok, err := m.tokenizerFor(language)
	if err != nil {
		return nil, err
	}
	return tok.Lex(ctx, source)
}

// LexFile reads and tokenizes path, picking the tokenizer by extension.
func (m *SourceModel) LexFile(ctx context.Context, path string) (lexeme.Sequence, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	tok, err := m.tokenizerForPath(path)
	if err != nil {
		return nil, err
	}
	seq, err := tok.Lex(ctx, source)
	if err != nil {
		var te *model.TokenizeError
		if errors.As(err, &te) && te.Path == "" {
			te.Path = path
		}
		return nil, err
	}
	return seq, nil
}

// Corpify renders seq in the form the corpus stores.
func (m *SourceModel) Corpify(seq lexeme.Sequence) (string, error) {
	return stringify.StringifyAll(seq)
}

func (m *SourceModel) train(ctx context.Context, seq lexeme.Sequence) error {
	text, err := m.Corpify(seq.Significant())
	if err != nil {
		return err
	}
	return m.corpus.AppendTrainingText(ctx, text)
}

// TrainString trains the corpus with source in the default language.
func (m *SourceModel) TrainString(ctx context.Context, source string) error {
	seq, err := m.Lex(ctx, "", []byte(source))
	if err != nil {
		return err
	}
	return m.train(ctx, seq)
}

// TrainFile trains the corpus with the file at path.
func (m *SourceModel) TrainFile(ctx context.Context, path string) error {
	seq, err := m.LexFile(ctx, path)
	if err != nil {
		return err
	}
	if err := m.train(ctx, seq); err != nil {
		return fmt.Errorf("failed to train %s: %w", path, err)
	}
	m.logger.Debug("Trained file", zap.String("path", path), zap.Int("lexemes", len(seq)))
	return nil
}

// TrainProject trains every path, carrying on past files that fail. It
// returns an error joining ErrNoFilesTrained with the failures when no file
// trained.
func (m *SourceModel) TrainProject(ctx context.Context, paths []string) (*ProjectReport, error) {
	report := &ProjectReport{}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := m.TrainFile(ctx, path); err != nil {
			m.logger.Warn("Skipping file", zap.String("path", path), zap.Error(err))
			report.Failed = append(report.Failed, FileFailure{Path: path, Err: err})
			continue
		}
		report.Succeeded = append(report.Succeeded, path)
	}

	m.logger.Info("Trained project",
		zap.Int("succeeded", len(report.Succeeded)),
		zap.Int("failed", len(report.Failed)))

	if len(report.Succeeded) == 0 {
		errs := []error{model.ErrNoFilesTrained}
		for _, f := range report.Failed {
			errs = append(errs, f.Err)
		}
		return report, errors.Join(errs...)
	}
	return report, nil
}

// QueryString scores source in the default language as a whole.
func (m *SourceModel) QueryString(ctx context.Context, source string) (float64, error) {
	seq, err := m.Lex(ctx, "", []byte(source))
	if err != nil {
		return 0, err
	}
	return m.QuerySequence(ctx, seq)
}

// QuerySequence scores the significant lexemes of seq.
func (m *SourceModel) QuerySequence(ctx context.Context, seq lexeme.Sequence) (float64, error) {
	text, err := m.Corpify(seq.Significant())
	if err != nil {
		return 0, err
	}
	return m.corpus.QueryCorpus(ctx, text)
}

// WindowedQuery scores every window of windowSize lexemes in order. A
// windowSize below 1 selects the default. The sequence yields a single
// EmptyInputError when seq is shorter than the window, and stops at the
// first failed query. Each range over the result queries afresh.
func (m *SourceModel) WindowedQuery(ctx context.Context, seq lexeme.Sequence, windowSize int) iter.Seq2[WindowScore, error] {
	if windowSize < 1 {
		windowSize = m.opts.WindowSize
	}

	return func(yield func(WindowScore, error) bool) {
		if len(seq) < windowSize {
			yield(WindowScore{}, &model.EmptyInputError{Length: len(seq), WindowSize: windowSize})
			return
		}

		for i := 0; i+windowSize <= len(seq); i++ {
			window := seq.Window(i, windowSize)
			text, err := m.Corpify(window)
			if err != nil {
				yield(WindowScore{Index: i}, err)
				return
			}
			score, err := m.corpus.QueryCorpus(ctx, text)
			if err != nil {
				yield(WindowScore{Index: i}, fmt.Errorf("window %d: %w", i, err))
				return
			}

			ws := WindowScore{
				Index: i,
				Score: score,
				Start: window[0].Start,
				End:   window[len(window)-1].End,
			}
			if !yield(ws, nil) {
				return
			}
		}
	}
}

// WorstWindows scores every window and orders them by descending score;
// equal scores keep ascending window order.
func (m *SourceModel) WorstWindows(ctx context.Context, seq lexeme.Sequence, windowSize int) ([]WindowScore, error) {
	var windows []WindowScore
	for ws, err := range m.WindowedQuery(ctx, seq, windowSize) {
		if err != nil {
			return nil, err
		}
		windows = append(windows, ws)
	}

	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].Score > windows[j].Score
	})
	return windows, nil
}

// Release releases the corpus.
func (m *SourceModel) Release() error {
	return m.corpus.Release()
}
