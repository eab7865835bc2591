package ngram

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
)

// Options configures an NGramModel.
type Options struct {
	Order             int      // n; k-grams up to this length are counted
	Smoother          Smoother // Applied at every order above unigrams
	UnigramK          float64  // Add-k pseudo-count for the unigram distribution
	UseBloom          bool
	ExpectedItems     uint
	FalsePositiveRate float64
}

// NGramModel is a backoff n-gram language model over corpus tokens. Each
// training record is modelled on its own; no k-gram spans two records.
type NGramModel struct {
	n        int
	trie     *NGramTrie
	smoother Smoother
	unigramK float64
	opts     Options
	records  int64
	mu       sync.RWMutex // Serializes training against scoring
}

// NewNGramModel creates an empty model.
func NewNGramModel(opts Options) *NGramModel {
	if opts.Order < 1 {
		opts.Order = 3 // Default to trigrams
	}
	if opts.Smoother == nil {
		opts.Smoother = NewAddKSmoother(1.0)
	}
	if opts.UnigramK <= 0 {
		opts.UnigramK = 1.0
	}

	return &NGramModel{
		n:        opts.Order,
		trie:     NewNGramTrieWithBloom(opts.UseBloom, opts.ExpectedItems, opts.FalsePositiveRate),
		smoother: opts.Smoother,
		unigramK: opts.UnigramK,
		opts:     opts,
	}
}

// Order returns n.
func (m *NGramModel) Order() int {
	return m.n
}

// Add counts one training record.
func (m *NGramModel) Add(tokens []string) {
	if len(tokens) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range tokens {
		end := min(i+m.n, len(tokens))
		m.trie.Insert(tokens[i:end])
	}
	m.records++
}

// AddText counts every non-blank line of text as one record and returns the
// number of records added.
func (m *NGramModel) AddText(text string) int {
	added := 0
	for _, line := range strings.Split(text, "\n") {
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		m.Add(tokens)
		added++
	}
	return added
}

// Train reads a corpus, one record per line.
func (m *NGramModel) Train(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	added := 0
	for scanner.Scan() {
		tokens := strings.Fields(scanner.Text())
		if len(tokens) == 0 {
			continue
		}
		m.Add(tokens)
		added++
	}
	if err := scanner.Err(); err != nil {
		return added, fmt.Errorf("failed to read corpus: %w", err)
	}
	return added, nil
}

// Probability calculates the probability of a token given its context.
// Only the last n-1 context tokens are used.
func (m *NGramModel) Probability(token string, context []string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.probability(token, m.trimContext(context))
}

func (m *NGramModel) trimContext(context []string) []string {
	if len(context) > m.n-1 {
		return context[len(context)-(m.n-1):]
	}
	return context
}

func (m *NGramModel) probability(token string, context []string) float64 {
	if len(context) == 0 {
		return m.unigram(token)
	}

	backoff := m.probability(token, context[1:])
	ctx, ok := m.trie.Lookup(context)
	if !ok || ctx.Total == 0 {
		return backoff
	}

	ngram := make([]string, 0, len(context)+1)
	ngram = append(append(ngram, context...), token)

	return m.smoother.Smooth(Counts{
		NGram:      m.trie.GetCount(ngram),
		Context:    ctx.Total,
		Distinct:   ctx.Distinct,
		Vocabulary: m.trie.VocabularySize(),
	}, backoff)
}

// unigram is add-k over the vocabulary plus one slot for unseen tokens.
func (m *NGramModel) unigram(token string) float64 {
	root, _ := m.trie.Lookup(nil)
	count := m.trie.GetCount([]string{token})
	return (float64(count) + m.unigramK) /
		(float64(root.Total) + m.unigramK*float64(root.Distinct+1))
}

// CrossEntropy returns the average surprise of tokens in bits per token.
func (m *NGramModel) CrossEntropy(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0.0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	totalLogProb := 0.0
	for i := range tokens {
		contextStart := max(0, i-m.n+1)
		prob := m.probability(tokens[i], tokens[contextStart:i])
		totalLogProb += math.Log2(prob)
	}

	return -totalLogProb / float64(len(tokens))
}

// Perplexity calculates the perplexity of a token sequence
func (m *NGramModel) Perplexity(tokens []string) float64 {
	return math.Pow(2, m.CrossEntropy(tokens))
}

// Score returns the cross-entropy of a space-joined corpus record.
func (m *NGramModel) Score(text string) float64 {
	return m.CrossEntropy(strings.Fields(text))
}

// ModelStats summarizes a model.
type ModelStats struct {
	N              int    `json:"n"`
	VocabularySize int    `json:"vocabulary_size"`
	NGramCount     int64  `json:"ngram_count"`
	TotalTokens    int64  `json:"total_tokens"`
	Records        int64  `json:"records"`
	SmootherName   string `json:"smoother"`
	UseBloom       bool   `json:"use_bloom"`
}

// Stats returns statistics about the model
func (m *NGramModel) Stats() ModelStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return ModelStats{
		N:              m.n,
		VocabularySize: m.trie.VocabularySize(),
		NGramCount:     m.trie.TotalNGrams(),
		TotalTokens:    m.trie.TotalTokens(),
		Records:        m.records,
		SmootherName:   m.smoother.Name(),
		UseBloom:       m.opts.UseBloom,
	}
}

// MemoryStats returns detailed memory usage statistics
func (m *NGramModel) MemoryStats() TrieMemoryStats {
	return m.trie.MemoryStats()
}
