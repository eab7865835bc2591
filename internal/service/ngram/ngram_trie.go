package ngram

import (
	"encoding/binary"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
)

// TrieNode represents a node in the n-gram trie. The path from the root to
// a node spells one k-gram.
type TrieNode struct {
	tokenID  uint32               // Token ID at this node
	count    int64                // Occurrences of the k-gram ending at this node
	total    int64                // Sum of the children's counts
	children map[uint32]*TrieNode // Children indexed by token ID
}

// NewTrieNode creates a new trie node
func NewTrieNode(tokenID uint32) *TrieNode {
	return &TrieNode{
		tokenID:  tokenID,
		children: make(map[uint32]*TrieNode),
	}
}

// NodeCounts describes one k-gram: how often it occurred and how often, in
// how many distinct ways, it was continued.
type NodeCounts struct {
	Count    int64
	Total    int64
	Distinct int
}

// NGramTrie stores every k-gram up to the model order in one trie with
// string interning. Inserting a k-gram counts each of its prefixes too, so a
// node's count doubles as the context count of its children.
type NGramTrie struct {
	root        *TrieNode          // Root of the trie; its total is the token count
	tokenToID   map[string]uint32  // String to token ID mapping
	idToToken   []string           // Token ID to string reverse mapping
	nextID      uint32             // Next available token ID
	totalNGrams int64              // Total number of k-gram occurrences stored
	bloomFilter *bloom.BloomFilter // Every inserted k-gram; a miss skips the trie walk
	useBloom    bool
	mu          sync.RWMutex // Protects all data structures
}

// NewNGramTrie creates a new n-gram trie without bloom filter
func NewNGramTrie() *NGramTrie {
	return NewNGramTrieWithBloom(false, 0, 0)
}

// NewNGramTrieWithBloom creates a new n-gram trie. With useBloom, lookups of
// k-grams that were never inserted are answered from the bloom filter.
func NewNGramTrieWithBloom(useBloom bool, expectedItems uint, falsePositiveRate float64) *NGramTrie {
	trie := &NGramTrie{
		root:      NewTrieNode(0), // Root has ID 0 (sentinel)
		tokenToID: make(map[string]uint32),
		idToToken: []string{"<ROOT>"}, // ID 0 is reserved for root
		nextID:    1,
		useBloom:  useBloom,
	}

	if useBloom {
		if expectedItems == 0 {
			expectedItems = 100000
		}
		if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
			falsePositiveRate = 0.01
		}
		trie.bloomFilter = bloom.NewWithEstimates(expectedItems, falsePositiveRate)
	}

	return trie
}

// internToken converts a token string to its ID, creating a new ID if needed
func (t *NGramTrie) internToken(token string) uint32 {
	if id, exists := t.tokenToID[token]; exists {
		return id
	}

	id := t.nextID
	t.nextID++
	t.tokenToID[token] = id
	t.idToToken = append(t.idToToken, token)
	return id
}

// Insert counts one occurrence of tokens and of each of its prefixes.
func (t *NGramTrie) Insert(tokens []string) {
	if len(tokens) == 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := xxhash.New()
	current := t.root
	for _, token := range tokens {
		tokenID := t.internToken(token)
		child, exists := current.children[tokenID]
		if !exists {
			child = NewTrieNode(tokenID)
			current.children[tokenID] = child
		}
		child.count++
		current.total++
		current = child
		t.totalNGrams++

		if t.useBloom {
			writeKeyPart(key, token)
			t.bloomFilter.Add(keyBytes(key))
		}
	}
}

// Lookup returns the counts of the k-gram spelled by tokens. The empty
// k-gram addresses the root, whose total is the number of tokens seen.
func (t *NGramTrie) Lookup(tokens []string) (NodeCounts, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(tokens) > 0 && t.useBloom {
		key := xxhash.New()
		for _, token := range tokens {
			writeKeyPart(key, token)
		}
		if !t.bloomFilter.Test(keyBytes(key)) {
			return NodeCounts{}, false
		}
	}

	current := t.root
	for _, token := range tokens {
		id, exists := t.tokenToID[token]
		if !exists {
			return NodeCounts{}, false
		}
		child, exists := current.children[id]
		if !exists {
			return NodeCounts{}, false
		}
		current = child
	}

	return NodeCounts{
		Count:    current.count,
		Total:    current.total,
		Distinct: len(current.children),
	}, true
}

// GetCount returns the frequency of a k-gram
func (t *NGramTrie) GetCount(tokens []string) int64 {
	counts, _ := t.Lookup(tokens)
	return counts.Count
}

func writeKeyPart(d *xxhash.Digest, token string) {
	_, _ = d.WriteString(token)
	_, _ = d.Write([]byte{0}) // Separator
}

func keyBytes(d *xxhash.Digest) []byte {
	return binary.BigEndian.AppendUint64(nil, d.Sum64())
}

// VocabularySize returns the number of unique tokens
func (t *NGramTrie) VocabularySize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.root.children)
}

// TotalTokens returns the number of unigram occurrences.
func (t *NGramTrie) TotalTokens() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root.total
}

// TotalNGrams returns the total number of k-gram occurrences stored
func (t *NGramTrie) TotalNGrams() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalNGrams
}

// rebuildBloom re-adds every stored k-gram to a fresh bloom filter.
func (t *NGramTrie) rebuildBloom(expectedItems uint, falsePositiveRate float64) {
	fresh := NewNGramTrieWithBloom(true, expectedItems, falsePositiveRate)
	t.bloomFilter = fresh.bloomFilter
	t.useBloom = true

	var walk func(node *TrieNode, prefix []string)
	walk = func(node *TrieNode, prefix []string) {
		for id, child := range node.children {
			path := append(prefix, t.idToToken[id])
			key := xxhash.New()
			for _, token := range path {
				writeKeyPart(key, token)
			}
			t.bloomFilter.Add(keyBytes(key))
			walk(child, path)
		}
	}
	walk(t.root, nil)
}

// MemoryStats returns memory usage statistics
func (t *NGramTrie) MemoryStats() TrieMemoryStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var nodeCount int64
	t.countNodes(t.root, &nodeCount)

	vocabMemory := int64(0)
	for token := range t.tokenToID {
		vocabMemory += int64(len(token)) + 16 // String header + content
	}

	var bloomBytes int64
	if t.useBloom {
		bloomBytes = int64(t.bloomFilter.Cap() / 8)
	}

	return TrieMemoryStats{
		VocabularySize:   len(t.tokenToID),
		TotalNodes:       nodeCount,
		TotalNGrams:      t.totalNGrams,
		VocabMemoryBytes: vocabMemory,
		NodeMemoryBytes:  nodeCount * 64, // Approx: tokenID(4) + counts(16) + map(24) + pointers(20)
		BloomMemoryBytes: bloomBytes,
	}
}

// countNodes recursively counts all nodes in the trie
func (t *NGramTrie) countNodes(node *TrieNode, count *int64) {
	*count++
	for _, child := range node.children {
		t.countNodes(child, count)
	}
}

// TrieMemoryStats contains memory usage statistics
type TrieMemoryStats struct {
	VocabularySize   int   `json:"vocabulary_size"`
	TotalNodes       int64 `json:"total_nodes"`
	TotalNGrams      int64 `json:"total_ngrams"`
	VocabMemoryBytes int64 `json:"vocab_memory_bytes"`
	NodeMemoryBytes  int64 `json:"node_memory_bytes"`
	BloomMemoryBytes int64 `json:"bloom_memory_bytes"`
}

// TotalMemoryBytes returns the estimated total memory usage
func (s TrieMemoryStats) TotalMemoryBytes() int64 {
	return s.VocabMemoryBytes + s.NodeMemoryBytes + s.BloomMemoryBytes
}
