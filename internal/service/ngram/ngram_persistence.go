package ngram

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const snapshotVersion = "2"

// ErrStaleSnapshot is returned by Load when the snapshot was trained from a
// different corpus or with different model settings.
var ErrStaleSnapshot = errors.New("snapshot does not match corpus")

// SerializableNGramModel is a serializable representation of the n-gram model
type SerializableNGramModel struct {
	Version      string    // Format version
	N            int       // N-gram size
	SmootherName string    // Smoother type
	AddK         float64   // Pseudo-count of an AddK smoother
	UnigramK     float64   // Unigram pseudo-count
	UseBloom     bool      // Whether lookups use a bloom filter
	Fingerprint  uint64    // Corpus fingerprint the counts were trained from
	CreatedAt    time.Time // When the snapshot was written
	Records      int64     // Training records counted
	TotalNGrams  int64     // Total k-gram occurrences

	IDToToken []string               // Interned tokens; index is the token ID
	Nodes     []SerializableTrieNode // Flattened trie, root first
}

// SerializableTrieNode represents a serialized trie node
type SerializableTrieNode struct {
	ID          int            // Node ID in serialized form
	TokenID     uint32         // Token ID
	Count       int64          // Frequency
	Total       int64          // Sum of children's counts
	ChildrenIDs map[uint32]int // TokenID -> child node ID
}

// NGramPersistence saves and loads model snapshots at one path.
type NGramPersistence struct {
	path   string
	logger *zap.Logger
}

// NewNGramPersistence creates a persistence manager for path, creating its
// directory if needed.
func NewNGramPersistence(path string, logger *zap.Logger) (*NGramPersistence, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	return &NGramPersistence{
		path:   path,
		logger: logger,
	}, nil
}

// Exists checks if a snapshot has been written
func (p *NGramPersistence) Exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

// Delete removes the snapshot
func (p *NGramPersistence) Delete() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Save writes model together with the fingerprint of its training corpus.
// The file is replaced atomically.
func (p *NGramPersistence) Save(model *NGramModel, fingerprint uint64) error {
	snapshot := p.serialize(model)
	snapshot.Fingerprint = fingerprint

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".ngram-*.gob")
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(snapshot); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}

	p.logger.Info("Saved n-gram model",
		zap.String("path", p.path),
		zap.Int("n", snapshot.N),
		zap.Int64("records", snapshot.Records),
		zap.Int("nodes", len(snapshot.Nodes)))

	return nil
}

// Load restores the snapshot if it was trained from a corpus with the given
// fingerprint and with the same options. Otherwise it returns
// ErrStaleSnapshot, or an error wrapping fs.ErrNotExist if there is none.
func (p *NGramPersistence) Load(opts Options, fingerprint uint64) (*NGramModel, error) {
	file, err := os.Open(p.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var snapshot SerializableNGramModel
	if err := gob.NewDecoder(file).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", p.path, err)
	}

	model := NewNGramModel(opts)
	if snapshot.Version != snapshotVersion ||
		snapshot.Fingerprint != fingerprint ||
		snapshot.N != model.n ||
		snapshot.SmootherName != model.smoother.Name() ||
		snapshot.AddK != smootherK(model.smoother) ||
		snapshot.UnigramK != model.unigramK {
		return nil, ErrStaleSnapshot
	}

	if err := p.deserialize(&snapshot, model); err != nil {
		return nil, err
	}

	p.logger.Info("Loaded n-gram model",
		zap.String("path", p.path),
		zap.Int("n", snapshot.N),
		zap.Int64("records", snapshot.Records),
		zap.Time("created_at", snapshot.CreatedAt))

	return model, nil
}

func smootherK(s Smoother) float64 {
	if addK, ok := s.(*AddKSmoother); ok {
		return addK.K()
	}
	return 0
}

func (p *NGramPersistence) serialize(model *NGramModel) *SerializableNGramModel {
	model.mu.RLock()
	defer model.mu.RUnlock()
	trie := model.trie
	trie.mu.RLock()
	defer trie.mu.RUnlock()

	snapshot := &SerializableNGramModel{
		Version:      snapshotVersion,
		N:            model.n,
		SmootherName: model.smoother.Name(),
		AddK:         smootherK(model.smoother),
		UnigramK:     model.unigramK,
		UseBloom:     model.opts.UseBloom,
		CreatedAt:    time.Now(),
		Records:      model.records,
		TotalNGrams:  trie.totalNGrams,
		IDToToken:    append([]string(nil), trie.idToToken...),
	}
	snapshot.Nodes = flattenTrie(trie.root)
	return snapshot
}

// flattenTrie converts a trie to a flat array in depth-first order, so the
// root gets ID 0.
func flattenTrie(root *TrieNode) []SerializableTrieNode {
	var nodes []SerializableTrieNode

	var flatten func(*TrieNode) int
	flatten = func(node *TrieNode) int {
		id := len(nodes)
		nodes = append(nodes, SerializableTrieNode{
			ID:          id,
			TokenID:     node.tokenID,
			Count:       node.count,
			Total:       node.total,
			ChildrenIDs: make(map[uint32]int, len(node.children)),
		})
		for tokenID, child := range node.children {
			childID := flatten(child)
			nodes[id].ChildrenIDs[tokenID] = childID
		}
		return id
	}

	flatten(root)
	return nodes
}

func (p *NGramPersistence) deserialize(snapshot *SerializableNGramModel, model *NGramModel) error {
	if len(snapshot.Nodes) == 0 || len(snapshot.IDToToken) == 0 {
		return fmt.Errorf("snapshot %s is empty", p.path)
	}

	built := make([]*TrieNode, len(snapshot.Nodes))
	for i, sNode := range snapshot.Nodes {
		if sNode.ID != i {
			return fmt.Errorf("snapshot %s: node %d out of order", p.path, sNode.ID)
		}
		node := NewTrieNode(sNode.TokenID)
		node.count = sNode.Count
		node.total = sNode.Total
		built[i] = node
	}
	for i, sNode := range snapshot.Nodes {
		for tokenID, childID := range sNode.ChildrenIDs {
			if childID <= i || childID >= len(built) || int(tokenID) >= len(snapshot.IDToToken) {
				return fmt.Errorf("snapshot %s: bad child %d of node %d", p.path, childID, i)
			}
			built[i].children[tokenID] = built[childID]
		}
	}

	trie := model.trie
	trie.root = built[0]
	trie.idToToken = snapshot.IDToToken
	trie.tokenToID = make(map[string]uint32, len(snapshot.IDToToken))
	for id, token := range snapshot.IDToToken[1:] {
		trie.tokenToID[token] = uint32(id + 1)
	}
	trie.nextID = uint32(len(snapshot.IDToToken))
	trie.totalNGrams = snapshot.TotalNGrams
	if model.opts.UseBloom {
		trie.rebuildBloom(model.opts.ExpectedItems, model.opts.FalsePositiveRate)
	}
	model.records = snapshot.Records

	return nil
}

// Fingerprint hashes the contents of the given corpus files. Missing files
// hash as empty, so a corpus that does not exist yet has a stable
// fingerprint.
func Fingerprint(paths ...string) (uint64, error) {
	digest := xxhash.New()
	for _, path := range paths {
		writeKeyPart(digest, path)

		file, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to open corpus %s: %w", path, err)
		}
		_, err = io.Copy(digest, file)
		file.Close()
		if err != nil {
			return 0, fmt.Errorf("failed to read corpus %s: %w", path, err)
		}
	}
	return digest.Sum64(), nil
}
