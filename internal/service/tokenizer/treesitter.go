package tokenizer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"unicode"
	"unicode/utf8"

	"unnatural-go/internal/model"
	"unnatural-go/internal/model/lexeme"
	"unnatural-go/internal/util"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// kindTable maps tree-sitter node kinds of one grammar onto lexeme types.
type kindTable struct {
	atomic   map[string]bool // never descend into these nodes
	strings  map[string]bool
	numbers  map[string]bool
	comments map[string]bool
	layout   map[string]bool // leaves handled like inter-token whitespace
}

func set(kinds ...string) map[string]bool {
	m := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}
	return m
}

// layoutFunc post-processes a lexed sequence, e.g. to add indentation tokens.
type layoutFunc func(seq lexeme.Sequence, src *sourceText) (lexeme.Sequence, error)

// treeSitterTokenizer lexes by walking the leaves of a tree-sitter parse tree
// and filling the gaps between them so that no source byte is lost.
type treeSitterTokenizer struct {
	language string
	parser   *tree_sitter.Parser
	grammar  *tree_sitter.Language
	kinds    kindTable
	layout   layoutFunc
	mu       sync.Mutex // Protects parser (tree-sitter parsers are not thread-safe)
}

func newTreeSitterTokenizer(language string, grammar *tree_sitter.Language, kinds kindTable, layout layoutFunc) (*treeSitterTokenizer, error) {
	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(grammar); err != nil {
		parser.Close()
		return nil, fmt.Errorf("failed to set %s language: %w", language, err)
	}

	return &treeSitterTokenizer{
		language: language,
		parser:   parser,
		grammar:  grammar,
		kinds:    kinds,
		layout:   layout,
	}, nil
}

func (t *treeSitterTokenizer) Language() string {
	return t.language
}

func (t *treeSitterTokenizer) DeLex(seq lexeme.Sequence) string {
	return lexeme.DeLex(seq)
}

func (t *treeSitterTokenizer) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.parser != nil {
		t.parser.Close()
		t.parser = nil
	}
}

func (t *treeSitterTokenizer) Lex(ctx context.Context, source []byte) (lexeme.Sequence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	leaves, err := t.parseLeaves(source)
	if err != nil {
		return nil, err
	}

	src := newSourceText(source)
	b := &sequenceBuilder{src: src, seq: make(lexeme.Sequence, 0, len(leaves)*2)}

	for _, lf := range leaves {
		if lf.start < b.cursor {
			continue
		}
		b.gap(b.cursor, lf.start)

		text := string(source[lf.start:lf.end])
		switch {
		case t.kinds.layout[lf.kind] || util.IsWhitespace(text):
			b.gap(lf.start, lf.end)
		case lf.kind == "ERROR":
			b.fallback(lf.start, lf.end)
		default:
			b.emit(t.kinds.category(lf.kind, text), lf.start, lf.end)
		}
		b.cursor = lf.end
	}
	b.gap(b.cursor, len(source))

	b.seq = append(b.seq, lexeme.Lexeme{
		Type:  lexeme.TypeEndMarker,
		Start: src.endMarker(),
		End:   src.endMarker(),
	})

	if t.layout != nil {
		seq, err := t.layout(b.seq, src)
		if err != nil {
			if te, ok := err.(*model.TokenizeError); ok {
				te.Language = t.language
			}
			return nil, err
		}
		return seq, nil
	}
	return b.seq, nil
}

type leaf struct {
	kind       string
	start, end int
}

func (t *treeSitterTokenizer) parseLeaves(source []byte) ([]leaf, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.parser == nil {
		return nil, &model.TokenizeError{Language: t.language, Msg: "tokenizer closed"}
	}

	tree := t.parser.Parse(source, nil)
	if tree == nil {
		return nil, &model.TokenizeError{Language: t.language, Msg: fmt.Sprintf("failed to parse %s source", t.language)}
	}
	defer tree.Close()

	var leaves []leaf
	t.traverseNode(tree.RootNode(), &leaves)
	return leaves, nil
}

func (t *treeSitterTokenizer) traverseNode(node *tree_sitter.Node, leaves *[]leaf) {
	if node == nil || node.IsMissing() {
		return
	}

	kind := node.Kind()
	if node.ChildCount() == 0 || t.kinds.atomic[kind] {
		start, end := int(node.StartByte()), int(node.EndByte())
		if end > start {
			*leaves = append(*leaves, leaf{kind: kind, start: start, end: end})
		}
		return
	}

	for i := uint(0); i < node.ChildCount(); i++ {
		t.traverseNode(node.Child(i), leaves)
	}
}

func (k kindTable) category(kind, text string) string {
	switch {
	case k.comments[kind]:
		return lexeme.TypeComment
	case k.strings[kind]:
		return lexeme.TypeString
	case k.numbers[kind]:
		return lexeme.TypeNumber
	case isIdentifier(text):
		return lexeme.TypeName
	default:
		return lexeme.TypeOp
	}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || r == '$' || unicode.IsLetter(r) {
			continue
		}
		if i > 0 && unicode.IsDigit(r) {
			continue
		}
		return false
	}
	return true
}

// sourceText indexes line starts so byte offsets map to positions.
type sourceText struct {
	data       []byte
	lineStarts []int
}

func newSourceText(data []byte) *sourceText {
	starts := []int{0}
	for i, c := range data {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &sourceText{data: data, lineStarts: starts}
}

func (s *sourceText) position(offset int) lexeme.Position {
	line := sort.Search(len(s.lineStarts), func(i int) bool { return s.lineStarts[i] > offset }) - 1
	return lexeme.Position{Line: line + 1, Column: offset - s.lineStarts[line]}
}

// linePrefix returns the text of line before column.
func (s *sourceText) linePrefix(pos lexeme.Position) string {
	start := s.lineStarts[pos.Line-1]
	return string(s.data[start : start+pos.Column])
}

func (s *sourceText) endMarker() lexeme.Position {
	p := s.position(len(s.data))
	if p.Column > 0 {
		return lexeme.Position{Line: p.Line + 1}
	}
	return p
}

type sequenceBuilder struct {
	src    *sourceText
	seq    lexeme.Sequence
	cursor int
}

func (b *sequenceBuilder) emit(typ string, start, end int) {
	b.seq = append(b.seq, lexeme.Lexeme{
		Type:  typ,
		Value: string(b.src.data[start:end]),
		Start: b.src.position(start),
		End:   b.src.position(end),
	})
}

// gap covers text that no leaf claimed. Line breaks become NL, a backslash
// before a line break becomes CONTINUATION, horizontal whitespace other
// than plain spaces (or any run ending the source) becomes WHITESPACE and
// anything else is split by fallback.
func (b *sequenceBuilder) gap(start, end int) {
	data := b.src.data
	i := start
	for i < end {
		switch c := data[i]; {
		case c == '\n':
			b.emit(lexeme.TypeNL, i, i+1)
			i++
		case c == '\r' && i+1 < end && data[i+1] == '\n':
			b.emit(lexeme.TypeNL, i, i+2)
			i += 2
		case c == '\\' && i+1 < end && data[i+1] == '\n':
			b.emit(lexeme.TypeContinuation, i, i+2)
			i += 2
		case c == '\\' && i+2 < end && data[i+1] == '\r' && data[i+2] == '\n':
			b.emit(lexeme.TypeContinuation, i, i+3)
			i += 3
		case isHorizontalSpace(c):
			j := i
			plain := true
			for j < end && isHorizontalSpace(data[j]) && !(data[j] == '\r' && j+1 < end && data[j+1] == '\n') {
				if data[j] != ' ' {
					plain = false
				}
				j++
			}
			// DeLex only restores spaces that precede a later lexeme
			if !plain || j == len(data) {
				b.emit(lexeme.TypeWhitespace, i, j)
			}
			i = j
		default:
			j := i
			for j < end && !isSpaceByte(data[j]) && !(data[j] == '\\' && j+1 < end && (data[j+1] == '\n' || data[j+1] == '\r')) {
				j++
			}
			if j == i {
				j = i + 1
			}
			b.fallback(i, j)
			i = j
		}
	}
}

// fallback splits text the grammar could not classify into names, numbers
// and single-character error tokens.
func (b *sequenceBuilder) fallback(start, end int) {
	data := b.src.data
	i := start
	for i < end {
		r, size := utf8.DecodeRune(data[i:end])
		switch {
		case isSpaceByte(data[i]):
			j := i
			for j < end && isSpaceByte(data[j]) {
				j++
			}
			b.gap(i, j)
			i = j
		case r == '_' || unicode.IsLetter(r):
			j := i + size
			for j < end {
				r2, s2 := utf8.DecodeRune(data[j:end])
				if r2 != '_' && !unicode.IsLetter(r2) && !unicode.IsDigit(r2) {
					break
				}
				j += s2
			}
			b.emit(lexeme.TypeName, i, j)
			i = j
		case unicode.IsDigit(r):
			j := i + size
			for j < end && (isAlnumByte(data[j]) || data[j] == '.' || data[j] == '_') {
				j++
			}
			b.emit(lexeme.TypeNumber, i, j)
			i = j
		default:
			b.emit(lexeme.TypeError, i, i+size)
			i += size
		}
	}
}

func isHorizontalSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\f' || c == '\v' || c == '\r'
}

func isSpaceByte(c byte) bool {
	return isHorizontalSpace(c) || c == '\n'
}

func isAlnumByte(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
