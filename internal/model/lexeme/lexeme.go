package lexeme

import (
	"fmt"
	"strings"
)

// Token types shared by every tokenizer. They follow the categories of
// Python's tokenize module so that corpora stay comparable across languages.
const (
	TypeName         = "NAME"
	TypeNumber       = "NUMBER"
	TypeString       = "STRING"
	TypeOp           = "OP"
	TypeComment      = "COMMENT"
	TypeNewline      = "NEWLINE"
	TypeNL           = "NL"
	TypeIndent       = "INDENT"
	TypeDedent       = "DEDENT"
	TypeEndMarker    = "ENDMARKER"
	TypeWhitespace   = "WHITESPACE"
	TypeContinuation = "CONTINUATION"
	TypeError        = "ERRORTOKEN"
)

// Position is a location in source text. Line is 1-based, Column is a
// 0-based byte offset into the line.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Less reports whether p comes strictly before other.
func (p Position) Less(other Position) bool {
	if p.Line != other.Line {
		return p.Line < other.Line
	}
	return p.Column < other.Column
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Lexeme represents a single lexical token in source code
type Lexeme struct {
	Type  string   `json:"type"`
	Value string   `json:"value"`
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// IsTrivia reports whether the lexeme carries layout or commentary only.
func (l Lexeme) IsTrivia() bool {
	switch l.Type {
	case TypeComment, TypeNL, TypeWhitespace, TypeContinuation:
		return true
	}
	return false
}

// Sequence is an ordered run of lexemes in document order
type Sequence []Lexeme

// Significant returns the lexemes that take part in language modelling,
// i.e. the sequence without comments and non-logical line breaks.
func (s Sequence) Significant() Sequence {
	out := make(Sequence, 0, len(s))
	for _, l := range s {
		if !l.IsTrivia() {
			out = append(out, l)
		}
	}
	return out
}

// Window returns the size lexemes starting at offset i. The result shares
// storage with s.
func (s Sequence) Window(i, size int) Sequence {
	return s[i : i+size : i+size]
}

// Values returns the literal text of every lexeme.
func (s Sequence) Values() []string {
	values := make([]string, len(s))
	for i, l := range s {
		values[i] = l.Value
	}
	return values
}

// DeLex reassembles source text from a lexeme sequence.
//
// Lexemes with an empty value (DEDENT, ENDMARKER) are skipped. Gaps on the
// same line are filled with spaces and a jump to a later line is written as
// a backslash continuation. Tokenizers emit explicit lexemes for every other
// byte, so DeLex(Lex(src)) == src.
func DeLex(seq Sequence) string {
	var b strings.Builder
	line, col := 1, 0

	for _, l := range seq {
		if l.Value == "" {
			continue
		}
		for line < l.Start.Line {
			b.WriteString("\\\n")
			line++
			col = 0
		}
		if l.Start.Line == line && l.Start.Column > col {
			b.WriteString(strings.Repeat(" ", l.Start.Column-col))
			col = l.Start.Column
		}

		b.WriteString(l.Value)
		if nl := strings.LastIndexByte(l.Value, '\n'); nl >= 0 {
			line += strings.Count(l.Value, "\n")
			col = len(l.Value) - nl - 1
		} else {
			col += len(l.Value)
		}
	}

	return b.String()
}
