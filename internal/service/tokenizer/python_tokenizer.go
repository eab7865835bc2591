package tokenizer

import (
	"unnatural-go/internal/model"
	"unnatural-go/internal/model/lexeme"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

const pythonTabSize = 8

// PythonTokenizer implements tokenization for Python source code. On top of
// the tree-sitter leaves it produces the layout tokens of Python's own
// tokenizer: NEWLINE for logical line ends, INDENT and DEDENT.
type PythonTokenizer struct {
	*treeSitterTokenizer
}

// NewPythonTokenizer creates a new Python tokenizer
func NewPythonTokenizer() (*PythonTokenizer, error) {
	kinds := kindTable{
		atomic:   set("string"),
		strings:  set("string"),
		numbers:  set("integer", "float"),
		comments: set("comment"),
		layout:   set("line_continuation"),
	}

	ts, err := newTreeSitterTokenizer("python", tree_sitter.NewLanguage(python.Language()), kinds, pythonLayout)
	if err != nil {
		return nil, err
	}
	return &PythonTokenizer{ts}, nil
}

func pythonLayout(seq lexeme.Sequence, src *sourceText) (lexeme.Sequence, error) {
	out := make(lexeme.Sequence, 0, len(seq)+8)
	indents := []int{0}
	depth := 0
	lineHasContent := false

	for _, l := range seq {
		switch {
		case l.Type == lexeme.TypeNL:
			if depth == 0 && lineHasContent {
				l.Type = lexeme.TypeNewline
				lineHasContent = false
			}
			out = append(out, l)
			continue

		case l.IsTrivia():
			out = append(out, l)
			continue

		case l.Type == lexeme.TypeEndMarker:
			if depth > 0 {
				return nil, &model.TokenizeError{Line: l.Start.Line, Msg: "EOF in multi-line statement"}
			}
			for len(indents) > 1 {
				indents = indents[:len(indents)-1]
				out = append(out, lexeme.Lexeme{Type: lexeme.TypeDedent, Start: l.Start, End: l.Start})
			}
			out = append(out, l)
			continue
		}

		if !lineHasContent && depth == 0 {
			prefix := src.linePrefix(l.Start)
			width := indentWidth(prefix)
			top := indents[len(indents)-1]

			switch {
			case width > top:
				// INDENT carries the indentation text itself
				if n := len(out); n > 0 && out[n-1].Type == lexeme.TypeWhitespace && out[n-1].Start.Line == l.Start.Line && out[n-1].Start.Column == 0 {
					out = out[:n-1]
				}
				start := lexeme.Position{Line: l.Start.Line}
				out = append(out, lexeme.Lexeme{Type: lexeme.TypeIndent, Value: prefix, Start: start, End: l.Start})
				indents = append(indents, width)

			case width < top:
				for width < indents[len(indents)-1] {
					indents = indents[:len(indents)-1]
					out = append(out, lexeme.Lexeme{Type: lexeme.TypeDedent, Start: l.Start, End: l.Start})
				}
				if width != indents[len(indents)-1] {
					return nil, &model.TokenizeError{Line: l.Start.Line, Msg: "unindent does not match any outer indentation level"}
				}
			}
			lineHasContent = true
		}

		if l.Type == lexeme.TypeOp || l.Type == lexeme.TypeError {
			switch l.Value {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				if depth > 0 {
					depth--
				}
			}
		}
		out = append(out, l)
	}

	return out, nil
}

func indentWidth(prefix string) int {
	width := 0
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '\t':
			width = (width/pythonTabSize + 1) * pythonTabSize
		case '\f':
			width = 0
		default:
			width++
		}
	}
	return width
}
