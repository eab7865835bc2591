package tokenizer

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	golang "github.com/tree-sitter/tree-sitter-go/bindings/go"
)

// GoTokenizer implements tokenization for Go source code
type GoTokenizer struct {
	*treeSitterTokenizer
}

// NewGoTokenizer creates a new Go tokenizer
func NewGoTokenizer() (*GoTokenizer, error) {
	kinds := kindTable{
		atomic:   set("interpreted_string_literal", "raw_string_literal", "rune_literal"),
		strings:  set("interpreted_string_literal", "raw_string_literal", "rune_literal"),
		numbers:  set("int_literal", "float_literal", "imaginary_literal"),
		comments: set("comment"),
	}

	ts, err := newTreeSitterTokenizer("go", tree_sitter.NewLanguage(golang.Language()), kinds, nil)
	if err != nil {
		return nil, err
	}
	return &GoTokenizer{ts}, nil
}
