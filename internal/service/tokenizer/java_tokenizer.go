package tokenizer

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	java "github.com/tree-sitter/tree-sitter-java/bindings/go"
)

// JavaTokenizer implements tokenization for Java source code
type JavaTokenizer struct {
	*treeSitterTokenizer
}

// NewJavaTokenizer creates a new Java tokenizer
func NewJavaTokenizer() (*JavaTokenizer, error) {
	kinds := kindTable{
		atomic:  set("string_literal", "character_literal", "text_block"),
		strings: set("string_literal", "character_literal", "text_block"),
		numbers: set("decimal_integer_literal", "hex_integer_literal", "octal_integer_literal",
			"binary_integer_literal", "decimal_floating_point_literal", "hex_floating_point_literal"),
		comments: set("line_comment", "block_comment"),
	}

	ts, err := newTreeSitterTokenizer("java", tree_sitter.NewLanguage(java.Language()), kinds, nil)
	if err != nil {
		return nil, err
	}
	return &JavaTokenizer{ts}, nil
}
