package tokenizer

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// TypeScriptTokenizer implements tokenization for TypeScript source code
type TypeScriptTokenizer struct {
	*treeSitterTokenizer
}

// NewTypeScriptTokenizer creates a new TypeScript tokenizer
func NewTypeScriptTokenizer() (*TypeScriptTokenizer, error) {
	ts, err := newTreeSitterTokenizer("typescript", tree_sitter.NewLanguage(typescript.LanguageTypescript()), ecmaKinds, nil)
	if err != nil {
		return nil, err
	}
	return &TypeScriptTokenizer{ts}, nil
}
