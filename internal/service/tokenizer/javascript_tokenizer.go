package tokenizer

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
)

// ecmaKinds is shared by the JavaScript and TypeScript grammars.
var ecmaKinds = kindTable{
	atomic:   set("string", "template_string", "regex"),
	strings:  set("string", "template_string", "regex"),
	numbers:  set("number"),
	comments: set("comment", "html_comment"),
}

// JavaScriptTokenizer implements tokenization for JavaScript source code
type JavaScriptTokenizer struct {
	*treeSitterTokenizer
}

// NewJavaScriptTokenizer creates a new JavaScript tokenizer
func NewJavaScriptTokenizer() (*JavaScriptTokenizer, error) {
	ts, err := newTreeSitterTokenizer("javascript", tree_sitter.NewLanguage(javascript.Language()), ecmaKinds, nil)
	if err != nil {
		return nil, err
	}
	return &JavaScriptTokenizer{ts}, nil
}
