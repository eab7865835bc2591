package tokenizer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"unnatural-go/internal/model/lexeme"
)

// Tokenizer defines the interface for language-specific tokenization
type Tokenizer interface {
	// Lex converts source code into a lexeme sequence that ends in ENDMARKER.
	Lex(ctx context.Context, source []byte) (lexeme.Sequence, error)

	// DeLex reassembles source text; DeLex(Lex(src)) == src.
	DeLex(seq lexeme.Sequence) string

	// Language returns the language this tokenizer handles
	Language() string

	// Close releases the underlying parser.
	Close()
}

// TokenizerRegistry manages tokenizers for different languages
type TokenizerRegistry struct {
	tokenizers map[string]Tokenizer
	extensions map[string]string // file extension -> language
}

// NewTokenizerRegistry creates a new tokenizer registry
func NewTokenizerRegistry() *TokenizerRegistry {
	return &TokenizerRegistry{
		tokenizers: make(map[string]Tokenizer),
		extensions: make(map[string]string),
	}
}

// NewDefaultRegistry creates a registry with every built-in language.
func NewDefaultRegistry() (*TokenizerRegistry, error) {
	registry := NewTokenizerRegistry()

	builtins := []struct {
		language   string
		extensions []string
		create     func() (Tokenizer, error)
	}{
		{"python", []string{".py", ".pyw"}, func() (Tokenizer, error) { return NewPythonTokenizer() }},
		{"go", []string{".go"}, func() (Tokenizer, error) { return NewGoTokenizer() }},
		{"java", []string{".java"}, func() (Tokenizer, error) { return NewJavaTokenizer() }},
		{"javascript", []string{".js", ".jsx", ".mjs"}, func() (Tokenizer, error) { return NewJavaScriptTokenizer() }},
		{"typescript", []string{".ts", ".tsx"}, func() (Tokenizer, error) { return NewTypeScriptTokenizer() }},
	}

	for _, b := range builtins {
		tok, err := b.create()
		if err != nil {
			registry.Close()
			return nil, fmt.Errorf("failed to create %s tokenizer: %w", b.language, err)
		}
		registry.Register(b.language, tok, b.extensions)
	}

	return registry, nil
}

// Register adds a tokenizer for a specific language
func (tr *TokenizerRegistry) Register(language string, tokenizer Tokenizer, extensions []string) {
	tr.tokenizers[language] = tokenizer
	for _, ext := range extensions {
		tr.extensions[ext] = language
	}
}

// GetTokenizer returns the tokenizer for a given language
func (tr *TokenizerRegistry) GetTokenizer(language string) (Tokenizer, bool) {
	tokenizer, ok := tr.tokenizers[language]
	return tokenizer, ok
}

// GetTokenizerByExtension returns the tokenizer for a given file extension
func (tr *TokenizerRegistry) GetTokenizerByExtension(extension string) (Tokenizer, bool) {
	language, ok := tr.extensions[strings.ToLower(extension)]
	if !ok {
		return nil, false
	}
	return tr.GetTokenizer(language)
}

// GetTokenizerForPath returns the tokenizer matching the extension of path.
func (tr *TokenizerRegistry) GetTokenizerForPath(path string) (Tokenizer, bool) {
	return tr.GetTokenizerByExtension(filepath.Ext(path))
}

// HasExtension reports whether a tokenizer is registered for extension.
func (tr *TokenizerRegistry) HasExtension(extension string) bool {
	_, ok := tr.extensions[strings.ToLower(extension)]
	return ok
}

// SupportedLanguages returns a sorted list of all supported languages
func (tr *TokenizerRegistry) SupportedLanguages() []string {
	languages := make([]string, 0, len(tr.tokenizers))
	for lang := range tr.tokenizers {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	return languages
}

// Close closes every registered tokenizer.
func (tr *TokenizerRegistry) Close() {
	for _, tok := range tr.tokenizers {
		tok.Close()
	}
}
