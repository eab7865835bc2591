package stringify

import (
	"strings"

	"unnatural-go/internal/model"
	"unnatural-go/internal/model/lexeme"
)

// Placeholders for lexemes whose text carries no modelling value.
var placeholders = map[string]string{
	lexeme.TypeEndMarker:    "<ENDMARKER>",
	lexeme.TypeIndent:       "<INDENT>",
	lexeme.TypeDedent:       "<DEDENT>",
	lexeme.TypeNewline:      "<NEWLINE>",
	lexeme.TypeNL:           "<NL>",
	lexeme.TypeWhitespace:   "<WS>",
	lexeme.TypeContinuation: "<CONT>",
}

// EndMarker is the placeholder every training record ends with.
const EndMarker = "<ENDMARKER>"

// Whitespace inside a value is escaped so one lexeme is one corpus token.
// Backslashes are escaped too, keeping distinct values distinct.
var escaper = strings.NewReplacer(
	`\`, `\\`,
	" ", `\x20`,
	"\t", `\x09`,
	"\n", `\x0a`,
	"\r", `\x0d`,
	"\f", `\x0c`,
	"\v", `\x0b`,
)

// Placeholder returns the placeholder for typ, if it has one.
func Placeholder(typ string) (string, bool) {
	p, ok := placeholders[typ]
	return p, ok
}

// StringifyOne renders a single lexeme as one corpus token.
func StringifyOne(l lexeme.Lexeme) (string, error) {
	if p, ok := placeholders[l.Type]; ok {
		return p, nil
	}
	if l.Value == "" {
		return "", &model.UnknownTokenTypeError{Type: l.Type}
	}
	return escaper.Replace(l.Value), nil
}

// StringifyAll renders seq as space-joined corpus tokens in document order.
func StringifyAll(seq lexeme.Sequence) (string, error) {
	var b strings.Builder
	for i, l := range seq {
		tok, err := StringifyOne(l)
		if err != nil {
			return "", err
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}
