package model

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is wrapped by EmptyInputError.
	ErrEmptyInput = errors.New("input shorter than window")
	// ErrCorpusUnavailable is wrapped by CorpusUnavailableError.
	ErrCorpusUnavailable = errors.New("estimator unavailable")
	// ErrNoFilesTrained is returned when a project run trained nothing.
	ErrNoFilesTrained = errors.New("no files trained")
	// ErrReleased is returned by a corpus manager used after Release.
	ErrReleased = errors.New("corpus manager released")
)

// TokenizeError reports that a tokenizer could not lex its input.
type TokenizeError struct {
	Language string
	Path     string
	Line     int
	Msg      string
	Err      error
}

func (e *TokenizeError) Error() string {
	where := e.Language
	if e.Path != "" {
		where = e.Path
	}
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Line > 0 {
		return fmt.Sprintf("tokenize %s: line %d: %s", where, e.Line, msg)
	}
	return fmt.Sprintf("tokenize %s: %s", where, msg)
}

func (e *TokenizeError) Unwrap() error { return e.Err }

// EnvironmentError reports a missing or inaccessible path or binary.
type EnvironmentError struct {
	Path string
	Msg  string
	Err  error
}

func (e *EnvironmentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("environment: %s %s: %v", e.Msg, e.Path, e.Err)
	}
	return fmt.Sprintf("environment: %s %s", e.Msg, e.Path)
}

func (e *EnvironmentError) Unwrap() error { return e.Err }

// CorpusUnavailableError reports that the estimator could not be reached.
// Callers may retry.
type CorpusUnavailableError struct {
	Backend string
	Err     error
}

func (e *CorpusUnavailableError) Error() string {
	return fmt.Sprintf("%s estimator unavailable: %v", e.Backend, e.Err)
}

func (e *CorpusUnavailableError) Unwrap() []error {
	return []error{ErrCorpusUnavailable, e.Err}
}

// QueryError reports input the estimator or corpus rejected.
type QueryError struct {
	Op  string
	Msg string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Msg)
}

// EmptyInputError reports a windowed query over too few lexemes.
type EmptyInputError struct {
	Length     int
	WindowSize int
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("%d lexemes, window size %d: %v", e.Length, e.WindowSize, ErrEmptyInput)
}

func (e *EmptyInputError) Unwrap() error { return ErrEmptyInput }

// UnknownTokenTypeError reports a lexeme with neither placeholder nor value.
type UnknownTokenTypeError struct {
	Type string
}

func (e *UnknownTokenTypeError) Error() string {
	return fmt.Sprintf("unknown token type %q with empty value", e.Type)
}
