// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tokenize splits raw command-line text into tokens.
//
// Whitespace separates tokens outside of quotes. A double quote opens a
// quoted region that runs until the next unescaped double quote; inside it,
// \" is a literal quote and whitespace is kept. Tokens record whether any
// part of them came from a quoted region so that callers can tell a literal
// "-x" apart from a flag.
package tokenize

import (
	"errors"
	"fmt"
	"iter"
	"strings"
	"unicode"
)

// ErrUnterminatedQuote is matched by a SyntaxError reporting a quote that
// was never closed.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// Token is one word of a command line.
type Token struct {
	Text   string
	Quoted bool // some part of Text came from a quoted region
}

func (t Token) String() string {
	if t.Quoted {
		return fmt.Sprintf("%q", t.Text)
	}
	return t.Text
}

// SyntaxError is returned when raw input cannot be tokenized.
type SyntaxError struct {
	Offset int // byte offset of the opening quote
	Input  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("unterminated quote at offset %d", e.Offset)
}

func (e *SyntaxError) Is(target error) bool {
	return target == ErrUnterminatedQuote
}

// Tokenize splits raw into tokens.
func Tokenize(raw string) ([]Token, error) {
	var out []Token
	for tok, err := range All(raw) {
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, nil
}

// All returns a lazy sequence over the tokens of raw. Every call returns an
// independent sequence. If raw has an unterminated quote the sequence ends
// with a single (Token{}, *SyntaxError) pair.
func All(raw string) iter.Seq2[Token, error] {
	return func(yield func(Token, error) bool) {
		var (
			b       strings.Builder
			inTok   bool
			quoted  bool
			inQuote bool
			start   int
		)
		flush := func() bool {
			if !inTok {
				return true
			}
			tok := Token{Text: b.String(), Quoted: quoted}
			b.Reset()
			inTok, quoted = false, false
			return yield(tok, nil)
		}
		for i := 0; i < len(raw); i++ {
			c := raw[i]
			if inQuote {
				switch {
				case c == '\\' && i+1 < len(raw) && raw[i+1] == '"':
					b.WriteByte('"')
					i++
				case c == '"':
					inQuote = false
				default:
					b.WriteByte(c)
				}
				continue
			}
			switch {
			case c == '"':
				inQuote, inTok, quoted = true, true, true
				start = i
			case c < 0x80 && unicode.IsSpace(rune(c)):
				if !flush() {
					return
				}
			default:
				inTok = true
				b.WriteByte(c)
			}
		}
		if inQuote {
			yield(Token{}, &SyntaxError{Offset: start, Input: raw})
			return
		}
		flush()
	}
}

// FromArgs wraps already split process arguments as unquoted tokens.
func FromArgs(args []string) []Token {
	out := make([]Token, len(args))
	for i, a := range args {
		out[i] = Token{Text: a}
	}
	return out
}

// Texts returns the text of each token.
func Texts(tokens []Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

// Join renders tokens back into a single line that Tokenize splits into the
// same texts. Tokens are quoted only when needed.
func Join(tokens []Token) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(quote(t))
	}
	return b.String()
}

func quote(t Token) string {
	needs := t.Text == "" || (t.Quoted && strings.HasPrefix(t.Text, "-"))
	if !needs {
		needs = strings.ContainsFunc(t.Text, func(r rune) bool {
			return r == '"' || unicode.IsSpace(r)
		})
	}
	if !needs {
		return t.Text
	}
	// A backslash before the closing quote would escape it, so trailing
	// backslashes are glued on after the quoted region.
	body := strings.TrimRight(t.Text, `\`)
	tail := t.Text[len(body):]
	return `"` + strings.ReplaceAll(body, `"`, `\"`) + `"` + tail
}
