// Package sqlexpr tokenizes, analyzes, rewrites and evaluates the SQL
// expression fragments found in requirement tables: transforms, join
// conditions, filter predicates and aggregation formulas.
package sqlexpr

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

// Token types.
const (
	TokenEOF TokenType = iota
	TokenIllegal

	TokenIdent
	TokenNumber
	TokenString
	TokenPlaceholder // {from}

	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenPercent
	TokenConcat // ||
	TokenEQ
	TokenNE
	TokenLT
	TokenGT
	TokenLE
	TokenGE
	TokenDot
	TokenComma
	TokenLParen
	TokenRParen

	keywordStart
	TokenAnd
	TokenAs
	TokenBetween
	TokenCase
	TokenCast
	TokenDistinct
	TokenElse
	TokenEnd
	TokenFalse
	TokenFrom
	TokenIn
	TokenInterval
	TokenIs
	TokenLike
	TokenNot
	TokenNull
	TokenOr
	TokenThen
	TokenTrue
	TokenWhen
	keywordEnd
)

var keywords = map[string]TokenType{
	"and":      TokenAnd,
	"as":       TokenAs,
	"between":  TokenBetween,
	"case":     TokenCase,
	"cast":     TokenCast,
	"distinct": TokenDistinct,
	"else":     TokenElse,
	"end":      TokenEnd,
	"false":    TokenFalse,
	"from":     TokenFrom,
	"in":       TokenIn,
	"interval": TokenInterval,
	"is":       TokenIs,
	"like":     TokenLike,
	"not":      TokenNot,
	"null":     TokenNull,
	"or":       TokenOr,
	"then":     TokenThen,
	"true":     TokenTrue,
	"when":     TokenWhen,
}

// LookupIdent returns the keyword token type for a lowercased word, or TokenIdent.
func LookupIdent(lower string) TokenType {
	if t, ok := keywords[lower]; ok {
		return t
	}
	return TokenIdent
}

// IsKeyword reports whether t is a keyword token.
func (t TokenType) IsKeyword() bool {
	return t > keywordStart && t < keywordEnd
}

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenIllegal:
		return "ILLEGAL"
	case TokenIdent:
		return "IDENT"
	case TokenNumber:
		return "NUMBER"
	case TokenString:
		return "STRING"
	case TokenPlaceholder:
		return "PLACEHOLDER"
	}
	if t.IsKeyword() {
		for word, kt := range keywords {
			if kt == t {
				return fmt.Sprintf("keyword %s", word)
			}
		}
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is a lexical token with its byte span in the input.
type Token struct {
	Type    TokenType
	Literal string // unquoted text for strings and quoted identifiers
	Quoted  bool   // identifier was quoted with " or `
	Pos     int    // byte offset of the first character
	End     int    // byte offset after the last character
}
