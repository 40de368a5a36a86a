package sqlexpr

import (
	"strings"
	"unicode"
)

// Lexer tokenizes a SQL expression.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	start := l.pos
	single := func(t TokenType) Token {
		l.readChar()
		return Token{Type: t, Literal: l.input[start:l.pos], Pos: start, End: l.pos}
	}
	double := func(t TokenType) Token {
		l.readChar()
		l.readChar()
		return Token{Type: t, Literal: l.input[start:l.pos], Pos: start, End: l.pos}
	}

	switch l.ch {
	case 0:
		return Token{Type: TokenEOF, Pos: start, End: start}
	case '+':
		return single(TokenPlus)
	case '-':
		return single(TokenMinus)
	case '*':
		return single(TokenStar)
	case '/':
		return single(TokenSlash)
	case '%':
		return single(TokenPercent)
	case '=':
		if l.peekChar() == '=' {
			return double(TokenEQ)
		}
		return single(TokenEQ)
	case '<':
		switch l.peekChar() {
		case '=':
			return double(TokenLE)
		case '>':
			return double(TokenNE)
		}
		return single(TokenLT)
	case '>':
		if l.peekChar() == '=' {
			return double(TokenGE)
		}
		return single(TokenGT)
	case '!':
		if l.peekChar() == '=' {
			return double(TokenNE)
		}
		return single(TokenIllegal)
	case '|':
		if l.peekChar() == '|' {
			return double(TokenConcat)
		}
		return single(TokenIllegal)
	case '.':
		if isDigit(l.peekChar()) {
			return l.readNumber()
		}
		return single(TokenDot)
	case ',':
		return single(TokenComma)
	case '(':
		return single(TokenLParen)
	case ')':
		return single(TokenRParen)
	case '{':
		return l.readPlaceholder()
	case '\'':
		return l.readQuoted('\'', TokenString)
	case '"':
		return l.readQuoted('"', TokenIdent)
	case '`':
		return l.readQuoted('`', TokenIdent)
	}

	if isLetter(l.ch) || l.ch == '_' {
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '$' {
			l.readChar()
		}
		word := l.input[start:l.pos]
		return Token{Type: LookupIdent(strings.ToLower(word)), Literal: word, Pos: start, End: l.pos}
	}
	if isDigit(l.ch) {
		return l.readNumber()
	}
	return single(TokenIllegal)
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
			l.readChar()
		}
		if l.ch == '-' && l.peekChar() == '-' {
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
			continue
		}
		if l.ch == '/' && l.peekChar() == '*' {
			l.readChar()
			l.readChar()
			for l.ch != 0 && !(l.ch == '*' && l.peekChar() == '/') {
				l.readChar()
			}
			if l.ch != 0 {
				l.readChar()
				l.readChar()
			}
			continue
		}
		return
	}
}

// readQuoted reads a string or quoted identifier. A doubled quote is an
// escaped quote. An unterminated literal yields TokenIllegal.
func (l *Lexer) readQuoted(quote byte, t TokenType) Token {
	start := l.pos
	l.readChar()

	var b strings.Builder
	for {
		switch {
		case l.ch == 0:
			return Token{Type: TokenIllegal, Literal: l.input[start:l.pos], Pos: start, End: l.pos}
		case l.ch == quote && l.peekChar() == quote:
			b.WriteByte(quote)
			l.readChar()
			l.readChar()
		case l.ch == quote:
			l.readChar()
			return Token{Type: t, Literal: b.String(), Quoted: t == TokenIdent, Pos: start, End: l.pos}
		case l.ch == '\\' && quote == '\'' && l.peekChar() != 0:
			l.readChar()
			b.WriteByte(l.ch)
			l.readChar()
		default:
			b.WriteByte(l.ch)
			l.readChar()
		}
	}
}

// readPlaceholder reads {name}.
func (l *Lexer) readPlaceholder() Token {
	start := l.pos
	l.readChar()
	nameStart := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	name := l.input[nameStart:l.pos]
	if l.ch != '}' || name == "" {
		return Token{Type: TokenIllegal, Literal: l.input[start:l.pos], Pos: start, End: l.pos}
	}
	l.readChar()
	return Token{Type: TokenPlaceholder, Literal: name, Pos: start, End: l.pos}
}

func (l *Lexer) readNumber() Token {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) || l.ch == '.' && l.pos == start {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	if (l.ch == 'e' || l.ch == 'E') && (isDigit(l.peekChar()) || l.peekChar() == '+' || l.peekChar() == '-') {
		l.readChar()
		if l.ch == '+' || l.ch == '-' {
			l.readChar()
		}
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return Token{Type: TokenNumber, Literal: l.input[start:l.pos], Pos: start, End: l.pos}
}

func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// Tokenize returns all tokens of input, ending with TokenEOF.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}
