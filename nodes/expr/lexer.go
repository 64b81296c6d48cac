// Package expr is the small, side-effect-free expression language used by
// check conditions. Identifiers resolve to scenario variables.
//
//	speed >= 3 && !paused
//	stage in ["dock", "undock"]
//	callsign contains "alpha"
package expr

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenKind identifies the type of a lexer token.
type TokenKind int

const (
	TokenIdent TokenKind = iota
	TokenNumber
	TokenString

	TokenEq       // ==
	TokenNeq      // !=
	TokenGt       // >
	TokenGte      // >=
	TokenLt       // <
	TokenLte      // <=
	TokenAnd      // &&
	TokenOr       // ||
	TokenNot      // !
	TokenIn       // in
	TokenContains // contains

	TokenLBracket // [
	TokenRBracket // ]
	TokenLParen   // (
	TokenRParen   // )
	TokenComma    // ,

	TokenTrue
	TokenFalse
	TokenNull
	TokenEOF
)

var tokenNames = [...]string{
	TokenIdent:    "identifier",
	TokenNumber:   "number",
	TokenString:   "string",
	TokenEq:       "==",
	TokenNeq:      "!=",
	TokenGt:       ">",
	TokenGte:      ">=",
	TokenLt:       "<",
	TokenLte:      "<=",
	TokenAnd:      "&&",
	TokenOr:       "||",
	TokenNot:      "!",
	TokenIn:       "in",
	TokenContains: "contains",
	TokenLBracket: "[",
	TokenRBracket: "]",
	TokenLParen:   "(",
	TokenRParen:   ")",
	TokenComma:    ",",
	TokenTrue:     "true",
	TokenFalse:    "false",
	TokenNull:     "null",
	TokenEOF:      "EOF",
}

func (k TokenKind) String() string {
	if int(k) >= 0 && int(k) < len(tokenNames) {
		return tokenNames[k]
	}
	return fmt.Sprintf("token(%d)", int(k))
}

// Token is a lexed token with its byte offset in the source.
type Token struct {
	Kind  TokenKind
	Value string
	Pos   int
}

var keywords = map[string]TokenKind{
	"in":       TokenIn,
	"contains": TokenContains,
	"true":     TokenTrue,
	"false":    TokenFalse,
	"null":     TokenNull,
}

var operators = []struct {
	text string
	kind TokenKind
}{
	// two-character operators first
	{"==", TokenEq}, {"!=", TokenNeq}, {">=", TokenGte}, {"<=", TokenLte},
	{"&&", TokenAnd}, {"||", TokenOr},
	{">", TokenGt}, {"<", TokenLt}, {"!", TokenNot},
	{"[", TokenLBracket}, {"]", TokenRBracket},
	{"(", TokenLParen}, {")", TokenRParen}, {",", TokenComma},
}

// Lex tokenizes src. The result always ends with a TokenEOF.
func Lex(src string) ([]Token, error) {
	var tokens []Token
	pos := 0
	for {
		for pos < len(src) {
			r, size := utf8.DecodeRuneInString(src[pos:])
			if !unicode.IsSpace(r) {
				break
			}
			pos += size
		}
		if pos >= len(src) {
			return append(tokens, Token{Kind: TokenEOF, Pos: pos}), nil
		}

		if tok, ok := lexOperator(src, pos); ok {
			tokens = append(tokens, tok)
			pos += len(tok.Value)
			continue
		}

		r, _ := utf8.DecodeRuneInString(src[pos:])
		switch {
		case r == '"':
			tok, next, err := lexString(src, pos)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			pos = next
		case isDigit(r) || (r == '-' && negativeAllowed(tokens) && pos+1 < len(src) && isDigit(rune(src[pos+1]))):
			tok := lexNumber(src, pos)
			tokens = append(tokens, tok)
			pos += len(tok.Value)
		case r == '_' || unicode.IsLetter(r):
			tok := lexIdent(src, pos)
			tokens = append(tokens, tok)
			pos += len(tok.Value)
		default:
			return nil, fmt.Errorf("expr: unexpected character %q at position %d", string(r), pos)
		}
	}
}

func lexOperator(src string, pos int) (Token, bool) {
	for _, op := range operators {
		if strings.HasPrefix(src[pos:], op.text) {
			return Token{Kind: op.kind, Value: op.text, Pos: pos}, true
		}
	}
	return Token{}, false
}

func lexString(src string, start int) (Token, int, error) {
	var sb strings.Builder
	for pos := start + 1; pos < len(src); pos++ {
		ch := src[pos]
		switch ch {
		case '"':
			return Token{Kind: TokenString, Value: sb.String(), Pos: start}, pos + 1, nil
		case '\\':
			pos++
			if pos >= len(src) {
				return Token{}, 0, fmt.Errorf("expr: unterminated string at position %d", start)
			}
			switch esc := src[pos]; esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			default:
				sb.WriteByte(esc)
			}
		default:
			sb.WriteByte(ch)
		}
	}
	return Token{}, 0, fmt.Errorf("expr: unterminated string at position %d", start)
}

func lexNumber(src string, start int) Token {
	pos := start
	if src[pos] == '-' {
		pos++
	}
	seenDot := false
	for pos < len(src) {
		ch := src[pos]
		if ch == '.' && !seenDot {
			seenDot = true
		} else if !isDigit(rune(ch)) {
			break
		}
		pos++
	}
	return Token{Kind: TokenNumber, Value: src[start:pos], Pos: start}
}

func lexIdent(src string, start int) Token {
	pos := start
	for pos < len(src) {
		r, size := utf8.DecodeRuneInString(src[pos:])
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			break
		}
		pos += size
	}
	word := src[start:pos]
	kind, ok := keywords[word]
	if !ok {
		kind = TokenIdent
	}
	return Token{Kind: kind, Value: word, Pos: start}
}

// negativeAllowed reports whether a '-' starts a negative literal: at the
// start of input or after an operator or opening delimiter.
func negativeAllowed(tokens []Token) bool {
	if len(tokens) == 0 {
		return true
	}
	switch tokens[len(tokens)-1].Kind {
	case TokenIdent, TokenNumber, TokenString, TokenRBracket, TokenRParen,
		TokenTrue, TokenFalse, TokenNull:
		return false
	}
	return true
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}
