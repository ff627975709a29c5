package expr

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokRef
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokDot
)

type token struct {
	kind tokenKind
	pos  int
	text string
	num  decimal.Decimal
	ref  Reference
}

var twoCharOps = []string{"==", "!=", "<=", ">="}

func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isDigit(c) || (c == '.' && i+1 < len(src) && isDigit(src[i+1])):
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			d, err := decimal.NewFromString(src[start:i])
			if err != nil {
				return nil, &SyntaxError{Expr: src, Pos: start, Msg: "invalid number " + src[start:i]}
			}
			tokens = append(tokens, token{kind: tokNumber, pos: start, text: src[start:i], num: d})
		case c == '\'' || c == '"':
			s, next, err := lexString(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokString, pos: i, text: s})
			i = next
		case c == '{':
			ref, next, err := lexRef(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{kind: tokRef, pos: i, text: src[i:next], ref: ref})
			i = next
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, pos: start, text: src[start:i]})
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, pos: i, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, pos: i, text: ")"})
			i++
		case c == ',':
			tokens = append(tokens, token{kind: tokComma, pos: i, text: ","})
			i++
		case c == '.':
			tokens = append(tokens, token{kind: tokDot, pos: i, text: "."})
			i++
		default:
			op := ""
			for _, candidate := range twoCharOps {
				if strings.HasPrefix(src[i:], candidate) {
					op = candidate
					break
				}
			}
			if op == "" && strings.ContainsRune("+-*/<>", rune(c)) {
				op = string(c)
			}
			if op == "" {
				return nil, &SyntaxError{Expr: src, Pos: i, Msg: "unexpected character " + string(c)}
			}
			tokens = append(tokens, token{kind: tokOp, pos: i, text: op})
			i += len(op)
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(src)})
	return tokens, nil
}

func lexString(src string, start int) (string, int, error) {
	quote := src[start]
	var b strings.Builder
	i := start + 1
	for i < len(src) {
		c := src[i]
		// Only quotes and backslashes are escapes; anything else after a
		// backslash is kept so regular expressions read naturally.
		if c == '\\' && i+1 < len(src) && (src[i+1] == quote || src[i+1] == '\\') {
			b.WriteByte(src[i+1])
			i += 2
			continue
		}
		if c == quote {
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
		i++
	}
	return "", 0, &SyntaxError{Expr: src, Pos: start, Msg: "unterminated string"}
}

// lexRef reads a placeholder: {name} or {name[KEY]}.
func lexRef(src string, start int) (Reference, int, error) {
	end := strings.IndexByte(src[start:], '}')
	if end < 0 {
		return Reference{}, 0, &SyntaxError{Expr: src, Pos: start, Msg: "unterminated placeholder"}
	}
	body := src[start+1 : start+end]
	next := start + end + 1

	name, key := body, ""
	if open := strings.IndexByte(body, '['); open >= 0 {
		if !strings.HasSuffix(body, "]") {
			return Reference{}, 0, &SyntaxError{Expr: src, Pos: start, Msg: "unbalanced bracket in placeholder " + src[start:next]}
		}
		name, key = body[:open], body[open+1:len(body)-1]
		if key == "" || !isWord(key) {
			return Reference{}, 0, &SyntaxError{Expr: src, Pos: start, Msg: "invalid key in placeholder " + src[start:next]}
		}
	} else if strings.ContainsAny(body, "]") {
		return Reference{}, 0, &SyntaxError{Expr: src, Pos: start, Msg: "unbalanced bracket in placeholder " + src[start:next]}
	}
	if name == "" || !isIdentStart(name[0]) || !isWord(name) {
		return Reference{}, 0, &SyntaxError{Expr: src, Pos: start, Msg: "invalid placeholder " + src[start:next]}
	}
	return Reference{Name: name, Key: key}, next, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || unicode.IsLetter(rune(c))
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isWord(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isIdentPart(s[i]) && s[i] != '-' {
			return false
		}
	}
	return true
}
