package expr

import (
	"fmt"
	"strings"
)

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &SyntaxError{Expr: p.src, Pos: t.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tokIdent && t.text == word
}

func (p *parser) isOp(ops ...string) bool {
	t := p.peek()
	if t.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if t.text == op {
			return true
		}
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf(t, "expected %s, found %s", what, describe(t))
	}
	return t, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logicalNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isKeyword("not") {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}

	var op string
	switch {
	case p.isOp("==", "!=", "<", "<=", ">", ">="):
		op = p.next().text
	case p.isKeyword("in"):
		p.next()
		op = "in"
	case p.isKeyword("not") && p.tokens[p.pos+1].kind == tokIdent && p.tokens[p.pos+1].text == "in":
		p.next()
		p.next()
		op = "not in"
	default:
		return left, nil
	}

	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if p.isOp("==", "!=", "<", "<=", ">", ">=") || p.isKeyword("in") {
		return nil, p.errorf(p.peek(), "chained comparisons are not supported")
	}
	return &compareNode{op: op, left: left, right: right}, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isOp("-", "+") {
		op := p.next().text
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if op == "+" {
			return &negNode{operand: operand, plus: true}, nil
		}
		return &negNode{operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokDot {
		p.next()
		name, err := p.expect(tokIdent, "method name")
		if err != nil {
			return nil, err
		}
		if _, ok := methods[name.text]; !ok {
			return nil, p.errorf(name, "unsupported method %s", name.text)
		}
		if _, err := p.expect(tokLParen, "("); err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		n = &callNode{name: name.text, args: []node{n}}
	}
	return n, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &literalNode{value: Number(t.num)}, nil
	case tokString:
		return &literalNode{value: String(t.text)}, nil
	case tokRef:
		return &refNode{ref: t.ref}, nil
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	case tokIdent:
		switch t.text {
		case "true", "True":
			return &literalNode{value: Bool(true)}, nil
		case "false", "False":
			return &literalNode{value: Bool(false)}, nil
		}
		fn, ok := functions[t.text]
		if !ok {
			return nil, p.errorf(t, "unknown identifier %s", t.text)
		}
		if _, err := p.expect(tokLParen, "("); err != nil {
			return nil, err
		}
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
			return nil, p.errorf(t, "wrong number of arguments to %s: %d", t.text, len(args))
		}
		return &callNode{name: t.text, args: args}, nil
	default:
		return nil, p.errorf(t, "unexpected %s", describe(t))
	}
}

func (p *parser) parseArgs() ([]node, error) {
	var args []node
	if p.peek().kind == tokRParen {
		p.next()
		return args, nil
	}
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		t := p.next()
		switch t.kind {
		case tokComma:
			continue
		case tokRParen:
			return args, nil
		default:
			return nil, p.errorf(t, "expected , or ) in argument list, found %s", describe(t))
		}
	}
}

func describe(t token) string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return strings.TrimSpace(t.text)
	}
}
