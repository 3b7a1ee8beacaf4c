// Copyright 2018 MPI-SWS and Valentin Wuestholz

// This file is part of Weft.
//
// Weft is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Weft is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Weft.  If not, see <https://www.gnu.org/licenses/>.

package cfa

import (
	"strconv"
	"strings"
	"text/scanner"

	"github.com/pkg/errors"
)

// The parser accepts the statement subset that appears on control-flow
// edges: assignments, calls, call assignments, returns and side-effect free
// expressions. Identifiers are left unresolved (Decl == nil).

type token struct {
	kind rune
	text string
}

var binaryPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"|":  3,
	"^":  4,
	"&":  5,
	"==": 6, "!=": 6,
	"<": 7, ">": 7, "<=": 7, ">=": 7,
	"<<": 8, ">>": 8,
	"+": 9, "-": 9,
	"*": 10, "/": 10, "%": 10,
}

var typeNames = map[string]bool{
	"int": true, "long": true, "short": true, "char": true, "void": true,
	"unsigned": true, "signed": true, "float": true, "double": true,
	"pthread_t": true, "pthread_mutex_t": true, "size_t": true, "struct": true,
}

func tokenize(src string) ([]token, error) {
	var s scanner.Scanner
	var scanErr error
	s.Init(strings.NewReader(src))
	s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanStrings | scanner.ScanComments | scanner.SkipComments
	s.Error = func(_ *scanner.Scanner, msg string) {
		if scanErr == nil {
			scanErr = errors.Errorf("%s in %q", msg, src)
		}
	}
	var toks []token
	for tok := s.Scan(); tok != scanner.EOF; tok = s.Scan() {
		text := s.TokenText()
		switch tok {
		case '=', '!':
			if s.Peek() == '=' {
				s.Next()
				text += "="
			}
		case '<', '>':
			if s.Peek() == '=' {
				s.Next()
				text += "="
			} else if s.Peek() == tok {
				s.Next()
				text += string(tok)
			}
		case '&', '|':
			if s.Peek() == tok {
				s.Next()
				text += string(tok)
			}
		case '-':
			if s.Peek() == '>' {
				s.Next()
				text = "->"
			}
		}
		toks = append(toks, token{kind: tok, text: text})
	}
	if scanErr != nil {
		return nil, scanErr
	}
	// A trailing semicolon is optional.
	if n := len(toks); n > 0 && toks[n-1].text == ";" {
		toks = toks[:n-1]
	}
	return toks, nil
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token {
	if p.pos < len(p.toks) {
		return p.toks[p.pos]
	}
	return token{kind: scanner.EOF}
}

func (p *parser) next() token {
	t := p.peek()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *parser) expect(text string) error {
	if t := p.next(); t.text != text {
		return p.errorf("expected %q, found %q", text, t.text)
	}
	return nil
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return errors.Wrapf(errors.Errorf(format, args...), "parsing %q", p.src)
}

// ParseExpression parses a side-effect free expression.
func ParseExpression(src string) (Expression, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{src: src, toks: toks}
	e, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return e, nil
}

// ParseStatement parses one edge statement.
func ParseStatement(src string) (Statement, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, errors.Errorf("empty statement")
	}
	if toks[0].text == "return" && toks[0].kind == scanner.Ident {
		if len(toks) == 1 {
			return &ReturnStatement{}, nil
		}
		p := &parser{src: src, toks: toks[1:]}
		e, err := p.parseFull()
		if err != nil {
			return nil, err
		}
		return &ReturnStatement{Value: e}, nil
	}

	if eq := topLevelAssign(toks); eq >= 0 {
		lhs, err := (&parser{src: src, toks: toks[:eq]}).parseFull()
		if err != nil {
			return nil, err
		}
		rhsToks := toks[eq+1:]
		if isCall(rhsToks) {
			call, err := (&parser{src: src, toks: rhsToks}).parseCall()
			if err != nil {
				return nil, err
			}
			return &FunctionCallAssignmentStatement{LHS: lhs, Call: call}, nil
		}
		rhs, err := (&parser{src: src, toks: rhsToks}).parseFull()
		if err != nil {
			return nil, err
		}
		return &AssignmentStatement{LHS: lhs, RHS: rhs}, nil
	}

	if isCall(toks) {
		call, err := (&parser{src: src, toks: toks}).parseCall()
		if err != nil {
			return nil, err
		}
		return &FunctionCallStatement{Call: call}, nil
	}
	e, err := (&parser{src: src, toks: toks}).parseFull()
	if err != nil {
		return nil, err
	}
	return &ExpressionStatement{Expr: e}, nil
}

// topLevelAssign returns the index of the assignment operator outside of any
// parentheses, or -1.
func topLevelAssign(toks []token) int {
	depth := 0
	for i, t := range toks {
		switch t.text {
		case "(", "[":
			depth++
		case ")", "]":
			depth--
		case "=":
			if depth == 0 && t.kind == '=' {
				return i
			}
		}
	}
	return -1
}

// isCall reports whether toks has the shape ident ( ... ) with the closing
// parenthesis last.
func isCall(toks []token) bool {
	if len(toks) < 3 || toks[0].kind != scanner.Ident || toks[1].text != "(" || typeNames[toks[0].text] {
		return false
	}
	depth := 0
	for i := 1; i < len(toks); i++ {
		switch toks[i].text {
		case "(":
			depth++
		case ")":
			depth--
			if depth == 0 {
				return i == len(toks)-1
			}
		}
	}
	return false
}

func (p *parser) parseFull() (Expression, error) {
	e, err := p.parseExpr(1)
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, p.errorf("unexpected %q", p.peek().text)
	}
	return e, nil
}

func (p *parser) parseCall() (*FunctionCallExpression, error) {
	name := p.next()
	call := &FunctionCallExpression{Function: &IdExpression{Name: name.text}}
	if err := p.expect("("); err != nil {
		return nil, err
	}
	if p.peek().text == ")" {
		p.next()
		return call, nil
	}
	for {
		arg, err := p.parseExpr(1)
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		t := p.next()
		if t.text == ")" {
			break
		}
		if t.text != "," {
			return nil, p.errorf("expected \",\" or \")\", found %q", t.text)
		}
	}
	if p.pos != len(p.toks) {
		return nil, p.errorf("unexpected %q after call", p.peek().text)
	}
	return call, nil
}

func (p *parser) parseExpr(minPrec int) (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind == scanner.Ident || t.kind == scanner.Int || t.kind == scanner.String {
			return left, nil
		}
		prec, ok := binaryPrec[t.text]
		if !ok || prec < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.parseExpr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpression{Op: t.text, Left: left, Right: right}
	}
}

func (p *parser) parseUnary() (Expression, error) {
	t := p.peek()
	switch t.text {
	case "&", "-", "!", "~":
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryExpression{Op: t.text, Operand: operand}, nil
	case "*":
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &PointerExpression{Operand: operand}, nil
	case "sizeof":
		p.next()
		if err := p.expect("("); err != nil {
			return nil, err
		}
		var operand Expression
		if typeNames[p.peek().text] {
			typ := p.parseTypeName()
			operand = &IdExpression{Name: typ}
		} else {
			var err error
			if operand, err = p.parseExpr(1); err != nil {
				return nil, err
			}
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return &UnaryExpression{Op: "sizeof", Operand: operand}, nil
	case "(":
		if p.pos+1 < len(p.toks) && typeNames[p.toks[p.pos+1].text] {
			p.next()
			typ := p.parseTypeName()
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			operand, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			return &CastExpression{Type: typ, Operand: operand}, nil
		}
	}
	primary, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	return p.parsePostfix(primary)
}

func (p *parser) parseTypeName() string {
	var parts []string
	for {
		t := p.peek()
		if t.text == ")" || t.kind == scanner.EOF {
			break
		}
		p.next()
		parts = append(parts, t.text)
	}
	return strings.Replace(strings.Join(parts, " "), " *", "*", -1)
}

func (p *parser) parsePrimary() (Expression, error) {
	t := p.next()
	switch t.kind {
	case scanner.Ident:
		if p.peek().text == "(" {
			return nil, p.errorf("call to %s must be a statement of its own", t.text)
		}
		return &IdExpression{Name: t.text}, nil
	case scanner.Int:
		v, err := strconv.ParseInt(t.text, 0, 64)
		if err != nil {
			return nil, p.errorf("bad integer %q", t.text)
		}
		return &IntLiteral{Value: v}, nil
	case scanner.String:
		v, err := strconv.Unquote(t.text)
		if err != nil {
			return nil, p.errorf("bad string %s", t.text)
		}
		return &StringLiteral{Value: v}, nil
	}
	if t.text == "(" {
		e, err := p.parseExpr(1)
		if err != nil {
			return nil, err
		}
		if err := p.expect(")"); err != nil {
			return nil, err
		}
		return e, nil
	}
	if t.kind == scanner.EOF {
		return nil, p.errorf("unexpected end of input")
	}
	return nil, p.errorf("unexpected %q", t.text)
}

func (p *parser) parsePostfix(e Expression) (Expression, error) {
	for {
		switch p.peek().text {
		case "[":
			p.next()
			idx, err := p.parseExpr(1)
			if err != nil {
				return nil, err
			}
			if err := p.expect("]"); err != nil {
				return nil, err
			}
			e = &ArraySubscript{Array: e, Index: idx}
		case ".", "->":
			deref := p.next().text == "->"
			f := p.next()
			if f.kind != scanner.Ident {
				return nil, p.errorf("expected field name, found %q", f.text)
			}
			e = &FieldReference{Owner: e, Field: f.text, Deref: deref}
		default:
			return e, nil
		}
	}
}
