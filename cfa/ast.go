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
	"fmt"
	"strings"
)

// Node is a syntax tree node. The set of node shapes is closed: every
// implementation lives in this file.
type Node interface {
	String() string
	node()
}

// Expression is a side-effect free C expression.
type Expression interface {
	Node
	expr()
}

// Statement is the content of a statement or return edge.
type Statement interface {
	Node
	stmt()
}

// Declaration is the content of a declaration edge.
type Declaration interface {
	Node
	decl()
}

// IdExpression references a declared variable or function.
type IdExpression struct {
	Name string
	// Decl is nil for unresolved names (e.g. external functions).
	Decl Declaration
}

type IntLiteral struct {
	Value int64
}

type StringLiteral struct {
	Value string
}

// UnaryExpression covers the prefix operators & - ! ~ and sizeof.
type UnaryExpression struct {
	Op      string
	Operand Expression
}

// PointerExpression is a dereference *Operand.
type PointerExpression struct {
	Operand Expression
}

type BinaryExpression struct {
	Op    string
	Left  Expression
	Right Expression
}

type CastExpression struct {
	Type    string
	Operand Expression
}

// FieldReference is Owner.Field, or Owner->Field when Deref is set.
type FieldReference struct {
	Owner Expression
	Field string
	Deref bool
}

type ArraySubscript struct {
	Array Expression
	Index Expression
}

// FunctionCallExpression is a call f(args...). It is not an Expression: calls
// only occur at statement level in a control-flow graph.
type FunctionCallExpression struct {
	Function Expression
	Args     []Expression
}

// FunctionName returns the name of the called function, or "" when the callee
// is not a plain identifier (e.g. a call through a function pointer).
func (c *FunctionCallExpression) FunctionName() string {
	if id, ok := c.Function.(*IdExpression); ok {
		return id.Name
	}
	return ""
}

type ExpressionStatement struct {
	Expr Expression
}

type AssignmentStatement struct {
	LHS Expression
	RHS Expression
}

type FunctionCallStatement struct {
	Call *FunctionCallExpression
}

type FunctionCallAssignmentStatement struct {
	LHS  Expression
	Call *FunctionCallExpression
}

// ReturnStatement returns Value from the current function; Value may be nil.
type ReturnStatement struct {
	Value Expression
}

// VariableDeclaration declares a global (file-scope) or function-local
// variable. Parameters are local variable declarations.
type VariableDeclaration struct {
	Name string
	// QualifiedName is unique per graph: globals keep their name, locals are
	// prefixed with their function ("f::x").
	QualifiedName string
	Type          string
	Global        bool
	Initializer   Expression
}

type FunctionDeclaration struct {
	Name   string
	Params []*VariableDeclaration
}

// FunctionCall is implemented by the two statements that call a function.
type FunctionCall interface {
	Statement
	CallExpression() *FunctionCallExpression
}

func (s *FunctionCallStatement) CallExpression() *FunctionCallExpression           { return s.Call }
func (s *FunctionCallAssignmentStatement) CallExpression() *FunctionCallExpression { return s.Call }

func (*IdExpression) node()                    {}
func (*IntLiteral) node()                      {}
func (*StringLiteral) node()                   {}
func (*UnaryExpression) node()                 {}
func (*PointerExpression) node()               {}
func (*BinaryExpression) node()                {}
func (*CastExpression) node()                  {}
func (*FieldReference) node()                  {}
func (*ArraySubscript) node()                  {}
func (*FunctionCallExpression) node()          {}
func (*ExpressionStatement) node()             {}
func (*AssignmentStatement) node()             {}
func (*FunctionCallStatement) node()           {}
func (*FunctionCallAssignmentStatement) node() {}
func (*ReturnStatement) node()                 {}
func (*VariableDeclaration) node()             {}
func (*FunctionDeclaration) node()             {}

func (*IdExpression) expr()      {}
func (*IntLiteral) expr()        {}
func (*StringLiteral) expr()     {}
func (*UnaryExpression) expr()   {}
func (*PointerExpression) expr() {}
func (*BinaryExpression) expr()  {}
func (*CastExpression) expr()    {}
func (*FieldReference) expr()    {}
func (*ArraySubscript) expr()    {}

func (*ExpressionStatement) stmt()             {}
func (*AssignmentStatement) stmt()             {}
func (*FunctionCallStatement) stmt()           {}
func (*FunctionCallAssignmentStatement) stmt() {}
func (*ReturnStatement) stmt()                 {}

func (*VariableDeclaration) decl() {}
func (*FunctionDeclaration) decl() {}

func (e *IdExpression) String() string  { return e.Name }
func (e *IntLiteral) String() string    { return fmt.Sprint(e.Value) }
func (e *StringLiteral) String() string { return fmt.Sprintf("%q", e.Value) }

func (e *UnaryExpression) String() string {
	if e.Op == "sizeof" {
		return fmt.Sprintf("sizeof(%v)", e.Operand)
	}
	return e.Op + operandString(e.Operand)
}

func (e *PointerExpression) String() string { return "*" + operandString(e.Operand) }

func (e *BinaryExpression) String() string {
	return fmt.Sprintf("%v %v %v", operandString(e.Left), e.Op, operandString(e.Right))
}

func (e *CastExpression) String() string {
	return fmt.Sprintf("(%v)%v", e.Type, operandString(e.Operand))
}

func (e *FieldReference) String() string {
	if e.Deref {
		return operandString(e.Owner) + "->" + e.Field
	}
	return operandString(e.Owner) + "." + e.Field
}

func (e *ArraySubscript) String() string {
	return fmt.Sprintf("%v[%v]", operandString(e.Array), e.Index)
}

func (c *FunctionCallExpression) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%v(%v)", c.Function, strings.Join(args, ", "))
}

func (s *ExpressionStatement) String() string { return s.Expr.String() + ";" }
func (s *AssignmentStatement) String() string { return fmt.Sprintf("%v = %v;", s.LHS, s.RHS) }
func (s *FunctionCallStatement) String() string { return s.Call.String() + ";" }

func (s *FunctionCallAssignmentStatement) String() string {
	return fmt.Sprintf("%v = %v;", s.LHS, s.Call)
}

func (s *ReturnStatement) String() string {
	if s.Value == nil {
		return "return;"
	}
	return fmt.Sprintf("return %v;", s.Value)
}

func (d *VariableDeclaration) String() string {
	typ := d.Type
	if typ == "" {
		typ = "int"
	}
	if d.Initializer != nil {
		return fmt.Sprintf("%v %v = %v;", typ, d.Name, d.Initializer)
	}
	return fmt.Sprintf("%v %v;", typ, d.Name)
}

func (d *FunctionDeclaration) String() string {
	params := make([]string, len(d.Params))
	for i, p := range d.Params {
		params[i] = p.Name
	}
	return fmt.Sprintf("%v(%v)", d.Name, strings.Join(params, ", "))
}

// operandString parenthesizes compound operands so that rendered text parses
// back to the same tree.
func operandString(e Expression) string {
	switch e.(type) {
	case *BinaryExpression, *CastExpression:
		return "(" + e.String() + ")"
	}
	return e.String()
}
