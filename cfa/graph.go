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

	"github.com/pkg/errors"
)

// CloneSeparator joins a function name and a clone ordinal.
const CloneSeparator = "__cloned_function__"

// EdgeKind is the syntactic kind of a control-flow edge.
type EdgeKind int

const (
	BlankEdge EdgeKind = iota
	AssumeEdge
	StatementEdge
	DeclarationEdge
	ReturnStatementEdge
	FunctionCallEdge
	FunctionReturnEdge
)

var edgeKindNames = [...]string{
	BlankEdge:           "blank",
	AssumeEdge:          "assume",
	StatementEdge:       "statement",
	DeclarationEdge:     "declaration",
	ReturnStatementEdge: "return",
	FunctionCallEdge:    "call",
	FunctionReturnEdge:  "function-return",
}

func (k EdgeKind) String() string {
	if int(k) < len(edgeKindNames) {
		return edgeKindNames[k]
	}
	return fmt.Sprintf("EdgeKind(%d)", int(k))
}

// Location is a program point in one function's control-flow graph.
type Location struct {
	ID       int
	Function string

	leaving  []*Edge
	entering []*Edge
	// termination marks unconditional program termination (abort, assume(0)).
	termination bool
}

func (l *Location) Leaving() []*Edge  { return l.leaving }
func (l *Location) Entering() []*Edge { return l.entering }

// IsTermination reports whether reaching the location ends the whole program.
func (l *Location) IsTermination() bool { return l.termination }

func (l *Location) String() string {
	return fmt.Sprintf("N%d(%s)", l.ID, l.Function)
}

// Edge is one atomic step between two locations. Edges are compared by
// identity.
type Edge struct {
	Kind EdgeKind
	Pred *Location
	Succ *Location

	// Statement is set for statement and return edges and holds the call
	// statement of function-call edges.
	Statement Statement
	// Declaration is set for declaration edges.
	Declaration Declaration
	// Expression and Truth describe assume edges.
	Expression Expression
	Truth      bool
	// CallSite is the calling location of a function-return edge.
	CallSite *Location
	// Function is the entered (call edge) or exited (return edge) function.
	Function string
}

// Call returns the call expression carried by the edge, if any.
func (e *Edge) Call() (*FunctionCallExpression, bool) {
	if e.Kind != StatementEdge && e.Kind != FunctionCallEdge {
		return nil, false
	}
	if fc, ok := e.Statement.(FunctionCall); ok {
		return fc.CallExpression(), true
	}
	return nil, false
}

func (e *Edge) String() string {
	var desc string
	switch e.Kind {
	case BlankEdge:
		desc = ""
	case AssumeEdge:
		if e.Truth {
			desc = fmt.Sprintf("[%v]", e.Expression)
		} else {
			desc = fmt.Sprintf("[!(%v)]", e.Expression)
		}
	case StatementEdge, ReturnStatementEdge, FunctionCallEdge:
		desc = e.Statement.String()
	case DeclarationEdge:
		desc = e.Declaration.String()
	case FunctionReturnEdge:
		desc = "return from " + e.Function
	}
	return fmt.Sprintf("%v -{%s}-> %v", e.Pred, desc, e.Succ)
}

// Function is the control-flow graph of a single function.
type Function struct {
	Name  string
	Decl  *FunctionDeclaration
	Entry *Location
	Exit  *Location
	// Locals holds the local variables and parameters by source name.
	Locals map[string]*VariableDeclaration
}

// Graph is a whole program: a set of functions, one of them the main function.
type Graph struct {
	functions   map[string]*Function
	globals     map[string]*VariableDeclaration
	main        string
	termination *Location
	nextID      int
}

// NewGraph creates an empty graph whose entry function is main.
func NewGraph(main string) *Graph {
	g := &Graph{
		functions: map[string]*Function{},
		globals:   map[string]*VariableDeclaration{},
		main:      main,
	}
	g.termination = g.NewLocation("")
	g.termination.termination = true
	return g
}

// NewLocation allocates a location in function fn.
func (g *Graph) NewLocation(fn string) *Location {
	l := &Location{ID: g.nextID, Function: fn}
	g.nextID++
	return l
}

// AddEdge links e into the leaving/entering lists of its endpoints.
func (g *Graph) AddEdge(e *Edge) *Edge {
	e.Pred.leaving = append(e.Pred.leaving, e)
	e.Succ.entering = append(e.Succ.entering, e)
	return e
}

// Termination returns the program-wide termination location.
func (g *Graph) Termination() *Location { return g.termination }

func (g *Graph) Main() *Function { return g.functions[g.main] }

func (g *Graph) Function(name string) (*Function, bool) {
	f, ok := g.functions[name]
	return f, ok
}

func (g *Graph) Functions() map[string]*Function { return g.functions }

func (g *Graph) Global(name string) (*VariableDeclaration, bool) {
	d, ok := g.globals[name]
	return d, ok
}

// IsMainExit reports whether l is the exit location of the main function.
func (g *Graph) IsMainExit(l *Location) bool {
	m := g.Main()
	return m != nil && m.Exit == l
}

// ClonedName returns the name of the ordinal-th copy of function name.
func ClonedName(name string, ordinal int) string {
	return fmt.Sprintf("%s%s%d", name, CloneSeparator, ordinal)
}

// ClonedEntry returns the entry location of the ordinal-th clone of name.
func (g *Graph) ClonedEntry(name string, ordinal int) (*Location, error) {
	return g.FunctionEntry(ClonedName(name, ordinal))
}

// FunctionEntry returns the entry location of function name.
func (g *Graph) FunctionEntry(name string) (*Location, error) {
	f, ok := g.functions[name]
	if !ok {
		return nil, errors.Errorf("no function %q in control-flow graph", name)
	}
	return f.Entry, nil
}
