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

const exitLabel = "exit"

// Builder assembles a Graph from source snippets, one edge at a time.
// Statements are kept as text and parsed once per function copy, so every
// clone owns its own syntax nodes and local declarations.
type Builder struct {
	main    string
	globals []globalSpec
	funcs   []*FunctionBuilder
	byName  map[string]*FunctionBuilder
}

type globalSpec struct {
	name string
	typ  string
	init string
}

type edgeOp int

const (
	opStatement edgeOp = iota
	opDeclare
	opAssume
	opBlank
)

type edgeSpec struct {
	op       edgeOp
	from, to string
	src      string
	name     string
	truth    bool
}

// FunctionBuilder builds the body of one function. Locations are named by
// labels; unnamed locations get fresh labels.
type FunctionBuilder struct {
	b      *Builder
	name   string
	params []string
	locals []string
	edges  []edgeSpec
	cur    string
	fresh  int
}

func NewBuilder(main string) *Builder {
	return &Builder{main: main, byName: map[string]*FunctionBuilder{}}
}

// Global declares a file-scope variable with an optional initializer.
func (b *Builder) Global(name string, init ...string) *Builder {
	g := globalSpec{name: name, typ: "int"}
	if len(init) > 0 {
		g.init = init[0]
	}
	b.globals = append(b.globals, g)
	return b
}

// GlobalMutex declares a file-scope pthread_mutex_t.
func (b *Builder) GlobalMutex(name string) *Builder {
	b.globals = append(b.globals, globalSpec{name: name, typ: "pthread_mutex_t"})
	return b
}

// Function starts (or continues) the body of function name.
func (b *Builder) Function(name string, params ...string) *FunctionBuilder {
	if fb, ok := b.byName[name]; ok {
		return fb
	}
	fb := &FunctionBuilder{b: b, name: name, params: params, cur: "entry"}
	b.funcs = append(b.funcs, fb)
	b.byName[name] = fb
	return fb
}

func (f *FunctionBuilder) freshLabel() string {
	f.fresh++
	return fmt.Sprintf("#%d", f.fresh)
}

// At moves the insertion point to label.
func (f *FunctionBuilder) At(label string) *FunctionBuilder {
	f.cur = label
	return f
}

// Stmt appends a statement edge. Return statements lead to the function
// exit, calls to defined functions become call/return edge pairs, abort()
// leads to the program termination location.
func (f *FunctionBuilder) Stmt(src string) *FunctionBuilder {
	next := f.freshLabel()
	f.edges = append(f.edges, edgeSpec{op: opStatement, from: f.cur, to: next, src: src})
	f.cur = next
	return f
}

// StmtTo appends a statement edge to an explicit label.
func (f *FunctionBuilder) StmtTo(src, to string) *FunctionBuilder {
	f.edges = append(f.edges, edgeSpec{op: opStatement, from: f.cur, to: to, src: src})
	f.cur = to
	return f
}

// Declare adds a local variable and its declaration edge.
func (f *FunctionBuilder) Declare(name string, init ...string) *FunctionBuilder {
	f.locals = append(f.locals, name)
	next := f.freshLabel()
	spec := edgeSpec{op: opDeclare, from: f.cur, to: next, name: name}
	if len(init) > 0 {
		spec.src = init[0]
	}
	f.edges = append(f.edges, spec)
	f.cur = next
	return f
}

// Local adds a local variable without a declaration edge.
func (f *FunctionBuilder) Local(name string) *FunctionBuilder {
	f.locals = append(f.locals, name)
	return f
}

// Branch adds the two assume edges of a condition.
func (f *FunctionBuilder) Branch(cond, then, els string) *FunctionBuilder {
	f.edges = append(f.edges,
		edgeSpec{op: opAssume, from: f.cur, to: then, src: cond, truth: true},
		edgeSpec{op: opAssume, from: f.cur, to: els, src: cond, truth: false})
	f.cur = then
	return f
}

// Goto adds a blank edge to label.
func (f *FunctionBuilder) Goto(label string) *FunctionBuilder {
	f.edges = append(f.edges, edgeSpec{op: opBlank, from: f.cur, to: label})
	f.cur = f.freshLabel()
	return f
}

// Build materializes the graph. Every function except main is copied clones
// times (ordinals 1..clones); calls inside a copy target the copy with the
// same ordinal.
func (b *Builder) Build(clones int) (*Graph, error) {
	if _, ok := b.byName[b.main]; !ok {
		return nil, errors.Errorf("main function %q not defined", b.main)
	}
	g := NewGraph(b.main)
	for _, spec := range b.globals {
		g.globals[spec.name] = &VariableDeclaration{
			Name:          spec.name,
			QualifiedName: spec.name,
			Type:          spec.typ,
			Global:        true,
		}
	}
	// Function declarations first, so that bodies can reference each other.
	for _, fb := range b.funcs {
		names := []string{fb.name}
		if fb.name != b.main {
			for i := 1; i <= clones; i++ {
				names = append(names, ClonedName(fb.name, i))
			}
		}
		for _, name := range names {
			fn := &Function{
				Name:   name,
				Decl:   &FunctionDeclaration{Name: name},
				Locals: map[string]*VariableDeclaration{},
			}
			fn.Entry = g.NewLocation(name)
			fn.Exit = g.NewLocation(name)
			g.functions[name] = fn
		}
	}
	for _, fb := range b.funcs {
		if err := fb.materialize(g, fb.name, 0); err != nil {
			return nil, err
		}
		if fb.name == b.main {
			continue
		}
		for i := 1; i <= clones; i++ {
			if err := fb.materialize(g, ClonedName(fb.name, i), i); err != nil {
				return nil, err
			}
		}
	}
	return g, nil
}

type funcCtx struct {
	g       *Graph
	fn      *Function
	ordinal int
	main    string
	labels  map[string]*Location
}

func (c *funcCtx) location(label string) *Location {
	if label == exitLabel {
		return c.fn.Exit
	}
	if l, ok := c.labels[label]; ok {
		return l
	}
	l := c.g.NewLocation(c.fn.Name)
	c.labels[label] = l
	return l
}

// target returns the copy of a called function matching the caller's ordinal.
func (c *funcCtx) target(name string) (*Function, bool) {
	if c.ordinal > 0 && name != c.main {
		if f, ok := c.g.functions[ClonedName(name, c.ordinal)]; ok {
			return f, true
		}
	}
	f, ok := c.g.functions[name]
	return f, ok
}

func (f *FunctionBuilder) materialize(g *Graph, name string, ordinal int) error {
	fn := g.functions[name]
	ctx := &funcCtx{
		g:       g,
		fn:      fn,
		ordinal: ordinal,
		main:    f.b.main,
		labels:  map[string]*Location{"entry": fn.Entry},
	}
	for _, p := range f.params {
		d := &VariableDeclaration{Name: p, QualifiedName: name + "::" + p, Type: "void*"}
		fn.Locals[p] = d
		fn.Decl.Params = append(fn.Decl.Params, d)
	}
	for _, l := range f.locals {
		fn.Locals[l] = &VariableDeclaration{Name: l, QualifiedName: name + "::" + l, Type: "int"}
	}

	// Globals are declared at the beginning of main.
	if name == f.b.main {
		pred := fn.Entry
		for _, spec := range f.b.globals {
			d := g.globals[spec.name]
			if spec.init != "" {
				init, err := ParseExpression(spec.init)
				if err != nil {
					return err
				}
				if err := ctx.resolve(init); err != nil {
					return err
				}
				d.Initializer = init
			}
			succ := g.NewLocation(name)
			g.AddEdge(&Edge{Kind: DeclarationEdge, Pred: pred, Succ: succ, Declaration: d})
			pred = succ
		}
		if pred != fn.Entry {
			// Re-root the body after the global declarations.
			ctx.labels["entry"] = pred
		}
	}

	for _, spec := range f.edges {
		if err := ctx.addEdge(spec); err != nil {
			return errors.Wrapf(err, "function %s", name)
		}
	}

	// Falling off the end of the body returns.
	last := ctx.location(f.cur)
	if last != fn.Exit && len(last.leaving) == 0 && (len(last.entering) > 0 || last == ctx.labels["entry"]) {
		g.AddEdge(&Edge{Kind: BlankEdge, Pred: last, Succ: fn.Exit})
	}
	return nil
}

func (c *funcCtx) addEdge(spec edgeSpec) error {
	pred := c.location(spec.from)
	switch spec.op {
	case opBlank:
		c.g.AddEdge(&Edge{Kind: BlankEdge, Pred: pred, Succ: c.location(spec.to)})
		return nil
	case opAssume:
		cond, err := ParseExpression(spec.src)
		if err != nil {
			return err
		}
		if err := c.resolve(cond); err != nil {
			return err
		}
		c.g.AddEdge(&Edge{Kind: AssumeEdge, Pred: pred, Succ: c.location(spec.to), Expression: cond, Truth: spec.truth})
		return nil
	case opDeclare:
		d := c.fn.Locals[spec.name]
		if spec.src != "" {
			init, err := ParseExpression(spec.src)
			if err != nil {
				return err
			}
			if err := c.resolve(init); err != nil {
				return err
			}
			d.Initializer = init
		}
		c.g.AddEdge(&Edge{Kind: DeclarationEdge, Pred: pred, Succ: c.location(spec.to), Declaration: d})
		return nil
	}

	stmt, err := ParseStatement(spec.src)
	if err != nil {
		return err
	}
	if err := c.resolve(stmt); err != nil {
		return err
	}
	switch s := stmt.(type) {
	case *ReturnStatement:
		c.g.AddEdge(&Edge{Kind: ReturnStatementEdge, Pred: pred, Succ: c.fn.Exit, Statement: s})
		return nil
	case FunctionCall:
		call := s.CallExpression()
		calleeName := call.FunctionName()
		if calleeName == Abort {
			c.g.AddEdge(&Edge{Kind: StatementEdge, Pred: pred, Succ: c.g.termination, Statement: s})
			return nil
		}
		if callee, ok := c.target(calleeName); ok {
			succ := c.location(spec.to)
			c.g.AddEdge(&Edge{Kind: FunctionCallEdge, Pred: pred, Succ: callee.Entry, Statement: s, Function: callee.Name})
			c.g.AddEdge(&Edge{Kind: FunctionReturnEdge, Pred: callee.Exit, Succ: succ, CallSite: pred, Function: callee.Name})
			return nil
		}
	}
	c.g.AddEdge(&Edge{Kind: StatementEdge, Pred: pred, Succ: c.location(spec.to), Statement: stmt})
	return nil
}

// resolve binds identifiers to local, parameter, global or function
// declarations. Callee names of undefined functions stay unresolved.
func (c *funcCtx) resolve(n Node) error {
	switch n := n.(type) {
	case nil:
		return nil
	case *IdExpression:
		if d, ok := c.fn.Locals[n.Name]; ok {
			n.Decl = d
		} else if d, ok := c.g.globals[n.Name]; ok {
			n.Decl = d
		} else if f, ok := c.target(n.Name); ok {
			n.Decl = f.Decl
		} else if !typeNames[n.Name] {
			return errors.Errorf("undeclared identifier %q", n.Name)
		}
		return nil
	case *IntLiteral, *StringLiteral:
		return nil
	case *UnaryExpression:
		return c.resolve(n.Operand)
	case *PointerExpression:
		return c.resolve(n.Operand)
	case *CastExpression:
		return c.resolve(n.Operand)
	case *FieldReference:
		return c.resolve(n.Owner)
	case *BinaryExpression:
		if err := c.resolve(n.Left); err != nil {
			return err
		}
		return c.resolve(n.Right)
	case *ArraySubscript:
		if err := c.resolve(n.Array); err != nil {
			return err
		}
		return c.resolve(n.Index)
	case *FunctionCallExpression:
		if id, ok := n.Function.(*IdExpression); ok {
			if f, ok := c.target(id.Name); ok {
				id.Decl = f.Decl
			}
		} else if err := c.resolve(n.Function); err != nil {
			return err
		}
		for _, a := range n.Args {
			if err := c.resolve(a); err != nil {
				return err
			}
		}
		return nil
	case *ExpressionStatement:
		return c.resolve(n.Expr)
	case *AssignmentStatement:
		if err := c.resolve(n.LHS); err != nil {
			return err
		}
		return c.resolve(n.RHS)
	case *FunctionCallStatement:
		return c.resolve(n.Call)
	case *FunctionCallAssignmentStatement:
		if err := c.resolve(n.LHS); err != nil {
			return err
		}
		return c.resolve(n.Call)
	case *ReturnStatement:
		return c.resolve(n.Value)
	}
	return errors.Errorf("unexpected syntax node %T", n)
}
