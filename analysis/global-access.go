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

package analysis

import (
	"fmt"
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/practical-formal-methods/weft/cfa"
)

// GlobalAccessChecker decides whether an edge may read or write memory that
// other threads can see. Calls are judged at the caller side only: a call is
// global if its callee or argument expressions are, the callee body is not
// inspected.
//
// Syntax nodes are shared by all edges and never change, so results are
// cached by node identity.
type GlobalAccessChecker struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func NewGlobalAccessChecker() *GlobalAccessChecker {
	// No entry limit: every node is visited once per process.
	return &GlobalAccessChecker{cache: lru.New(0)}
}

// HasGlobalAccess reports whether edge possibly touches shared memory.
func (c *GlobalAccessChecker) HasGlobalAccess(edge *cfa.Edge) bool {
	switch edge.Kind {
	case cfa.BlankEdge, cfa.FunctionReturnEdge:
		return false
	case cfa.AssumeEdge:
		return c.HasGlobalAccessNode(edge.Expression)
	case cfa.StatementEdge, cfa.ReturnStatementEdge, cfa.FunctionCallEdge:
		return c.HasGlobalAccessNode(edge.Statement)
	case cfa.DeclarationEdge:
		return c.HasGlobalAccessNode(edge.Declaration)
	}
	panic(fmt.Sprintf("unexpected edge kind %v", edge.Kind))
}

// HasGlobalAccessNode is the memoized per-node predicate.
func (c *GlobalAccessChecker) HasGlobalAccessNode(n cfa.Node) bool {
	if n == nil {
		return false
	}
	c.mu.Lock()
	v, ok := c.cache.Get(n)
	c.mu.Unlock()
	if ok {
		return v.(bool)
	}
	res := c.compute(n)
	c.mu.Lock()
	c.cache.Add(n, res)
	c.mu.Unlock()
	return res
}

func (c *GlobalAccessChecker) any(exprs ...cfa.Expression) bool {
	for _, e := range exprs {
		if e != nil && c.HasGlobalAccessNode(e) {
			return true
		}
	}
	return false
}

func (c *GlobalAccessChecker) compute(n cfa.Node) bool {
	switch n := n.(type) {
	case *cfa.IdExpression:
		d, ok := n.Decl.(*cfa.VariableDeclaration)
		return ok && d.Global
	case *cfa.IntLiteral, *cfa.StringLiteral:
		return false
	case *cfa.UnaryExpression:
		return c.any(n.Operand)
	case *cfa.PointerExpression:
		return c.any(n.Operand)
	case *cfa.CastExpression:
		return c.any(n.Operand)
	case *cfa.FieldReference:
		return c.any(n.Owner)
	case *cfa.BinaryExpression:
		return c.any(n.Left, n.Right)
	case *cfa.ArraySubscript:
		return c.any(n.Array, n.Index)
	case *cfa.FunctionCallExpression:
		return c.any(n.Function) || c.any(n.Args...)
	case *cfa.ExpressionStatement:
		return c.any(n.Expr)
	case *cfa.AssignmentStatement:
		return c.any(n.LHS, n.RHS)
	case *cfa.FunctionCallStatement:
		return c.HasGlobalAccessNode(n.Call)
	case *cfa.FunctionCallAssignmentStatement:
		return c.any(n.LHS) || c.HasGlobalAccessNode(n.Call)
	case *cfa.ReturnStatement:
		return c.any(n.Value)
	case *cfa.VariableDeclaration:
		return n.Global || c.any(n.Initializer)
	case *cfa.FunctionDeclaration:
		return false
	}
	panic(fmt.Sprintf("unexpected syntax node %T", n))
}
