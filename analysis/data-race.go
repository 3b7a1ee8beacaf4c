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
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/practical-formal-methods/weft/cfa"
)

// MemoryAccess is one read or write of a shared variable.
type MemoryAccess struct {
	ThreadID string
	Location string
	IsWrite  bool
	// Locks held by the thread during the access, sorted.
	Locks []string
	// Forked lists, sorted, the threads created by ThreadID (or their
	// descendants) after the access. Their accesses are ordered after it.
	Forked []string
}

func (a MemoryAccess) key() string {
	return fmt.Sprintf("%s|%s|%t|%s|%s", a.ThreadID, a.Location, a.IsWrite,
		strings.Join(a.Locks, ","), strings.Join(a.Forked, ","))
}

func (a MemoryAccess) orderedBefore(thread string) bool {
	i := sort.SearchStrings(a.Forked, thread)
	return i < len(a.Forked) && a.Forked[i] == thread
}

// conflicts reports whether a and b form a data race.
func (a MemoryAccess) conflicts(b MemoryAccess) bool {
	if a.ThreadID == b.ThreadID || a.Location != b.Location {
		return false
	}
	if !a.IsWrite && !b.IsWrite {
		return false
	}
	if a.orderedBefore(b.ThreadID) || b.orderedBefore(a.ThreadID) {
		return false
	}
	return disjoint(a.Locks, b.Locks)
}

func (a MemoryAccess) String() string {
	kind := "read"
	if a.IsWrite {
		kind = "write"
	}
	return fmt.Sprintf("%s %s by %s %v", kind, a.Location, a.ThreadID, a.Locks)
}

// RaceState holds the accesses of live threads and a sticky race flag.
type RaceState struct {
	accesses []MemoryAccess
	hasRace  bool
	race     [2]MemoryAccess
}

func (r RaceState) HasRace() bool { return r.hasRace }

// Race returns the first conflicting pair found.
func (r RaceState) Race() (MemoryAccess, MemoryAccess, bool) {
	return r.race[0], r.race[1], r.hasRace
}

// Accesses returns the stored accesses, ordered by key.
func (r RaceState) Accesses() []MemoryAccess {
	return append([]MemoryAccess(nil), r.accesses...)
}

type rlpAccess struct {
	Thread   string
	Location string
	Write    bool
	Locks    []string
	Forked   []string
}

type rlpRaceState struct {
	Accesses []rlpAccess
	Race     bool
}

// Fingerprint hashes the access set and the race flag.
func (r RaceState) Fingerprint() common.Hash {
	enc := rlpRaceState{Race: r.hasRace}
	for _, a := range r.accesses {
		enc.Accesses = append(enc.Accesses, rlpAccess{
			Thread:   a.ThreadID,
			Location: a.Location,
			Write:    a.IsWrite,
			Locks:    a.Locks,
			Forked:   a.Forked,
		})
	}
	return rlpHash(enc)
}

// RaceTracker computes the memory accesses of edges and checks them against
// the accesses of other live threads.
type RaceTracker struct {
	primitives cfa.PrimitiveTable
}

func NewRaceTracker() *RaceTracker {
	return &RaceTracker{primitives: cfa.NewPthreadPrimitiveTable()}
}

// Step records the accesses of the step that produced post by moving its
// active thread over edge. Accesses of threads no longer live are dropped.
func (rt *RaceTracker) Step(prev RaceState, post GlobalState, edge *cfa.Edge) RaceState {
	active, ok := post.ActiveThread()
	if !ok {
		return prev
	}
	var locks []string
	for _, l := range post.LocksOfThread(active) {
		if l != LocalAccessLock {
			locks = append(locks, l)
		}
	}

	next := RaceState{hasRace: prev.hasRace, race: prev.race}
	seen := map[string]bool{}
	add := func(a MemoryAccess) {
		if k := a.key(); !seen[k] {
			seen[k] = true
			next.accesses = append(next.accesses, a)
		}
	}

	created := post.createdThread
	for _, a := range prev.accesses {
		if !post.HasThread(a.ThreadID) {
			continue
		}
		// Handles of joined threads may be reused for unrelated threads.
		a = a.withLiveForked(post)
		if created != "" && (a.ThreadID == active || a.orderedBefore(active)) {
			a = a.withForked(created)
		}
		add(a)
	}
	kept := len(next.accesses)

	for _, na := range rt.EdgeAccesses(edge) {
		na.ThreadID = active
		na.Locks = locks
		if !next.hasRace {
			for _, old := range next.accesses[:kept] {
				if old.conflicts(na) {
					next.hasRace = true
					next.race = [2]MemoryAccess{old, na}
					break
				}
			}
		}
		add(na)
	}
	sort.Slice(next.accesses, func(i, j int) bool {
		return next.accesses[i].key() < next.accesses[j].key()
	})
	return next
}

// withLiveForked drops the threads of Forked that are no longer running.
func (a MemoryAccess) withLiveForked(st GlobalState) MemoryAccess {
	live := 0
	for _, id := range a.Forked {
		if st.HasThread(id) {
			live++
		}
	}
	if live == len(a.Forked) {
		return a
	}
	var forked []string
	for _, id := range a.Forked {
		if st.HasThread(id) {
			forked = append(forked, id)
		}
	}
	a.Forked = forked
	return a
}

func (a MemoryAccess) withForked(thread string) MemoryAccess {
	if a.orderedBefore(thread) {
		return a
	}
	forked := make([]string, 0, len(a.Forked)+1)
	forked = append(forked, a.Forked...)
	forked = append(forked, thread)
	sort.Strings(forked)
	a.Forked = forked
	return a
}

// EdgeAccesses returns the shared-variable accesses of edge without thread
// and lock information. Only global variables are tracked, through plain
// names, array bases and struct fields; pointer targets are not.
func (rt *RaceTracker) EdgeAccesses(edge *cfa.Edge) []MemoryAccess {
	c := &accessCollector{primitives: rt.primitives}
	switch edge.Kind {
	case cfa.AssumeEdge:
		c.read(edge.Expression)
	case cfa.StatementEdge, cfa.ReturnStatementEdge, cfa.FunctionCallEdge:
		c.statement(edge.Statement)
	case cfa.DeclarationEdge:
		if d, ok := edge.Declaration.(*cfa.VariableDeclaration); ok {
			c.access(d, true)
			c.read(d.Initializer)
		}
	}
	return c.accesses
}

type accessCollector struct {
	primitives cfa.PrimitiveTable
	accesses   []MemoryAccess
}

func (c *accessCollector) access(d *cfa.VariableDeclaration, write bool) {
	if !d.Global {
		return
	}
	name := d.QualifiedName
	if name == "" {
		name = d.Name
	}
	for i, a := range c.accesses {
		if a.Location == name {
			if write {
				c.accesses[i].IsWrite = true
			}
			return
		}
	}
	c.accesses = append(c.accesses, MemoryAccess{Location: name, IsWrite: write})
}

func (c *accessCollector) statement(s cfa.Statement) {
	switch s := s.(type) {
	case *cfa.ExpressionStatement:
		c.read(s.Expr)
	case *cfa.AssignmentStatement:
		c.write(s.LHS)
		c.read(s.RHS)
	case *cfa.FunctionCallStatement:
		c.call(s.Call)
	case *cfa.FunctionCallAssignmentStatement:
		c.write(s.LHS)
		c.call(s.Call)
	case *cfa.ReturnStatement:
		c.read(s.Value)
	case nil:
	default:
		panic(fmt.Sprintf("unexpected statement %T", s))
	}
}

// call reads the callee and argument expressions unless the callee is a
// thread-safe primitive.
func (c *accessCollector) call(call *cfa.FunctionCallExpression) {
	if c.primitives.Lookup(call.FunctionName()).ThreadSafe {
		return
	}
	c.read(call.Function)
	for _, a := range call.Args {
		c.read(a)
	}
}

// write records the assigned variable of lhs and reads the rest.
func (c *accessCollector) write(lhs cfa.Expression) {
	switch e := lhs.(type) {
	case *cfa.IdExpression:
		if d, ok := e.Decl.(*cfa.VariableDeclaration); ok {
			c.access(d, true)
		}
	case *cfa.ArraySubscript:
		c.write(e.Array)
		c.read(e.Index)
	case *cfa.FieldReference:
		if e.Deref {
			c.read(e.Owner)
		} else {
			c.write(e.Owner)
		}
	case *cfa.CastExpression:
		c.write(e.Operand)
	default:
		c.read(lhs)
	}
}

// read records every variable mentioned in e.
func (c *accessCollector) read(e cfa.Expression) {
	switch e := e.(type) {
	case nil:
	case *cfa.IdExpression:
		if d, ok := e.Decl.(*cfa.VariableDeclaration); ok {
			c.access(d, false)
		}
	case *cfa.IntLiteral, *cfa.StringLiteral:
	case *cfa.UnaryExpression:
		c.read(e.Operand)
	case *cfa.PointerExpression:
		c.read(e.Operand)
	case *cfa.CastExpression:
		c.read(e.Operand)
	case *cfa.FieldReference:
		c.read(e.Owner)
	case *cfa.BinaryExpression:
		c.read(e.Left)
		c.read(e.Right)
	case *cfa.ArraySubscript:
		c.read(e.Array)
		c.read(e.Index)
	default:
		panic(fmt.Sprintf("unexpected expression %T", e))
	}
}
