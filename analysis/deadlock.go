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
	"github.com/pkg/errors"

	"github.com/practical-formal-methods/weft/cfa"
)

// DeadlockProperty is the name of the deadlock property.
const DeadlockProperty = "deadlock"

var primitives = cfa.NewPthreadPrimitiveTable()

// Deadlocked reports whether the program has not terminated but every
// leaving edge of every thread waits for a held lock or for a running thread.
func (s GlobalState) Deadlocked() bool {
	edges := s.OutgoingEdges()
	// No edges: the program terminated normally.
	if len(edges) == 0 {
		return false
	}
	for _, e := range edges {
		if !s.waitsForOtherThread(e) {
			return false
		}
	}
	return true
}

// waitsForOtherThread reports whether edge is a lock of a held mutex or a join
// of a thread that has not finished. Malformed operands never block; the
// transfer relation reports them.
func (s GlobalState) waitsForOtherThread(edge *cfa.Edge) bool {
	if edge.Kind != cfa.StatementEdge {
		return false
	}
	call, ok := edge.Call()
	if !ok {
		return false
	}
	p := primitives.Lookup(call.FunctionName())
	switch p.Kind {
	case cfa.LockPrimitive:
		lock, err := extractLockID(p, call, edge)
		return err == nil && s.HasLock(lock)
	case cfa.JoinPrimitive:
		id, err := extractJoinedThread(p, call, edge)
		if err != nil {
			return false
		}
		r, running := s.threads[id]
		return running && !IsThreadFinished(r.Location)
	}
	return false
}

// CheckProperty answers a named boolean query about the state.
func (s GlobalState) CheckProperty(property string) (bool, error) {
	switch property {
	case DeadlockProperty:
		return s.Deadlocked(), nil
	}
	return false, errors.Errorf("unknown property %q", property)
}
