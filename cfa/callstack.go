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
	"strings"
)

// CallStack is a persistent call stack. A nil *CallStack is the empty stack.
type CallStack struct {
	parent   *CallStack
	function string
	// callSite is the location the frame returns to; nil for a thread's
	// outermost frame.
	callSite *Location
	depth    int
}

// NewCallStack returns the stack of a thread starting in function.
func NewCallStack(function string) *CallStack {
	return (*CallStack)(nil).Push(function, nil)
}

// Push returns a new stack with one more frame; cs is unchanged.
func (cs *CallStack) Push(function string, callSite *Location) *CallStack {
	return &CallStack{
		parent:   cs,
		function: function,
		callSite: callSite,
		depth:    cs.Depth() + 1,
	}
}

// Pop returns the stack without its top frame.
func (cs *CallStack) Pop() *CallStack {
	if cs == nil {
		return nil
	}
	return cs.parent
}

func (cs *CallStack) Depth() int {
	if cs == nil {
		return 0
	}
	return cs.depth
}

// Function returns the function of the top frame.
func (cs *CallStack) Function() string {
	if cs == nil {
		return ""
	}
	return cs.function
}

// CallSite returns the call location of the top frame.
func (cs *CallStack) CallSite() *Location {
	if cs == nil {
		return nil
	}
	return cs.callSite
}

// Equal compares call histories frame by frame. Call sites are compared by
// location id, like in Frames.
func (cs *CallStack) Equal(o *CallStack) bool {
	for {
		if cs == o {
			return true
		}
		if cs == nil || o == nil || cs.depth != o.depth {
			return false
		}
		if cs.function != o.function || siteID(cs.callSite) != siteID(o.callSite) {
			return false
		}
		cs, o = cs.parent, o.parent
	}
}

func siteID(loc *Location) int {
	if loc == nil {
		return -1
	}
	return loc.ID
}

// Frame is the exported view of one stack frame, outermost first in Frames.
type Frame struct {
	Function string
	CallSite int
}

// Frames lists the frames from the outermost to the top one. A missing call
// site is reported as -1.
func (cs *CallStack) Frames() []Frame {
	frames := make([]Frame, cs.Depth())
	for i, c := len(frames)-1, cs; c != nil; i, c = i-1, c.parent {
		frames[i] = Frame{Function: c.function, CallSite: siteID(c.callSite)}
	}
	return frames
}

func (cs *CallStack) String() string {
	names := make([]string, 0, cs.Depth())
	for _, f := range cs.Frames() {
		names = append(names, f.Function)
	}
	return "[" + strings.Join(names, " > ") + "]"
}

// LocationSuccessor steps a single location along an edge.
type LocationSuccessor struct{}

func (LocationSuccessor) Successors(loc *Location, edge *Edge) []*Location {
	if edge.Pred != loc {
		return nil
	}
	return []*Location{edge.Succ}
}

// CallStackSuccessor steps a call stack along an edge. Calls push a frame,
// returns pop it if they go back to the recorded call site.
type CallStackSuccessor struct{}

func (CallStackSuccessor) Initial(function string) *CallStack {
	return NewCallStack(function)
}

func (CallStackSuccessor) Successors(cs *CallStack, edge *Edge) []*CallStack {
	switch edge.Kind {
	case FunctionCallEdge:
		return []*CallStack{cs.Push(edge.Function, edge.Pred)}
	case FunctionReturnEdge:
		if cs.Depth() < 2 || cs.Function() != edge.Function || cs.CallSite() != edge.CallSite {
			return nil
		}
		return []*CallStack{cs.Pop()}
	default:
		return []*CallStack{cs}
	}
}
