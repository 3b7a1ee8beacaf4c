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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/practical-formal-methods/weft/cfa"
)

func buildGraph(t *testing.T, b *cfa.Builder, clones int) *cfa.Graph {
	t.Helper()
	g, err := b.Build(clones)
	require.NoError(t, err)
	return g
}

// testOptions are the defaults without the local-access reduction, so that
// tests control every interleaving.
func testOptions() Options {
	opts := DefaultOptions()
	opts.UseLocalAccessLocks = false
	return opts
}

func newTestTransfer(t *testing.T, g *cfa.Graph, opts Options) (*TransferRelation, GlobalState) {
	t.Helper()
	tr, err := NewTransferRelation(g, opts)
	require.NoError(t, err)
	st, err := tr.InitialState()
	require.NoError(t, err)
	return tr, st
}

// nextEdge returns the first leaving edge of thread id.
func nextEdge(t *testing.T, st GlobalState, id string) *cfa.Edge {
	t.Helper()
	r, ok := st.Thread(id)
	require.True(t, ok, "no thread %s in %v", id, st)
	require.NotEmpty(t, r.Location.Leaving(), "thread %s has no edges", id)
	return r.Location.Leaving()[0]
}

// step moves thread id along its next edge and returns the strengthened
// successors.
func step(t *testing.T, tr *TransferRelation, st GlobalState, id string) []GlobalState {
	t.Helper()
	succs, err := tr.Successors(st, nextEdge(t, st, id))
	require.NoError(t, err)
	var res []GlobalState
	for _, s := range succs {
		res = append(res, tr.Strengthen(s)...)
	}
	return res
}

// stepOne is step for transitions with a single successor.
func stepOne(t *testing.T, tr *TransferRelation, st GlobalState, id string) GlobalState {
	t.Helper()
	res := step(t, tr, st, id)
	require.Len(t, res, 1, "thread %s in %v", id, st)
	return res[0]
}

// run takes n single-successor steps of thread id.
func run(t *testing.T, tr *TransferRelation, st GlobalState, id string, n int) GlobalState {
	t.Helper()
	for i := 0; i < n; i++ {
		st = stepOne(t, tr, st, id)
	}
	return st
}
