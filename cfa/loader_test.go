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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoWorkers = `
globals:
  - {name: g, init: "0"}
  - {name: m, type: pthread_mutex_t}
functions:
  - name: worker
    params: [arg]
    body:
      - "pthread_mutex_lock(&m)"
      - {declare: x, init: "g"}
      - {branch: "x > 0", then: pos, else: done}
      - {label: pos}
      - "g = x - 1"
      - {label: done}
      - "pthread_mutex_unlock(&m)"
  - name: main
    locals: [t1, t2]
    body:
      - "pthread_create(&t1, 0, worker, 0)"
      - "pthread_create(&t2, 0, worker, 0)"
      - "pthread_join(t1, 0)"
      - "pthread_join(t2, 0)"
`

func TestLoadProgram(t *testing.T) {
	p, err := ParseProgram([]byte(twoWorkers))
	require.NoError(t, err)
	assert.Equal(t, "main", p.Main)
	require.Len(t, p.Functions, 2)
	assert.Equal(t, "pthread_mutex_lock(&m)", p.Functions[0].Body[0].Stmt)
	assert.Equal(t, "x", p.Functions[0].Body[1].Declare)
	assert.Equal(t, "pos", p.Functions[0].Body[2].Then)

	b, err := p.Builder()
	require.NoError(t, err)
	g, err := b.Build(2)
	require.NoError(t, err)

	w, ok := g.Function("worker__cloned_function__2")
	require.True(t, ok)
	// lock, declare, then the branch.
	path := straightPath(w.Entry)
	require.True(t, len(path) > 3)
	branch := path[1].Succ
	require.Len(t, branch.Leaving(), 2)
	pos, done := branch.Leaving()[0].Succ, branch.Leaving()[1].Succ
	require.Len(t, pos.Leaving(), 1)
	assert.Equal(t, "g = x - 1;", pos.Leaving()[0].Statement.String())
	// The assignment falls through into the labelled location.
	assert.Same(t, done, pos.Leaving()[0].Succ.Leaving()[0].Succ)
	require.Len(t, done.Leaving(), 1)
	assert.Equal(t, "pthread_mutex_unlock(&m);", done.Leaving()[0].Statement.String())
}

func TestLoadProgramErrors(t *testing.T) {
	p, err := ParseProgram([]byte("functions: [{name: main, body: [{branch: x}]}]\nglobals: [{name: x}]"))
	require.NoError(t, err)
	_, err = p.Builder()
	assert.Error(t, err)

	p, _ = ParseProgram([]byte("functions: [{name: main, body: [{}]}]"))
	_, err = p.Builder()
	assert.Error(t, err)

	_, err = ParseProgram([]byte("functions: {"))
	assert.Error(t, err)

	_, err = LoadProgram("does-not-exist.yaml")
	assert.Error(t, err)
}
