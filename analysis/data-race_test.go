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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practical-formal-methods/weft/cfa"
)

func TestEdgeAccesses(t *testing.T) {
	stmts := []struct {
		src  string
		want []MemoryAccess
	}{
		{"g = x", []MemoryAccess{{Location: "g", IsWrite: true}}},
		{"x = g + a[y]", []MemoryAccess{{Location: "g"}, {Location: "a"}}},
		{"a[g] = 1", []MemoryAccess{{Location: "a", IsWrite: true}, {Location: "g"}}},
		{"g = g + 1", []MemoryAccess{{Location: "g", IsWrite: true}}},
		{"*p = g", []MemoryAccess{{Location: "g"}}},
		{"s.f = 1", []MemoryAccess{{Location: "s", IsWrite: true}}},
		{"x = 1", nil},
		{"pthread_mutex_lock(&m)", nil},
		{"f(g)", []MemoryAccess{{Location: "g"}}},
		{"x = f(a[y], g)", []MemoryAccess{{Location: "a"}, {Location: "g"}}},
		{"g = __VERIFIER_nondet_int()", []MemoryAccess{{Location: "g", IsWrite: true}}},
	}
	b := cfa.NewBuilder("main")
	b.Global("g").Global("a").Global("s").GlobalMutex("m")
	fb := b.Function("helper").Local("x").Local("y").Local("p")
	for _, s := range stmts {
		fb.Stmt(s.src)
	}
	b.Function("main")
	g := buildGraph(t, b, 0)
	helper, _ := g.Function("helper")
	path := straightPathFrom(helper.Entry)

	rt := NewRaceTracker()
	for i, s := range stmts {
		assert.Equal(t, s.want, rt.EdgeAccesses(path[i]), s.src)
	}

	mainPath := straightPathFrom(g.Main().Entry)
	assert.Equal(t, []MemoryAccess{{Location: "g", IsWrite: true}}, rt.EdgeAccesses(mainPath[0]))
}

func TestRaceTrackerStep(t *testing.T) {
	b := cfa.NewBuilder("main")
	b.Global("g")
	b.Function("main").Stmt("g = 1").Stmt("x = 2").Local("x")
	g := buildGraph(t, b, 0)
	write := straightPathFrom(g.Main().Entry)[1]
	local := straightPathFrom(g.Main().Entry)[2]

	loc := g.Main().Entry
	st := NewGlobalState()
	for _, id := range []string{"A", "B", "C"} {
		var err error
		st, err = st.AddThread(id, 1, cfa.NewCallStack("f"), loc)
		require.NoError(t, err)
	}
	rt := NewRaceTracker()

	// A and B write under the same lock, one after the other.
	lockedA, err := st.AddLock("A", "m")
	require.NoError(t, err)
	lockedA, err = lockedA.AddLock("A", LocalAccessLock)
	require.NoError(t, err)
	rs := rt.Step(RaceState{}, lockedA.withActiveThread("A"), write)
	require.Len(t, rs.Accesses(), 1)
	assert.Equal(t, []string{"m"}, rs.Accesses()[0].Locks)

	lockedB, err := st.AddLock("B", "m")
	require.NoError(t, err)
	rs = rt.Step(rs, lockedB.withActiveThread("B"), write)
	assert.False(t, rs.HasRace())
	assert.Len(t, rs.Accesses(), 2)

	// A thread does not race with itself.
	self := rt.Step(RaceState{}, st.withActiveThread("A"), write)
	self = rt.Step(self, st.withActiveThread("A"), write)
	assert.False(t, self.HasRace())
	assert.Len(t, self.Accesses(), 1)

	// C writes without the lock.
	rs = rt.Step(rs, st.withActiveThread("C"), write)
	require.True(t, rs.HasRace())
	first, second, ok := rs.Race()
	assert.True(t, ok)
	assert.Equal(t, "g", first.Location)
	assert.Equal(t, "C", second.ThreadID)

	// The flag survives the removal of all racing threads.
	done, err := st.RemoveThread("A")
	require.NoError(t, err)
	done, err = done.RemoveThread("B")
	require.NoError(t, err)
	done, err = done.RemoveThread("C")
	require.NoError(t, err)
	done, err = done.AddThread(MainThread, 0, cfa.NewCallStack("main"), loc)
	require.NoError(t, err)
	rs = rt.Step(rs, done.withActiveThread(MainThread), local)
	assert.True(t, rs.HasRace())
	assert.Empty(t, rs.Accesses())

	// Without an active thread nothing changes.
	assert.Equal(t, rs.Fingerprint(), rt.Step(rs, done, write).Fingerprint())
}

func TestReadsDoNotRace(t *testing.T) {
	b := cfa.NewBuilder("main")
	b.Global("g")
	b.Function("main").Local("x").Stmt("x = g")
	g := buildGraph(t, b, 0)
	read := straightPathFrom(g.Main().Entry)[1]

	st := NewGlobalState()
	for _, id := range []string{"A", "B"} {
		var err error
		st, err = st.AddThread(id, 1, nil, g.Main().Entry)
		require.NoError(t, err)
	}
	rt := NewRaceTracker()
	rs := rt.Step(RaceState{}, st.withActiveThread("A"), read)
	rs = rt.Step(rs, st.withActiveThread("B"), read)
	assert.False(t, rs.HasRace())
}

func explore(t *testing.T, b *cfa.Builder, opts Options) *Result {
	t.Helper()
	g := buildGraph(t, b, 2)
	tr, err := NewTransferRelation(g, opts)
	require.NoError(t, err)
	res, err := NewExplorer(tr).Run(context.Background())
	require.NoError(t, err)
	return res
}

func racyProgram(worker func(fb *cfa.FunctionBuilder)) *cfa.Builder {
	b := cfa.NewBuilder("main")
	b.Global("g").GlobalMutex("m")
	worker(b.Function("worker", "arg"))
	b.Function("main").Local("t1").Local("t2").
		Stmt("pthread_create(&t1, 0, worker, 0)").
		Stmt("pthread_create(&t2, 0, worker, 0)").
		Stmt("pthread_join(t1, 0)").
		Stmt("pthread_join(t2, 0)")
	return b
}

func TestRaceDetection(t *testing.T) {
	tests := []struct {
		name   string
		worker func(fb *cfa.FunctionBuilder)
		race   bool
	}{
		{"unprotected write", func(fb *cfa.FunctionBuilder) {
			fb.Stmt("g = 1")
		}, true},
		{"read and write", func(fb *cfa.FunctionBuilder) {
			fb.Local("x").Stmt("x = g").Stmt("g = x + 1")
		}, true},
		{"same mutex", func(fb *cfa.FunctionBuilder) {
			fb.Stmt("pthread_mutex_lock(&m)").Stmt("g = 1").Stmt("pthread_mutex_unlock(&m)")
		}, false},
		{"atomic section", func(fb *cfa.FunctionBuilder) {
			fb.Stmt("__VERIFIER_atomic_begin()").Stmt("g = g + 1").Stmt("__VERIFIER_atomic_end()")
		}, false},
		{"only reads", func(fb *cfa.FunctionBuilder) {
			fb.Local("x").Stmt("x = g")
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, lal := range []bool{false, true} {
				opts := DefaultOptions()
				opts.UseLocalAccessLocks = lal
				res := explore(t, racyProgram(tt.worker), opts)
				assert.Equal(t, tt.race, res.HasRace, "local access locks: %v", lal)
				if tt.race {
					assert.Equal(t, "g", res.Race[0].Location)
					assert.NotEqual(t, res.Race[0].ThreadID, res.Race[1].ThreadID)
				}
			}
		})
	}
}

func TestThreadCreationOrdersAccesses(t *testing.T) {
	b := cfa.NewBuilder("main")
	b.Global("g")
	b.Function("worker", "arg").Stmt("g = 2")
	b.Function("main").Local("t").
		Stmt("g = 1").
		Stmt("pthread_create(&t, 0, worker, 0)").
		Stmt("pthread_join(t, 0)").
		Stmt("g = 3")
	res := explore(t, b, testOptions())
	assert.False(t, res.HasRace)

	// Without the join the last write races with the thread.
	b = cfa.NewBuilder("main")
	b.Global("g")
	b.Function("worker", "arg").Stmt("g = 2")
	b.Function("main").Local("t").
		Stmt("g = 1").
		Stmt("pthread_create(&t, 0, worker, 0)").
		Stmt("g = 3")
	res = explore(t, b, testOptions())
	assert.True(t, res.HasRace)
}

func TestRaceTrackerReusedHandle(t *testing.T) {
	b := cfa.NewBuilder("main")
	b.Global("g")
	b.Function("main").Local("x").Stmt("g = 1").Stmt("x = 2")
	g := buildGraph(t, b, 0)
	path := straightPathFrom(g.Main().Entry)
	write, local := path[1], path[2]
	loc := g.Main().Entry

	st := NewGlobalState()
	for _, id := range []string{"A", "B", "t"} {
		var err error
		st, err = st.AddThread(id, 1, cfa.NewCallStack("f"), loc)
		require.NoError(t, err)
	}
	rt := NewRaceTracker()

	// A writes, then creates t.
	withoutT, err := st.RemoveThread("t")
	require.NoError(t, err)
	rs := rt.Step(RaceState{}, withoutT.withActiveThread("A"), write)
	rs = rt.Step(rs, st.withActiveThread("A").withEntryFunctionCall("t", local), local)
	require.Len(t, rs.Accesses(), 1)
	assert.Equal(t, []string{"t"}, rs.Accesses()[0].Forked)

	// A joins t.
	rs = rt.Step(rs, withoutT.withActiveThread("A"), local)
	require.Len(t, rs.Accesses(), 1)
	assert.Empty(t, rs.Accesses()[0].Forked)

	// B creates a new thread under the same handle; it is not ordered after
	// A's write.
	rs = rt.Step(rs, st.withActiveThread("B").withEntryFunctionCall("t", local), local)
	assert.Empty(t, rs.Accesses()[0].Forked)
	rs = rt.Step(rs, st.withActiveThread("t"), write)
	assert.True(t, rs.HasRace())
	first, second, ok := rs.Race()
	require.True(t, ok)
	assert.Equal(t, "A", first.ThreadID)
	assert.Equal(t, "t", second.ThreadID)
}
