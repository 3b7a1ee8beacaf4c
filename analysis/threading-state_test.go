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

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/practical-formal-methods/weft/cfa"
)

func twoThreadState(t *testing.T) (GlobalState, *cfa.Location, *cfa.Location) {
	g := cfa.NewGraph("main")
	l1, l2 := g.NewLocation("main"), g.NewLocation("f")
	return threadsAt(t, l1, l2), l1, l2
}

// threadsAt places main at l1 and thread t at l2.
func threadsAt(t *testing.T, l1, l2 *cfa.Location) GlobalState {
	t.Helper()
	st, err := NewGlobalState().AddThread(MainThread, MainThreadOrdinal, cfa.NewCallStack("main"), l1)
	require.NoError(t, err)
	st, err = st.AddThread("t", 1, cfa.NewCallStack("f"), l2)
	require.NoError(t, err)
	return st
}

func TestThreadOperations(t *testing.T) {
	st, l1, l2 := twoThreadState(t)
	assert.Equal(t, []string{MainThread, "t"}, st.ThreadIDs())

	_, err := st.AddThread("t", 2, nil, l1)
	assert.True(t, errors.Is(err, ErrThreadExists))
	_, err = st.UpdateLocation("u", nil, l1)
	assert.True(t, errors.Is(err, ErrNoSuchThread))
	_, err = st.RemoveThread("u")
	assert.True(t, errors.Is(err, ErrNoSuchThread))

	moved, err := st.UpdateLocation("t", cfa.NewCallStack("f"), l1)
	require.NoError(t, err)
	r, _ := moved.Thread("t")
	assert.Same(t, l1, r.Location)
	assert.Equal(t, 1, r.Ordinal)
	r, _ = st.Thread("t")
	assert.Same(t, l2, r.Location)

	removed, err := st.RemoveThread("t")
	require.NoError(t, err)
	assert.False(t, removed.HasThread("t"))
	assert.True(t, st.HasThread("t"))
}

func TestLockOperations(t *testing.T) {
	st, _, _ := twoThreadState(t)

	locked, err := st.AddLock("t", "m")
	require.NoError(t, err)
	assert.True(t, locked.HasLock("m"))
	assert.True(t, locked.HasThreadLock("t", "m"))
	assert.False(t, locked.HasThreadLock(MainThread, "m"))
	holder, ok := locked.LockHolder("m")
	assert.True(t, ok)
	assert.Equal(t, "t", holder)
	assert.False(t, st.HasLock("m"))

	unlocked := locked.RemoveLock("t", "m")
	assert.False(t, unlocked.HasLock("m"))
	assert.True(t, unlocked.Equal(st))
	assert.True(t, locked.HasLock("m"))
	// Releasing a free lock changes nothing.
	assert.True(t, unlocked.RemoveLock("t", "m").Equal(st))

	_, err = st.AddLock("u", "m")
	assert.True(t, errors.Is(err, ErrNoSuchThread))

	multi, err := locked.AddLock("t", "a")
	require.NoError(t, err)
	multi, err = multi.AddLock(MainThread, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "m"}, multi.LocksOfThread("t"))
	assert.Equal(t, []string{"b"}, multi.LocksOfThread(MainThread))
}

func TestEqualityIgnoresTransientFields(t *testing.T) {
	a, l1, l2 := twoThreadState(t)
	b := threadsAt(t, l1, l2)
	b = b.withActiveThread("t").withEntryFunctionCall("t", &cfa.Edge{Kind: cfa.FunctionCallEdge, Pred: l1, Succ: l1})
	b, ok := b.correlateThread("t", 4)
	require.True(t, ok)

	assert.False(t, b.IsFinal())
	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.True(t, b.withoutTransient().IsFinal())

	locked, err := a.AddLock("t", "m")
	require.NoError(t, err)
	assert.False(t, a.Equal(locked))
	assert.NotEqual(t, a.Fingerprint(), locked.Fingerprint())

	other, err := locked.RemoveLock("t", "m").AddLock(MainThread, "m")
	require.NoError(t, err)
	assert.False(t, locked.Equal(other))
	assert.NotEqual(t, locked.Fingerprint(), other.Fingerprint())

	moved, err := a.UpdateLocation("t", cfa.NewCallStack("f").Push("g", l1), l1)
	require.NoError(t, err)
	assert.False(t, a.Equal(moved))
	assert.NotEqual(t, a.Fingerprint(), moved.Fingerprint())
}

func TestEqualityMatchesFingerprint(t *testing.T) {
	// Two graphs with the same shape number their locations alike.
	a, l1, _ := twoThreadState(t)
	b, m1, _ := twoThreadState(t)
	assert.NotSame(t, l1, m1)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	inA, err := a.UpdateLocation("t", cfa.NewCallStack("f").Push("g", l1), l1)
	require.NoError(t, err)
	inB, err := b.UpdateLocation("t", cfa.NewCallStack("f").Push("g", m1), m1)
	require.NoError(t, err)
	assert.True(t, inA.Equal(inB))
	assert.Equal(t, inA.Fingerprint(), inB.Fingerprint())

	g := cfa.NewGraph("main")
	g.NewLocation("main")
	g.NewLocation("f")
	elsewhere := g.NewLocation("f")
	other, err := b.UpdateLocation("t", cfa.NewCallStack("f"), elsewhere)
	require.NoError(t, err)
	assert.False(t, a.Equal(other))
	assert.NotEqual(t, a.Fingerprint(), other.Fingerprint())
}

func TestStateString(t *testing.T) {
	st, _, _ := twoThreadState(t)
	st, err := st.AddLock("t", "m")
	require.NoError(t, err)
	assert.Contains(t, st.String(), "t#1@")
	assert.Contains(t, st.String(), "m=t")
}
