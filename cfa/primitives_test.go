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
)

func TestPrimitiveArity(t *testing.T) {
	table := NewPthreadPrimitiveTable()
	tests := []struct {
		name string
		args int
		ok   bool
	}{
		{ThreadCreate, 4, true},
		{ThreadCreate, 3, false},
		{ThreadCreate, 5, false},
		{ThreadJoin, 1, true},
		{ThreadJoin, 2, true},
		{ThreadJoin, 0, false},
		{ThreadJoin, 3, false},
		{MutexLock, 1, true},
		{MutexLock, 2, false},
		{MutexUnlock, 0, false},
		{ThreadExit, 0, true},
		{ThreadExit, 1, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, table.Lookup(tt.name).AcceptsArgs(tt.args), "%s with %d", tt.name, tt.args)
	}
}

func TestPrimitiveLookup(t *testing.T) {
	table := NewPthreadPrimitiveTable()
	assert.Equal(t, LockPrimitive, table.Lookup(MutexLock).Kind)
	assert.False(t, table.Lookup(CondWait).Supported)
	assert.True(t, table.Lookup(CondWait).Synchronizes())

	nondet := table.Lookup("__VERIFIER_nondet_int")
	assert.Equal(t, OtherPrimitive, nondet.Kind)
	assert.True(t, nondet.ThreadSafe)
	assert.False(t, nondet.Synchronizes())

	user := table.Lookup("worker")
	assert.Equal(t, NotPrimitive, user.Kind)
	assert.True(t, user.Supported)
	assert.False(t, user.ThreadSafe)

	assert.True(t, IsAtomicFunction("__VERIFIER_atomic_inc"))
	assert.False(t, IsAtomicFunction(AtomicBegin))
}
