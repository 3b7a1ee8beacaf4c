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

func TestParseAssignment(t *testing.T) {
	s, err := ParseStatement("x = a + b * 2;")
	require.NoError(t, err)
	as, ok := s.(*AssignmentStatement)
	require.True(t, ok)
	assert.Equal(t, "x", as.LHS.String())
	assert.Equal(t, "x = a + (b * 2);", s.String())
}

func TestParseCalls(t *testing.T) {
	s, err := ParseStatement("pthread_create(&t, 0, worker, 0)")
	require.NoError(t, err)
	cs, ok := s.(*FunctionCallStatement)
	require.True(t, ok)
	assert.Equal(t, ThreadCreate, cs.Call.FunctionName())
	require.Len(t, cs.Call.Args, 4)
	u, ok := cs.Call.Args[0].(*UnaryExpression)
	require.True(t, ok)
	assert.Equal(t, "&", u.Op)
	assert.Equal(t, "t", u.Operand.String())

	s, err = ParseStatement("r = f(x, 1)")
	require.NoError(t, err)
	ca, ok := s.(*FunctionCallAssignmentStatement)
	require.True(t, ok)
	assert.Equal(t, "r", ca.LHS.String())
	assert.Equal(t, "f", ca.CallExpression().FunctionName())

	s, err = ParseStatement("f()")
	require.NoError(t, err)
	assert.Equal(t, "f();", s.String())
}

func TestParseNestedCallRejected(t *testing.T) {
	_, err := ParseStatement("x = f(g(1))")
	assert.Error(t, err)
	_, err = ParseExpression("1 + f(2)")
	assert.Error(t, err)
}

func TestParseReturn(t *testing.T) {
	s, err := ParseStatement("return")
	require.NoError(t, err)
	assert.Nil(t, s.(*ReturnStatement).Value)

	s, err = ParseStatement("return x == 1")
	require.NoError(t, err)
	assert.Equal(t, "return x == 1;", s.String())
}

func TestParseExpressions(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"a && b || c", "(a && b) || c"},
		{"!x", "!x"},
		{"*p", "*p"},
		{"(int)x + 1", "((int)x) + 1"},
		{"p->next.val", "p->next.val"},
		{"a[i + 1]", "a[i + 1]"},
		{"sizeof(int)", "sizeof(int)"},
		{"x <= 3", "x <= 3"},
		{"x >> 2 != 0", "(x >> 2) != 0"},
		{`"s"`, `"s"`},
		{"0x10", "16"},
	}
	for _, tt := range tests {
		e, err := ParseExpression(tt.src)
		if assert.NoError(t, err, tt.src) {
			assert.Equal(t, tt.want, e.String(), tt.src)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{"", "x +", "a b", "(x", "p->1"} {
		_, err := ParseStatement(src)
		assert.Error(t, err, src)
	}
}
