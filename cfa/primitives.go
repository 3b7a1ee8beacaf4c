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

import "strings"

// Names of the recognized thread primitives.
const (
	ThreadCreate  = "pthread_create"
	ThreadJoin    = "pthread_join"
	ThreadExit    = "pthread_exit"
	MutexLock     = "pthread_mutex_lock"
	MutexUnlock   = "pthread_mutex_unlock"
	MutexInit     = "pthread_mutex_init"
	MutexDestroy  = "pthread_mutex_destroy"
	CondWait      = "pthread_cond_wait"
	CondTimedWait = "pthread_cond_timedwait"
	CondSignal    = "pthread_cond_signal"
	CondBroadcast = "pthread_cond_broadcast"
	AtomicBegin   = "__VERIFIER_atomic_begin"
	AtomicEnd     = "__VERIFIER_atomic_end"
	AtomicPrefix  = "__VERIFIER_atomic"
	NondetPrefix  = "__VERIFIER_nondet_"
	Abort         = "abort"
)

// PrimitiveKind classifies a thread primitive.
type PrimitiveKind int

const (
	NotPrimitive PrimitiveKind = iota
	CreatePrimitive
	JoinPrimitive
	ExitPrimitive
	LockPrimitive
	UnlockPrimitive
	AtomicBeginPrimitive
	AtomicEndPrimitive
	CondVarPrimitive
	// OtherPrimitive covers calls that need no threading semantics but are
	// known not to touch the memory their arguments point to.
	OtherPrimitive
)

// Primitive describes how the engine treats calls to one function name.
type Primitive struct {
	Kind PrimitiveKind
	// MinArgs and MaxArgs bound the operand count of a well-formed call.
	// MaxArgs 0 means no upper bound.
	MinArgs int
	MaxArgs int
	// Supported is false for primitives whose use is rejected.
	Supported bool
	// ThreadSafe calls contribute no argument reads to race tracking.
	ThreadSafe bool
}

// AcceptsArgs reports whether a call with n operands is well-formed.
func (p Primitive) AcceptsArgs(n int) bool {
	return n >= p.MinArgs && (p.MaxArgs == 0 || n <= p.MaxArgs)
}

// Synchronizes reports whether the primitive affects cross-thread visibility.
func (p Primitive) Synchronizes() bool {
	switch p.Kind {
	case CreatePrimitive, JoinPrimitive, ExitPrimitive, LockPrimitive, UnlockPrimitive,
		AtomicBeginPrimitive, AtomicEndPrimitive, CondVarPrimitive:
		return true
	}
	return false
}

type PrimitiveTable map[string]Primitive

// NewPthreadPrimitiveTable returns the table of pthread and verifier
// primitives.
func NewPthreadPrimitiveTable() PrimitiveTable {
	return PrimitiveTable{
		ThreadCreate: {
			Kind:       CreatePrimitive,
			MinArgs:    4,
			MaxArgs:    4,
			Supported:  true,
			ThreadSafe: true,
		},
		ThreadJoin: {
			Kind:       JoinPrimitive,
			MinArgs:    1,
			MaxArgs:    2,
			Supported:  true,
			ThreadSafe: true,
		},
		ThreadExit: {
			Kind:       ExitPrimitive,
			Supported:  true,
			ThreadSafe: true,
		},
		MutexLock: {
			Kind:       LockPrimitive,
			MinArgs:    1,
			MaxArgs:    1,
			Supported:  true,
			ThreadSafe: true,
		},
		MutexUnlock: {
			Kind:       UnlockPrimitive,
			MinArgs:    1,
			MaxArgs:    1,
			Supported:  true,
			ThreadSafe: true,
		},
		MutexInit: {
			Kind:       OtherPrimitive,
			Supported:  true,
			ThreadSafe: true,
		},
		MutexDestroy: {
			Kind:       OtherPrimitive,
			Supported:  true,
			ThreadSafe: true,
		},
		AtomicBegin: {
			Kind:       AtomicBeginPrimitive,
			Supported:  true,
			ThreadSafe: true,
		},
		AtomicEnd: {
			Kind:       AtomicEndPrimitive,
			Supported:  true,
			ThreadSafe: true,
		},
		CondWait:      {Kind: CondVarPrimitive},
		CondTimedWait: {Kind: CondVarPrimitive},
		CondSignal:    {Kind: CondVarPrimitive},
		CondBroadcast: {Kind: CondVarPrimitive},
	}
}

// Lookup returns the primitive for a callee name. Nondeterministic value
// functions are thread-safe primitives without threading semantics.
func (t PrimitiveTable) Lookup(name string) Primitive {
	if p, ok := t[name]; ok {
		return p
	}
	if strings.HasPrefix(name, NondetPrefix) {
		return Primitive{Kind: OtherPrimitive, Supported: true, ThreadSafe: true}
	}
	return Primitive{Kind: NotPrimitive, Supported: true}
}

// IsAtomicFunction reports whether a function follows the legacy naming
// convention for atomic bodies.
func IsAtomicFunction(name string) bool {
	return strings.HasPrefix(name, AtomicPrefix) && name != AtomicBegin && name != AtomicEnd
}
