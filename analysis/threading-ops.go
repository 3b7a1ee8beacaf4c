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

	"github.com/practical-formal-methods/weft/cfa"
)

// Causes for a transfer step without successors.
var BlockedByAtomicLock = "blocked-atomic-lock"
var BlockedByLocalAccessLock = "blocked-local-access-lock"
var BlockedByMutex = "blocked-mutex"
var BlockedByJoin = "blocked-join"
var ProgramTerminated = "program-terminated"
var ThreadBoundReached = "thread-bound-reached"
var EdgeNotEnabled = "edge-not-enabled"
var NoWrappedSuccessor = "no-location-successor"
var WitnessMismatch = "witness-mismatch"

// syncEnv is the environment of a synchronization primitive.
type syncEnv struct {
	t      *TransferRelation
	edge   *cfa.Edge
	call   *cfa.FunctionCallExpression
	active string
	// results are the candidate states after the location/call-stack step.
	results []GlobalState
}

// syncFn applies a primitive to the candidates of env. It may drop
// candidates (blocking) or split them.
type syncFn func(env syncEnv) ([]GlobalState, error)

// syncOp describes the handling of one primitive kind.
type syncOp struct {
	// valid is false for kinds without threading semantics.
	valid bool
	exec  syncFn
}

// primitive returns the table entry of the called primitive.
func (env syncEnv) primitive() cfa.Primitive {
	return env.t.primitives.Lookup(env.call.FunctionName())
}

func fromSync(exec syncFn) syncOp {
	return syncOp{valid: true, exec: exec}
}

type syncTable map[cfa.PrimitiveKind]syncOp

func newSyncTable() syncTable {
	return syncTable{
		cfa.CreatePrimitive:      fromSync(opThreadCreate),
		cfa.JoinPrimitive:        fromSync(opThreadJoin),
		cfa.ExitPrimitive:        fromSync(opThreadExit),
		cfa.LockPrimitive:        fromSync(opMutexLock),
		cfa.UnlockPrimitive:      fromSync(opMutexUnlock),
		cfa.AtomicBeginPrimitive: fromSync(opAtomicBegin),
		cfa.AtomicEndPrimitive:   fromSync(opAtomicEnd),
		cfa.CondVarPrimitive:     fromSync(opUnsupported),
	}
}

// opThreadExit changes nothing: the thread is removed by the cleanup at the
// start of the next step.
func opThreadExit(env syncEnv) ([]GlobalState, error) {
	return env.results, nil
}

func opUnsupported(env syncEnv) ([]GlobalState, error) {
	return nil, unsupported("missing support for condition variables", env.edge, env.call)
}

func opMutexLock(env syncEnv) ([]GlobalState, error) {
	lock, err := extractLockID(env.primitive(), env.call, env.edge)
	if err != nil {
		return nil, err
	}
	return addLock(env, lock, BlockedByMutex)
}

func opMutexUnlock(env syncEnv) ([]GlobalState, error) {
	lock, err := extractLockID(env.primitive(), env.call, env.edge)
	if err != nil {
		return nil, err
	}
	return removeLock(env, lock), nil
}

func opAtomicBegin(env syncEnv) ([]GlobalState, error) {
	if !env.t.opts.UseAtomicLocks {
		return env.results, nil
	}
	return addLock(env, AtomicLock, BlockedByAtomicLock)
}

func opAtomicEnd(env syncEnv) ([]GlobalState, error) {
	if !env.t.opts.UseAtomicLocks {
		return env.results, nil
	}
	return removeLock(env, AtomicLock), nil
}

// addLock acquires lock for the active thread in every candidate where it is
// free. Locks are not reentrant.
func addLock(env syncEnv, lock, cause string) ([]GlobalState, error) {
	var res []GlobalState
	for _, st := range env.results {
		if st.HasLock(lock) {
			env.t.recordBlocked(cause)
			continue
		}
		ns, err := st.AddLock(env.active, lock)
		if err != nil {
			return nil, err
		}
		res = append(res, ns)
	}
	return res, nil
}

func removeLock(env syncEnv, lock string) []GlobalState {
	res := make([]GlobalState, len(env.results))
	for i, st := range env.results {
		res[i] = st.RemoveLock(env.active, lock)
	}
	return res
}

func opThreadJoin(env syncEnv) ([]GlobalState, error) {
	id, err := extractJoinedThread(env.primitive(), env.call, env.edge)
	if err != nil {
		return nil, err
	}
	var res []GlobalState
	for _, st := range env.results {
		if st.HasThread(id) {
			env.t.recordBlocked(BlockedByJoin)
			continue
		}
		res = append(res, st)
	}
	return res, nil
}

// threadCreation holds the parsed operands of pthread_create(&handle, attr,
// entry, arg).
type threadCreation struct {
	handle   string
	function string
	arg      cfa.Expression
}

func parseThreadCreation(p cfa.Primitive, call *cfa.FunctionCallExpression, edge *cfa.Edge) (threadCreation, error) {
	if !p.AcceptsArgs(len(call.Args)) {
		return threadCreation{}, unsupported(fmt.Sprintf("thread creation with %d arguments", len(call.Args)), edge, call)
	}
	var tc threadCreation
	u, ok := call.Args[0].(*cfa.UnaryExpression)
	if !ok || u.Op != "&" {
		return tc, unsupported("unsupported thread assignment", edge, call.Args[0])
	}
	handle, ok := u.Operand.(*cfa.IdExpression)
	if !ok {
		return tc, unsupported("unsupported thread assignment", edge, call.Args[0])
	}
	tc.handle = handle.Name

	fn := call.Args[2]
	if u, ok := fn.(*cfa.UnaryExpression); ok && u.Op == "&" {
		fn = u.Operand
	}
	fnID, ok := fn.(*cfa.IdExpression)
	if !ok {
		return tc, unsupported("unsupported thread function call", edge, call.Args[2])
	}
	if _, isFunc := fnID.Decl.(*cfa.FunctionDeclaration); !isFunc {
		return tc, unsupported("thread entry is not a defined function", edge, call.Args[2])
	}
	tc.function = fnID.Name
	tc.arg = call.Args[3]
	return tc, nil
}

func opThreadCreate(env syncEnv) ([]GlobalState, error) {
	tc, err := parseThreadCreation(env.primitive(), env.call, env.edge)
	if err != nil {
		return nil, err
	}
	if len(env.results) == 0 {
		return nil, nil
	}
	// All candidates share the thread set; only the active thread's location
	// differs between them.
	pre := env.results[0]

	ordinals := env.t.newThreadOrdinals(pre)
	if len(ordinals) == 0 {
		env.t.warnThreadBound(env.edge, tc.function)
		return nil, nil
	}
	id, err := env.t.newThreadID(pre, tc.handle, env.edge)
	if err != nil {
		return nil, err
	}

	var res []GlobalState
	for _, ordinal := range ordinals {
		created, err := env.t.createThread(env, tc, id, ordinal)
		if err != nil {
			return nil, err
		}
		res = append(res, created...)
	}
	return res, nil
}

// extractLockID returns the lock named by the &lock operand of a lock or
// unlock call.
func extractLockID(p cfa.Primitive, call *cfa.FunctionCallExpression, edge *cfa.Edge) (string, error) {
	if !p.AcceptsArgs(len(call.Args)) {
		return "", unsupported("unsupported thread locking", edge, call)
	}
	u, ok := call.Args[0].(*cfa.UnaryExpression)
	if !ok || u.Op != "&" {
		return "", unsupported("unsupported thread locking", edge, call.Args[0])
	}
	return u.Operand.String(), nil
}

func extractJoinedThread(p cfa.Primitive, call *cfa.FunctionCallExpression, edge *cfa.Edge) (string, error) {
	if !p.AcceptsArgs(len(call.Args)) {
		return "", unsupported("unsupported thread join access", edge, call)
	}
	id, ok := call.Args[0].(*cfa.IdExpression)
	if !ok {
		return "", unsupported("unsupported thread join access", edge, call.Args[0])
	}
	return id.Name, nil
}
