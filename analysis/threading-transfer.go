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
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/ethereum/go-ethereum/log"

	"github.com/practical-formal-methods/weft/cfa"
)

// Program is the control-flow graph as seen by the transfer relation.
type Program interface {
	Main() *cfa.Function
	IsMainExit(loc *cfa.Location) bool
	FunctionEntry(name string) (*cfa.Location, error)
	ClonedEntry(name string, ordinal int) (*cfa.Location, error)
	Functions() map[string]*cfa.Function
}

// LocationStepper computes the location successors of a single thread.
type LocationStepper interface {
	Successors(loc *cfa.Location, edge *cfa.Edge) []*cfa.Location
}

// CallStackStepper computes the call-stack successors of a single thread.
type CallStackStepper interface {
	Initial(function string) *cfa.CallStack
	Successors(cs *cfa.CallStack, edge *cfa.Edge) []*cfa.CallStack
}

// TransferRelation interleaves threads: each step moves exactly one thread
// along one edge.
//
// Every edge must belong to at most one live thread. Thread entry functions
// and everything they call are therefore expected to be cloned per ordinal
// (see cfa.Builder.Build); a shared edge is reported as ErrInternal.
type TransferRelation struct {
	prog       Program
	opts       Options
	locs       LocationStepper
	stacks     CallStackStepper
	access     *GlobalAccessChecker
	primitives cfa.PrimitiveTable
	syncOps    syncTable
	log        log.Logger

	mu sync.Mutex
	// boundWarned holds the edges whose thread bound warning was logged.
	boundWarned map[*cfa.Edge]bool
	blocked     map[string]uint64
	numSteps    uint64
}

func NewTransferRelation(prog Program, opts Options) (*TransferRelation, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &TransferRelation{
		prog:        prog,
		opts:        opts,
		locs:        cfa.LocationSuccessor{},
		stacks:      cfa.CallStackSuccessor{},
		access:      NewGlobalAccessChecker(),
		primitives:  cfa.NewPthreadPrimitiveTable(),
		syncOps:     newSyncTable(),
		log:         log.New("module", "threading"),
		boundWarned: map[*cfa.Edge]bool{},
		blocked:     map[string]uint64{},
	}, nil
}

// WithSteppers replaces the single-thread location and call-stack domains.
func (t *TransferRelation) WithSteppers(locs LocationStepper, stacks CallStackStepper) *TransferRelation {
	t.locs = locs
	t.stacks = stacks
	return t
}

func (t *TransferRelation) Options() Options { return t.opts }

// InitialState returns the state with only the main thread at the entry of
// the main function.
func (t *TransferRelation) InitialState() (GlobalState, error) {
	main := t.prog.Main()
	if main == nil {
		return GlobalState{}, internalf("program has no main function")
	}
	return NewGlobalState().AddThread(MainThread, MainThreadOrdinal, t.stacks.Initial(main.Name), main.Entry)
}

// Successors computes the states reached when the thread owning edge executes
// it. An empty result means the edge is blocked or not enabled in st.
func (t *TransferRelation) Successors(st GlobalState, edge *cfa.Edge) ([]GlobalState, error) {
	t.mu.Lock()
	t.numSteps++
	t.mu.Unlock()

	if call, ok := edge.Call(); ok {
		if p := t.primitives.Lookup(call.FunctionName()); !p.Supported {
			return nil, unsupported(fmt.Sprintf("missing support for %s", call.FunctionName()), edge, call)
		}
	}

	// First, remove finished threads.
	st, err := t.exitThreads(st)
	if err != nil {
		return nil, err
	}

	active, err := t.activeThread(st, edge)
	if err != nil {
		return nil, err
	}
	if active == "" {
		t.recordBlocked(EdgeNotEnabled)
		return nil, nil
	}

	// Inside an atomic section only its owner may move.
	if t.opts.UseAtomicLocks && st.HasLock(AtomicLock) && !st.HasThreadLock(active, AtomicLock) {
		t.recordBlocked(BlockedByAtomicLock)
		return nil, nil
	}

	if t.opts.UseLocalAccessLocks {
		var ok bool
		if st, ok, err = t.handleLocalAccessLock(st, edge, active); err != nil {
			return nil, err
		} else if !ok {
			t.recordBlocked(BlockedByLocalAccessLock)
			return nil, nil
		}
	}

	// Reaching the end of main or an abort ends all threads at once.
	if t.prog.IsMainExit(edge.Succ) || edge.Succ.IsTermination() {
		t.recordBlocked(ProgramTerminated)
		return nil, nil
	}

	results, err := t.wrappedSuccessors(st, active, edge)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		t.recordBlocked(NoWrappedSuccessor)
		return nil, nil
	}

	results, err = t.synchronize(edge, active, results)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i] = results[i].withActiveThread(active)
	}
	t.log.Trace("Transfer step", "thread", active, "edge", edge, "successors", len(results))
	return results, nil
}

// IsThreadFinished reports whether a thread at loc has terminated.
func IsThreadFinished(loc *cfa.Location) bool {
	if len(loc.Leaving()) == 0 {
		return true
	}
	if entering := loc.Entering(); len(entering) == 1 {
		return isThreadExit(entering[0])
	}
	return false
}

func isThreadExit(edge *cfa.Edge) bool {
	if edge.Kind != cfa.StatementEdge {
		return false
	}
	call, ok := edge.Call()
	return ok && call.FunctionName() == cfa.ThreadExit
}

// exitThreads removes all finished threads together with their locks.
func (t *TransferRelation) exitThreads(st GlobalState) (GlobalState, error) {
	for _, id := range st.ThreadIDs() {
		r, _ := st.Thread(id)
		if !IsThreadFinished(r.Location) {
			continue
		}
		if st.HasThreadLock(id, LocalAccessLock) {
			st = st.RemoveLock(id, LocalAccessLock)
		}
		if held := st.LocksOfThread(id); len(held) > 0 {
			t.log.Warn("Thread exits while holding locks", "thread", id, "locks", held, "location", r.Location)
			for _, l := range held {
				st = st.RemoveLock(id, l)
			}
		}
		var err error
		if st, err = st.RemoveThread(id); err != nil {
			return st, err
		}
	}
	return st, nil
}

// activeThread finds the unique thread whose location leaves through edge.
func (t *TransferRelation) activeThread(st GlobalState, edge *cfa.Edge) (string, error) {
	var active []string
	for _, id := range st.ThreadIDs() {
		r, _ := st.Thread(id)
		for _, e := range r.Location.Leaving() {
			if e == edge {
				active = append(active, id)
				break
			}
		}
	}
	switch len(active) {
	case 0:
		return "", nil
	case 1:
		return active[0], nil
	}
	return "", internalf("threads %v share edge %v; thread functions must be cloned", active, edge)
}

// handleLocalAccessLock lets the active thread keep running alone while it
// only touches thread-local memory. It returns false if another thread holds
// the local-access lock and can still move.
//
// A holder that cannot move (it waits for a held mutex, a running thread or
// another thread's atomic section) does not block the others: refusing every
// step while such a holder keeps the lock would halt the interleaving even
// though the program can go on. The holder keeps the lock until its next step.
func (t *TransferRelation) handleLocalAccessLock(st GlobalState, edge *cfa.Edge, active string) (GlobalState, bool, error) {
	if holder, held := st.LockHolder(LocalAccessLock); held && holder != active {
		if t.canMove(st, holder) {
			return st, false, nil
		}
		// The holder waits for a lock or a join: others run, the holder keeps
		// the lock until it moves again.
		return st, true, nil
	}
	if t.access.HasGlobalAccess(edge) || t.isImportantForThreading(edge) {
		return st.RemoveLock(active, LocalAccessLock), true, nil
	}
	ns, err := st.AddLock(active, LocalAccessLock)
	return ns, true, err
}

// canMove reports whether some leaving edge of thread is not blocked by
// another thread.
func (t *TransferRelation) canMove(st GlobalState, thread string) bool {
	if t.opts.UseAtomicLocks && st.HasLock(AtomicLock) && !st.HasThreadLock(thread, AtomicLock) {
		return false
	}
	r, _ := st.Thread(thread)
	for _, e := range r.Location.Leaving() {
		if !st.waitsForOtherThread(e) {
			return true
		}
	}
	return false
}

// isImportantForThreading reports whether edge is a synchronization
// primitive, which always has to be interleaved.
func (t *TransferRelation) isImportantForThreading(edge *cfa.Edge) bool {
	switch edge.Kind {
	case cfa.FunctionCallEdge, cfa.FunctionReturnEdge:
		if cfa.IsAtomicFunction(edge.Function) {
			return true
		}
	}
	if call, ok := edge.Call(); ok {
		return t.primitives.Lookup(call.FunctionName()).Synchronizes()
	}
	return false
}

// wrappedSuccessors steps the active thread's location and call stack and
// combines every pair of results.
func (t *TransferRelation) wrappedSuccessors(st GlobalState, active string, edge *cfa.Edge) ([]GlobalState, error) {
	r, _ := st.Thread(active)
	locs := t.locs.Successors(r.Location, edge)
	stacks := t.stacks.Successors(r.Context, edge)
	var res []GlobalState
	for _, cs := range stacks {
		for _, loc := range locs {
			ns, err := st.UpdateLocation(active, cs, loc)
			if err != nil {
				return nil, err
			}
			res = append(res, ns)
		}
	}
	return res, nil
}

// synchronize applies the threading semantics of edge.
func (t *TransferRelation) synchronize(edge *cfa.Edge, active string, results []GlobalState) ([]GlobalState, error) {
	env := syncEnv{t: t, edge: edge, active: active, results: results}
	switch edge.Kind {
	case cfa.StatementEdge:
		call, ok := edge.Call()
		if !ok {
			break
		}
		env.call = call
		op, ok := t.syncOps[t.primitives.Lookup(call.FunctionName()).Kind]
		if ok && op.valid {
			return op.exec(env)
		}
	case cfa.FunctionCallEdge:
		// Legacy convention: functions named __VERIFIER_atomic* run atomically.
		if cfa.IsAtomicFunction(edge.Function) {
			return opAtomicBegin(env)
		}
	case cfa.FunctionReturnEdge:
		if cfa.IsAtomicFunction(edge.Function) {
			return opAtomicEnd(env)
		}
	}
	return results, nil
}

// newThreadOrdinals returns the ordinals a new thread may use: all free ones
// within the bound when enumerating clones, otherwise the smallest free one.
func (t *TransferRelation) newThreadOrdinals(st GlobalState) []int {
	var used bitset.BitSet
	maxUsed := MainThreadOrdinal
	for _, id := range st.ThreadIDs() {
		r, _ := st.Thread(id)
		used.Set(uint(r.Ordinal))
		if r.Ordinal > maxUsed {
			maxUsed = r.Ordinal
		}
	}
	limit := t.opts.MaxNumberOfThreads
	if limit == Unbounded {
		limit = maxUsed + 1
	}
	var ordinals []int
	for n := MainThreadOrdinal + 1; n <= limit; n++ {
		if used.Test(uint(n)) {
			continue
		}
		ordinals = append(ordinals, n)
		if !t.opts.UseAllPossibleClones {
			break
		}
	}
	return ordinals
}

func (t *TransferRelation) warnThreadBound(edge *cfa.Edge, function string) {
	t.recordBlocked(ThreadBoundReached)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.boundWarned[edge] {
		return
	}
	t.boundWarned[edge] = true
	t.log.Warn("Thread bound reached, new thread is not created", "function", function, "max", t.opts.MaxNumberOfThreads, "edge", edge)
}

// newThreadID returns the id of a thread assigned to handle.
func (t *TransferRelation) newThreadID(st GlobalState, handle string, edge *cfa.Edge) (string, error) {
	if !st.HasThread(handle) {
		return handle, nil
	}
	if !t.opts.AllowMultipleLHS {
		return "", unsupported(fmt.Sprintf("multiple thread assignments to same LHS not supported: %s", handle), edge, nil)
	}
	for i := 1; ; i++ {
		id := fmt.Sprintf("%s__%d", handle, i)
		if !st.HasThread(id) {
			t.log.Warn("Multiple thread assignments to same LHS", "handle", handle, "id", id)
			return id, nil
		}
	}
}

// createThread adds the new thread with the given ordinal to every
// candidate.
func (t *TransferRelation) createThread(env syncEnv, tc threadCreation, id string, ordinal int) ([]GlobalState, error) {
	function := tc.function
	var entry *cfa.Location
	var err error
	if t.opts.UseClonedFunctions {
		function = cfa.ClonedName(tc.function, ordinal)
		entry, err = t.prog.ClonedEntry(tc.function, ordinal)
	} else {
		entry, err = t.prog.FunctionEntry(tc.function)
	}
	if err != nil {
		return nil, internalf("entry of thread %s: %v", id, err)
	}

	// The call of the entry function as seen by the new thread.
	entryCall := &cfa.Edge{
		Kind: cfa.FunctionCallEdge,
		Pred: env.edge.Pred,
		Succ: entry,
		Statement: &cfa.FunctionCallStatement{Call: &cfa.FunctionCallExpression{
			Function: &cfa.IdExpression{Name: function},
			Args:     []cfa.Expression{tc.arg},
		}},
		Function: function,
	}

	res := make([]GlobalState, 0, len(env.results))
	for _, st := range env.results {
		ns, err := st.AddThread(id, ordinal, t.stacks.Initial(function), entry)
		if err != nil {
			return nil, err
		}
		res = append(res, ns.withEntryFunctionCall(id, entryCall))
	}
	return res, nil
}

func (t *TransferRelation) recordBlocked(cause string) {
	t.mu.Lock()
	t.blocked[cause]++
	t.mu.Unlock()
}

// BlockedCauses returns how often each cause ended a step without successors.
func (t *TransferRelation) BlockedCauses() map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	causes := map[string]uint64{}
	for cause, cnt := range t.blocked {
		causes[cause] = cnt
	}
	return causes
}

func (t *TransferRelation) NumSteps() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.numSteps
}
