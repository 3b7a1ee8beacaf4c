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
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/practical-formal-methods/weft/cfa"
)

// Reserved lock ids. They cannot clash with program locks, which are
// rendered C expressions.
const (
	AtomicLock      = "__atomic_lock__"
	LocalAccessLock = "__local_access_lock__"
)

// MainThread is the id of the thread running the main function. Its ordinal
// is 0; spawned threads get ordinals starting at 1.
const (
	MainThread        = "main"
	MainThreadOrdinal = 0
)

// ThreadRecord is the state of one thread.
type ThreadRecord struct {
	Location *cfa.Location
	Context  *cfa.CallStack
	// Ordinal selects the cloned function body the thread executes.
	Ordinal int
}

// equal compares the same key Fingerprint hashes: location ids, ordinal and
// call frames.
func (r ThreadRecord) equal(o ThreadRecord) bool {
	return locationID(r.Location) == locationID(o.Location) && r.Ordinal == o.Ordinal && r.Context.Equal(o.Context)
}

// locationID is -1 for a missing location.
func locationID(loc *cfa.Location) int {
	if loc == nil {
		return -1
	}
	return loc.ID
}

// GlobalState is the abstract state of all threads. It is persistent: every
// operation returns a new value and leaves the receiver unchanged, so a state
// can be shared between any number of successors.
type GlobalState struct {
	threads map[string]ThreadRecord
	// locks maps a lock to its unique holder.
	locks map[string]string

	// Transient bookkeeping, only set between a transfer step and its
	// strengthening.
	activeThread      string
	createdThread     string
	entryFunctionCall *cfa.Edge

	// witness maps thread ids to ordinals of a replayed witness.
	witness map[string]int
}

// NewGlobalState returns a state without threads.
func NewGlobalState() GlobalState {
	return GlobalState{
		threads: map[string]ThreadRecord{},
		locks:   map[string]string{},
		witness: map[string]int{},
	}
}

// withThreadsCopy creates a new state with a copy of the thread map.
func (s GlobalState) withThreadsCopy() GlobalState {
	threads := make(map[string]ThreadRecord, len(s.threads)+1)
	for id, r := range s.threads {
		threads[id] = r
	}
	s.threads = threads
	return s
}

// withLocksCopy creates a new state with a copy of the lock map.
func (s GlobalState) withLocksCopy() GlobalState {
	locks := make(map[string]string, len(s.locks)+1)
	for l, t := range s.locks {
		locks[l] = t
	}
	s.locks = locks
	return s
}

func (s GlobalState) withWitnessCopy() GlobalState {
	witness := make(map[string]int, len(s.witness)+1)
	for id, n := range s.witness {
		witness[id] = n
	}
	s.witness = witness
	return s
}

// AddThread starts a thread.
func (s GlobalState) AddThread(id string, ordinal int, context *cfa.CallStack, loc *cfa.Location) (GlobalState, error) {
	if _, exists := s.threads[id]; exists {
		return s, errors.Wrapf(ErrThreadExists, "adding thread %q", id)
	}
	ns := s.withThreadsCopy()
	ns.threads[id] = ThreadRecord{Location: loc, Context: context, Ordinal: ordinal}
	return ns, nil
}

// UpdateLocation moves a thread, keeping its ordinal.
func (s GlobalState) UpdateLocation(id string, context *cfa.CallStack, loc *cfa.Location) (GlobalState, error) {
	r, exists := s.threads[id]
	if !exists {
		return s, errors.Wrapf(ErrNoSuchThread, "updating thread %q", id)
	}
	ns := s.withThreadsCopy()
	ns.threads[id] = ThreadRecord{Location: loc, Context: context, Ordinal: r.Ordinal}
	return ns, nil
}

// RemoveThread removes a thread. Callers release its locks first.
func (s GlobalState) RemoveThread(id string) (GlobalState, error) {
	if _, exists := s.threads[id]; !exists {
		return s, errors.Wrapf(ErrNoSuchThread, "removing thread %q", id)
	}
	ns := s.withThreadsCopy()
	delete(ns.threads, id)
	if _, ok := ns.witness[id]; ok {
		ns = ns.withWitnessCopy()
		delete(ns.witness, id)
	}
	return ns, nil
}

// AddLock records thread as the holder of lock. The caller checks that the
// lock is free.
func (s GlobalState) AddLock(thread, lock string) (GlobalState, error) {
	if _, exists := s.threads[thread]; !exists {
		return s, errors.Wrapf(ErrNoSuchThread, "locking %q", lock)
	}
	ns := s.withLocksCopy()
	ns.locks[lock] = thread
	return ns, nil
}

// RemoveLock releases lock. Releasing a free lock is a no-op.
func (s GlobalState) RemoveLock(thread, lock string) GlobalState {
	if _, held := s.locks[lock]; !held {
		return s
	}
	ns := s.withLocksCopy()
	delete(ns.locks, lock)
	return ns
}

// HasLock reports whether anyone holds lock.
func (s GlobalState) HasLock(lock string) bool {
	_, held := s.locks[lock]
	return held
}

// HasThreadLock reports whether thread holds lock.
func (s GlobalState) HasThreadLock(thread, lock string) bool {
	holder, held := s.locks[lock]
	return held && holder == thread
}

// LocksOfThread returns the sorted locks held by thread.
func (s GlobalState) LocksOfThread(thread string) []string {
	var locks []string
	for l, holder := range s.locks {
		if holder == thread {
			locks = append(locks, l)
		}
	}
	sort.Strings(locks)
	return locks
}

// LockHolder returns the thread holding lock.
func (s GlobalState) LockHolder(lock string) (string, bool) {
	t, ok := s.locks[lock]
	return t, ok
}

func (s GlobalState) HasThread(id string) bool {
	_, ok := s.threads[id]
	return ok
}

func (s GlobalState) Thread(id string) (ThreadRecord, bool) {
	r, ok := s.threads[id]
	return r, ok
}

// ThreadIDs returns the sorted ids of all live threads.
func (s GlobalState) ThreadIDs() []string {
	return sortedThreadIDs(s.threads)
}

func (s GlobalState) NumThreads() int { return len(s.threads) }

// ActiveThread returns the thread that moved in the step producing s.
func (s GlobalState) ActiveThread() (string, bool) {
	return s.activeThread, s.activeThread != ""
}

// EntryFunctionCall returns the synthetic call of a thread created in the
// step producing s.
func (s GlobalState) EntryFunctionCall() (*cfa.Edge, bool) {
	return s.entryFunctionCall, s.entryFunctionCall != nil
}

func (s GlobalState) withActiveThread(id string) GlobalState {
	s.activeThread = id
	return s
}

func (s GlobalState) withEntryFunctionCall(created string, call *cfa.Edge) GlobalState {
	s.createdThread = created
	s.entryFunctionCall = call
	return s
}

// withoutTransient clears the step bookkeeping.
func (s GlobalState) withoutTransient() GlobalState {
	s.activeThread = ""
	s.createdThread = ""
	s.entryFunctionCall = nil
	return s
}

// IsFinal reports whether the transient fields are cleared.
func (s GlobalState) IsFinal() bool {
	return s.activeThread == "" && s.entryFunctionCall == nil
}

// WitnessOrdinal returns the witness ordinal correlated with a thread.
func (s GlobalState) WitnessOrdinal(id string) (int, bool) {
	n, ok := s.witness[id]
	return n, ok
}

// OutgoingEdges returns the leaving edges of all thread locations, ordered by
// thread id.
func (s GlobalState) OutgoingEdges() []*cfa.Edge {
	var edges []*cfa.Edge
	for _, id := range s.ThreadIDs() {
		edges = append(edges, s.threads[id].Location.Leaving()...)
	}
	return edges
}

// Equal compares threads and locks; transient fields and witness
// correlations are ignored.
func (s GlobalState) Equal(o GlobalState) bool {
	if len(s.threads) != len(o.threads) || len(s.locks) != len(o.locks) {
		return false
	}
	for id, r := range s.threads {
		or, ok := o.threads[id]
		if !ok || !r.equal(or) {
			return false
		}
	}
	for l, t := range s.locks {
		if o.locks[l] != t {
			return false
		}
	}
	return true
}

type rlpThread struct {
	ID       string
	Location uint64
	Frames   []rlpFrame
	Ordinal  uint64
}

type rlpFrame struct {
	Function string
	CallSite uint64
}

type rlpLock struct {
	Lock   string
	Holder string
}

type rlpState struct {
	Threads []rlpThread
	Locks   []rlpLock
}

// Fingerprint hashes exactly the parts of the state that Equal compares.
func (s GlobalState) Fingerprint() common.Hash {
	enc := rlpState{}
	for _, id := range s.ThreadIDs() {
		r := s.threads[id]
		// Ids are shifted by one so that a missing location encodes as 0.
		t := rlpThread{ID: id, Location: uint64(locationID(r.Location) + 1), Ordinal: uint64(r.Ordinal)}
		for _, f := range r.Context.Frames() {
			// Call sites are shifted by one so that "no call site" encodes as 0.
			t.Frames = append(t.Frames, rlpFrame{Function: f.Function, CallSite: uint64(f.CallSite + 1)})
		}
		enc.Threads = append(enc.Threads, t)
	}
	for _, l := range sortedLockIDs(s.locks) {
		enc.Locks = append(enc.Locks, rlpLock{Lock: l, Holder: s.locks[l]})
	}
	return rlpHash(enc)
}

func rlpHash(x interface{}) (h common.Hash) {
	hw := sha3.NewLegacyKeccak256()
	if err := rlp.Encode(hw, x); err != nil {
		panic(fmt.Sprintf("encoding state: %v", err))
	}
	hw.Sum(h[:0])
	return h
}

func (s GlobalState) String() string {
	var b strings.Builder
	b.WriteString("(")
	for i, id := range s.ThreadIDs() {
		r := s.threads[id]
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s#%d@%v%v", id, r.Ordinal, r.Location, r.Context)
	}
	b.WriteString(" | locks:")
	for _, l := range sortedLockIDs(s.locks) {
		fmt.Fprintf(&b, " %s=%s", l, s.locks[l])
	}
	b.WriteString(")")
	return b.String()
}
