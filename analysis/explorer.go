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
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/common/prque"
	"github.com/ethereum/go-ethereum/log"

	"github.com/practical-formal-methods/weft/cfa"
)

// DefaultMaxStates bounds the number of stored states of an exploration.
const DefaultMaxStates = 1000000

// Explorer enumerates the interleavings of a program depth-first.
type Explorer struct {
	transfer *TransferRelation
	races    *RaceTracker
	log      log.Logger

	// MaxStates bounds the reached set; further states are dropped and the
	// result is marked truncated.
	MaxStates int
	// Siblings, if set, supplies the sibling states passed to Strengthen
	// for a successor reached over edge.
	Siblings func(st GlobalState, edge *cfa.Edge) []interface{}
}

func NewExplorer(transfer *TransferRelation) *Explorer {
	return &Explorer{
		transfer:  transfer,
		races:     NewRaceTracker(),
		log:       log.New("module", "explorer"),
		MaxStates: MagicInt(DefaultMaxStates),
	}
}

// Result summarizes an exploration.
type Result struct {
	States      int
	Transitions int
	// Steps counts calls of the transfer relation.
	Steps uint64
	// Blocked counts edges of live threads that had no successor.
	Blocked int
	// Final holds the states without successors, Deadlocks the deadlocked
	// ones among them.
	Final     []GlobalState
	Deadlocks []GlobalState
	HasRace   bool
	Race      [2]MemoryAccess
	Truncated bool
	Duration  time.Duration
	// Causes counts transfer steps without successors by cause.
	Causes map[string]uint64
}

type exploreNode struct {
	st    GlobalState
	race  RaceState
	depth int64
}

type reachedKey struct {
	State common.Hash
	Race  common.Hash
}

func (n exploreNode) key() common.Hash {
	return rlpHash(reachedKey{State: n.st.Fingerprint(), Race: n.race.Fingerprint()})
}

// CheckSupported walks all functions of prog and rejects primitives the
// engine cannot model, reachable or not.
func CheckSupported(prog Program, primitives cfa.PrimitiveTable) error {
	visited := map[*cfa.Location]bool{}
	for _, fn := range prog.Functions() {
		work := []*cfa.Location{fn.Entry}
		for len(work) > 0 {
			loc := work[len(work)-1]
			work = work[:len(work)-1]
			if loc == nil || visited[loc] {
				continue
			}
			visited[loc] = true
			for _, e := range loc.Leaving() {
				if call, ok := e.Call(); ok && !primitives.Lookup(call.FunctionName()).Supported {
					return unsupported("missing support for "+call.FunctionName(), e, call)
				}
				work = append(work, e.Succ)
			}
		}
	}
	return nil
}

// Run explores all interleavings reachable from the initial state.
func (e *Explorer) Run(ctx context.Context) (*Result, error) {
	start := mclock.Now()
	if err := CheckSupported(e.transfer.prog, e.transfer.primitives); err != nil {
		return nil, err
	}
	initial, err := e.transfer.InitialState()
	if err != nil {
		return nil, err
	}

	res := &Result{}
	reached := map[common.Hash]bool{}
	work := prque.New(nil)
	push := func(n exploreNode) {
		k := n.key()
		if reached[k] {
			return
		}
		if e.MaxStates > 0 && len(reached) >= e.MaxStates {
			res.Truncated = true
			return
		}
		reached[k] = true
		if n.race.HasRace() && !res.HasRace {
			res.HasRace = true
			res.Race = n.race.race
			e.log.Info("Data race found", "first", n.race.race[0], "second", n.race.race[1])
		}
		// Deeper nodes first: depth-first order.
		work.Push(n, n.depth)
	}
	push(exploreNode{st: initial})

	for !work.Empty() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		item, _ := work.Pop()
		n := item.(exploreNode)

		moved := false
		for _, edge := range n.st.OutgoingEdges() {
			succs, err := e.transfer.Successors(n.st, edge)
			if err != nil {
				return nil, err
			}
			if len(succs) == 0 {
				res.Blocked++
				continue
			}
			for _, s := range succs {
				race := e.races.Step(n.race, s, edge)
				var siblings []interface{}
				if e.Siblings != nil {
					siblings = e.Siblings(s, edge)
				}
				for _, f := range e.transfer.Strengthen(s, siblings...) {
					moved = true
					res.Transitions++
					push(exploreNode{st: f, race: race, depth: n.depth + 1})
				}
			}
		}
		if !moved {
			res.Final = append(res.Final, n.st)
			if n.st.Deadlocked() {
				e.log.Debug("Deadlock", "state", n.st)
				res.Deadlocks = append(res.Deadlocks, n.st)
			}
		}
	}

	res.States = len(reached)
	res.Causes = e.transfer.BlockedCauses()
	res.Steps = e.transfer.NumSteps()
	res.Duration = time.Duration(mclock.Now() - start)
	if res.Truncated {
		e.log.Warn("State limit reached, exploration is incomplete", "max", e.MaxStates)
	}
	e.log.Info("Exploration finished", "states", res.States, "transitions", res.Transitions, "steps", res.Steps,
		"deadlocks", len(res.Deadlocks), "race", res.HasRace, "elapsed", common.PrettyDuration(res.Duration))
	return res, nil
}
