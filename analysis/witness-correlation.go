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

// ThreadCorrelator is implemented by the state of a witness replay. It tells
// which thread ordinals the witness expects for the current step.
type ThreadCorrelator interface {
	// ActiveThreadOrdinal returns the ordinal of the thread the witness
	// moves in this step.
	ActiveThreadOrdinal() (int, bool)
	// CreatedThreadOrdinal returns the ordinal of the thread the witness
	// creates in this step.
	CreatedThreadOrdinal() (int, bool)
}

// Strengthen finishes a transfer step. Siblings implementing ThreadCorrelator
// restrict which thread may have moved and which ordinal a created thread
// gets. The result holds st without its transient fields, or nothing if a
// witness rejects the step.
func (t *TransferRelation) Strengthen(st GlobalState, siblings ...interface{}) []GlobalState {
	for _, sib := range siblings {
		c, ok := sib.(ThreadCorrelator)
		if !ok {
			continue
		}
		var accepted bool
		if st, accepted = correlate(st, c); !accepted {
			t.recordBlocked(WitnessMismatch)
			return nil
		}
	}
	return []GlobalState{st.withoutStaleWitness().withoutTransient()}
}

func correlate(st GlobalState, c ThreadCorrelator) (GlobalState, bool) {
	if active, ok := st.ActiveThread(); ok {
		if ordinal, ok := c.ActiveThreadOrdinal(); ok {
			if st, ok = st.correlateThread(active, ordinal); !ok {
				return st, false
			}
		}
	}
	if st.entryFunctionCall != nil && st.createdThread != "" {
		if ordinal, ok := c.CreatedThreadOrdinal(); ok {
			var accepted bool
			if st, accepted = st.correlateThread(st.createdThread, ordinal); !accepted {
				return st, false
			}
		}
	}
	return st, true
}

// correlateThread checks or records that thread id plays the witness thread
// with the given ordinal.
func (s GlobalState) correlateThread(id string, ordinal int) (GlobalState, bool) {
	if known, ok := s.witness[id]; ok {
		return s, known == ordinal
	}
	for other, n := range s.witness {
		if n == ordinal && other != id {
			return s, false
		}
	}
	ns := s.withWitnessCopy()
	ns.witness[id] = ordinal
	return ns, true
}

// withoutStaleWitness drops correlations of threads that are gone.
func (s GlobalState) withoutStaleWitness() GlobalState {
	stale := false
	for id := range s.witness {
		if !s.HasThread(id) {
			stale = true
			break
		}
	}
	if !stale {
		return s
	}
	ns := s.withWitnessCopy()
	for id := range ns.witness {
		if !ns.HasThread(id) {
			delete(ns.witness, id)
		}
	}
	return ns
}
