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
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Unbounded disables the thread ordinal budget.
const Unbounded = -1

// Options configures the threading transfer relation.
type Options struct {
	// UseClonedFunctions makes spawned threads execute the pre-cloned copy of
	// their entry function selected by the thread ordinal.
	UseClonedFunctions bool `yaml:"useClonedFunctions"`
	// AllowMultipleLHS permits re-using a thread handle that is still in use;
	// the new thread gets a disambiguating suffix.
	AllowMultipleLHS bool `yaml:"allowMultipleLHS"`
	// MaxNumberOfThreads bounds the ordinals of spawned threads, Unbounded
	// disables the bound.
	MaxNumberOfThreads int `yaml:"maxNumberOfThreads"`
	UseAtomicLocks     bool `yaml:"useAtomicLocks"`
	// UseLocalAccessLocks lets a thread run uninterrupted while it does not
	// touch shared memory.
	UseLocalAccessLocks bool `yaml:"useLocalAccessLocks"`
	// UseAllPossibleClones creates one successor per free ordinal instead of
	// taking the smallest one; used when replaying witnesses.
	UseAllPossibleClones bool `yaml:"useAllPossibleClones"`
}

func DefaultOptions() Options {
	return Options{
		UseClonedFunctions:   MagicBool(true),
		AllowMultipleLHS:     MagicBool(false),
		MaxNumberOfThreads:   MagicInt(5),
		UseAtomicLocks:       MagicBool(true),
		UseLocalAccessLocks:  MagicBool(true),
		UseAllPossibleClones: MagicBool(false),
	}
}

// Validate checks the option values.
func (o Options) Validate() error {
	if o.MaxNumberOfThreads < Unbounded || o.MaxNumberOfThreads == 0 {
		return errors.Errorf("maxNumberOfThreads must be positive or %d, got %d", Unbounded, o.MaxNumberOfThreads)
	}
	return nil
}

// LoadOptions reads options from a YAML file. Keys missing from the file keep
// their default values.
func LoadOptions(path string) (Options, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Options{}, errors.Wrap(err, "reading options")
	}
	return ParseOptions(data)
}

func ParseOptions(data []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, errors.Wrap(err, "decoding options")
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}
