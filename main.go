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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/practical-formal-methods/weft/analysis"
	"github.com/practical-formal-methods/weft/cfa"
)

const defaultUnboundedClones = 16

var (
	configFile         = flag.String("config", "", "YAML file with analysis options")
	maxThreads         = flag.Int("max-threads", 5, "bound on spawned threads, -1 for no bound")
	clones             = flag.Int("clones", 0, "number of function clones to build (default: max-threads)")
	allClones          = flag.Bool("all-clones", false, "create one successor per free thread ordinal")
	multipleLHS        = flag.Bool("allow-multiple-lhs", false, "allow re-using a thread handle that is still running")
	noClonedFunctions  = flag.Bool("no-cloned-functions", false, "let spawned threads run the original function bodies")
	noAtomicLocks      = flag.Bool("no-atomic-locks", false, "ignore atomic sections")
	noLocalAccessLocks = flag.Bool("no-local-access-locks", false, "interleave thread-local steps too")
	maxStates          = flag.Int("max-states", analysis.DefaultMaxStates, "bound on stored states")
	verbosity          = flag.Int("verbosity", int(log.LvlInfo), "log level (0-5)")
	reportFile         = flag.String("report", "", "write a JSON report to this file")
)

type report struct {
	Program     string
	States      int
	Transitions int
	Steps       uint64
	Deadlocks   []string
	Race        bool
	RaceAccess  []string `json:",omitempty"`
	Truncated   bool
	Causes      map[string]uint64
}

func options() (analysis.Options, error) {
	opts := analysis.DefaultOptions()
	if *configFile != "" {
		var err error
		if opts, err = analysis.LoadOptions(*configFile); err != nil {
			return opts, err
		}
	}
	if flag.CommandLine.Changed("max-threads") {
		opts.MaxNumberOfThreads = *maxThreads
	}
	if *allClones {
		opts.UseAllPossibleClones = true
	}
	if *multipleLHS {
		opts.AllowMultipleLHS = true
	}
	if *noClonedFunctions {
		opts.UseClonedFunctions = false
	}
	if *noAtomicLocks {
		opts.UseAtomicLocks = false
	}
	if *noLocalAccessLocks {
		opts.UseLocalAccessLocks = false
	}
	return opts, opts.Validate()
}

func cloneCount(opts analysis.Options) int {
	if *clones > 0 {
		return *clones
	}
	if opts.MaxNumberOfThreads == analysis.Unbounded {
		return defaultUnboundedClones
	}
	return opts.MaxNumberOfThreads
}

func analyze(path string) (*report, error) {
	opts, err := options()
	if err != nil {
		return nil, err
	}
	prog, err := cfa.LoadProgram(path)
	if err != nil {
		return nil, err
	}
	b, err := prog.Builder()
	if err != nil {
		return nil, err
	}
	g, err := b.Build(cloneCount(opts))
	if err != nil {
		return nil, errors.Wrap(err, "building control-flow graph")
	}
	tr, err := analysis.NewTransferRelation(g, opts)
	if err != nil {
		return nil, err
	}
	ex := analysis.NewExplorer(tr)
	ex.MaxStates = *maxStates
	res, err := ex.Run(context.Background())
	if err != nil {
		return nil, err
	}

	r := &report{
		Program:     path,
		States:      res.States,
		Transitions: res.Transitions,
		Steps:       res.Steps,
		Race:        res.HasRace,
		Truncated:   res.Truncated,
		Causes:      res.Causes,
	}
	for _, st := range res.Deadlocks {
		r.Deadlocks = append(r.Deadlocks, st.String())
	}
	if res.HasRace {
		r.RaceAccess = []string{res.Race[0].String(), res.Race[1].String()}
	}
	return r, nil
}

func writeReport(path string, r *report) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating report")
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(r), "encoding report")
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] program.yaml\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(*verbosity), log.StreamHandler(os.Stderr, log.TerminalFormat(false))))

	r, err := analyze(flag.Arg(0))
	if err != nil {
		var uc *analysis.UnsupportedCodeError
		if errors.As(err, &uc) {
			fmt.Fprintf(os.Stderr, "unsupported code: %v\n", err)
			os.Exit(3)
		}
		fmt.Fprintf(os.Stderr, "analysis ended with an error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s: %d states, %d transitions\n", r.Program, r.States, r.Transitions)
	if r.Truncated {
		fmt.Println("state limit reached, results are incomplete")
	}
	if len(r.Deadlocks) > 0 {
		fmt.Printf("deadlock: %s\n", r.Deadlocks[0])
	} else {
		fmt.Println("deadlock: none")
	}
	if r.Race {
		fmt.Printf("data race: %s / %s\n", r.RaceAccess[0], r.RaceAccess[1])
	} else {
		fmt.Println("data race: none")
	}
	if *reportFile != "" {
		if err := writeReport(*reportFile, r); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	}
}
