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
	"io/ioutil"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Program is the file format of a concurrent program:
//
//	main: main
//	globals:
//	  - {name: g, init: "0"}
//	  - {name: m, type: pthread_mutex_t}
//	functions:
//	  - name: worker
//	    params: [arg]
//	    body:
//	      - "pthread_mutex_lock(&m)"
//	      - {declare: x, init: "g"}
//	      - {branch: "x > 0", then: L1, else: L2}
//	      - {label: L1}
//	      - "g = x"
//	      - {goto: L2}
//	      - {label: L2}
//	      - "pthread_mutex_unlock(&m)"
type Program struct {
	Main      string          `yaml:"main"`
	Globals   []ProgramGlobal `yaml:"globals"`
	Functions []ProgramFunc   `yaml:"functions"`
}

type ProgramGlobal struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Init string `yaml:"init"`
}

type ProgramFunc struct {
	Name   string        `yaml:"name"`
	Params []string      `yaml:"params"`
	Locals []string      `yaml:"locals"`
	Body   []ProgramItem `yaml:"body"`
}

// ProgramItem is either a plain statement string or one of the structured
// forms (label, goto, branch, declare).
type ProgramItem struct {
	Stmt    string
	Label   string `yaml:"label"`
	Goto    string `yaml:"goto"`
	Branch  string `yaml:"branch"`
	Then    string `yaml:"then"`
	Else    string `yaml:"else"`
	Declare string `yaml:"declare"`
	Init    string `yaml:"init"`
	To      string `yaml:"to"`
	Do      string `yaml:"do"`
}

func (it *ProgramItem) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		it.Stmt = value.Value
		return nil
	}
	type plain ProgramItem
	return value.Decode((*plain)(it))
}

// LoadProgram reads a program file.
func LoadProgram(path string) (*Program, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading program")
	}
	return ParseProgram(data)
}

// ParseProgram decodes a program description.
func ParseProgram(data []byte) (*Program, error) {
	var p Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "decoding program")
	}
	if p.Main == "" {
		p.Main = "main"
	}
	return &p, nil
}

// Builder returns a builder holding the program.
func (p *Program) Builder() (*Builder, error) {
	b := NewBuilder(p.Main)
	for _, g := range p.Globals {
		if g.Name == "" {
			return nil, errors.New("global without name")
		}
		spec := globalSpec{name: g.Name, typ: g.Type, init: g.Init}
		if spec.typ == "" {
			spec.typ = "int"
		}
		b.globals = append(b.globals, spec)
	}
	for _, fn := range p.Functions {
		if fn.Name == "" {
			return nil, errors.New("function without name")
		}
		fb := b.Function(fn.Name, fn.Params...)
		for _, l := range fn.Locals {
			fb.Local(l)
		}
		// reachable is false after a jump until the next label.
		reachable := true
		for i, it := range fn.Body {
			switch {
			case it.Stmt != "":
				fb.Stmt(it.Stmt)
			case it.Do != "" && it.To != "":
				fb.StmtTo(it.Do, it.To)
			case it.Label != "":
				// A label ends the fall-through path into it.
				if reachable && fb.cur != it.Label {
					fb.edges = append(fb.edges, edgeSpec{op: opBlank, from: fb.cur, to: it.Label})
				}
				fb.At(it.Label)
				reachable = true
			case it.Goto != "":
				fb.Goto(it.Goto)
				reachable = false
			case it.Branch != "":
				if it.Then == "" || it.Else == "" {
					return nil, errors.Errorf("%s: branch %d needs then and else labels", fn.Name, i)
				}
				fb.Branch(it.Branch, it.Then, it.Else)
				// Continue at a fresh location: the targets are labelled.
				fb.At(fb.freshLabel())
				reachable = false
			case it.Declare != "":
				if it.Init != "" {
					fb.Declare(it.Declare, it.Init)
				} else {
					fb.Declare(it.Declare)
				}
			default:
				return nil, errors.Errorf("%s: empty body item %d", fn.Name, i)
			}
		}
	}
	return b, nil
}
