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

	"github.com/pkg/errors"

	"github.com/practical-formal-methods/weft/cfa"
)

var (
	// ErrUnsupportedCode matches every UnsupportedCodeError.
	ErrUnsupportedCode = errors.New("unsupported code")
	// ErrInternal marks violated preconditions of the engine's collaborators.
	ErrInternal = errors.New("internal consistency violation")

	ErrThreadExists = errors.New("thread already exists")
	ErrNoSuchThread = errors.New("no such thread")
)

// UnsupportedCodeError reports a use of a thread primitive the engine cannot
// model. It aborts the analysis.
type UnsupportedCodeError struct {
	Msg  string
	Edge *cfa.Edge
	Node cfa.Node
}

func (e *UnsupportedCodeError) Error() string {
	switch {
	case e.Node != nil && e.Edge != nil:
		return fmt.Sprintf("%s: %v (at %v)", e.Msg, e.Node, e.Edge)
	case e.Edge != nil:
		return fmt.Sprintf("%s (at %v)", e.Msg, e.Edge)
	}
	return e.Msg
}

func (e *UnsupportedCodeError) Is(target error) bool {
	return target == ErrUnsupportedCode
}

func unsupported(msg string, edge *cfa.Edge, node cfa.Node) error {
	return errors.WithStack(&UnsupportedCodeError{Msg: msg, Edge: edge, Node: node})
}

func internalf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInternal, format, args...)
}
