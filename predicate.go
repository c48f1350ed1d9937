// Copyright (C) 2022  Shanhu Tech Inc.
//
// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the
// Free Software Foundation, either version 3 of the License, or (at your
// option) any later version.
//
// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU Affero General Public License
// for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package buildbox

import (
	"context"

	"shanhu.io/misc/errcode"
)

// Predicate is a condition on a build, used by Conditional steps.
type Predicate interface {
	validate() error
	eval(ctx context.Context, b *Build) (bool, error)
}

// PropEquals holds when a property's string form equals Value.
type PropEquals struct {
	Key   string
	Value string
}

func (p *PropEquals) validate() error {
	if p.Key == "" {
		return errcode.InvalidArgf("property name is empty")
	}
	return nil
}

func (p *PropEquals) eval(ctx context.Context, b *Build) (bool, error) {
	return b.Props.Has(p.Key) && b.Props.String(p.Key) == p.Value, nil
}

// PropTrue holds when a property is truthy.
type PropTrue struct {
	Key string
}

func (p *PropTrue) validate() error {
	if p.Key == "" {
		return errcode.InvalidArgf("property name is empty")
	}
	return nil
}

func (p *PropTrue) eval(ctx context.Context, b *Build) (bool, error) {
	return b.Props.Bool(p.Key), nil
}

// FileExists holds when a path exists on the worker.
type FileExists struct {
	Path string
}

func (p *FileExists) validate() error {
	if p.Path == "" {
		return errcode.InvalidArgf("path is empty")
	}
	return nil
}

func (p *FileExists) eval(ctx context.Context, b *Build) (bool, error) {
	w, err := b.worker(ctx)
	if err != nil {
		return false, err
	}
	return w.Stat(ctx, b.Props.Render(p.Path))
}

// Not negates a predicate.
type Not struct {
	P Predicate
}

func (p *Not) validate() error {
	if p.P == nil {
		return errcode.InvalidArgf("nothing to negate")
	}
	return p.P.validate()
}

func (p *Not) eval(ctx context.Context, b *Build) (bool, error) {
	ok, err := p.P.eval(ctx, b)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// AllOf holds when all of its predicates hold. An empty AllOf holds.
type AllOf []Predicate

func (p AllOf) validate() error {
	for _, sub := range p {
		if sub == nil {
			return errcode.InvalidArgf("nil predicate")
		}
		if err := sub.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p AllOf) eval(ctx context.Context, b *Build) (bool, error) {
	for _, sub := range p {
		ok, err := sub.eval(ctx, b)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
