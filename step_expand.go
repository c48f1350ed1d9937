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
	"log"

	"shanhu.io/misc/errcode"
)

// InsertPolicy is where the steps produced by an Expand step go.
type InsertPolicy int

// Insert policies.
const (
	// InsertAfter puts the new steps right after the Expand step.
	InsertAfter InsertPolicy = iota

	// InsertAtEnd puts the new steps at the end of the plan.
	InsertAtEnd
)

// ExpandFunc produces steps from a manifest. The order of the returned
// steps is the order they run in.
type ExpandFunc func(m *Manifest, props *Props) ([]Step, error)

// Expand reads a manifest from the worker and splices the steps that Emit
// produces into the running plan. A missing manifest is an empty one.
type Expand struct {
	Name     string
	Manifest string         // Path on the worker.
	Format   ManifestFormat // Empty to guess from the file extension.
	Insert   InsertPolicy
	Emit     ExpandFunc

	HaltOnFailure bool
}

// StepName implements Step.
func (x *Expand) StepName() string { return x.Name }

func (x *Expand) halts() bool { return x.HaltOnFailure }
func (x *Expand) warns() bool { return false }

func (x *Expand) format() (ManifestFormat, error) {
	if x.Format != "" {
		return x.Format, nil
	}
	return manifestFormatOf(x.Manifest)
}

func (x *Expand) validate() error {
	if err := validateName(x.Name); err != nil {
		return err
	}
	if x.Manifest == "" {
		return errcode.InvalidArgf("expand %q has no manifest", x.Name)
	}
	if _, err := x.format(); err != nil {
		return err
	}
	if x.Emit == nil {
		return errcode.InvalidArgf("expand %q emits nothing", x.Name)
	}
	if x.Insert != InsertAfter && x.Insert != InsertAtEnd {
		return errcode.InvalidArgf("expand %q: bad insert policy", x.Name)
	}
	return nil
}

func (x *Expand) readManifest(ctx context.Context, b *Build) (
	*Manifest, error,
) {
	w, err := b.worker(ctx)
	if err != nil {
		return nil, err
	}
	p := b.Props.Render(x.Manifest)
	bs, err := w.ReadFile(ctx, p)
	if err != nil {
		if errcode.IsNotFound(err) {
			log.Printf("%s: no manifest %q, nothing to do", x.Name, p)
			return new(Manifest), nil
		}
		return nil, errcode.Annotatef(err, "read manifest %q", p)
	}
	f, err := x.format()
	if err != nil {
		return nil, err
	}
	return ParseManifest(bs, f)
}

func (x *Expand) run(ctx context.Context, b *Build) error {
	m, err := x.readManifest(ctx, b)
	if err != nil {
		return err
	}
	steps, err := x.Emit(m, b.Props)
	if err != nil {
		return errcode.Annotate(err, "emit steps")
	}
	if err := validateSteps(steps); err != nil {
		return errcode.Annotate(err, "invalid emitted steps")
	}
	if b.plan == nil {
		return errcode.Internalf("expand %q outside of a plan", x.Name)
	}
	b.plan.insert(x.Insert, steps)
	log.Printf("%s: added %d steps", x.Name, len(steps))
	return nil
}
