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
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"shanhu.io/misc/errcode"
)

// Step is one unit of a plan. The set of steps is closed; see Command,
// Fetch, Upload, Sequence, Conditional, Expand, Notify, RepoInit, Pull
// and Sync.
type Step interface {
	// StepName is the name for reporting.
	StepName() string

	// halts tells if a failure of the step aborts the rest of the plan.
	halts() bool

	// warns tells if a failure of the step is only a warning.
	warns() bool

	validate() error
	run(ctx context.Context, b *Build) error
}

var errSkipped = errors.New("skipped")

func validateName(name string) error {
	if name == "" {
		return errcode.InvalidArgf("step has no name")
	}
	return nil
}

// Command runs a command on the worker. Arguments, the directory and
// the environment may reference properties with ${name}.
type Command struct {
	Name          string
	Args          []string
	Dir           string
	Env           map[string]string
	HaltOnFailure bool
	WarnOnFailure bool
	Timeout       time.Duration
}

// StepName implements Step.
func (c *Command) StepName() string { return c.Name }

func (c *Command) halts() bool { return c.HaltOnFailure }
func (c *Command) warns() bool { return c.WarnOnFailure }

func (c *Command) validate() error {
	if err := validateName(c.Name); err != nil {
		return err
	}
	if len(c.Args) == 0 {
		return errcode.InvalidArgf("command %q is empty", c.Name)
	}
	if c.Timeout < 0 {
		return errcode.InvalidArgf("command %q has negative timeout", c.Name)
	}
	return nil
}

func renderEnv(p *Props, env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	var keys []string
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var ret []string
	for _, k := range keys {
		ret = append(ret, fmt.Sprintf("%s=%s", k, p.Render(env[k])))
	}
	return ret
}

func (c *Command) run(ctx context.Context, b *Build) error {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	// The worker sets the build dir property.
	if _, err := b.worker(ctx); err != nil {
		return err
	}
	args := b.Props.RenderAll(c.Args)
	return execError(b.exec(ctx, &Exec{
		Args: args,
		Dir:  b.Props.Render(c.Dir),
		Env:  renderEnv(b.Props, c.Env),
	}))
}

// SeqCommand is a command in a Sequence.
type SeqCommand struct {
	Args []string

	// Optional commands only log their failures and do not stop the
	// sequence.
	Optional bool
}

// Sequence runs several commands under one step name. It stops at the
// first command that fails and is not optional.
type Sequence struct {
	Name          string
	Dir           string
	Commands      []*SeqCommand
	HaltOnFailure bool
	WarnOnFailure bool
}

// StepName implements Step.
func (s *Sequence) StepName() string { return s.Name }

func (s *Sequence) halts() bool { return s.HaltOnFailure }
func (s *Sequence) warns() bool { return s.WarnOnFailure }

func (s *Sequence) validate() error {
	if err := validateName(s.Name); err != nil {
		return err
	}
	if len(s.Commands) == 0 {
		return errcode.InvalidArgf("sequence %q has no commands", s.Name)
	}
	for i, c := range s.Commands {
		if c == nil || len(c.Args) == 0 {
			return errcode.InvalidArgf(
				"sequence %q: command %d is empty", s.Name, i,
			)
		}
	}
	return nil
}

func (s *Sequence) run(ctx context.Context, b *Build) error {
	if _, err := b.worker(ctx); err != nil {
		return err
	}
	dir := b.Props.Render(s.Dir)
	for _, c := range s.Commands {
		args := b.Props.RenderAll(c.Args)
		exit, err := b.exec(ctx, &Exec{Args: args, Dir: dir})
		if err != nil {
			return errcode.Annotatef(err, "%q", args)
		}
		if exit == 0 {
			continue
		}
		if c.Optional {
			log.Printf("%s: %q: %s, ignored", s.Name, args, exitError(exit))
			continue
		}
		return errcode.Annotatef(exitError(exit), "%q", args)
	}
	return nil
}

// Fetch copies a file from the worker to the master.
type Fetch struct {
	Name string
	Src  string // On the worker.
	Dest string // On the master, relative paths are in the scratch dir.

	// Optional fetches succeed when the source does not exist.
	Optional      bool
	HaltOnFailure bool
}

// StepName implements Step.
func (f *Fetch) StepName() string { return f.Name }

func (f *Fetch) halts() bool { return f.HaltOnFailure }
func (f *Fetch) warns() bool { return false }

func (f *Fetch) validate() error {
	if err := validateName(f.Name); err != nil {
		return err
	}
	if f.Src == "" || f.Dest == "" {
		return errcode.InvalidArgf("fetch %q needs src and dest", f.Name)
	}
	return nil
}

func (b *Build) masterPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return b.env.scratch(p)
}

func (f *Fetch) run(ctx context.Context, b *Build) error {
	w, err := b.worker(ctx)
	if err != nil {
		return err
	}
	src := b.Props.Render(f.Src)
	if f.Optional {
		ok, err := w.Stat(ctx, src)
		if err != nil {
			return errcode.Annotatef(err, "stat %q", src)
		}
		if !ok {
			log.Printf("%s: %q not on worker, skipped", f.Name, src)
			return nil
		}
	}
	dest := b.masterPath(b.Props.Render(f.Dest))
	return w.CopyOut(ctx, src, dest)
}

// Upload copies a file from the master to the worker.
type Upload struct {
	Name string
	Src  string // On the master, relative paths are in the scratch dir.
	Dest string // On the worker.

	// Optional uploads succeed when the source does not exist.
	Optional      bool
	HaltOnFailure bool
}

// StepName implements Step.
func (u *Upload) StepName() string { return u.Name }

func (u *Upload) halts() bool { return u.HaltOnFailure }
func (u *Upload) warns() bool { return false }

func (u *Upload) validate() error {
	if err := validateName(u.Name); err != nil {
		return err
	}
	if u.Src == "" || u.Dest == "" {
		return errcode.InvalidArgf("upload %q needs src and dest", u.Name)
	}
	return nil
}

func (u *Upload) run(ctx context.Context, b *Build) error {
	src := b.masterPath(b.Props.Render(u.Src))
	if u.Optional {
		if _, err := os.Stat(src); os.IsNotExist(err) {
			log.Printf("%s: %q not on master, skipped", u.Name, src)
			return nil
		}
	}
	w, err := b.worker(ctx)
	if err != nil {
		return err
	}
	return w.CopyIn(ctx, src, b.Props.Render(u.Dest))
}

// Conditional runs a step only when a predicate holds. A skipped step
// counts as a success.
type Conditional struct {
	When Predicate
	Step Step
}

// StepName implements Step.
func (c *Conditional) StepName() string {
	if c.Step == nil {
		return ""
	}
	return c.Step.StepName()
}

func (c *Conditional) halts() bool { return c.Step.halts() }
func (c *Conditional) warns() bool { return c.Step.warns() }

func (c *Conditional) validate() error {
	if c.When == nil {
		return errcode.InvalidArgf("conditional has no predicate")
	}
	if c.Step == nil {
		return errcode.InvalidArgf("conditional has no step")
	}
	if err := c.When.validate(); err != nil {
		return errcode.Annotatef(err, "predicate of %q", c.Step.StepName())
	}
	return c.Step.validate()
}

func (c *Conditional) run(ctx context.Context, b *Build) error {
	ok, err := c.When.eval(ctx, b)
	if err != nil {
		return errcode.Annotate(err, "evaluate predicate")
	}
	if !ok {
		return errSkipped
	}
	return c.Step.run(ctx, b)
}
