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

type repoState int

const (
	repoUnknown repoState = iota
	repoCreating
	repoReady
)

// RepoInit brings a repository directory on the worker into existence
// once, then runs the compose command against it. An existing repository
// is never initialized again, so it keeps its history.
type RepoInit struct {
	Name string
	Repo string // Repository directory on the worker.

	// Init initializes the format of a freshly created repository.
	Init []string

	// Compose updates the repository; it runs on every build.
	Compose []string

	Dir           string
	HaltOnFailure bool
}

// StepName implements Step.
func (r *RepoInit) StepName() string { return r.Name }

func (r *RepoInit) halts() bool { return r.HaltOnFailure }
func (r *RepoInit) warns() bool { return false }

func (r *RepoInit) validate() error {
	if err := validateName(r.Name); err != nil {
		return err
	}
	if r.Repo == "" {
		return errcode.InvalidArgf("%q has no repository", r.Name)
	}
	if len(r.Init) == 0 {
		return errcode.InvalidArgf("%q has no init command", r.Name)
	}
	if len(r.Compose) == 0 {
		return errcode.InvalidArgf("%q has no compose command", r.Name)
	}
	return nil
}

// ensure walks the repository from unknown to ready.
func (r *RepoInit) ensure(ctx context.Context, b *Build, w Worker) error {
	repo := b.Props.Render(r.Repo)
	state := repoUnknown
	for state != repoReady {
		switch state {
		case repoUnknown:
			ok, err := w.Stat(ctx, repo)
			if err != nil {
				return errcode.Annotatef(err, "probe %q", repo)
			}
			if ok {
				state = repoReady
			} else {
				state = repoCreating
			}
		case repoCreating:
			if err := w.Mkdir(ctx, repo); err != nil {
				return errcode.Annotatef(err, "create %q", repo)
			}
			args := b.Props.RenderAll(r.Init)
			if err := execError(b.exec(ctx, &Exec{
				Args: args,
				Dir:  b.Props.Render(r.Dir),
			})); err != nil {
				return errcode.Annotatef(err, "init %q", repo)
			}
			log.Printf("%s: initialized %q", r.Name, repo)
			state = repoReady
		}
	}
	return nil
}

func (r *RepoInit) run(ctx context.Context, b *Build) error {
	w, err := b.worker(ctx)
	if err != nil {
		return err
	}
	if err := r.ensure(ctx, b, w); err != nil {
		return err
	}
	args := b.Props.RenderAll(r.Compose)
	if err := execError(b.exec(ctx, &Exec{
		Args: args,
		Dir:  b.Props.Render(r.Dir),
	})); err != nil {
		return errcode.Annotate(err, "compose")
	}
	return nil
}
