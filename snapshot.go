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
	"os"
	"path"

	"shanhu.io/misc/errcode"
)

// snapshotStageDir is where archives are staged on the worker, relative
// to the work directory.
const snapshotStageDir = ".snapshots"

// Archive maps a snapshot name to a directory on the worker.
type Archive struct {
	Name string
	Dir  string
}

func (a *Archive) stage() string {
	return path.Join(snapshotStageDir, a.Name+".tar")
}

func (a *Archive) scratch() string { return a.Name + ".tar" }

// SnapshotLock is the lock key that serializes the users of a snapshot.
// Every build that pulls or syncs a snapshot must hold it exclusively.
func SnapshotLock(name string) *LockSpec {
	return &LockSpec{Key: "snapshot/" + name, Mode: Exclusive}
}

func validateArchives(step string, archives []*Archive) error {
	if len(archives) == 0 {
		return errcode.InvalidArgf("%q has no archives", step)
	}
	seen := make(map[string]bool)
	for _, a := range archives {
		if err := checkSnapshotName(a.Name); err != nil {
			return errcode.Annotatef(err, "%q", step)
		}
		if a.Dir == "" {
			return errcode.InvalidArgf("%q: %q has no dir", step, a.Name)
		}
		if seen[a.Name] {
			return errcode.InvalidArgf("%q: %q repeated", step, a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// Pull restores snapshot archives from the store into their directories
// on the worker. Missing archives are the first build's normal state and
// are skipped. The archives are only unpacked when all of them are
// present, so a partial state is never restored.
type Pull struct {
	Name          string
	Archives      []*Archive
	HaltOnFailure bool
}

// StepName implements Step.
func (p *Pull) StepName() string { return p.Name }

func (p *Pull) halts() bool { return p.HaltOnFailure }
func (p *Pull) warns() bool { return false }

func (p *Pull) validate() error {
	if err := validateName(p.Name); err != nil {
		return err
	}
	return validateArchives(p.Name, p.Archives)
}

func (p *Pull) transfer(
	ctx context.Context, b *Build, w Worker, s Store, a *Archive,
) error {
	local, err := b.env.prepareScratch(a.scratch())
	if err != nil {
		return errcode.Annotate(err, "prepare scratch")
	}
	defer os.Remove(local)

	f, err := os.Create(local)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := s.Get(a.Name, f); err != nil {
		return errcode.Annotate(err, "read from store")
	}
	if err := f.Close(); err != nil {
		return err
	}
	return w.CopyIn(ctx, local, a.stage())
}

func (p *Pull) run(ctx context.Context, b *Build) error {
	s, err := b.store()
	if err != nil {
		return err
	}
	var present []*Archive
	for _, a := range p.Archives {
		ok, err := s.Has(a.Name)
		if err != nil {
			return errcode.Annotatef(err, "check snapshot %q", a.Name)
		}
		if !ok {
			log.Printf("%s: no snapshot %q yet", p.Name, a.Name)
			continue
		}
		present = append(present, a)
	}
	if len(present) == 0 {
		return nil
	}

	w, err := b.worker(ctx)
	if err != nil {
		return err
	}
	var staged []string
	for _, a := range present {
		if err := p.transfer(ctx, b, w, s, a); err != nil {
			return errcode.Annotatef(err, "transfer %q", a.Name)
		}
		staged = append(staged, a.stage())
	}

	var unpackErr error
	if len(present) == len(p.Archives) {
		unpackErr = p.unpack(ctx, b, w)
	} else {
		log.Printf(
			"%s: only %d of %d snapshots present, not restoring",
			p.Name, len(present), len(p.Archives),
		)
	}

	rm := append([]string{"rm", "-f"}, staged...)
	if err := execError(b.exec(ctx, &Exec{Args: rm})); err != nil {
		log.Printf("%s: remove staged archives: %s", p.Name, err)
	}
	return unpackErr
}

func (p *Pull) unpack(ctx context.Context, b *Build, w Worker) error {
	for _, a := range p.Archives {
		dir := b.Props.Render(a.Dir)
		if err := w.Mkdir(ctx, dir); err != nil {
			return errcode.Annotatef(err, "make dir %q", dir)
		}
		args := []string{"tar", "-xf", a.stage(), "-C", dir}
		if err := execError(b.exec(ctx, &Exec{Args: args})); err != nil {
			return errcode.Annotatef(err, "unpack %q", a.Name)
		}
	}
	return nil
}

// Sync archives directories on the worker and saves them into the store,
// overwriting the previous archives. The directories stay on the worker.
type Sync struct {
	Name          string
	Archives      []*Archive
	HaltOnFailure bool
}

// StepName implements Step.
func (s *Sync) StepName() string { return s.Name }

func (s *Sync) halts() bool { return s.HaltOnFailure }
func (s *Sync) warns() bool { return false }

func (s *Sync) validate() error {
	if err := validateName(s.Name); err != nil {
		return err
	}
	return validateArchives(s.Name, s.Archives)
}

func (s *Sync) save(
	ctx context.Context, b *Build, w Worker, st Store, a *Archive,
) error {
	dir := b.Props.Render(a.Dir)
	if err := w.Mkdir(ctx, dir); err != nil {
		return errcode.Annotatef(err, "make dir %q", dir)
	}
	if err := w.Mkdir(ctx, snapshotStageDir); err != nil {
		return errcode.Annotate(err, "make stage dir")
	}
	args := []string{"tar", "-cf", a.stage(), "-C", dir, "."}
	if err := execError(b.exec(ctx, &Exec{Args: args})); err != nil {
		return errcode.Annotate(err, "archive")
	}
	defer func() {
		rm := []string{"rm", "-f", a.stage()}
		if err := execError(b.exec(ctx, &Exec{Args: rm})); err != nil {
			log.Printf("%s: remove %q: %s", s.Name, a.stage(), err)
		}
	}()

	local, err := b.env.prepareScratch(a.scratch())
	if err != nil {
		return errcode.Annotate(err, "prepare scratch")
	}
	defer os.Remove(local)
	if err := w.CopyOut(ctx, a.stage(), local); err != nil {
		return errcode.Annotate(err, "copy out")
	}

	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	return st.Put(a.Name, f)
}

func (s *Sync) run(ctx context.Context, b *Build) error {
	st, err := b.store()
	if err != nil {
		return err
	}
	w, err := b.worker(ctx)
	if err != nil {
		return err
	}
	for _, a := range s.Archives {
		if err := s.save(ctx, b, w, st, a); err != nil {
			return errcode.Annotatef(err, "sync %q", a.Name)
		}
		log.Printf("%s: saved snapshot %q", s.Name, a.Name)
	}
	return nil
}
