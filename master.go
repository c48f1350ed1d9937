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
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"shanhu.io/misc/errcode"
)

// Master runs builds. Builds run concurrently; the resource locks of
// their plans keep them from stepping on each other.
type Master struct {
	Workers    Workers
	Store      Store
	Ledger     *Ledger // Optional.
	Locks      *LockRegistry
	HTTPClient *http.Client

	// ScratchRoot holds the scratch directories of the builds. Defaults
	// to the system temp directory.
	ScratchRoot string

	// Log receives the output of the commands. Defaults to stderr.
	Log io.Writer
}

// NewMaster creates a master with its own lock registry.
func NewMaster(workers Workers, store Store, ledger *Ledger) *Master {
	return &Master{
		Workers: workers,
		Store:   store,
		Ledger:  ledger,
		Locks:   NewLockRegistry(nil),
	}
}

func (m *Master) locks() *LockRegistry {
	if m.Locks == nil {
		m.Locks = NewLockRegistry(nil)
	}
	return m.Locks
}

// Run plans the build with the factory, waits for the plan's locks and
// executes it. Errors are returned only when the build never started;
// the outcome of a started build is in the result.
func (m *Master) Run(ctx context.Context, f Factory, p *Params) (
	*Result, error,
) {
	plan, err := f(p)
	if err != nil {
		return nil, errcode.Annotate(err, "make plan")
	}
	id := p.buildID()

	log.Printf("build %q: waiting for %d locks", id, len(plan.Locks))
	handles, err := m.locks().AcquireAll(ctx, plan.Locks)
	if err != nil {
		return nil, errcode.Annotate(err, "acquire locks")
	}
	defer ReleaseAll(handles)

	scratch, err := os.MkdirTemp(m.ScratchRoot, "buildbox-")
	if err != nil {
		return nil, errcode.Annotate(err, "make scratch dir")
	}
	defer os.RemoveAll(scratch)

	b := &Build{
		ID:         id,
		Builder:    p.Builder,
		Props:      p.Props(),
		Workers:    m.Workers,
		Store:      m.Store,
		HTTPClient: m.HTTPClient,
		Log:        m.Log,
		ScratchDir: scratch,
	}
	defer func() {
		if b.Worker == nil {
			return
		}
		if err := b.Worker.Close(); err != nil {
			log.Printf("build %q: close worker: %s", id, err)
		}
	}()

	log.Printf("build %q: start", id)
	started := time.Now()
	res := Execute(ctx, b, plan)
	finished := time.Now()
	buildsTotal.WithLabelValues(p.Builder, string(res.Status)).Inc()
	if res.FailedStep != "" {
		log.Printf(
			"build %q: %s at %q: %s", id, res.Status, res.FailedStep, res.Err,
		)
	} else {
		log.Printf("build %q: %s", id, res.Status)
	}

	if m.Ledger != nil {
		rec := &BuildRecord{
			BuildID:    id,
			Builder:    p.Builder,
			Status:     res.Status,
			FailedStep: res.FailedStep,
			Steps:      len(res.Steps),
			Started:    started,
			Finished:   finished,
		}
		if err := m.Ledger.RecordBuild(rec); err != nil {
			log.Printf("build %q: record: %s", id, err)
		}
	}
	return res, nil
}

// RunFamily runs a build of the named family.
func (m *Master) RunFamily(ctx context.Context, family string, p *Params) (
	*Result, error,
) {
	f, err := FindFamily(family)
	if err != nil {
		return nil, err
	}
	return m.Run(ctx, f, p)
}
