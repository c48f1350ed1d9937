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
	"net/http"
	"os"

	"shanhu.io/misc/errcode"
)

// Build is the runtime state of one build. It is used by exactly one
// goroutine.
type Build struct {
	ID      string
	Builder string
	Props   *Props

	// Worker is the worker of the build. When nil, it is created from
	// Workers on first use.
	Worker  Worker
	Workers Workers

	Store      Store
	HTTPClient *http.Client

	// Log receives the output of the commands. Defaults to stderr.
	Log io.Writer

	// ScratchDir is the master side temp directory of the build.
	ScratchDir string

	env  *env
	plan *queue
}

func (b *Build) init() {
	if b.Props == nil {
		b.Props = NewProps()
	}
	if b.env == nil {
		dir := b.ScratchDir
		if dir == "" {
			dir = os.TempDir()
		}
		b.env = &env{scratchDir: dir}
	}
}

func (b *Build) worker(ctx context.Context) (Worker, error) {
	if b.Worker == nil {
		if b.Workers == nil {
			return nil, errcode.Internalf("build %q has no worker", b.ID)
		}
		w, err := b.Workers.Worker(ctx, b.ID)
		if err != nil {
			return nil, errcode.Annotate(err, "get worker")
		}
		b.Worker = w
	}
	if b.Props != nil && !b.Props.Has(PropBuildDir) {
		b.Props.Set(PropBuildDir, b.Worker.Root(), "worker", true)
	}
	return b.Worker, nil
}

func (b *Build) store() (Store, error) {
	if b.Store == nil {
		return nil, errcode.Internalf("build %q has no snapshot store", b.ID)
	}
	return b.Store, nil
}

func (b *Build) httpClient() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return http.DefaultClient
}

func (b *Build) log() io.Writer {
	if b.Log != nil {
		return b.Log
	}
	return os.Stderr
}

func (b *Build) exec(ctx context.Context, e *Exec) (int, error) {
	w, err := b.worker(ctx)
	if err != nil {
		return 0, err
	}
	if e.Out == nil {
		e.Out = b.log()
	}
	return w.Exec(ctx, e)
}
