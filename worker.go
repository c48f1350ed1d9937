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
	"fmt"
	"io"
)

// Exec is a command to execute on a worker.
type Exec struct {
	Args []string
	Dir  string   // Working directory, relative to the worker's root.
	Env  []string // Extra environment, in KEY=VALUE form.
	Out  io.Writer
}

// Worker is the channel to the machine that performs a build. Relative
// paths are resolved against the worker's work directory, which is
// shared by all builds with the same build ID.
type Worker interface {
	// Exec runs a command and returns its exit code. A non-nil error
	// means the command could not be run at all.
	Exec(ctx context.Context, e *Exec) (int, error)

	// Stat checks if a path exists. It does not modify anything.
	Stat(ctx context.Context, p string) (bool, error)

	// Mkdir creates a directory and its parents.
	Mkdir(ctx context.Context, p string) error

	// ReadFile reads a file. It returns a not-found error when the file
	// does not exist.
	ReadFile(ctx context.Context, p string) ([]byte, error)

	// CopyIn copies a local file on the master to p on the worker.
	CopyIn(ctx context.Context, local, p string) error

	// CopyOut copies file p on the worker to a local file on the master.
	CopyOut(ctx context.Context, p, local string) error

	// Root returns the work directory that relative paths are in.
	Root() string

	// Close releases the worker.
	Close() error
}

// Workers provides a worker for a build.
type Workers interface {
	Worker(ctx context.Context, buildID string) (Worker, error)
}

func exitError(exit int) error {
	if exit == 0 {
		return nil
	}
	return fmt.Errorf("exit with code: %d", exit)
}

func execError(ret int, err error) error {
	if err != nil {
		return err
	}
	return exitError(ret)
}
