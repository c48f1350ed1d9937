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
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"shanhu.io/misc/errcode"
	"shanhu.io/misc/osutil"
)

type localWorker struct {
	root string
}

// NewLocalWorker creates a worker that runs commands on this machine,
// inside the root directory.
func NewLocalWorker(root string) Worker {
	return &localWorker{root: root}
}

func (w *localWorker) path(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(w.root, filepath.FromSlash(p))
}

func (w *localWorker) command(ctx context.Context, e *Exec) *exec.Cmd {
	cmd := exec.CommandContext(ctx, e.Args[0], e.Args[1:]...)
	cmd.Dir = w.path(e.Dir)
	if e.Out == nil {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdout = e.Out
		cmd.Stderr = e.Out
	}
	osutil.CmdCopyEnv(cmd, "HOME")
	osutil.CmdCopyEnv(cmd, "PATH")
	osutil.CmdCopyEnv(cmd, "SSH_AUTH_SOCK")
	cmd.Env = append(cmd.Env, e.Env...)
	return cmd
}

func (w *localWorker) Exec(ctx context.Context, e *Exec) (int, error) {
	if len(e.Args) == 0 {
		return 0, errcode.InvalidArgf("empty command")
	}
	if err := w.command(ctx, e).Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return -1, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

func (w *localWorker) Stat(ctx context.Context, p string) (bool, error) {
	if _, err := os.Stat(w.path(p)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (w *localWorker) Mkdir(ctx context.Context, p string) error {
	return os.MkdirAll(w.path(p), 0755)
}

func (w *localWorker) ReadFile(ctx context.Context, p string) ([]byte, error) {
	bs, err := os.ReadFile(w.path(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errcode.NotFoundf("%q not found", p)
		}
		return nil, err
	}
	return bs, nil
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		if os.IsNotExist(err) {
			return errcode.NotFoundf("%q not found", from)
		}
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(to), 0755); err != nil {
		return errcode.Annotate(err, "make dir")
	}
	dest, err := os.Create(to)
	if err != nil {
		return err
	}
	defer dest.Close()

	if _, err := io.Copy(dest, src); err != nil {
		return err
	}
	return dest.Sync()
}

func (w *localWorker) CopyIn(ctx context.Context, local, p string) error {
	return copyFile(local, w.path(p))
}

func (w *localWorker) CopyOut(ctx context.Context, p, local string) error {
	return copyFile(w.path(p), local)
}

func (w *localWorker) Root() string { return w.root }

func (w *localWorker) Close() error { return nil }

// LocalWorkers gives each build ID its own directory under Root.
type LocalWorkers struct {
	Root string
}

// Worker returns a local worker for the build ID.
func (ws *LocalWorkers) Worker(ctx context.Context, buildID string) (
	Worker, error,
) {
	dir := filepath.Join(ws.Root, buildID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errcode.Annotate(err, "make work dir")
	}
	return NewLocalWorker(dir), nil
}
