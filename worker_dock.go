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
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"shanhu.io/misc/errcode"
	"shanhu.io/misc/tarutil"
	"shanhu.io/virgo/dock"
)

// contWorkDir is where the build's work directory is mounted inside the
// worker container.
const contWorkDir = "/build"

type execResult struct {
	exit int
	err  error
}

type dockWorker struct {
	cont *dock.Cont
}

func (w *dockWorker) path(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(contWorkDir, p)
}

func (w *dockWorker) exec(ctx context.Context, setup *dock.ExecSetup) (
	int, error,
) {
	done := make(chan *execResult, 1)
	go func() {
		exit, err := w.cont.ExecWithSetup(setup)
		done <- &execResult{exit: exit, err: err}
	}()

	select {
	case <-ctx.Done():
		// The exec keeps running in the container until the container is
		// dropped when the build ends.
		return -1, ctx.Err()
	case r := <-done:
		return r.exit, r.err
	}
}

// contExecLog keeps the output of the last command in the container.
const contExecLog = "/tmp/buildbox-exec.log"

// captureArgs wraps a command so that its stdout and stderr go into
// logFile. The exit code is kept.
func captureArgs(args []string, logFile string) []string {
	ret := []string{"sh", "-c", `exec "$@" >"$0" 2>&1`, logFile}
	return append(ret, args...)
}

func (w *dockWorker) Exec(ctx context.Context, e *Exec) (int, error) {
	if len(e.Args) == 0 {
		return 0, errcode.InvalidArgf("empty command")
	}
	args := e.Args
	if e.Out != nil {
		args = captureArgs(args, contExecLog)
	}
	exit, err := w.exec(ctx, &dock.ExecSetup{
		Cmd:        args,
		Env:        e.Env,
		WorkingDir: w.path(e.Dir),
	})
	if err != nil || e.Out == nil {
		return exit, err
	}
	if err := w.copyLog(e.Out); err != nil {
		log.Printf("copy command output: %s", err)
	}
	return exit, nil
}

func (w *dockWorker) copyLog(out io.Writer) error {
	tmp, err := os.CreateTemp("", "buildbox-exec-")
	if err != nil {
		return err
	}
	name := tmp.Name()
	tmp.Close()
	defer os.Remove(name)

	if err := w.cont.CopyOutFile(contExecLog, name); err != nil {
		return err
	}
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(out, f)
	return err
}

func (w *dockWorker) Stat(ctx context.Context, p string) (bool, error) {
	exit, err := w.exec(ctx, &dock.ExecSetup{
		Cmd: []string{"test", "-e", w.path(p)},
	})
	if err != nil {
		return false, err
	}
	switch exit {
	case 0:
		return true, nil
	case 1:
		return false, nil
	}
	return false, errcode.Internalf("stat %q: %s", p, exitError(exit))
}

func (w *dockWorker) Mkdir(ctx context.Context, p string) error {
	return execError(w.exec(ctx, &dock.ExecSetup{
		Cmd: []string{"mkdir", "-p", w.path(p)},
	}))
}

func (w *dockWorker) ReadFile(ctx context.Context, p string) ([]byte, error) {
	ok, err := w.Stat(ctx, p)
	if err != nil {
		return nil, errcode.Annotate(err, "stat")
	}
	if !ok {
		return nil, errcode.NotFoundf("%q not found", p)
	}

	tmp, err := os.CreateTemp("", "buildbox-read-")
	if err != nil {
		return nil, errcode.Annotate(err, "create temp file")
	}
	name := tmp.Name()
	tmp.Close()
	defer os.Remove(name)

	if err := w.CopyOut(ctx, p, name); err != nil {
		return nil, err
	}
	return os.ReadFile(name)
}

func (w *dockWorker) CopyIn(ctx context.Context, local, p string) error {
	dest := w.path(p)
	if err := w.Mkdir(ctx, path.Dir(dest)); err != nil {
		return errcode.Annotate(err, "make dest dir")
	}
	ts := tarutil.NewStream()
	ts.AddFile(strings.TrimPrefix(dest, "/"), tarutil.ModeMeta(0644), local)
	return dock.CopyInTarStream(w.cont, ts, "/")
}

func (w *dockWorker) CopyOut(ctx context.Context, p, local string) error {
	if err := os.MkdirAll(filepath.Dir(local), 0700); err != nil {
		return errcode.Annotate(err, "make local dir")
	}
	return w.cont.CopyOutFile(w.path(p), local)
}

func (w *dockWorker) Root() string { return contWorkDir }

func (w *dockWorker) Close() error { return w.cont.Drop() }

// DockWorkers runs each build in a fresh docker container. The build
// ID's work directory under Root on the host is mounted at /build, so
// the container can be dropped after every build while the work
// directory stays.
type DockWorkers struct {
	Client *dock.Client
	Image  string
	Root   string

	// Mounts are extra host directories mounted into the container,
	// keyed by host path.
	Mounts map[string]string

	// Pull pulls the image before creating the first container.
	Pull bool

	pullOnce sync.Once
	pullErr  error
}

func (ws *DockWorkers) pullImage() error {
	repo, tag := dock.ParseImageTag(ws.Image)
	if tag == "" {
		tag = "latest"
	}
	log.Printf("pull worker image %s:%s", repo, tag)
	if err := dock.PullImage(ws.Client, repo, tag); err != nil {
		return errcode.Annotate(err, "pull image")
	}
	return nil
}

// Worker creates and starts a container for the build ID.
func (ws *DockWorkers) Worker(ctx context.Context, buildID string) (
	Worker, error,
) {
	if ws.Pull {
		ws.pullOnce.Do(func() { ws.pullErr = ws.pullImage() })
		if ws.pullErr != nil {
			return nil, ws.pullErr
		}
	}

	dir, err := filepath.Abs(filepath.Join(ws.Root, buildID))
	if err != nil {
		return nil, errcode.Annotate(err, "get absolute work dir")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errcode.Annotate(err, "make work dir")
	}

	mounts := []*dock.ContMount{{Host: dir, Cont: contWorkDir}}
	for host, cont := range ws.Mounts {
		mounts = append(mounts, &dock.ContMount{Host: host, Cont: cont})
	}
	config := &dock.ContConfig{
		Cmd:     []string{"sleep", "infinity"},
		WorkDir: contWorkDir,
		Mounts:  mounts,
	}
	cont, err := dock.CreateCont(ws.Client, ws.Image, config)
	if err != nil {
		return nil, errcode.Annotate(err, "create container")
	}
	if err := cont.Start(); err != nil {
		cont.Drop()
		return nil, errcode.Annotate(err, "start container")
	}
	return &dockWorker{cont: cont}, nil
}
