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
	"bytes"
	"context"
	"os"
	"strings"
	"sync"

	"shanhu.io/misc/errcode"
)

// fakeWorker is an in-memory worker. Commands always succeed unless
// their joined args are listed in fail.
type fakeWorker struct {
	mu     sync.Mutex
	files  map[string][]byte
	dirs   map[string]bool
	fail   map[string]int
	execs  []string
	mkdirs []string
	stats  []string
	closed bool
}

func newFakeWorker() *fakeWorker {
	return &fakeWorker{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
		fail:  make(map[string]int),
	}
}

func (w *fakeWorker) Exec(ctx context.Context, e *Exec) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cmd := strings.Join(e.Args, " ")
	w.execs = append(w.execs, cmd)
	return w.fail[cmd], nil
}

func (w *fakeWorker) Stat(ctx context.Context, p string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats = append(w.stats, p)
	_, isFile := w.files[p]
	return isFile || w.dirs[p], nil
}

func (w *fakeWorker) Mkdir(ctx context.Context, p string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mkdirs = append(w.mkdirs, p)
	w.dirs[p] = true
	return nil
}

func (w *fakeWorker) ReadFile(ctx context.Context, p string) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	bs, ok := w.files[p]
	if !ok {
		return nil, errcode.NotFoundf("%q not found", p)
	}
	return bs, nil
}

func (w *fakeWorker) CopyIn(ctx context.Context, local, p string) error {
	bs, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files[p] = bs
	return nil
}

func (w *fakeWorker) CopyOut(ctx context.Context, p, local string) error {
	w.mu.Lock()
	bs, ok := w.files[p]
	w.mu.Unlock()
	if !ok {
		return errcode.NotFoundf("%q not found", p)
	}
	return os.WriteFile(local, bs, 0600)
}

func (w *fakeWorker) Root() string { return "/work" }

func (w *fakeWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWorker) ran(cmd string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.execs {
		if c == cmd {
			return true
		}
	}
	return false
}

// fakeWorkers hands out the same fake worker for every build.
type fakeWorkers struct {
	w     *fakeWorker
	calls int
}

func (ws *fakeWorkers) Worker(ctx context.Context, id string) (Worker, error) {
	ws.calls++
	return ws.w, nil
}

func bytesReader(s string) *bytes.Reader { return bytes.NewReader([]byte(s)) }
