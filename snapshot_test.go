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
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPullMissing(t *testing.T) {
	w := newFakeWorker()
	s, err := NewDirStore(t.TempDir(), "", nil)
	require.NoError(t, err)

	b := newTestBuild(t, w)
	b.Store = s
	p := mustPlan(t, &Pull{
		Name:          "restore",
		Archives:      []*Archive{{Name: "X", Dir: "repo"}},
		HaltOnFailure: true,
	})
	res := Execute(context.Background(), b, p)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, w.execs)
	assert.Empty(t, w.mkdirs)
}

func TestPullPartial(t *testing.T) {
	w := newFakeWorker()
	s, err := NewDirStore(t.TempDir(), "", nil)
	require.NoError(t, err)
	require.NoError(t, s.Put("state", bytesReader("tar bytes")))

	b := newTestBuild(t, w)
	b.Store = s
	p := mustPlan(t, &Pull{
		Name: "restore",
		Archives: []*Archive{
			{Name: "state", Dir: ".state"},
			{Name: "repo", Dir: "repo"},
		},
	})
	res := Execute(context.Background(), b, p)
	assert.Equal(t, StatusSuccess, res.Status)
	for _, cmd := range w.execs {
		assert.NotContains(t, cmd, "tar -xf")
	}
	assert.True(t, w.ran("rm -f .snapshots/state.tar"))
}

func writeTree(t *testing.T, root string, files map[string]string) {
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not installed")
	}
	ctx := context.Background()

	ledger, err := OpenLedger(":memory:")
	require.NoError(t, err)
	defer ledger.Close()
	store, err := NewDirStore(t.TempDir(), CodecZstd, ledger)
	require.NoError(t, err)

	archives := []*Archive{{Name: "build-repo", Dir: "repo"}}
	files := map[string]string{
		"a.pkg":       "package a",
		"sub/b.pkg":   "package b",
		"sub/c/d.txt": "deep",
	}

	first := t.TempDir()
	writeTree(t, filepath.Join(first, "repo"), files)
	b1 := newTestBuild(t, NewLocalWorker(first))
	b1.Store = store
	res := Execute(ctx, b1, mustPlan(t, &Sync{
		Name: "save", Archives: archives, HaltOnFailure: true,
	}))
	require.Equal(t, StatusSuccess, res.Status, "%v", res.Err)

	_, err = os.Stat(filepath.Join(first, ".snapshots", "build-repo.tar"))
	assert.True(t, os.IsNotExist(err), "staged archive not removed")

	fresh := t.TempDir()
	b2 := newTestBuild(t, NewLocalWorker(fresh))
	b2.Store = store
	res = Execute(ctx, b2, mustPlan(t, &Pull{
		Name: "restore", Archives: archives, HaltOnFailure: true,
	}))
	require.Equal(t, StatusSuccess, res.Status, "%v", res.Err)

	for name, content := range files {
		bs, err := os.ReadFile(filepath.Join(fresh, "repo", name))
		require.NoError(t, err, name)
		assert.Equal(t, content, string(bs), name)
	}
}
