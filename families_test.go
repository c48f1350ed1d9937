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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(builder string, opts map[string]string) *Params {
	return &Params{
		Builder:    builder,
		Repository: "https://github.com/lirios/packages.git",
		Branch:     "develop",
		Channel:    "unstable",
		Options:    opts,
	}
}

func lockKeys(p *Plan) map[string]LockMode {
	m := make(map[string]LockMode)
	for _, l := range p.Locks {
		m[l.Key] = l.Mode
	}
	return m
}

func TestPackagesPlan(t *testing.T) {
	params := testParams("archlinux", nil)
	params.Triggers = []*Trigger{
		{Name: "lirios/base", Token: "t", Tags: []string{"packages"}},
		{Name: "lirios/image", Token: "t", Tags: []string{"images"}},
	}
	p, err := PackagesPlan(params)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"init sources",
		"checkout sources",
		"restore package repository",
		"create database",
		"select packages",
		"save package repository",
		"trigger rebuild lirios/base",
	}, p.Names())
	assert.Equal(t, map[string]LockMode{
		"buildid/archlinux":   Exclusive,
		"snapshot/build-repo": Exclusive,
	}, lockKeys(p))

	_, err = PackagesPlan(testParams("x", map[string]string{"bogus": "1"}))
	assert.Error(t, err)
	_, err = PackagesPlan(testParams("x", map[string]string{"reverse": "maybe"}))
	assert.Error(t, err)
	_, err = PackagesPlan(&Params{Builder: "x"})
	assert.Error(t, err)
}

func TestImagePlan(t *testing.T) {
	params := testParams("image", map[string]string{"keep_days": "3"})
	params.Time = time.Date(2018, 5, 4, 1, 0, 0, 0, time.UTC)
	p, err := ImagePlan(params)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"install tools",
		"init sources",
		"checkout sources",
		"ksflatten",
		"build image",
		"checksum",
		"move file",
		"remove old images",
	}, p.Names())
	assert.Equal(t, map[string]LockMode{"buildid/image": Exclusive}, lockKeys(p))

	build := p.Steps[4].(*Command)
	assert.Contains(t, build.Args, "--fslabel=lirios-20180504-x86_64")
	move := p.Steps[6].(*Command)
	assert.Equal(
		t, []string{"mv", "lirios-20180504-x86_64.iso", "/repo/images/nightly/"},
		move.Args,
	)
	assert.False(t, move.HaltOnFailure)
	clean := p.Steps[7].(*Command)
	assert.True(t, clean.WarnOnFailure)
	assert.Contains(t, clean.Args, "+3")
}

func TestISOPlan(t *testing.T) {
	p, err := ISOPlan(testParams("archiso", nil))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"init sources",
		"checkout sources",
		"build image",
		"clean up",
		"remove old images",
	}, p.Names())
	assert.Equal(t, map[string]LockMode{"buildid/archiso": Exclusive}, lockKeys(p))

	build := p.Steps[2].(*Command)
	assert.Equal(t, []string{
		"sudo", "./build.sh", "-v", "-o", "/repo/images/nightly/",
	}, build.Args)
	assert.Equal(t, "livecd", build.Dir)
	assert.True(t, build.HaltOnFailure)

	clean := p.Steps[3].(*Command)
	assert.Equal(t, []string{"sudo", "rm", "-rf", "work"}, clean.Args)
	assert.False(t, clean.HaltOnFailure)
	assert.True(t, p.Steps[4].(*Command).WarnOnFailure)

	p, err = ISOPlan(testParams("archiso", map[string]string{
		"sudo": "false", "dest": "/out",
	}))
	require.NoError(t, err)
	assert.Equal(
		t, []string{"./build.sh", "-v", "-o", "/out/"},
		p.Steps[2].(*Command).Args,
	)
}

func TestISOPlanRun(t *testing.T) {
	w := newFakeWorker()
	w.fail["sudo rm -rf work"] = 1
	b := newTestBuild(t, w)
	p, err := ISOPlan(testParams("archiso", nil))
	require.NoError(t, err)

	res := Execute(context.Background(), b, p)
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "clean up", res.FailedStep)
	assert.True(t, w.ran("find /repo/images/nightly -type f -mtime +7 -delete"))
}

func TestOSTreePlan(t *testing.T) {
	p, err := OSTreePlan(testParams("ostree", map[string]string{
		"treename": "desktop",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"install tools",
		"init sources",
		"checkout sources",
		"restore OS tree repository",
		"create OS tree",
		"save OS tree repository",
	}, p.Names())
	assert.Equal(t, map[string]LockMode{
		"buildid/ostree":       Exclusive,
		"snapshot/ostree-repo": Exclusive,
	}, lockKeys(p))

	ri := p.Steps[4].(*RepoInit)
	assert.Equal(t, "build-repo", ri.Repo)
	assert.Contains(t, ri.Compose, "lirios-unstable-desktop.json")

	p, err = OSTreePlan(testParams("ostree", map[string]string{
		"treename": "desktop",
		"snapshot": "none",
	}))
	require.NoError(t, err)
	assert.NotContains(t, p.Names(), "restore OS tree repository")
	assert.Len(t, p.Locks, 1)

	_, err = OSTreePlan(testParams("ostree", nil))
	assert.Error(t, err)

	noChannel := testParams("ostree", map[string]string{"treename": "x"})
	noChannel.Channel = ""
	_, err = OSTreePlan(noChannel)
	assert.Error(t, err)
}

func TestFlatpakPlan(t *testing.T) {
	p, err := FlatpakPlan(testParams("flatpak", map[string]string{
		"metadata": "lirios.json",
		"gpg_key":  "ABCD",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"import private gpg key",
		"list gpg keys",
		"init sources",
		"checkout sources",
		"restore flatpak state",
		"build runtime",
		"export",
		"build apps",
		"synchronize to repo",
		"create runtime files",
		"create apps files",
		"save flatpak state",
	}, p.Names())
	assert.Equal(t, map[string]LockMode{
		"buildid/flatpak":        Exclusive,
		"flatpak":                Counted,
		"snapshot/flatpak-state": Exclusive,
		"snapshot/flatpak-repo":  Exclusive,
	}, lockKeys(p))

	runtime := p.Steps[5].(*Command)
	assert.Equal(t, []string{
		"sudo", "./flatpak-build", "--repo=/build/repo", "build",
		"--metadata=lirios.json", "--type=runtime", "--gpg-key=ABCD",
	}, runtime.Args)

	_, err = FlatpakPlan(testParams("flatpak", map[string]string{
		"metadata": "lirios.json",
	}))
	assert.Error(t, err)
}

func TestFindFamily(t *testing.T) {
	for _, name := range []string{
		FamilyPackages, FamilyImage, FamilyISO, FamilyOSTree, FamilyFlatpak,
		FamilyTrigger,
	} {
		f, err := FindFamily(name)
		require.NoError(t, err, name)
		assert.NotNil(t, f)
	}
	_, err := FindFamily("rpm")
	assert.Error(t, err)
}

func TestParamsProps(t *testing.T) {
	p := testParams("archlinux", nil)
	props := p.Props()
	assert.Equal(t, "archlinux", props.String(PropBuildID))
	assert.Equal(t, "develop", props.String(PropBranch))
	assert.Equal(t, "params", props.Source(PropRepository))

	p.BuildID = "archlinux-2"
	assert.Equal(t, "archlinux-2", p.Props().String(PropBuildID))
	assert.Equal(t, "buildid/archlinux-2", p.buildIDLock().Key)
}
