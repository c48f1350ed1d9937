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
	"path"
	"strings"

	"shanhu.io/misc/errcode"
)

// packageSteps returns the emitter that turns the channel's packages into
// one build command each. With reverse, the last declared package is
// built first.
func packageSteps(channel string, reverse bool, cmd []string) ExpandFunc {
	return func(m *Manifest, props *Props) ([]Step, error) {
		pkgs, err := m.Channel(channel)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(pkgs))
		copy(names, pkgs)
		if reverse {
			for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
				names[i], names[j] = names[j], names[i]
			}
		}

		var steps []Step
		for _, name := range names {
			if name == "" || path.IsAbs(name) || strings.Contains(name, "..") {
				return nil, errcode.InvalidArgf("bad package name %q", name)
			}
			steps = append(steps, &Command{
				Name:          "build " + name,
				Args:          cmd,
				Dir:           name,
				HaltOnFailure: true,
			})
		}
		return steps, nil
	}
}

// PackagesPlan builds the packages listed in the channel manifest of the
// sources, into the package repository that is kept as the "build-repo"
// snapshot.
//
// Options:
//
//	manifest  channel manifest, default "channels.json"
//	reverse   build the last declared package first, default true
//	build     build command run in each package dir, default "../docker-build"
//	repo      package repository dir on the worker, default "/repo"
//	database  repository database, default "<repo>/liri-unstable.db.tar.gz"
//	snapshot  snapshot name of the repository, default "build-repo"
func PackagesPlan(p *Params) (*Plan, error) {
	o, err := newOptions(
		p, "manifest", "reverse", "build", "repo", "database", "snapshot",
	)
	if err != nil {
		return nil, err
	}
	if err := p.requireRepo(); err != nil {
		return nil, err
	}
	manifest := o.str("manifest", "channels.json")
	reverse, err := o.bool("reverse", true)
	if err != nil {
		return nil, err
	}
	build := strings.Fields(o.str("build", "../docker-build"))
	repo := o.str("repo", "/repo")
	db := o.str("database", path.Join(repo, "liri-unstable.db.tar.gz"))
	snapshot := o.str("snapshot", "build-repo")

	archives := []*Archive{{Name: snapshot, Dir: repo}}

	var steps []Step
	steps = append(steps, checkoutSteps()...)
	steps = append(steps,
		&Pull{
			Name:          "restore package repository",
			Archives:      archives,
			HaltOnFailure: true,
		},
		&Command{
			Name: "create database",
			Args: []string{"repo-add", db},
		},
		&Expand{
			Name:          "select packages",
			Manifest:      manifest,
			Insert:        InsertAfter,
			Emit:          packageSteps(p.Channel, reverse, build),
			HaltOnFailure: true,
		},
		&Sync{
			Name:          "save package repository",
			Archives:      archives,
			HaltOnFailure: true,
		},
	)

	triggers, err := triggerSteps(p.Triggers, []string{"packages"})
	if err != nil {
		return nil, err
	}
	steps = append(steps, triggers...)

	return NewPlan(steps, p.buildIDLock(), SnapshotLock(snapshot))
}
