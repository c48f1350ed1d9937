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
	"fmt"

	"shanhu.io/misc/errcode"
)

// OSTreePlan composes an rpm-ostree OS tree into an OSTree repository.
// The repository is created on the first build only, and carried
// between builds as a snapshot.
//
// Options:
//
//	treename  tree name, required; the tree file is lirios-<channel>-<treename>.json
//	repo      repository dir on the worker, default "build-repo"
//	cache     rpm-ostree cache dir, default "/build/cache"
//	snapshot  snapshot name of the repository, default "ostree-repo";
//	          "none" keeps the repository on the worker only
func OSTreePlan(p *Params) (*Plan, error) {
	o, err := newOptions(p, "treename", "repo", "cache", "snapshot")
	if err != nil {
		return nil, err
	}
	if err := p.requireRepo(); err != nil {
		return nil, err
	}
	treename, err := o.required("treename")
	if err != nil {
		return nil, err
	}
	if p.Channel == "" {
		return nil, errcode.InvalidArgf("channel missing")
	}
	repo := o.str("repo", "build-repo")
	cache := o.str("cache", "/build/cache")
	snapshot := o.str("snapshot", "ostree-repo")
	treefile := fmt.Sprintf("lirios-%s-%s.json", p.Channel, treename)

	locks := []*LockSpec{p.buildIDLock()}
	var archives []*Archive
	if snapshot != "none" {
		archives = []*Archive{{Name: snapshot, Dir: repo}}
		locks = append(locks, SnapshotLock(snapshot))
	}

	var steps []Step
	steps = append(steps, &Command{
		Name:          "install tools",
		Args:          []string{"dnf", "install", "-y", "git", "rpm-ostree"},
		HaltOnFailure: true,
	})
	steps = append(steps, checkoutSteps()...)
	if archives != nil {
		steps = append(steps, &Pull{
			Name:          "restore OS tree repository",
			Archives:      archives,
			HaltOnFailure: true,
		})
	}
	steps = append(steps, &RepoInit{
		Name: "create OS tree",
		Repo: repo,
		Init: []string{
			"ostree", "init", "--repo=" + repo, "--mode=bare-user",
		},
		Compose: []string{
			"rpm-ostree", "tree", "--repo=" + repo,
			"--cachedir=" + cache, treefile,
		},
		HaltOnFailure: true,
	})
	if archives != nil {
		steps = append(steps, &Sync{
			Name:          "save OS tree repository",
			Archives:      archives,
			HaltOnFailure: true,
		})
	}
	return NewPlan(steps, locks...)
}
