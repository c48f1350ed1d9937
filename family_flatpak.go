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

// FlatpakPlan builds the flatpak runtime and apps of the sources, signs
// them and publishes them with the bundle files. The flatpak-builder state
// and the repository are both kept as snapshots.
//
// Options:
//
//	metadata   metadata file, required
//	gpg_key    signing key id, required
//	key_file   private key to import, default "/build/key.gpg"
//	repo       build repository dir on the worker, default "/build/repo"
//	dest       publish repository dir, default "/flatpak/repo"
//	files      publish dir of bundle files, default "/flatpak/files"
//	state_dir  flatpak-builder state dir, default ".flatpak-builder"
//	sudo       run the tools with sudo, default true
func FlatpakPlan(p *Params) (*Plan, error) {
	o, err := newOptions(
		p, "metadata", "gpg_key", "key_file", "repo", "dest", "files",
		"state_dir", "sudo",
	)
	if err != nil {
		return nil, err
	}
	if err := p.requireRepo(); err != nil {
		return nil, err
	}
	metadata, err := o.required("metadata")
	if err != nil {
		return nil, err
	}
	gpgKey, err := o.required("gpg_key")
	if err != nil {
		return nil, err
	}
	keyFile := o.str("key_file", "/build/key.gpg")
	repo := o.str("repo", "/build/repo")
	dest := o.str("dest", "/flatpak/repo")
	files := o.str("files", "/flatpak/files")
	stateDir := o.str("state_dir", ".flatpak-builder")
	sudo, err := o.bool("sudo", true)
	if err != nil {
		return nil, err
	}

	cmd := func(name string, args ...string) Step {
		if sudo {
			args = append([]string{"sudo"}, args...)
		}
		return &Command{Name: name, Args: args, HaltOnFailure: true}
	}
	tool := func(name string, args ...string) Step {
		return cmd(name, append([]string{"./flatpak-build"}, args...)...)
	}

	const (
		stateSnapshot = "flatpak-state"
		repoSnapshot  = "flatpak-repo"
	)
	archives := []*Archive{
		{Name: stateSnapshot, Dir: stateDir},
		{Name: repoSnapshot, Dir: repo},
	}

	var steps []Step
	steps = append(steps,
		cmd("import private gpg key", "gpg", "--import", keyFile),
		cmd("list gpg keys", "gpg", "--list-keys"),
	)
	steps = append(steps, checkoutSteps()...)
	steps = append(steps,
		&Pull{
			Name:          "restore flatpak state",
			Archives:      archives,
			HaltOnFailure: true,
		},
		tool(
			"build runtime", "--repo="+repo, "build",
			"--metadata="+metadata, "--type=runtime", "--gpg-key="+gpgKey,
		),
		tool("export", "export", "--gpg-key="+gpgKey),
		tool(
			"build apps", "--repo="+repo, "build",
			"--metadata="+metadata, "--type=app", "--gpg-key="+gpgKey,
		),
		tool("synchronize to repo", "sync", "--dest="+dest),
		tool(
			"create runtime files", "files", "--metadata="+metadata,
			"--type=runtime", "--gpg-key="+gpgKey, "--dest="+files,
		),
		tool(
			"create apps files", "files", "--metadata="+metadata,
			"--type=app", "--gpg-key="+gpgKey, "--dest="+files,
		),
		&Sync{
			Name:          "save flatpak state",
			Archives:      archives,
			HaltOnFailure: true,
		},
	)

	return NewPlan(
		steps,
		p.buildIDLock(),
		&LockSpec{Key: "flatpak", Mode: Counted},
		SnapshotLock(stateSnapshot),
		SnapshotLock(repoSnapshot),
	)
}
