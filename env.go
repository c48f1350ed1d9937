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
	"os"
	"path"
	"path/filepath"
)

// env is the master side scratch space of a build. Snapshot archives are
// staged here on their way between the store and the worker.
type env struct {
	scratchDir string
}

func (e *env) scratch(ps ...string) string {
	if len(ps) == 0 {
		return e.scratchDir
	}
	p := path.Join(ps...)
	return filepath.Join(e.scratchDir, filepath.FromSlash(p))
}

func (e *env) prepareScratch(ps ...string) (string, error) {
	p := e.scratch(ps...)
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return p, nil
}
