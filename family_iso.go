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
	"strconv"
)

// ISOPlan builds the ArchLinux live ISO with the build script in the
// sources, and drops images older than a few days.
//
// Options:
//
//	dir        dir of the build script, default "livecd"
//	dest       output dir of the images, default "/repo/images/nightly"
//	keep_days  age of images to remove, default 7
//	sudo       run the build script with sudo, default true
func ISOPlan(p *Params) (*Plan, error) {
	o, err := newOptions(p, "dir", "dest", "keep_days", "sudo")
	if err != nil {
		return nil, err
	}
	if err := p.requireRepo(); err != nil {
		return nil, err
	}
	dir := o.str("dir", "livecd")
	dest := o.str("dest", "/repo/images/nightly")
	keepDays, err := o.int("keep_days", 7)
	if err != nil {
		return nil, err
	}
	sudo, err := o.bool("sudo", true)
	if err != nil {
		return nil, err
	}
	withSudo := func(args ...string) []string {
		if sudo {
			return append([]string{"sudo"}, args...)
		}
		return args
	}

	var steps []Step
	steps = append(steps, checkoutSteps()...)
	steps = append(steps,
		&Command{
			Name:          "build image",
			Args:          withSudo("./build.sh", "-v", "-o", dest+"/"),
			Dir:           dir,
			HaltOnFailure: true,
		},
		&Command{
			Name: "clean up",
			Args: withSudo("rm", "-rf", "work"),
			Dir:  dir,
		},
		&Command{
			Name: "remove old images",
			Args: []string{
				"find", dest, "-type", "f",
				"-mtime", "+" + strconv.Itoa(keepDays),
				"-delete",
			},
			WarnOnFailure: true,
		},
	)
	return NewPlan(steps, p.buildIDLock())
}
