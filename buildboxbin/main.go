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

package buildboxbin

import (
	"shanhu.io/misc/subcmd"
)

func cmd() *subcmd.List {
	c := subcmd.New()
	c.Add("serve", "runs the build daemon", cmdServe)
	c.Add("run", "runs one build of a builder", cmdRun)
	c.Add("plan", "prints the steps of a builder", cmdPlan)
	c.Add("builds", "lists recent builds", cmdBuilds)
	return c
}

// Main is the main entrance of the buildbox command.
func Main() { cmd().Main() }
