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

// checkoutSteps checks out the build's branch into the work directory.
// The work directory is kept between builds, so the checkout is
// incremental: the repository is only initialized when it is not there,
// and then the branch head is fetched shallowly and forced onto the work
// tree.
func checkoutSteps() []Step {
	return []Step{
		&Conditional{
			When: &Not{P: &FileExists{Path: ".git"}},
			Step: &Sequence{
				Name: "init sources",
				Commands: []*SeqCommand{
					{Args: []string{"git", "init", "-q"}},
					{Args: []string{
						"git", "remote", "add", "origin", "${repository}",
					}},
				},
				HaltOnFailure: true,
			},
		},
		&Sequence{
			Name: "checkout sources",
			Commands: []*SeqCommand{
				{Args: []string{
					"git", "remote", "set-url", "origin", "${repository}",
				}},
				{Args: []string{
					"git", "fetch", "-q", "--depth", "1",
					"origin", "${branch}",
				}},
				{Args: []string{
					"git", "checkout", "-q", "-f", "-B", "${branch}",
					"FETCH_HEAD",
				}},
				{Args: []string{
					"git", "submodule", "update", "-q",
					"--init", "--recursive", "--depth", "1",
				}},
			},
			HaltOnFailure: true,
		},
	}
}
