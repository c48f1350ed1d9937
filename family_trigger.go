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
	"shanhu.io/misc/strutil"
)

// Trigger is a downstream image build service to notify after a build.
type Trigger struct {
	Name  string   `json:"name,omitempty" yaml:"name,omitempty"`
	UUID  string   `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	Token string   `json:"token" yaml:"token"`
	Tags  []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

func (t *Trigger) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.UUID
}

// URL returns the URL to post to. Triggers with a UUID use the cloud
// build API; the others use the registry's trigger API.
func (t *Trigger) URL() string {
	if t.UUID != "" {
		return fmt.Sprintf(
			"https://cloud.docker.com/api/build/v1/source/%s/trigger/%s/call/",
			t.UUID, t.Token,
		)
	}
	return fmt.Sprintf(
		"https://registry.hub.docker.com/u/%s/trigger/%s/",
		t.Name, t.Token,
	)
}

// Check checks that the trigger has a name or a UUID, and a token.
func (t *Trigger) Check() error {
	if t.Name == "" && t.UUID == "" {
		return errcode.InvalidArgf("trigger has no name or uuid")
	}
	if t.Token == "" {
		return errcode.InvalidArgf("trigger %q has no token", t.label())
	}
	return nil
}

// matches tells if the trigger has any of the tags.
func (t *Trigger) matches(tags []string) bool {
	set := strutil.MakeSet(t.Tags)
	for _, tag := range tags {
		if set[tag] {
			return true
		}
	}
	return false
}

func triggerSteps(triggers []*Trigger, tags []string) ([]Step, error) {
	var steps []Step
	for _, t := range triggers {
		if !t.matches(tags) {
			continue
		}
		if err := t.Check(); err != nil {
			return nil, err
		}
		steps = append(steps, &Notify{
			Name: "trigger rebuild " + t.label(),
			URL:  t.URL(),
		})
	}
	return steps, nil
}

// TriggerPlan notifies every trigger that has any of the build's tags.
// When none matches, the plan is empty.
func TriggerPlan(p *Params) (*Plan, error) {
	if _, err := newOptions(p); err != nil {
		return nil, err
	}
	steps, err := triggerSteps(p.Triggers, p.Tags)
	if err != nil {
		return nil, err
	}
	return NewPlan(steps)
}
