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
	"sort"
	"strconv"
	"time"

	"shanhu.io/misc/errcode"
)

// Params are the parameters of a build request.
type Params struct {
	BuildID    string
	Builder    string
	Repository string
	Branch     string
	Codebase   string
	Channel    string
	Arch       string
	Tags       []string
	Triggers   []*Trigger

	// Options are family specific options. Families reject options that
	// they do not know.
	Options map[string]string

	// Time is the build's timestamp. Zero means now.
	Time time.Time
}

func (p *Params) buildID() string {
	if p.BuildID != "" {
		return p.BuildID
	}
	return p.Builder
}

func (p *Params) now() time.Time {
	if p.Time.IsZero() {
		return time.Now()
	}
	return p.Time
}

// Props makes the initial properties of a build.
func (p *Params) Props() *Props {
	const src = "params"
	props := NewProps()
	props.Set(PropBuildID, p.buildID(), src, true)
	props.Set(PropBuilder, p.Builder, src, true)
	props.Set(PropRepository, p.Repository, src, true)
	props.Set(PropBranch, p.Branch, src, true)
	props.Set(PropCodebase, p.Codebase, src, true)
	props.Set(PropChannel, p.Channel, src, true)
	props.Set(PropArch, p.Arch, src, true)
	if len(p.Tags) > 0 {
		props.Set("tags", p.Tags, src, false)
	}
	return props
}

// buildIDLock keeps builds with the same build ID out of each other's
// work directory.
func (p *Params) buildIDLock() *LockSpec {
	return &LockSpec{Key: "buildid/" + p.buildID(), Mode: Exclusive}
}

func (p *Params) requireRepo() error {
	if p.Repository == "" {
		return errcode.InvalidArgf("repository missing")
	}
	if p.Branch == "" {
		return errcode.InvalidArgf("branch missing")
	}
	return nil
}

// options reads the option bag of a family.
type options struct {
	m map[string]string
}

func newOptions(p *Params, known ...string) (*options, error) {
	set := make(map[string]bool)
	for _, k := range known {
		set[k] = true
	}
	var unknown []string
	for k := range p.Options {
		if !set[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, errcode.InvalidArgf("unknown options: %q", unknown)
	}
	return &options{m: p.Options}, nil
}

func (o *options) str(k, def string) string {
	if v, ok := o.m[k]; ok && v != "" {
		return v
	}
	return def
}

func (o *options) required(k string) (string, error) {
	v := o.m[k]
	if v == "" {
		return "", errcode.InvalidArgf("option %q missing", k)
	}
	return v, nil
}

func (o *options) bool(k string, def bool) (bool, error) {
	v, ok := o.m[k]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errcode.InvalidArgf("option %q: %q is not a bool", k, v)
	}
	return b, nil
}

func (o *options) int(k string, def int) (int, error) {
	v, ok := o.m[k]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errcode.InvalidArgf("option %q: %q is not a count", k, v)
	}
	return n, nil
}

// Factory makes the plan of a build family.
type Factory func(p *Params) (*Plan, error)

// Family names.
const (
	FamilyPackages = "packages"
	FamilyImage    = "image"
	FamilyISO      = "iso"
	FamilyOSTree   = "ostree"
	FamilyFlatpak  = "flatpak"
	FamilyTrigger  = "trigger"
)

// Families maps family names to their factories.
var Families = map[string]Factory{
	FamilyPackages: PackagesPlan,
	FamilyImage:    ImagePlan,
	FamilyISO:      ISOPlan,
	FamilyOSTree:   OSTreePlan,
	FamilyFlatpak:  FlatpakPlan,
	FamilyTrigger:  TriggerPlan,
}

// FindFamily returns the factory of a family.
func FindFamily(name string) (Factory, error) {
	f, ok := Families[name]
	if !ok {
		return nil, errcode.NotFoundf("unknown build family %q", name)
	}
	return f, nil
}
