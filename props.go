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
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Well-known property names.
const (
	PropBuildID    = "buildid"
	PropBuilder    = "builder"
	PropRepository = "repository"
	PropBranch     = "branch"
	PropCodebase   = "codebase"
	PropChannel    = "channel"
	PropArch       = "arch"
	PropBuildDir   = "builddir"
)

type prop struct {
	value   interface{}
	source  string
	runtime bool
}

// Props is the property store of a single build. Steps read properties
// written by the steps before them. It is not safe for concurrent use;
// a build runs all its steps on one goroutine.
type Props struct {
	m map[string]*prop
}

// NewProps creates an empty property store.
func NewProps() *Props {
	return &Props{m: make(map[string]*prop)}
}

// Set sets a property. Later writes overwrite earlier ones.
func (p *Props) Set(key string, v interface{}, source string, runtime bool) {
	p.m[key] = &prop{value: v, source: source, runtime: runtime}
}

// Get returns the value of a property, or def if it is not set.
func (p *Props) Get(key string, def interface{}) interface{} {
	if v, ok := p.m[key]; ok {
		return v.value
	}
	return def
}

// Has checks if a property is set.
func (p *Props) Has(key string) bool {
	_, ok := p.m[key]
	return ok
}

// Source returns where a property was set from.
func (p *Props) Source(key string) string {
	if v, ok := p.m[key]; ok {
		return v.source
	}
	return ""
}

// String returns a property formatted as a string. Lists are joined with
// spaces.
func (p *Props) String(key string) string {
	v, ok := p.m[key]
	if !ok {
		return ""
	}
	return formatProp(v.value)
}

// Strings returns a property as a string list.
func (p *Props) Strings(key string) []string {
	v, ok := p.m[key]
	if !ok {
		return nil
	}
	switch v := v.value.(type) {
	case []string:
		return v
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case nil:
		return nil
	}
	return []string{formatProp(v.value)}
}

// Bool returns the truthiness of a property. Unset properties, empty
// strings and lists, "0" and "false" are false.
func (p *Props) Bool(key string) bool {
	v, ok := p.m[key]
	if !ok {
		return false
	}
	switch v := v.value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
		return v != ""
	case []string:
		return len(v) > 0
	case int:
		return v != 0
	}
	return true
}

// Runtime lists the properties that are visible at runtime, sorted by
// name.
func (p *Props) Runtime() []string {
	var keys []string
	for k, v := range p.m {
		if v.runtime {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

var propRefRE = regexp.MustCompile(`\$\{([^}]+)\}`)

// Render expands ${name} references in s with property values. Unset
// properties expand to empty strings. Other dollar signs, like $1 or
// $HOME in shell scripts, are kept as they are.
func (p *Props) Render(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return propRefRE.ReplaceAllStringFunc(s, func(ref string) string {
		return p.String(ref[2 : len(ref)-1])
	})
}

// RenderAll renders a list of strings.
func (p *Props) RenderAll(ss []string) []string {
	if ss == nil {
		return nil
	}
	ret := make([]string, len(ss))
	for i, s := range ss {
		ret[i] = p.Render(s)
	}
	return ret
}

func formatProp(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, " ")
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(v)
}
