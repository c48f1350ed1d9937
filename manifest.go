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
	"encoding/json"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
	"shanhu.io/misc/errcode"
)

// ManifestFormat is the encoding of a channel manifest.
type ManifestFormat string

// Manifest formats.
const (
	ManifestJSON ManifestFormat = "json"
	ManifestYAML ManifestFormat = "yaml"
)

// Manifest is the channel file in a build's sources. It lists the
// packages that are pending build on each channel, in build order.
type Manifest struct {
	Stable   []string `json:"stable" yaml:"stable"`
	Unstable []string `json:"unstable" yaml:"unstable"`
}

// Channel returns the package list of a channel.
func (m *Manifest) Channel(name string) ([]string, error) {
	switch name {
	case "", "unstable":
		return m.Unstable, nil
	case "stable":
		return m.Stable, nil
	}
	return nil, errcode.InvalidArgf("unknown channel %q", name)
}

func manifestFormatOf(p string) (ManifestFormat, error) {
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		return ManifestJSON, nil
	case ".yml", ".yaml":
		return ManifestYAML, nil
	}
	return "", errcode.InvalidArgf("unknown manifest format of %q", p)
}

// ParseManifest parses a manifest. An empty document is an empty
// manifest.
func ParseManifest(bs []byte, f ManifestFormat) (*Manifest, error) {
	m := new(Manifest)
	if len(strings.TrimSpace(string(bs))) == 0 {
		return m, nil
	}
	switch f {
	case ManifestJSON:
		if err := json.Unmarshal(bs, m); err != nil {
			return nil, errcode.Annotate(err, "parse json manifest")
		}
	case ManifestYAML:
		if err := yaml.Unmarshal(bs, m); err != nil {
			return nil, errcode.Annotate(err, "parse yaml manifest")
		}
	default:
		return nil, errcode.InvalidArgf("unknown manifest format %q", f)
	}
	return m, nil
}
