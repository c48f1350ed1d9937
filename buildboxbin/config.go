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
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
	"shanhu.io/buildbox"
	"shanhu.io/misc/errcode"
	"shanhu.io/misc/jsonx"
)

// builderConfig is a named builder: a family with its parameters.
type builderConfig struct {
	Name       string            `json:"name" yaml:"name"`
	Family     string            `json:"family" yaml:"family"`
	Repository string            `json:"repository" yaml:"repository"`
	Branch     string            `json:"branch" yaml:"branch"`
	Codebase   string            `json:"codebase,omitempty" yaml:"codebase"`
	Channel    string            `json:"channel,omitempty" yaml:"channel"`
	Arch       string            `json:"arch,omitempty" yaml:"arch"`
	Tags       []string          `json:"tags,omitempty" yaml:"tags"`
	Options    map[string]string `json:"options,omitempty" yaml:"options"`

	// Schedule is a cron spec of periodic builds.
	Schedule string `json:"schedule,omitempty" yaml:"schedule"`
}

type config struct {
	Port          int                 `json:"port" yaml:"port"`
	URI           string              `json:"uri" yaml:"uri"`
	Workers       int                 `json:"workers" yaml:"workers"`
	AdminPassword string              `json:"admin-password" yaml:"admin-password"`
	Triggers      []*buildbox.Trigger `json:"triggers" yaml:"triggers"`

	WorkRoot    string `json:"work-root" yaml:"work-root"`
	StoreDir    string `json:"store-dir" yaml:"store-dir"`
	Compression string `json:"compression" yaml:"compression"`
	Ledger      string `json:"ledger" yaml:"ledger"`

	// WorkerImage is the docker image of the workers. When empty, builds
	// run in local directories under WorkRoot.
	WorkerImage string `json:"worker-image" yaml:"worker-image"`

	// LockTimeout is a duration like "30m". Empty waits forever.
	LockTimeout  string         `json:"lock-timeout" yaml:"lock-timeout"`
	LockCapacity map[string]int `json:"lock-capacity" yaml:"lock-capacity"`

	Builders []*builderConfig `json:"builders" yaml:"builders"`
}

func (c *config) fillDefaults() {
	if c.Port == 0 {
		c.Port = 8010
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.WorkRoot == "" {
		c.WorkRoot = "var/work"
	}
	if c.StoreDir == "" {
		c.StoreDir = "var/store"
	}
	if c.Ledger == "" {
		c.Ledger = "var/ledger.db"
	}
}

func (c *config) lockTimeout() (time.Duration, error) {
	if c.LockTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.LockTimeout)
	if err != nil {
		return 0, errcode.InvalidArgf("bad lock timeout %q", c.LockTimeout)
	}
	return d, nil
}

func (c *config) check() error {
	for i, t := range c.Triggers {
		if err := t.Check(); err != nil {
			return errcode.Annotatef(err, "trigger %d", i)
		}
	}
	seen := make(map[string]bool)
	for _, b := range c.Builders {
		if b.Name == "" {
			return errcode.InvalidArgf("builder has no name")
		}
		if seen[b.Name] {
			return errcode.InvalidArgf("builder %q duplicated", b.Name)
		}
		seen[b.Name] = true
		if _, err := buildbox.FindFamily(b.Family); err != nil {
			return errcode.Annotatef(err, "builder %q", b.Name)
		}
	}
	if _, err := c.lockTimeout(); err != nil {
		return err
	}
	return nil
}

func (c *config) builder(name string) (*builderConfig, error) {
	for _, b := range c.Builders {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, errcode.NotFoundf("builder %q not found", name)
}

// params makes the parameters of a build of the builder.
func (c *config) params(b *builderConfig) *buildbox.Params {
	return &buildbox.Params{
		Builder:    b.Name,
		Repository: b.Repository,
		Branch:     b.Branch,
		Codebase:   b.Codebase,
		Channel:    b.Channel,
		Arch:       b.Arch,
		Tags:       b.Tags,
		Triggers:   c.Triggers,
		Options:    b.Options,
	}
}

func readConfig(file string) (*config, error) {
	c := new(config)
	switch filepath.Ext(file) {
	case ".yaml", ".yml":
		bs, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(bs, c); err != nil {
			return nil, errcode.Annotate(err, "parse yaml")
		}
	case ".jsonx":
		if err := jsonx.ReadFile(file, c); err != nil {
			return nil, err
		}
	case ".json":
		bs, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(bs, c); err != nil {
			return nil, errcode.Annotate(err, "parse json")
		}
	default:
		return nil, errcode.InvalidArgf("unknown config format %q", file)
	}
	c.fillDefaults()
	if err := c.check(); err != nil {
		return nil, err
	}
	return c, nil
}
