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
	"path"
	"strconv"
)

// ImagePlan builds a live ISO image of the product and publishes it with
// its checksum, dropping images older than a few days.
//
// Options:
//
//	product     product name, default "lirios"
//	title       image title, default "Liri OS"
//	releasever  distribution release, default "28"
//	kickstart   kickstart file, default "<product>-livecd.ks"
//	dest        publish dir on the worker, default "/repo/images/nightly"
//	keep_days   age of images to remove, default 7
//	cache       package cache dir, default "/build/cache"
func ImagePlan(p *Params) (*Plan, error) {
	o, err := newOptions(
		p, "product", "title", "releasever", "kickstart", "dest",
		"keep_days", "cache",
	)
	if err != nil {
		return nil, err
	}
	if err := p.requireRepo(); err != nil {
		return nil, err
	}
	product := o.str("product", "lirios")
	title := o.str("title", "Liri OS")
	releasever := o.str("releasever", "28")
	kickstart := o.str("kickstart", product+"-livecd.ks")
	dest := o.str("dest", "/repo/images/nightly")
	cache := o.str("cache", "/build/cache")
	keepDays, err := o.int("keep_days", 7)
	if err != nil {
		return nil, err
	}

	arch := p.Arch
	if arch == "" {
		arch = "x86_64"
	}
	today := p.now().Format("20060102")
	imgName := fmt.Sprintf("%s-%s-%s", product, today, arch)
	isoFile := imgName + ".iso"
	checksumFile := imgName + "-CHECKSUM"

	var steps []Step
	steps = append(steps, &Command{
		Name: "install tools",
		Args: []string{
			"dnf", "install", "-y", "git", "spin-kickstarts",
			"pykickstart", "livecd-tools",
		},
		HaltOnFailure: true,
	})
	steps = append(steps, checkoutSteps()...)
	steps = append(steps,
		&Command{
			Name: "ksflatten",
			Args: []string{
				"ksflatten", "--config=" + kickstart, "-o", "livecd.ks",
			},
			HaltOnFailure: true,
		},
		&Command{
			Name: "build image",
			Args: []string{
				"livecd-creator", "--releasever=" + releasever,
				"--config=livecd.ks", "--fslabel=" + imgName,
				"--title", title, "--product=" + product,
				"--cache=" + cache,
			},
			HaltOnFailure: true,
		},
		&Command{
			Name: "checksum",
			Args: []string{
				"bash", "-c", fmt.Sprintf(
					"sha256sum -b --tag %s > %s",
					isoFile, path.Join(dest, checksumFile),
				),
			},
			HaltOnFailure: true,
		},
		&Command{
			Name: "move file",
			Args: []string{"mv", isoFile, dest + "/"},
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
