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
	"os"

	"shanhu.io/buildbox"
	"shanhu.io/misc/errcode"
	"shanhu.io/virgo/dock"
)

// newMaster sets up the master of the config. The returned function
// closes the ledger.
func newMaster(c *config) (*buildbox.Master, func(), error) {
	if err := os.MkdirAll(c.WorkRoot, 0755); err != nil {
		return nil, nil, errcode.Annotate(err, "make work root")
	}
	ledger, err := buildbox.OpenLedger(c.Ledger)
	if err != nil {
		return nil, nil, errcode.Annotate(err, "open ledger")
	}
	store, err := buildbox.NewDirStore(c.StoreDir, c.Compression, ledger)
	if err != nil {
		ledger.Close()
		return nil, nil, errcode.Annotate(err, "open store")
	}

	var workers buildbox.Workers
	if c.WorkerImage != "" {
		workers = &buildbox.DockWorkers{
			Client: dock.NewUnixClient(""),
			Image:  c.WorkerImage,
			Root:   c.WorkRoot,
			Pull:   true,
		}
	} else {
		workers = &buildbox.LocalWorkers{Root: c.WorkRoot}
	}

	timeout, err := c.lockTimeout()
	if err != nil {
		ledger.Close()
		return nil, nil, err
	}
	m := buildbox.NewMaster(workers, store, ledger)
	m.Locks = buildbox.NewLockRegistry(c.LockCapacity)
	m.Locks.Timeout = timeout

	return m, func() { ledger.Close() }, nil
}
