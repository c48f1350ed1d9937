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
	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildbox_builds_total",
			Help: "The total number of finished builds",
		},
		[]string{"builder", "status"},
	)

	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildbox_steps_total",
			Help: "The total number of executed steps by result",
		},
		[]string{"status"},
	)

	lockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "buildbox_lock_wait_seconds",
			Help:    "Time spent waiting for resource locks",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"mode"},
	)

	snapshotBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildbox_snapshot_bytes_total",
			Help: "Bytes of snapshot archives moved to or from the store",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(buildsTotal)
	prometheus.MustRegister(stepsTotal)
	prometheus.MustRegister(lockWaitSeconds)
	prometheus.MustRegister(snapshotBytes)
}
