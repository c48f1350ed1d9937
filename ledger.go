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
	"database/sql"
	"time"

	"shanhu.io/misc/errcode"

	_ "modernc.org/sqlite" // sqlite driver
)

// Ledger records finished builds and the digests of saved snapshots in a
// sqlite database.
type Ledger struct {
	db *sql.DB
}

var ledgerSchema = []string{`
create table if not exists builds (
	id integer primary key autoincrement,
	build_id text not null,
	builder text not null,
	status text not null,
	failed_step text not null,
	steps integer not null,
	started integer not null,
	finished integer not null
)`, `
create table if not exists snapshots (
	name text primary key,
	digest text not null,
	size integer not null,
	codec text not null,
	updated integer not null
)`,
}

// OpenLedger opens or creates the ledger database file. Use ":memory:"
// for a ledger that is not saved.
func OpenLedger(file string) (*Ledger, error) {
	db, err := sql.Open("sqlite", file)
	if err != nil {
		return nil, errcode.Annotate(err, "open database")
	}
	db.SetMaxOpenConns(1)
	for _, q := range ledgerSchema {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, errcode.Annotate(err, "create tables")
		}
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// BuildRecord is a finished build.
type BuildRecord struct {
	BuildID    string
	Builder    string
	Status     Status
	FailedStep string `json:",omitempty"`
	Steps      int
	Started    time.Time
	Finished   time.Time
}

// RecordBuild adds a finished build.
func (l *Ledger) RecordBuild(r *BuildRecord) error {
	_, err := l.db.Exec(
		`insert into builds
		(build_id, builder, status, failed_step, steps, started, finished)
		values (?, ?, ?, ?, ?, ?, ?)`,
		r.BuildID, r.Builder, string(r.Status), r.FailedStep, r.Steps,
		r.Started.UnixNano(), r.Finished.UnixNano(),
	)
	return err
}

// RecentBuilds returns up to n builds, latest first.
func (l *Ledger) RecentBuilds(n int) ([]*BuildRecord, error) {
	rows, err := l.db.Query(
		`select build_id, builder, status, failed_step, steps,
		started, finished from builds order by id desc limit ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ret []*BuildRecord
	for rows.Next() {
		r := new(BuildRecord)
		var status string
		var started, finished int64
		if err := rows.Scan(
			&r.BuildID, &r.Builder, &status, &r.FailedStep, &r.Steps,
			&started, &finished,
		); err != nil {
			return nil, err
		}
		r.Status = Status(status)
		r.Started = time.Unix(0, started)
		r.Finished = time.Unix(0, finished)
		ret = append(ret, r)
	}
	return ret, rows.Err()
}

// SnapshotRecord is the latest saved version of a snapshot archive.
type SnapshotRecord struct {
	Name    string
	Digest  string
	Size    int64
	Codec   string
	Updated time.Time
}

// RecordSnapshot replaces the record of a snapshot.
func (l *Ledger) RecordSnapshot(r *SnapshotRecord) error {
	_, err := l.db.Exec(
		`insert or replace into snapshots
		(name, digest, size, codec, updated) values (?, ?, ?, ?, ?)`,
		r.Name, r.Digest, r.Size, r.Codec, r.Updated.UnixNano(),
	)
	return err
}

// Snapshot returns the record of a snapshot.
func (l *Ledger) Snapshot(name string) (*SnapshotRecord, error) {
	row := l.db.QueryRow(
		`select name, digest, size, codec, updated
		from snapshots where name = ?`, name,
	)
	r := new(SnapshotRecord)
	var updated int64
	if err := row.Scan(
		&r.Name, &r.Digest, &r.Size, &r.Codec, &updated,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, errcode.NotFoundf("snapshot %q not recorded", name)
		}
		return nil, err
	}
	r.Updated = time.Unix(0, updated)
	return r, nil
}

// DeleteSnapshot removes the record of a snapshot.
func (l *Ledger) DeleteSnapshot(name string) error {
	_, err := l.db.Exec(`delete from snapshots where name = ?`, name)
	return err
}
