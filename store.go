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
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"shanhu.io/misc/errcode"
	"shanhu.io/misc/osutil"
)

// Store is the durable store of snapshot archives, keyed by logical
// name. Put overwrites; there is no versioning.
type Store interface {
	Has(name string) (bool, error)
	Get(name string, w io.Writer) error
	Put(name string, r io.Reader) error
}

var snapshotNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func checkSnapshotName(name string) error {
	if !snapshotNameRE.MatchString(name) {
		return errcode.InvalidArgf("invalid snapshot name %q", name)
	}
	return nil
}

// DirStore keeps snapshot archives as compressed files in a directory.
// When it has a ledger, it records the digest of every archive it saves
// and checks it when the archive is read back.
type DirStore struct {
	dir    string
	codec  *codec
	ledger *Ledger
}

// NewDirStore creates a store in dir. codec is one of "zstd" (the
// default when empty), "lz4" and "none". ledger may be nil.
func NewDirStore(dir, codec string, ledger *Ledger) (*DirStore, error) {
	c, err := findCodec(codec)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errcode.Annotate(err, "make store dir")
	}
	return &DirStore{dir: dir, codec: c, ledger: ledger}, nil
}

// find returns the file of an archive and its codec. Archives written
// with another codec before a codec change are still found.
func (s *DirStore) find(name string) (string, *codec, error) {
	if err := checkSnapshotName(name); err != nil {
		return "", nil, err
	}
	cs := []*codec{s.codec}
	for _, c := range codecs {
		if c != s.codec {
			cs = append(cs, c)
		}
	}
	for _, c := range cs {
		f := filepath.Join(s.dir, name+c.ext)
		ok, err := osutil.IsRegular(f)
		if err != nil {
			return "", nil, errcode.Annotatef(err, "check %q", f)
		}
		if ok {
			return f, c, nil
		}
	}
	return "", nil, errcode.NotFoundf("snapshot %q not found", name)
}

// Has checks if an archive exists.
func (s *DirStore) Has(name string) (bool, error) {
	if _, _, err := s.find(name); err != nil {
		if errcode.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get writes the uncompressed archive into w.
func (s *DirStore) Get(name string, w io.Writer) error {
	f, c, err := s.find(name)
	if err != nil {
		return err
	}
	file, err := os.Open(f)
	if err != nil {
		return errcode.Annotate(err, "open archive")
	}
	defer file.Close()

	r, err := c.reader(file)
	if err != nil {
		return errcode.Annotate(err, "open decoder")
	}
	defer r.Close()

	d := newDigester()
	if _, err := io.Copy(io.MultiWriter(w, d), r); err != nil {
		return errcode.Annotate(err, "read archive")
	}
	snapshotBytes.WithLabelValues("pull").Add(float64(d.size))

	if s.ledger == nil {
		return nil
	}
	rec, err := s.ledger.Snapshot(name)
	if err != nil {
		if errcode.IsNotFound(err) {
			return nil
		}
		return errcode.Annotate(err, "read snapshot record")
	}
	if got := d.digest(); got != rec.Digest {
		return errcode.Internalf(
			"snapshot %q corrupted: want %s, got %s",
			name, rec.Digest, got,
		)
	}
	return nil
}

// Put saves an archive read from r, replacing the previous one.
func (s *DirStore) Put(name string, r io.Reader) error {
	if err := checkSnapshotName(name); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, name+".tmp-")
	if err != nil {
		return errcode.Annotate(err, "create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	defer tmp.Close()

	w, err := s.codec.writer(tmp)
	if err != nil {
		return errcode.Annotate(err, "open encoder")
	}
	d := newDigester()
	if _, err := io.Copy(io.MultiWriter(w, d), r); err != nil {
		return errcode.Annotate(err, "write archive")
	}
	if err := w.Close(); err != nil {
		return errcode.Annotate(err, "flush encoder")
	}
	if err := tmp.Sync(); err != nil {
		return errcode.Annotate(err, "filesystem sync")
	}
	if err := tmp.Close(); err != nil {
		return errcode.Annotate(err, "close temp file")
	}

	// The digest is recorded before the archive is replaced, so a
	// failed record leaves the old archive and its digest in place.
	var prev *SnapshotRecord
	if s.ledger != nil {
		prev, err = s.ledger.Snapshot(name)
		if err != nil {
			if !errcode.IsNotFound(err) {
				return errcode.Annotate(err, "read snapshot record")
			}
			prev = nil
		}
		rec := &SnapshotRecord{
			Name:    name,
			Digest:  d.digest(),
			Size:    d.size,
			Codec:   s.codec.name,
			Updated: time.Now(),
		}
		if err := s.ledger.RecordSnapshot(rec); err != nil {
			return errcode.Annotate(err, "record snapshot")
		}
	}

	f := filepath.Join(s.dir, name+s.codec.ext)
	if err := os.Rename(tmpName, f); err != nil {
		if s.ledger != nil {
			s.restoreRecord(name, prev)
		}
		return errcode.Annotate(err, "replace archive")
	}
	for _, c := range codecs {
		if c == s.codec {
			continue
		}
		old := filepath.Join(s.dir, name+c.ext)
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			log.Printf("remove stale archive %q: %s", old, err)
		}
	}
	snapshotBytes.WithLabelValues("sync").Add(float64(d.size))
	return nil
}

// restoreRecord puts back the record of an archive that was not
// replaced.
func (s *DirStore) restoreRecord(name string, prev *SnapshotRecord) {
	var err error
	if prev == nil {
		err = s.ledger.DeleteSnapshot(name)
	} else {
		err = s.ledger.RecordSnapshot(prev)
	}
	if err != nil {
		log.Printf("restore record of snapshot %q: %s", name, err)
	}
}
