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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"shanhu.io/misc/errcode"
)

// Notify posts a JSON document to a URL. It is fired once, without
// retry.
type Notify struct {
	Name string
	URL  string

	// Body is marshalled into JSON. Nil posts {"build": true}.
	Body interface{}

	Header        map[string]string
	HaltOnFailure bool
	WarnOnFailure bool
}

// StepName implements Step.
func (n *Notify) StepName() string { return n.Name }

func (n *Notify) halts() bool { return n.HaltOnFailure }
func (n *Notify) warns() bool { return n.WarnOnFailure }

func (n *Notify) validate() error {
	if err := validateName(n.Name); err != nil {
		return err
	}
	u, err := url.Parse(n.URL)
	if err != nil {
		return errcode.Annotatef(err, "notify %q: invalid url", n.Name)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errcode.InvalidArgf(
			"notify %q: unsupported scheme %q", n.Name, u.Scheme,
		)
	}
	return nil
}

func (n *Notify) body() interface{} {
	if n.Body == nil {
		return map[string]bool{"build": true}
	}
	return n.Body
}

func (n *Notify) run(ctx context.Context, b *Build) error {
	bs, err := json.Marshal(n.body())
	if err != nil {
		return errcode.Annotate(err, "marshal body")
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, n.URL, bytes.NewReader(bs),
	)
	if err != nil {
		return errcode.Annotate(err, "make request")
	}
	req.Header.Set("Content-type", "application/json")
	for k, v := range n.Header {
		req.Header.Set(k, v)
	}

	resp, err := b.httpClient().Do(req)
	if err != nil {
		// The URL carries the trigger token; keep it out of the logs.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return errcode.Annotatef(err, "notify %s", n.Name)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return errcode.Internalf("notify %s: %s", n.Name, resp.Status)
	}
	return nil
}
