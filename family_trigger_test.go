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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerFanOut(t *testing.T) {
	triggers := []*Trigger{
		{Name: "x", Token: "tx", Tags: []string{"packages"}},
		{Name: "y", Token: "ty", Tags: []string{"images"}},
	}
	steps, err := triggerSteps(triggers, []string{"packages"})
	require.NoError(t, err)
	require.Len(t, steps, 1)

	n, ok := steps[0].(*Notify)
	require.True(t, ok)
	assert.Equal(t, "trigger rebuild x", n.Name)
	assert.Equal(t, "https://registry.hub.docker.com/u/x/trigger/tx/", n.URL)

	steps, err = triggerSteps(triggers, []string{"flatpak"})
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestTriggerURL(t *testing.T) {
	tr := &Trigger{UUID: "1234", Token: "tok"}
	assert.Equal(
		t,
		"https://cloud.docker.com/api/build/v1/source/1234/trigger/tok/call/",
		tr.URL(),
	)
	assert.Equal(t, "1234", tr.label())

	tags := []string{"packages"}
	_, err := triggerSteps([]*Trigger{{Name: "x", Tags: tags}}, tags)
	assert.Error(t, err)
	_, err = triggerSteps([]*Trigger{{Token: "t", Tags: tags}}, tags)
	assert.Error(t, err)
}

func TestTriggerBrokenUnrelated(t *testing.T) {
	steps, err := triggerSteps([]*Trigger{
		{Name: "x", Token: "tx", Tags: []string{"packages"}},
		{Name: "broken", Tags: []string{"images"}},
	}, []string{"packages"})
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "trigger rebuild x", steps[0].StepName())
}

func TestTriggerPlan(t *testing.T) {
	p, err := TriggerPlan(&Params{
		Builder: "trigger",
		Tags:    []string{"images"},
		Triggers: []*Trigger{
			{Name: "x", Token: "tx", Tags: []string{"packages"}},
			{Name: "y", Token: "ty", Tags: []string{"images", "packages"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"trigger rebuild y"}, p.Names())
	assert.Empty(t, p.Locks)

	p, err = TriggerPlan(&Params{Builder: "trigger"})
	require.NoError(t, err)
	assert.Empty(t, p.Steps)

	_, err = TriggerPlan(&Params{
		Builder: "trigger",
		Options: map[string]string{"x": "y"},
	})
	assert.Error(t, err)
}

func TestNotify(t *testing.T) {
	var mu sync.Mutex
	var got map[string]interface{}
	var contentType string
	calls := 0
	s := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, req *http.Request) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			assert.Equal(t, http.MethodPost, req.Method)
			contentType = req.Header.Get("Content-Type")
			assert.NoError(t, json.NewDecoder(req.Body).Decode(&got))
			if req.URL.Path == "/fail" {
				w.WriteHeader(http.StatusInternalServerError)
			}
		},
	))
	defer s.Close()

	b := newTestBuild(t, nil)
	b.HTTPClient = s.Client()
	p := mustPlan(t,
		&Notify{Name: "ok", URL: s.URL + "/ok"},
		&Notify{Name: "fail", URL: s.URL + "/fail"},
	)
	res := Execute(context.Background(), b, p)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, map[string]interface{}{"build": true}, got)
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "fail", res.FailedStep)
	assert.Equal(t, StatusSuccess, res.step("ok").Status)
}

func TestNotifyErrorHidesToken(t *testing.T) {
	s := httptest.NewServer(http.NotFoundHandler())
	addr := s.URL
	s.Close()

	b := newTestBuild(t, nil)
	p := mustPlan(t, &Notify{
		Name: "trigger rebuild x",
		URL:  addr + "/u/x/trigger/secret-token/",
	})
	res := Execute(context.Background(), b, p)
	require.Equal(t, StatusFailure, res.Status)
	require.Error(t, res.Err)
	assert.NotContains(t, res.Err.Error(), "secret-token")
	assert.NotContains(t, res.NonFatal.Error(), "secret-token")
}

func TestNotifyValidate(t *testing.T) {
	_, err := NewPlan([]Step{&Notify{Name: "n", URL: "ftp://x/"}})
	assert.Error(t, err)
}
