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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testStep struct {
	name string
	err  error
	halt bool
	warn bool
	hook func()
}

func (s *testStep) StepName() string { return s.name }
func (s *testStep) halts() bool      { return s.halt }
func (s *testStep) warns() bool      { return s.warn }
func (s *testStep) validate() error  { return validateName(s.name) }

func (s *testStep) run(ctx context.Context, b *Build) error {
	if s.hook != nil {
		s.hook()
	}
	return s.err
}

func newTestBuild(t *testing.T, w Worker) *Build {
	return &Build{
		ID:         "test",
		Props:      NewProps(),
		Worker:     w,
		ScratchDir: t.TempDir(),
	}
}

func mustPlan(t *testing.T, steps ...Step) *Plan {
	p, err := NewPlan(steps)
	require.NoError(t, err)
	return p
}

func TestExecuteHaltOnFailure(t *testing.T) {
	errA := errors.New("a failed")
	p := mustPlan(t,
		&testStep{name: "A", err: errA, halt: true},
		&testStep{name: "B"},
	)
	res := Execute(context.Background(), newTestBuild(t, nil), p)

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "A", res.FailedStep)
	assert.Equal(t, errA, res.Err)
	assert.Equal(t, []string{"A"}, res.Executed())
	assert.False(t, res.OK())
}

func TestExecuteNonHaltingFailure(t *testing.T) {
	p := mustPlan(t,
		&testStep{name: "A", err: errors.New("a failed")},
		&testStep{name: "B"},
		&testStep{name: "C", err: errors.New("c failed")},
	)
	res := Execute(context.Background(), newTestBuild(t, nil), p)

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "A", res.FailedStep)
	assert.Equal(t, []string{"A", "B", "C"}, res.Executed())
	require.Error(t, res.NonFatal)
	assert.Contains(t, res.NonFatal.Error(), "a failed")
	assert.Contains(t, res.NonFatal.Error(), "c failed")
}

func TestExecuteHaltTakesBlame(t *testing.T) {
	p := mustPlan(t,
		&testStep{name: "A", err: errors.New("a failed")},
		&testStep{name: "B", err: errors.New("b failed"), halt: true},
		&testStep{name: "C"},
	)
	res := Execute(context.Background(), newTestBuild(t, nil), p)

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "B", res.FailedStep)
	assert.Equal(t, []string{"A", "B"}, res.Executed())
}

func TestExecuteWarnings(t *testing.T) {
	p := mustPlan(t,
		&testStep{name: "A", err: errors.New("meh"), warn: true},
		&testStep{name: "B"},
	)
	res := Execute(context.Background(), newTestBuild(t, nil), p)

	assert.Equal(t, StatusWarnings, res.Status)
	assert.True(t, res.OK())
	assert.Empty(t, res.FailedStep)
	assert.Equal(t, StatusWarnings, res.step("A").Status)
	assert.Equal(t, StatusSuccess, res.step("B").Status)
	assert.Error(t, res.NonFatal)
}

func TestExecuteConditional(t *testing.T) {
	w := newFakeWorker()
	w.dirs[".git"] = true
	b := newTestBuild(t, w)
	b.Props.Set(PropChannel, "stable", "params", true)

	p := mustPlan(t,
		&Conditional{
			When: &Not{P: &FileExists{Path: ".git"}},
			Step: &Command{Name: "init", Args: []string{"git", "init"}},
		},
		&Conditional{
			When: &PropEquals{Key: PropChannel, Value: "stable"},
			Step: &Command{Name: "stable", Args: []string{"echo", "stable"}},
		},
		&Conditional{
			When: AllOf{
				&PropTrue{Key: "missing"},
				&PropEquals{Key: PropChannel, Value: "stable"},
			},
			Step: &Command{Name: "never", Args: []string{"echo", "never"}},
		},
	)
	res := Execute(context.Background(), b, p)

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, StatusSkipped, res.step("init").Status)
	assert.Equal(t, StatusSuccess, res.step("stable").Status)
	assert.Equal(t, StatusSkipped, res.step("never").Status)
	assert.Equal(t, []string{"echo stable"}, w.execs)
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := mustPlan(t,
		&testStep{name: "A", hook: cancel},
		&testStep{name: "B"},
	)
	res := Execute(ctx, newTestBuild(t, nil), p)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.Equal(t, "B", res.FailedStep)
	assert.Equal(t, []string{"A"}, res.Executed())
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestExecuteCommandExit(t *testing.T) {
	w := newFakeWorker()
	w.fail["make"] = 2
	b := newTestBuild(t, w)
	p := mustPlan(t,
		&Command{Name: "build", Args: []string{"make"}, HaltOnFailure: true},
		&Command{Name: "after", Args: []string{"true"}},
	)
	res := Execute(context.Background(), b, p)

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "build", res.FailedStep)
	assert.Equal(t, []string{"make"}, w.execs)
}

func TestExecuteSequence(t *testing.T) {
	w := newFakeWorker()
	w.fail["optional"] = 1
	w.fail["broken"] = 1
	b := newTestBuild(t, w)
	p := mustPlan(t, &Sequence{
		Name: "seq",
		Commands: []*SeqCommand{
			{Args: []string{"first"}},
			{Args: []string{"optional"}, Optional: true},
			{Args: []string{"broken"}},
			{Args: []string{"last"}},
		},
	})
	res := Execute(context.Background(), b, p)

	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, []string{"first", "optional", "broken"}, w.execs)
}

func manifestBuild(t *testing.T, manifest string) (*Build, *fakeWorker) {
	w := newFakeWorker()
	w.files["channels.json"] = []byte(manifest)
	return newTestBuild(t, w), w
}

// Packages run in declared order, or exactly reversed: declared
// b, a, c runs as c, a, b with reverse on. A manifest declared a, b, c
// runs as c, b, a.
func TestExpandOrder(t *testing.T) {
	for _, test := range []struct {
		manifest string
		reverse  bool
		want     []string
	}{
		{`{"unstable": ["b", "a", "c"]}`, true, []string{"c", "a", "b"}},
		{`{"unstable": ["b", "a", "c"]}`, false, []string{"b", "a", "c"}},
		{`{"unstable": ["a", "b", "c"]}`, true, []string{"c", "b", "a"}},
	} {
		b, w := manifestBuild(t, test.manifest)
		p := mustPlan(t,
			&Expand{
				Name:     "select",
				Manifest: "channels.json",
				Emit: packageSteps(
					"", test.reverse, []string{"../docker-build"},
				),
			},
			&Command{Name: "after", Args: []string{"after"}},
		)
		res := Execute(context.Background(), b, p)
		require.Equal(t, StatusSuccess, res.Status)

		var want []string
		want = append(want, "select")
		for _, name := range test.want {
			want = append(want, "build "+name)
		}
		want = append(want, "after")
		if diff := cmp.Diff(want, res.Executed()); diff != "" {
			t.Errorf("reverse=%t, executed (-want +got):\n%s", test.reverse, diff)
		}
		assert.Len(t, w.execs, 4)
	}
}

func TestExpandAtEnd(t *testing.T) {
	b, _ := manifestBuild(t, `{"stable": ["x", "y"]}`)
	p := mustPlan(t,
		&Expand{
			Name:     "select",
			Manifest: "channels.json",
			Insert:   InsertAtEnd,
			Emit:     packageSteps("stable", false, []string{"make"}),
		},
		&Command{Name: "after", Args: []string{"after"}},
	)
	res := Execute(context.Background(), b, p)
	require.Equal(t, StatusSuccess, res.Status)

	want := []string{"select", "after", "build x", "build y"}
	if diff := cmp.Diff(want, res.Executed()); diff != "" {
		t.Errorf("executed (-want +got):\n%s", diff)
	}
}

func TestExpandMissingManifest(t *testing.T) {
	b := newTestBuild(t, newFakeWorker())
	p := mustPlan(t,
		&Expand{
			Name:     "select",
			Manifest: "channels.yaml",
			Emit:     packageSteps("", true, []string{"make"}),
		},
		&Command{Name: "after", Args: []string{"after"}},
	)
	res := Execute(context.Background(), b, p)
	require.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []string{"select", "after"}, res.Executed())
}

func TestExpandBadPackage(t *testing.T) {
	b, _ := manifestBuild(t, `{"unstable": ["../etc"]}`)
	p := mustPlan(t, &Expand{
		Name:          "select",
		Manifest:      "channels.json",
		Emit:          packageSteps("", true, []string{"make"}),
		HaltOnFailure: true,
	})
	res := Execute(context.Background(), b, p)
	assert.Equal(t, StatusFailure, res.Status)
	assert.Equal(t, "select", res.FailedStep)
}

func TestPlanValidation(t *testing.T) {
	_, err := NewPlan([]Step{&Command{Name: "empty"}})
	assert.Error(t, err)

	_, err = NewPlan([]Step{&Command{Args: []string{"ls"}}})
	assert.Error(t, err)

	_, err = NewPlan([]Step{&Expand{
		Name:     "x",
		Manifest: "channels.txt",
		Emit:     packageSteps("", true, []string{"make"}),
	}})
	assert.Error(t, err)

	_, err = NewPlan([]Step{&Conditional{
		Step: &Command{Name: "c", Args: []string{"ls"}},
	}})
	assert.Error(t, err)
}
