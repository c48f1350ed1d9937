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
	"shanhu.io/misc/errcode"
)

// Plan is the validated initial step sequence of a build, and the locks
// that the build holds while it runs. The sequence can grow while the
// plan runs, when Expand steps splice in more steps.
type Plan struct {
	Steps []Step
	Locks []*LockSpec
}

func validateSteps(steps []Step) error {
	for i, s := range steps {
		if s == nil {
			return errcode.InvalidArgf("step %d is nil", i)
		}
		if err := s.validate(); err != nil {
			return errcode.Annotatef(err, "step %d", i)
		}
	}
	return nil
}

// mergeLocks drops duplicated keys. Exclusive access wins over counted
// access on the same key, so a build never waits on itself.
func mergeLocks(specs []*LockSpec) ([]*LockSpec, error) {
	var ret []*LockSpec
	index := make(map[string]*LockSpec)
	for _, spec := range specs {
		if spec.Key == "" {
			return nil, errcode.InvalidArgf("lock has no key")
		}
		if spec.Mode != Exclusive && spec.Mode != Counted {
			return nil, errcode.InvalidArgf(
				"lock %q has bad mode %d", spec.Key, spec.Mode,
			)
		}
		if prev, ok := index[spec.Key]; ok {
			if spec.Mode == Exclusive {
				prev.Mode = Exclusive
			}
			continue
		}
		cp := *spec
		index[spec.Key] = &cp
		ret = append(ret, &cp)
	}
	return ret, nil
}

// NewPlan validates steps and locks and makes a plan.
func NewPlan(steps []Step, locks ...*LockSpec) (*Plan, error) {
	if err := validateSteps(steps); err != nil {
		return nil, err
	}
	merged, err := mergeLocks(locks)
	if err != nil {
		return nil, err
	}
	return &Plan{Steps: steps, Locks: merged}, nil
}

// Names returns the names of the initial steps.
func (p *Plan) Names() []string {
	var names []string
	for _, s := range p.Steps {
		names = append(names, s.StepName())
	}
	return names
}

// queue is the pending steps of a running plan, consumed from the front.
type queue struct {
	pending []Step
}

func newQueue(steps []Step) *queue {
	pending := make([]Step, len(steps))
	copy(pending, steps)
	return &queue{pending: pending}
}

func (q *queue) next() Step {
	if len(q.pending) == 0 {
		return nil
	}
	s := q.pending[0]
	q.pending = q.pending[1:]
	return s
}

func (q *queue) insert(at InsertPolicy, steps []Step) {
	if len(steps) == 0 {
		return
	}
	if at == InsertAtEnd {
		q.pending = append(q.pending, steps...)
		return
	}
	pending := make([]Step, 0, len(steps)+len(q.pending))
	pending = append(pending, steps...)
	pending = append(pending, q.pending...)
	q.pending = pending
}

func (q *queue) len() int { return len(q.pending) }
