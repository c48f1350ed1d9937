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
	"log"
	"time"

	"github.com/hashicorp/go-multierror"
	"shanhu.io/misc/errcode"
)

func (r *Result) fail(name string, err error) {
	if r.Status != StatusFailure {
		r.Status = StatusFailure
		r.FailedStep = name
		r.Err = err
	}
}

// Execute runs the plan on the build, one step at a time. A failed
// halting step stops the plan; other failures are recorded and the plan
// goes on. Steps spliced in by Expand steps run like the initial ones.
func Execute(ctx context.Context, b *Build, p *Plan) *Result {
	b.init()
	q := newQueue(p.Steps)
	b.plan = q
	defer func() { b.plan = nil }()

	res := &Result{Status: StatusSuccess}
	var nonFatal *multierror.Error
	halted := false
	for !halted {
		s := q.next()
		if s == nil {
			break
		}
		name := s.StepName()
		if err := ctx.Err(); err != nil {
			log.Printf("[%s] cancelled before %q", b.ID, name)
			res.Status = StatusCancelled
			res.FailedStep = name
			res.Err = err
			break
		}

		log.Printf("[%s] %s", b.ID, name)
		start := time.Now()
		err := s.run(ctx, b)
		sr := &StepResult{
			Name:     name,
			Err:      err,
			Duration: time.Since(start),
		}
		res.Steps = append(res.Steps, sr)

		switch {
		case err == nil:
			sr.Status = StatusSuccess
		case errors.Is(err, errSkipped):
			sr.Status = StatusSkipped
			sr.Err = nil
		case ctx.Err() != nil:
			sr.Status = StatusCancelled
			res.Status = StatusCancelled
			res.FailedStep = name
			res.Err = ctx.Err()
			halted = true
		case s.warns():
			sr.Status = StatusWarnings
			log.Printf("[%s] %s: warning: %s", b.ID, name, err)
			nonFatal = multierror.Append(
				nonFatal, errcode.Annotatef(err, "step %q", name),
			)
			if res.Status == StatusSuccess {
				res.Status = StatusWarnings
			}
		case s.halts():
			sr.Status = StatusFailure
			log.Printf("[%s] %s: failed, halt: %s", b.ID, name, err)
			// A halting failure takes the blame over earlier non-fatal
			// ones.
			res.Status = StatusFailure
			res.FailedStep = name
			res.Err = err
			halted = true
		default:
			sr.Status = StatusFailure
			log.Printf("[%s] %s: failed: %s", b.ID, name, err)
			nonFatal = multierror.Append(
				nonFatal, errcode.Annotatef(err, "step %q", name),
			)
			res.fail(name, err)
		}
		stepsTotal.WithLabelValues(string(sr.Status)).Inc()
	}

	if q.len() > 0 {
		log.Printf("[%s] %d steps not run", b.ID, q.len())
	}
	if nonFatal != nil {
		res.NonFatal = nonFatal.ErrorOrNil()
	}
	return res
}
