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
	"time"
)

// Status is the result status of a step or a build.
type Status string

// Statuses.
const (
	StatusSuccess   Status = "success"
	StatusWarnings  Status = "warnings"
	StatusFailure   Status = "failure"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// StepResult is the outcome of one executed step.
type StepResult struct {
	Name     string
	Status   Status
	Err      error `json:"-"`
	Duration time.Duration
}

// Result is the outcome of a build.
type Result struct {
	Status Status

	// FailedStep is the first halting step that failed, or when no
	// halting step failed, the first step that failed.
	FailedStep string

	// Err is the error of FailedStep, or the cancellation cause.
	Err error

	// NonFatal holds the failures and warnings of steps that did not halt
	// the plan.
	NonFatal error

	Steps []*StepResult
}

// OK tells if the build succeeded, possibly with warnings.
func (r *Result) OK() bool {
	return r.Status == StatusSuccess || r.Status == StatusWarnings
}

// Executed returns the names of the steps that ran, skipped ones
// included, in order.
func (r *Result) Executed() []string {
	var names []string
	for _, s := range r.Steps {
		names = append(names, s.Name)
	}
	return names
}

func (r *Result) step(name string) *StepResult {
	for _, s := range r.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}
