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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"shanhu.io/buildbox"
	"shanhu.io/misc/errcode"
)

func cmdRun(args []string) error {
	flags := cmdFlags.New()
	configFile := declareConfigFlag(flags)
	buildID := flags.String("build_id", "", "build id, defaults to builder")
	branch := flags.String("branch", "", "overrides the branch")
	args = flags.ParseArgs(args)
	if len(args) != 1 {
		return errcode.InvalidArgf("expects exactly one builder")
	}

	c, err := readConfig(*configFile)
	if err != nil {
		return errcode.Annotate(err, "read config")
	}
	bc, err := c.builder(args[0])
	if err != nil {
		return err
	}
	p := c.params(bc)
	p.BuildID = *buildID
	if *branch != "" {
		p.Branch = *branch
	}

	m, done, err := newMaster(c)
	if err != nil {
		return err
	}
	defer done()

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	res, err := m.RunFamily(ctx, bc.Family, p)
	if err != nil {
		return err
	}
	for _, s := range res.Steps {
		fmt.Printf("%-10s %s\n", s.Status, s.Name)
	}
	if !res.OK() {
		return errcode.Internalf(
			"build %s at %q: %v", res.Status, res.FailedStep, res.Err,
		)
	}
	return nil
}

func cmdPlan(args []string) error {
	flags := cmdFlags.New()
	configFile := declareConfigFlag(flags)
	args = flags.ParseArgs(args)
	if len(args) != 1 {
		return errcode.InvalidArgf("expects exactly one builder")
	}

	c, err := readConfig(*configFile)
	if err != nil {
		return errcode.Annotate(err, "read config")
	}
	bc, err := c.builder(args[0])
	if err != nil {
		return err
	}
	f, err := buildbox.FindFamily(bc.Family)
	if err != nil {
		return err
	}
	plan, err := f(c.params(bc))
	if err != nil {
		return err
	}
	for _, l := range plan.Locks {
		fmt.Printf("lock %s (%s)\n", l.Key, l.Mode)
	}
	for _, name := range plan.Names() {
		fmt.Println(name)
	}
	return nil
}

func cmdBuilds(args []string) error {
	flags := cmdFlags.New()
	configFile := declareConfigFlag(flags)
	n := flags.Int("n", 20, "number of builds to list")
	flags.ParseArgs(args)

	c, err := readConfig(*configFile)
	if err != nil {
		return errcode.Annotate(err, "read config")
	}
	ledger, err := buildbox.OpenLedger(c.Ledger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	builds, err := ledger.RecentBuilds(*n)
	if err != nil {
		return err
	}
	for _, b := range builds {
		fmt.Printf(
			"%s %-20s %-10s %s\n",
			b.Started.Format("2006-01-02 15:04:05"),
			b.BuildID, b.Status, b.FailedStep,
		)
	}
	return nil
}
