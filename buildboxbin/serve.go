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
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"shanhu.io/buildbox"
	"shanhu.io/misc/errcode"
)

const queueSize = 64

type job struct {
	builder *builderConfig
	params  *buildbox.Params
}

// daemon queues builds requested over HTTP or by schedule and runs them
// on a fixed number of goroutines.
type daemon struct {
	config *config
	master *buildbox.Master
	queue  chan *job

	mu      sync.Mutex
	counter int
}

func newDaemon(c *config, m *buildbox.Master) *daemon {
	return &daemon{
		config: c,
		master: m,
		queue:  make(chan *job, queueSize),
	}
}

// enqueue queues a build of the builder. It returns the build ID.
func (d *daemon) enqueue(name string) (string, error) {
	bc, err := d.config.builder(name)
	if err != nil {
		return "", err
	}
	p := d.config.params(bc)

	d.mu.Lock()
	d.counter++
	n := d.counter
	d.mu.Unlock()
	p.Time = time.Now()

	select {
	case d.queue <- &job{builder: bc, params: p}:
		log.Printf("queued build %d of %q", n, name)
		return p.Builder, nil
	default:
		return "", errcode.Internalf("build queue full")
	}
}

func (d *daemon) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.queue:
			res, err := d.master.RunFamily(ctx, j.builder.Family, j.params)
			if err != nil {
				log.Printf("build %q: %s", j.builder.Name, err)
				continue
			}
			log.Printf("build %q finished: %s", j.builder.Name, res.Status)
		}
	}
}

func (d *daemon) authorized(req *http.Request) bool {
	pwd := d.config.AdminPassword
	if pwd == "" {
		return true
	}
	user, got, ok := req.BasicAuth()
	if !ok || user != "admin" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(pwd)) == 1
}

func (d *daemon) serveBuild(w http.ResponseWriter, req *http.Request) {
	if !d.authorized(req) {
		w.Header().Set("WWW-Authenticate", `Basic realm="buildbox"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := d.enqueue(req.PathValue("builder"))
	if err != nil {
		code := http.StatusServiceUnavailable
		if errcode.IsNotFound(err) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"build": id})
}

func (d *daemon) serveBuilds(w http.ResponseWriter, req *http.Request) {
	builds, err := d.master.Ledger.RecentBuilds(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(builds)
}

func (d *daemon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /build/{builder}", d.serveBuild)
	mux.HandleFunc("GET /builds", d.serveBuilds)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// schedule adds the periodic builds to a cron runner.
func (d *daemon) schedule() (*cron.Cron, error) {
	c := cron.New()
	for _, b := range d.config.Builders {
		if b.Schedule == "" {
			continue
		}
		name := b.Name
		if _, err := c.AddFunc(b.Schedule, func() {
			if _, err := d.enqueue(name); err != nil {
				log.Printf("scheduled build %q: %s", name, err)
			}
		}); err != nil {
			return nil, errcode.Annotatef(err, "schedule of %q", name)
		}
	}
	return c, nil
}

func cmdServe(args []string) error {
	flags := cmdFlags.New()
	configFile := declareConfigFlag(flags)
	flags.ParseArgs(args)

	c, err := readConfig(*configFile)
	if err != nil {
		return errcode.Annotate(err, "read config")
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

	d := newDaemon(c, m)
	sched, err := d.schedule()
	if err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	var wg sync.WaitGroup
	for i := 0; i < c.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}

	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", c.Port),
		Handler: d.handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		s.Shutdown(shutdownCtx)
	}()

	log.Printf("serving %s on %s", c.URI, s.Addr)
	if err := s.ListenAndServe(); err != http.ErrServerClosed {
		cancel()
		wg.Wait()
		return err
	}
	wg.Wait()
	return nil
}
