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
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"shanhu.io/misc/errcode"
)

// LockMode is the access mode of a lock acquisition.
type LockMode int

// Lock access modes.
const (
	// Exclusive access blocks all other holders of the same lock.
	Exclusive LockMode = iota

	// Counted access allows up to the lock's capacity of holders.
	Counted
)

func (m LockMode) String() string {
	switch m {
	case Exclusive:
		return "exclusive"
	case Counted:
		return "counted"
	}
	return "unknown"
}

// DefaultLockCapacity is the capacity of counted locks that has no
// configured capacity.
const DefaultLockCapacity = 1

// Lock is the lock of a resource key. There is at most one Lock object
// for a key in a registry while the key is in use.
type Lock struct {
	key      string
	capacity int64
	sem      *semaphore.Weighted

	refs    int // handles and waiters; guarded by the registry
	holders int // guarded by the registry
}

// Key returns the resource key of the lock.
func (l *Lock) Key() string { return l.key }

// Capacity returns the number of concurrent counted holders allowed.
func (l *Lock) Capacity() int { return int(l.capacity) }

func (l *Lock) weight(mode LockMode) int64 {
	if mode == Exclusive {
		return l.capacity
	}
	return 1
}

// Handle is a granted lock. It must be released exactly once.
type Handle struct {
	reg    *LockRegistry
	lock   *Lock
	mode   LockMode
	weight int64
	once   sync.Once
}

// Lock returns the lock that the handle holds.
func (h *Handle) Lock() *Lock { return h.lock }

// Mode returns the access mode that the handle holds.
func (h *Handle) Mode() LockMode { return h.mode }

// Release returns the lock. Calling it more than once is a no-op.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.lock.sem.Release(h.weight)
		h.reg.mu.Lock()
		h.lock.holders--
		h.reg.unrefLocked(h.lock)
		h.reg.mu.Unlock()
	})
}

// LockRegistry maps resource keys to locks. Locks are created on first
// use and dropped when no build holds or waits on them.
type LockRegistry struct {
	mu       sync.Mutex
	locks    map[string]*Lock
	capacity map[string]int

	// Timeout limits how long an acquisition waits. Zero waits forever.
	Timeout time.Duration
}

// NewLockRegistry creates a lock registry. capacity sets the counted
// capacity of specific keys; other keys use DefaultLockCapacity.
func NewLockRegistry(capacity map[string]int) *LockRegistry {
	c := make(map[string]int)
	for k, v := range capacity {
		c[k] = v
	}
	return &LockRegistry{
		locks:    make(map[string]*Lock),
		capacity: c,
	}
}

func (r *LockRegistry) findOrCreateLocked(key string) *Lock {
	if l, ok := r.locks[key]; ok {
		return l
	}
	n := r.capacity[key]
	if n <= 0 {
		n = DefaultLockCapacity
	}
	l := &Lock{
		key:      key,
		capacity: int64(n),
		sem:      semaphore.NewWeighted(int64(n)),
	}
	log.Printf("created lock for %q", key)
	r.locks[key] = l
	return l
}

// FindOrCreate returns the lock for key, creating and registering it if
// it does not exist yet.
func (r *LockRegistry) FindOrCreate(key string) *Lock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.findOrCreateLocked(key)
}

func (r *LockRegistry) unrefLocked(l *Lock) {
	l.refs--
	if l.refs > 0 {
		return
	}
	if r.locks[l.key] == l {
		delete(r.locks, l.key)
	}
}

// Len returns the number of registered locks.
func (r *LockRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

// Holders returns the number of outstanding handles on key.
func (r *LockRegistry) Holders(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.locks[key]; ok {
		return l.holders
	}
	return 0
}

// Acquire blocks until the lock of key is granted in the given mode, the
// context is done, or the registry's timeout expires.
func (r *LockRegistry) Acquire(ctx context.Context, key string, mode LockMode) (
	*Handle, error,
) {
	r.mu.Lock()
	l := r.findOrCreateLocked(key)
	l.refs++
	r.mu.Unlock()

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	start := time.Now()
	w := l.weight(mode)
	if err := l.sem.Acquire(ctx, w); err != nil {
		r.mu.Lock()
		r.unrefLocked(l)
		r.mu.Unlock()
		return nil, errcode.Annotatef(err, "acquire %s lock %q", mode, key)
	}
	lockWaitSeconds.WithLabelValues(mode.String()).Observe(
		time.Since(start).Seconds(),
	)

	r.mu.Lock()
	l.holders++
	r.mu.Unlock()

	return &Handle{reg: r, lock: l, mode: mode, weight: w}, nil
}

// LockSpec names a lock that a plan needs for its whole run.
type LockSpec struct {
	Key  string
	Mode LockMode
}

// AcquireAll acquires all locks in key order. If any acquisition fails,
// the locks acquired so far are released.
func (r *LockRegistry) AcquireAll(ctx context.Context, specs []*LockSpec) (
	[]*Handle, error,
) {
	sorted := make([]*LockSpec, len(specs))
	copy(sorted, specs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Key < sorted[j].Key
	})

	var hs []*Handle
	for _, spec := range sorted {
		h, err := r.Acquire(ctx, spec.Key, spec.Mode)
		if err != nil {
			ReleaseAll(hs)
			return nil, err
		}
		hs = append(hs, h)
	}
	return hs, nil
}

// ReleaseAll releases handles in reverse order.
func ReleaseAll(hs []*Handle) {
	for i := len(hs) - 1; i >= 0; i-- {
		hs[i].Release()
	}
}
