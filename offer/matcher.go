// Package offer matches pending launch requests against resource offers.
// Requests queue FIFO and are retried every offer cycle until matched or
// canceled; matching is greedy first-fit and never oversubscribes an
// offer.
package offer

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/cloud/cluster"
	"github.com/waterline/helmsman/cloud/runtime"
	"github.com/waterline/helmsman/common/stats"
)

const (
	DefaultBackoffInitial = 250 * time.Millisecond
	DefaultBackoffMax     = 15 * time.Second
)

// LaunchRequest is one instance waiting for capacity.
type LaunchRequest struct {
	TaskId     runtime.TaskId
	AppId      app.Path
	Cpus       float64
	Mem        float64
	NumPorts   int
	EnqueuedAt time.Time

	// Requests that keep failing to place back off before being
	// reconsidered, so one starved app doesn't burn every cycle.
	notBefore time.Time
	retry     *backoff.ExponentialBackOff
}

func (r *LaunchRequest) String() string {
	return fmt.Sprintf("{task:%s app:%s cpus:%v mem:%v ports:%d}",
		r.TaskId, r.AppId, r.Cpus, r.Mem, r.NumPorts)
}

// Assignment pairs a request with the offer that covers it.
type Assignment struct {
	Request  *LaunchRequest
	OfferId  runtime.OfferId
	AgentId  cluster.AgentId
	Hostname string
	Ports    []int
}

type MatcherConfig struct {
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

type Matcher struct {
	mu      sync.Mutex
	pending []*LaunchRequest
	config  MatcherConfig
	stat    stats.StatsReceiver
}

func NewMatcher(config MatcherConfig, stat stats.StatsReceiver) *Matcher {
	if config.BackoffInitial == 0 {
		config.BackoffInitial = DefaultBackoffInitial
	}
	if config.BackoffMax == 0 {
		config.BackoffMax = DefaultBackoffMax
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Matcher{config: config, stat: stat}
}

// Enqueue adds a request to the back of the pending queue.
func (m *Matcher) Enqueue(req *LaunchRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.EnqueuedAt = time.Now()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.BackoffInitial
	b.MaxInterval = m.config.BackoffMax
	b.MaxElapsedTime = 0 // retry indefinitely until matched or canceled
	req.retry = b
	m.pending = append(m.pending, req)
	m.stat.Counter("launchRequestsCounter").Inc(1)
	log.Infof("Queued launch request %s, now %d pending", req, len(m.pending))
}

// Cancel drops the pending request for taskId, if still queued.
func (m *Matcher) Cancel(taskId runtime.TaskId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, req := range m.pending {
		if req.TaskId == taskId {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return true
		}
	}
	return false
}

// CancelApp drops all pending requests at or below path and returns how
// many were dropped.
func (m *Matcher) CancelApp(path app.Path) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []*LaunchRequest
	dropped := 0
	for _, req := range m.pending {
		if req.AppId.HasPrefix(path) {
			dropped++
		} else {
			kept = append(kept, req)
		}
	}
	m.pending = kept
	return dropped
}

// CancelNewest drops up to n pending requests for path, newest first, and
// returns how many were dropped. Used when scaling down before all
// requested instances have placed.
func (m *Matcher) CancelNewest(path app.Path, n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	dropped := 0
	for i := len(m.pending) - 1; i >= 0 && dropped < n; i-- {
		if m.pending[i].AppId == path {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			dropped++
		}
	}
	return dropped
}

// Pending returns the number of queued requests.
func (m *Matcher) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// PendingForApp returns the number of queued requests for one app.
func (m *Matcher) PendingForApp(path app.Path) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, req := range m.pending {
		if req.AppId == path {
			n++
		}
	}
	return n
}

// remainder tracks what's left of one offer as requests consume it.
type remainder struct {
	offer runtime.Offer
	cpus  float64
	mem   float64
	ports []int
}

// Match walks the pending queue in FIFO order and assigns each eligible
// request to the first offer that can still cover it. Matched resources
// are consumed; anything unmatched stays queued for the next cycle with
// its backoff bumped.
func (m *Matcher) Match(offers []runtime.Offer) []Assignment {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 || len(offers) == 0 {
		return nil
	}

	rems := make([]*remainder, len(offers))
	for i, o := range offers {
		rems[i] = &remainder{offer: o, cpus: o.Cpus, mem: o.Mem, ports: append([]int{}, o.Ports...)}
	}

	now := time.Now()
	var assignments []Assignment
	var unmatched []*LaunchRequest
	for _, req := range m.pending {
		if req.notBefore.After(now) {
			unmatched = append(unmatched, req)
			continue
		}
		placed := false
		for _, rem := range rems {
			if rem.cpus < req.Cpus || rem.mem < req.Mem || len(rem.ports) < req.NumPorts {
				continue
			}
			rem.cpus -= req.Cpus
			rem.mem -= req.Mem
			ports := append([]int{}, rem.ports[:req.NumPorts]...)
			rem.ports = rem.ports[req.NumPorts:]
			assignments = append(assignments, Assignment{
				Request:  req,
				OfferId:  rem.offer.Id,
				AgentId:  rem.offer.AgentId,
				Hostname: rem.offer.Hostname,
				Ports:    ports,
			})
			placed = true
			break
		}
		if !placed {
			req.notBefore = now.Add(req.retry.NextBackOff())
			unmatched = append(unmatched, req)
		}
	}
	m.pending = unmatched

	if len(assignments) > 0 {
		m.stat.Counter("matchedRequestsCounter").Inc(int64(len(assignments)))
		log.Infof("Matched %d launch requests against %d offers, %d still pending",
			len(assignments), len(offers), len(m.pending))
	}
	m.stat.Gauge("pendingRequestsGauge").Update(int64(len(m.pending)))
	return assignments
}
