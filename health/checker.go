// Package health probes running tasks and reports health transitions to
// the scheduler. A task is healthy after N consecutive probe successes
// and unhealthy after M consecutive failures; connectivity loss is just a
// failed probe, never a special case.
package health

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/cloud/runtime"
	"github.com/waterline/helmsman/common/stats"
	"github.com/waterline/helmsman/tracker"
)

// Event is one health transition observed for a task. Replace is set when
// the task has been failing beyond its grace budget and should be killed
// and replaced.
type Event struct {
	TaskId  runtime.TaskId
	AppId   app.Path
	Healthy bool
	Replace bool
}

type CheckerConfig struct {
	// Retries within a single probe, for smoothing over transient
	// connection resets. Failure counting across probes is separate.
	ProbeRetries int
}

// Checker runs one monitor goroutine per watched task. Probes are
// I/O-bound and never block the scheduler; results flow back through
// Events.
type Checker struct {
	mu       sync.Mutex
	monitors map[runtime.TaskId]*monitor
	events   chan Event
	config   CheckerConfig
	stat     stats.StatsReceiver
}

func NewChecker(config CheckerConfig, stat stats.StatsReceiver) *Checker {
	if config.ProbeRetries == 0 {
		config.ProbeRetries = 1
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &Checker{
		monitors: make(map[runtime.TaskId]*monitor),
		events:   make(chan Event, 1024),
		config:   config,
		stat:     stat,
	}
}

func (c *Checker) Events() <-chan Event {
	return c.events
}

// Monitor starts probing a running task. Tasks without checks are never
// monitored; their health is simply not tracked.
func (c *Checker) Monitor(task tracker.Task, checks []app.HealthCheck) {
	if len(checks) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.monitors[task.Id]; ok {
		return
	}
	m := &monitor{
		task:    task,
		checks:  checks,
		events:  c.events,
		stopCh:  make(chan struct{}),
		retries: c.config.ProbeRetries,
		stat:    c.stat,
	}
	c.monitors[task.Id] = m
	go m.loop()
	log.Infof("Monitoring health of task %s with %d check(s)", task.Id, len(checks))
}

// Stop ends monitoring for a task, e.g. once it goes terminal.
func (c *Checker) Stop(taskId runtime.TaskId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.monitors[taskId]; ok {
		close(m.stopCh)
		delete(c.monitors, taskId)
	}
}

// NumMonitored returns how many tasks are being probed.
func (c *Checker) NumMonitored() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.monitors)
}

type monitor struct {
	task    tracker.Task
	checks  []app.HealthCheck
	events  chan Event
	stopCh  chan struct{}
	retries int
	stat    stats.StatsReceiver
}

func (m *monitor) loop() {
	interval := m.checks[0].Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	successes, failures := 0, 0
	reportedHealthy := false
	reportedUnhealthy := false

	for {
		select {
		case <-m.stopCh:
			return
		case <-time.After(interval):
		}

		if m.probeAll() {
			failures = 0
			successes++
			m.stat.Counter("healthProbeSuccessCounter").Inc(1)
			if !reportedHealthy && successes >= m.healthyThreshold() {
				reportedHealthy, reportedUnhealthy = true, false
				m.events <- Event{TaskId: m.task.Id, AppId: m.task.AppId, Healthy: true}
			}
			continue
		}

		successes = 0
		failures++
		m.stat.Counter("healthProbeFailureCounter").Inc(1)
		if !reportedUnhealthy && failures >= m.unhealthyThreshold() {
			reportedUnhealthy, reportedHealthy = true, false
			m.events <- Event{TaskId: m.task.Id, AppId: m.task.AppId, Healthy: false}
		}
		if m.shouldReplace(failures) {
			log.Infof("Task %s failed %d consecutive health checks, requesting replacement", m.task.Id, failures)
			m.events <- Event{TaskId: m.task.Id, AppId: m.task.AppId, Healthy: false, Replace: true}
			return
		}
	}
}

func (m *monitor) healthyThreshold() int {
	n := m.checks[0].HealthyThreshold
	if n <= 0 {
		n = 1
	}
	return n
}

// A MaxConsecutiveFailures of 0 means unhealthy after the first failure
// (and never replaced).
func (m *monitor) unhealthyThreshold() int {
	n := m.checks[0].MaxConsecutiveFailures
	if n <= 0 {
		n = 1
	}
	return n
}

// shouldReplace is true once failures exceed the configured budget and the
// task is past its post-launch grace period. MaxConsecutiveFailures == 0
// disables replacement entirely.
func (m *monitor) shouldReplace(failures int) bool {
	max := m.checks[0].MaxConsecutiveFailures
	if max <= 0 {
		return false
	}
	if failures < max {
		return false
	}
	return time.Since(m.task.StartedAt) >= m.checks[0].GracePeriod
}

// probeAll issues every configured check; the task is healthy only if all
// pass this round.
func (m *monitor) probeAll() bool {
	for _, hc := range m.checks {
		if !m.probe(hc) {
			return false
		}
	}
	return true
}

func (m *monitor) probe(hc app.HealthCheck) bool {
	port := 80
	if hc.PortIndex < len(m.task.Ports) {
		port = m.task.Ports[hc.PortIndex]
	}
	url := fmt.Sprintf("http://%s:%d%s", m.task.Host, port, hc.Path)

	client := pester.New()
	client.MaxRetries = m.retries
	client.Backoff = pester.LinearBackoff
	client.Timeout = hc.Timeout
	client.LogHook = func(e pester.ErrEntry) {
		log.Debugf("Health probe retry for %s: %+v", m.task.Id, e)
	}

	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusBadRequest
}
