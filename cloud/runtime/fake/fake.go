// Package fake provides an in-memory Runtime for tests and local demo
// clusters. It simulates agents, offer cycles and task execution,
// including fetch and user-resolution failures, without running anything.
package fake

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/cloud/cluster"
	"github.com/waterline/helmsman/cloud/runtime"
)

// Runtime implements runtime.Runtime against simulated agents.
// Offer cycles are driven manually with Cycle() so tests stay
// deterministic.
type Runtime struct {
	mu         sync.Mutex
	agents     map[cluster.AgentId]cluster.Agent
	procs      map[runtime.TaskId]*proc
	offered    map[runtime.OfferId]*offerRemainder
	seqs       map[runtime.TaskId]int64
	knownUsers map[string]bool
	artifacts  map[string]bool
	offerSeq   int

	offersCh  chan []runtime.Offer
	updatesCh chan runtime.StatusUpdate
}

type proc struct {
	spec  runtime.TaskSpec
	agent cluster.AgentId
	state runtime.TaskState
}

type offerRemainder struct {
	agent cluster.AgentId
	cpus  float64
	mem   float64
	ports map[int]bool
}

func NewRuntime(agents ...cluster.Agent) *Runtime {
	r := &Runtime{
		agents:     make(map[cluster.AgentId]cluster.Agent),
		procs:      make(map[runtime.TaskId]*proc),
		offered:    make(map[runtime.OfferId]*offerRemainder),
		seqs:       make(map[runtime.TaskId]int64),
		knownUsers: map[string]bool{"": true, "root": true, "core": true},
		artifacts:  make(map[string]bool),
		offersCh:   make(chan []runtime.Offer, 8),
		updatesCh:  make(chan runtime.StatusUpdate, 1024),
	}
	for _, a := range agents {
		r.agents[a.Id] = a
	}
	return r
}

func (r *Runtime) Offers() <-chan []runtime.Offer {
	return r.offersCh
}

func (r *Runtime) Updates() <-chan runtime.StatusUpdate {
	return r.updatesCh
}

// AddAgent puts a new agent into the pool; its capacity shows up in the
// next cycle.
func (r *Runtime) AddAgent(a cluster.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.Id] = a
}

// AddUser registers an execution user that tasks may run as.
func (r *Runtime) AddUser(user string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.knownUsers[user] = true
}

// AddArtifact registers a fetchable URI. Launches fetching any
// unregistered URI fail the way a dead artifact server would.
func (r *Runtime) AddArtifact(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[uri] = true
}

// Cycle invalidates any outstanding offers and advertises each agent's
// currently free capacity as a new batch.
func (r *Runtime) Cycle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.offered = make(map[runtime.OfferId]*offerRemainder)
	var offers []runtime.Offer
	for _, a := range r.agents {
		free := r.freeCapacity(a)
		if free.cpus <= 0 || free.mem <= 0 {
			continue
		}
		r.offerSeq++
		id := runtime.OfferId(fmt.Sprintf("offer-%d", r.offerSeq))
		ports := make([]int, 0, len(free.ports))
		for p := range free.ports {
			ports = append(ports, p)
		}
		offers = append(offers, runtime.Offer{
			Id:       id,
			AgentId:  a.Id,
			Hostname: a.Hostname,
			Cpus:     free.cpus,
			Mem:      free.mem,
			Ports:    ports,
		})
		r.offered[id] = free
	}
	select {
	case r.offersCh <- offers:
	default:
		log.Warn("Offer channel full, dropping cycle of ", len(offers), " offers")
	}
}

func (r *Runtime) freeCapacity(a cluster.Agent) *offerRemainder {
	free := &offerRemainder{agent: a.Id, cpus: a.Cpus, mem: a.Mem, ports: map[int]bool{}}
	for p := a.PortBegin; p <= a.PortEnd; p++ {
		free.ports[p] = true
	}
	for _, pr := range r.procs {
		if pr.agent != a.Id || pr.state.IsTerminal() {
			continue
		}
		free.cpus -= pr.spec.Cpus
		free.mem -= pr.spec.Mem
		for _, p := range pr.spec.Ports {
			delete(free.ports, p)
		}
	}
	return free
}

func (r *Runtime) Launch(offerId runtime.OfferId, spec runtime.TaskSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rem, ok := r.offered[offerId]
	if !ok {
		return fmt.Errorf("offer %s is not valid (expired or unknown)", offerId)
	}
	if rem.cpus < spec.Cpus || rem.mem < spec.Mem {
		return fmt.Errorf("offer %s cannot cover task %s: cpus %v/%v mem %v/%v",
			offerId, spec.TaskId, spec.Cpus, rem.cpus, spec.Mem, rem.mem)
	}
	for _, p := range spec.Ports {
		if !rem.ports[p] {
			return fmt.Errorf("offer %s does not hold port %d for task %s", offerId, p, spec.TaskId)
		}
	}
	if _, exists := r.procs[spec.TaskId]; exists {
		return fmt.Errorf("task %s already launched", spec.TaskId)
	}

	rem.cpus -= spec.Cpus
	rem.mem -= spec.Mem
	for _, p := range spec.Ports {
		delete(rem.ports, p)
	}

	pr := &proc{spec: spec, agent: rem.agent, state: runtime.TaskStaging}
	r.procs[spec.TaskId] = pr
	r.emit(spec.TaskId, runtime.TaskStaging, "")

	if msg, failed := r.startupFailure(spec); failed {
		pr.state = runtime.TaskFailed
		r.emit(spec.TaskId, runtime.TaskFailed, msg)
		return nil
	}
	pr.state = runtime.TaskRunning
	r.emit(spec.TaskId, runtime.TaskRunning, "")
	return nil
}

// startupFailure simulates sandbox preparation: resolving the run-as user
// and fetching artifacts, in that order.
func (r *Runtime) startupFailure(spec runtime.TaskSpec) (string, bool) {
	if !r.knownUsers[spec.User] {
		return fmt.Sprintf("Failed to get user information for '%s'", spec.User), true
	}
	for _, uri := range spec.Fetch {
		if !r.artifacts[uri] {
			return fmt.Sprintf("Failed to fetch all URIs for container: could not fetch '%s'", uri), true
		}
	}
	if spec.Container.Type == app.ContainerDocker && spec.Container.Docker == nil {
		return "Failed to start container: missing docker spec", true
	}
	return "", false
}

func (r *Runtime) Kill(taskId runtime.TaskId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, ok := r.procs[taskId]
	if !ok {
		return fmt.Errorf("unknown task %s", taskId)
	}
	if pr.state.IsTerminal() {
		return nil
	}
	pr.state = runtime.TaskKilled
	r.emit(taskId, runtime.TaskKilled, "Killed by scheduler")
	return nil
}

// KillProcess simulates the underlying process dying, e.g. a crash or an
// operator killing it on the host.
func (r *Runtime) KillProcess(taskId runtime.TaskId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pr, ok := r.procs[taskId]
	if !ok || pr.state.IsTerminal() {
		return
	}
	pr.state = runtime.TaskFailed
	r.emit(taskId, runtime.TaskFailed, "Command exited with status 137")
}

// KillProcessesOnHost fails every running task on the given hostname.
func (r *Runtime) KillProcessesOnHost(hostname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, pr := range r.procs {
		a := r.agents[pr.agent]
		if a.Hostname == hostname && !pr.state.IsTerminal() {
			pr.state = runtime.TaskFailed
			r.emit(id, runtime.TaskFailed, "Command exited with status 137")
		}
	}
}

// RunningTasks returns the ids of all non-terminal tasks, for assertions.
func (r *Runtime) RunningTasks() []runtime.TaskId {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []runtime.TaskId
	for id, pr := range r.procs {
		if !pr.state.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Runtime) emit(taskId runtime.TaskId, state runtime.TaskState, msg string) {
	r.seqs[taskId]++
	r.updatesCh <- runtime.StatusUpdate{
		TaskId:  taskId,
		State:   state,
		Message: msg,
		Seq:     r.seqs[taskId],
	}
}
