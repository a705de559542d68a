// Package app provides the declarative definitions the scheduler drives to
// a running state: AppSpecs, Groups, container descriptors and health
// check configuration.
package app

import (
	"fmt"
	"time"
)

// ContainerType selects how an instance runs: as a plain agent process or
// inside a container image.
type ContainerType string

const (
	ContainerNative ContainerType = "MESOS"
	ContainerDocker ContainerType = "DOCKER"
)

// PortMapping maps a container port to a host port. HostPort 0 means the
// scheduler allocates a port from the matched offer.
type PortMapping struct {
	ContainerPort int `json:"containerPort"`
	HostPort      int `json:"hostPort"`
}

// DockerSpec describes an image based container.
type DockerSpec struct {
	Image        string        `json:"image"`
	Network      string        `json:"network,omitempty"`
	PortMappings []PortMapping `json:"portMappings,omitempty"`
}

// Container is the uniform container descriptor consumed by the runtime.
type Container struct {
	Type   ContainerType `json:"type"`
	Docker *DockerSpec   `json:"docker,omitempty"`
}

// FetchURI is an artifact to download into the sandbox before start.
type FetchURI struct {
	URI string `json:"uri"`
}

// HealthCheck configures a periodic HTTP probe against a running task.
// HealthyThreshold consecutive successes mark a task healthy;
// MaxConsecutiveFailures failures mark it unhealthy (0 means unhealthy
// after the first failure). GracePeriod suppresses replacement right after
// launch and both intervals are configurable rather than assumed.
type HealthCheck struct {
	Protocol               string
	Path                   string
	PortIndex              int
	GracePeriod            time.Duration
	Interval               time.Duration
	Timeout                time.Duration
	HealthyThreshold       int
	MaxConsecutiveFailures int
}

// AppSpec is the desired state record for one runnable workload.
// AppSpecs are immutable; a put replaces the whole record under a new
// version.
type AppSpec struct {
	ID           Path          `json:"id"`
	Cmd          string        `json:"cmd"`
	Cpus         float64       `json:"cpus"`
	Mem          float64       `json:"mem"`
	Instances    int           `json:"instances"`
	Container    Container     `json:"container"`
	User         string        `json:"user,omitempty"`
	Fetch        []FetchURI    `json:"fetch,omitempty"`
	HealthChecks []HealthCheck `json:"healthChecks,omitempty"`
	Version      string        `json:"version,omitempty"`

	// ConfigVersion is the Version of the last change to anything other
	// than Instances. Tasks are stamped with it at launch, so the
	// scheduler can tell a config update (running tasks get replaced)
	// from a plain scale (they don't). Maintained by the store.
	ConfigVersion string `json:"-"`
}

// HasHealthChecks reports whether health is tracked for this app at all.
// Apps without checks never count as healthy or unhealthy.
func (a *AppSpec) HasHealthChecks() bool {
	return len(a.HealthChecks) > 0
}

// NumPorts returns how many host ports an instance needs from an offer.
func (a *AppSpec) NumPorts() int {
	if a.Container.Docker == nil {
		return 0
	}
	return len(a.Container.Docker.PortMappings)
}

// Validate rejects specs the scheduler must not accept.
func (a *AppSpec) Validate() error {
	if err := a.ID.Validate(); err != nil {
		return err
	}
	if a.ID == RootPath {
		return NewValidationError("app id cannot be the root path")
	}
	if a.Cpus <= 0 {
		return NewValidationError(fmt.Sprintf("app %s: cpus must be positive, got %v", a.ID, a.Cpus))
	}
	if a.Mem <= 0 {
		return NewValidationError(fmt.Sprintf("app %s: mem must be positive, got %v", a.ID, a.Mem))
	}
	if a.Instances < 0 {
		return NewValidationError(fmt.Sprintf("app %s: instances must be >= 0, got %d", a.ID, a.Instances))
	}
	switch a.Container.Type {
	case ContainerNative:
		if a.Container.Docker != nil {
			return NewValidationError(fmt.Sprintf("app %s: native container cannot carry a docker spec", a.ID))
		}
	case ContainerDocker:
		if a.Container.Docker == nil || a.Container.Docker.Image == "" {
			return NewValidationError(fmt.Sprintf("app %s: docker container requires an image", a.ID))
		}
	default:
		return NewValidationError(fmt.Sprintf("app %s: unknown container type %q", a.ID, a.Container.Type))
	}
	for _, hc := range a.HealthChecks {
		if hc.Protocol != "" && hc.Protocol != "HTTP" {
			return NewValidationError(fmt.Sprintf("app %s: unsupported health check protocol %q", a.ID, hc.Protocol))
		}
		if hc.PortIndex < 0 || (a.NumPorts() > 0 && hc.PortIndex >= a.NumPorts()) {
			return NewValidationError(fmt.Sprintf("app %s: health check port index %d out of range", a.ID, hc.PortIndex))
		}
	}
	return nil
}

// WithDefaults returns a copy with optional fields filled in.
func (a AppSpec) WithDefaults() AppSpec {
	if a.Container.Type == "" {
		a.Container.Type = ContainerNative
	}
	if a.Instances == 0 {
		a.Instances = 1
	}
	hcs := make([]HealthCheck, len(a.HealthChecks))
	copy(hcs, a.HealthChecks)
	for i := range hcs {
		if hcs[i].Protocol == "" {
			hcs[i].Protocol = "HTTP"
		}
		if hcs[i].Path == "" {
			hcs[i].Path = "/"
		}
		if hcs[i].Interval == 0 {
			hcs[i].Interval = 10 * time.Second
		}
		if hcs[i].Timeout == 0 {
			hcs[i].Timeout = 5 * time.Second
		}
		if hcs[i].HealthyThreshold == 0 {
			hcs[i].HealthyThreshold = 1
		}
	}
	a.HealthChecks = hcs
	return a
}

// Group composes AppSpecs and nested Groups into a tree keyed by path.
// A group's existence does not imply its members are running.
type Group struct {
	ID     Path      `json:"id"`
	Apps   []AppSpec `json:"apps,omitempty"`
	Groups []Group   `json:"groups,omitempty"`
}

// Validate checks the group subtree: member ids must nest under the group
// id and be unique across the whole tree.
func (g *Group) Validate() error {
	if err := g.ID.Validate(); err != nil {
		return err
	}
	seen := map[Path]bool{}
	return g.validateTree(seen)
}

func (g *Group) validateTree(seen map[Path]bool) error {
	if seen[g.ID] {
		return NewValidationError(fmt.Sprintf("duplicate path %s in group tree", g.ID))
	}
	seen[g.ID] = true
	for i := range g.Apps {
		a := g.Apps[i].WithDefaults()
		if err := a.Validate(); err != nil {
			return err
		}
		if !a.ID.HasPrefix(g.ID) {
			return NewValidationError(fmt.Sprintf("app %s is not nested under group %s", a.ID, g.ID))
		}
		if seen[a.ID] {
			return NewValidationError(fmt.Sprintf("duplicate path %s in group tree", a.ID))
		}
		seen[a.ID] = true
	}
	for i := range g.Groups {
		sub := &g.Groups[i]
		if !sub.ID.HasPrefix(g.ID) {
			return NewValidationError(fmt.Sprintf("group %s is not nested under group %s", sub.ID, g.ID))
		}
		if err := sub.validateTree(seen); err != nil {
			return err
		}
	}
	return nil
}

// EachApp visits every app in the subtree in declaration order.
func (g *Group) EachApp(fn func(*AppSpec)) {
	for i := range g.Apps {
		fn(&g.Apps[i])
	}
	for i := range g.Groups {
		g.Groups[i].EachApp(fn)
	}
}
