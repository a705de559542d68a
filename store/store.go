// Package store is the single writer for desired state: versioned
// AppSpecs, the group tree, and per-app failure audit records. All writes
// serialize through one lock so concurrent puts never lose updates.
package store

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/waterline/helmsman/app"
)

// TaskFailure is the audit record surfaced as an app's lastTaskFailure.
// The runtime's message is retained verbatim.
type TaskFailure struct {
	AppId     app.Path  `json:"appId"`
	TaskId    string    `json:"taskId"`
	State     string    `json:"state"`
	Message   string    `json:"message"`
	Host      string    `json:"host"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

type Store struct {
	mu       sync.RWMutex
	apps     map[app.Path][]app.AppSpec // version history, newest last
	groups   map[app.Path]bool
	failures map[app.Path]TaskFailure
}

func NewStore() *Store {
	return &Store{
		apps:     make(map[app.Path][]app.AppSpec),
		groups:   make(map[app.Path]bool),
		failures: make(map[app.Path]TaskFailure),
	}
}

// PutApp validates and stores a new version of an app, creating any
// enclosing groups. The stored spec (with defaults and version applied) is
// returned.
func (s *Store) PutApp(spec app.AppSpec) (app.AppSpec, error) {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return app.AppSpec{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.groups[spec.ID] {
		return app.AppSpec{}, app.NewConflictError(fmt.Sprintf("path %s is a group, not an app", spec.ID))
	}
	for p := range s.apps {
		if p != spec.ID && p.HasPrefix(spec.ID) {
			return app.AppSpec{}, app.NewConflictError(fmt.Sprintf("path %s encloses existing app %s", spec.ID, p))
		}
		if p != spec.ID && spec.ID.HasPrefix(p) {
			return app.AppSpec{}, app.NewConflictError(fmt.Sprintf("path %s is nested under existing app %s", spec.ID, p))
		}
	}

	spec.Version = time.Now().UTC().Format(time.RFC3339Nano)
	spec.ConfigVersion = spec.Version
	if prev := s.apps[spec.ID]; len(prev) > 0 && sameConfig(prev[len(prev)-1], spec) {
		// An instances-only put is a scale; the tasks already running
		// stay valid.
		spec.ConfigVersion = prev[len(prev)-1].ConfigVersion
	}
	s.registerParents(spec.ID)
	s.apps[spec.ID] = append(s.apps[spec.ID], spec)
	log.Infof("Stored app %s version %s (instances: %d)", spec.ID, spec.Version, spec.Instances)
	return spec, nil
}

// sameConfig reports whether two versions differ only in instance count.
func sameConfig(a, b app.AppSpec) bool {
	a.Instances, b.Instances = 0, 0
	a.Version, b.Version = "", ""
	a.ConfigVersion, b.ConfigVersion = "", ""
	return reflect.DeepEqual(a, b)
}

// ValidatePut runs the same checks PutApp would, without writing, so
// callers can reject a bad spec before a deployment is accepted. A later
// PutApp can still conflict if the tree changed in between.
func (s *Store) ValidatePut(spec app.AppSpec) error {
	spec = spec.WithDefaults()
	if err := spec.Validate(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.groups[spec.ID] {
		return app.NewConflictError(fmt.Sprintf("path %s is a group, not an app", spec.ID))
	}
	for p := range s.apps {
		if p != spec.ID && p.HasPrefix(spec.ID) {
			return app.NewConflictError(fmt.Sprintf("path %s encloses existing app %s", spec.ID, p))
		}
		if p != spec.ID && spec.ID.HasPrefix(p) {
			return app.NewConflictError(fmt.Sprintf("path %s is nested under existing app %s", spec.ID, p))
		}
	}
	return nil
}

// registerParents marks every ancestor of path as a group.
// Callers must hold the lock.
func (s *Store) registerParents(path app.Path) {
	for p := path.Parent(); p != app.RootPath; p = p.Parent() {
		s.groups[p] = true
	}
}

// RegisterGroup marks a path as a group node, along with its ancestors.
func (s *Store) RegisterGroup(path app.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[path]; ok {
		return app.NewConflictError(fmt.Sprintf("path %s is an app, not a group", path))
	}
	if path != app.RootPath {
		s.groups[path] = true
	}
	s.registerParents(path)
	return nil
}

// GetApp returns the current version of the app at path.
func (s *Store) GetApp(path app.Path) (app.AppSpec, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.apps[path]
	if len(versions) == 0 {
		return app.AppSpec{}, false
	}
	return versions[len(versions)-1], true
}

// Versions returns the retained version history for the app at path,
// oldest first.
func (s *Store) Versions(path app.Path) []app.AppSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]app.AppSpec{}, s.apps[path]...)
}

// SetInstances stores a new version of the app with an updated desired
// instance count. The config version carries over unchanged; scaling
// never restarts running tasks.
func (s *Store) SetInstances(path app.Path, instances int) (app.AppSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.apps[path]
	if len(versions) == 0 {
		return app.AppSpec{}, app.NewNotFoundError(fmt.Sprintf("app %s does not exist", path))
	}
	if instances < 0 {
		return app.AppSpec{}, app.NewValidationError(fmt.Sprintf("app %s: instances must be >= 0, got %d", path, instances))
	}
	next := versions[len(versions)-1]
	next.Instances = instances
	next.Version = time.Now().UTC().Format(time.RFC3339Nano)
	s.apps[path] = append(s.apps[path], next)
	log.Infof("Scaled app %s to %d instances (version %s)", path, instances, next.Version)
	return next, nil
}

// RemoveApp deletes the app at path and its audit record.
func (s *Store) RemoveApp(path app.Path) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[path]; !ok {
		return app.NewNotFoundError(fmt.Sprintf("app %s does not exist", path))
	}
	delete(s.apps, path)
	delete(s.failures, path)
	log.Infof("Removed app %s", path)
	return nil
}

// RemoveGroupNode deletes the group marker at path. Apps underneath are
// the caller's responsibility (cascade lives in the group manager).
func (s *Store) RemoveGroupNode(path app.Path) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for g := range s.groups {
		if g.HasPrefix(path) {
			delete(s.groups, g)
		}
	}
}

// IsGroup reports whether path names a group node.
func (s *Store) IsGroup(path app.Path) bool {
	if path == app.RootPath {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.groups[path]
}

// GetGroup assembles the group subtree rooted at path.
func (s *Store) GetGroup(path app.Path) (app.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if path != app.RootPath && !s.groups[path] {
		return app.Group{}, app.NewNotFoundError(fmt.Sprintf("group %s does not exist", path))
	}
	return s.buildGroup(path), nil
}

// buildGroup assembles one level and recurses. Callers must hold the lock.
func (s *Store) buildGroup(path app.Path) app.Group {
	g := app.Group{ID: path}
	var appPaths []app.Path
	for p := range s.apps {
		if p.Parent() == path {
			appPaths = append(appPaths, p)
		}
	}
	sort.Slice(appPaths, func(i, j int) bool { return appPaths[i] < appPaths[j] })
	for _, p := range appPaths {
		versions := s.apps[p]
		g.Apps = append(g.Apps, versions[len(versions)-1])
	}
	var subPaths []app.Path
	for p := range s.groups {
		if p.Parent() == path {
			subPaths = append(subPaths, p)
		}
	}
	sort.Slice(subPaths, func(i, j int) bool { return subPaths[i] < subPaths[j] })
	for _, p := range subPaths {
		g.Groups = append(g.Groups, s.buildGroup(p))
	}
	return g
}

// AppsUnder returns the current version of every app at or below path,
// sorted by path.
func (s *Store) AppsUnder(path app.Path) []app.AppSpec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var specs []app.AppSpec
	for p, versions := range s.apps {
		if p.HasPrefix(path) {
			specs = append(specs, versions[len(versions)-1])
		}
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].ID < specs[j].ID })
	return specs
}

// ListApps returns the current version of every stored app, sorted by
// path.
func (s *Store) ListApps() []app.AppSpec {
	return s.AppsUnder(app.RootPath)
}

// RecordTaskFailure retains the latest terminal failure for an app.
func (s *Store) RecordTaskFailure(f TaskFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[f.AppId]; !ok {
		return
	}
	s.failures[f.AppId] = f
}

// LastTaskFailure returns the most recent terminal failure for the app at
// path, if any.
func (s *Store) LastTaskFailure(path app.Path) (TaskFailure, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.failures[path]
	return f, ok
}
