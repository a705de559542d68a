// Package api exposes the scheduler over HTTP. Desired state changes go
// through the group manager, which answers with a deployment id; reads
// come straight from the spec store and the task tracker.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/waterline/helmsman/app"
	"github.com/waterline/helmsman/common/stats"
	"github.com/waterline/helmsman/deploy"
	"github.com/waterline/helmsman/group"
	"github.com/waterline/helmsman/store"
	"github.com/waterline/helmsman/tracker"
)

type Server struct {
	Addr  string
	Specs *store.Store
	Mgr   *group.Manager
	Coord *deploy.Coordinator
	Tasks *tracker.Tracker
	Stat  stats.StatsReceiver
}

func (s *Server) Serve() error {
	log.Infof("Serving api on %s", s.Addr)
	return http.ListenAndServe(s.Addr, s.Handler())
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/apps", s.handleApps)
	mux.HandleFunc("/v2/apps/", s.handleApps)
	mux.HandleFunc("/v2/groups", s.handleGroups)
	mux.HandleFunc("/v2/groups/", s.handleGroups)
	mux.HandleFunc("/v2/deployments", s.handleDeployments)
	mux.HandleFunc("/v2/deployments/", s.handleDeployments)
	return mux
}

// deploymentReply is the common response to any accepted change.
type deploymentReply struct {
	DeploymentId string `json:"deploymentId,omitempty"`
}

func (s *Server) handleApps(w http.ResponseWriter, r *http.Request) {
	if s.Stat != nil {
		defer s.Stat.Latency("apiAppsLatency_ms").Time().Stop()
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v2/apps")
	if sub := strings.TrimSuffix(rest, "/tasks"); sub != rest {
		s.handleAppTasks(w, r, sub)
		return
	}
	if sub := strings.TrimSuffix(rest, "/scale"); sub != rest {
		s.handleAppScale(w, r, sub)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if rest == "" || rest == "/" {
			s.listApps(w)
			return
		}
		s.getApp(w, rest)
	case http.MethodPut, http.MethodPost:
		s.putApp(w, r, rest)
	case http.MethodDelete:
		s.removeApp(w, rest)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) listApps(w http.ResponseWriter) {
	apps := s.Specs.ListApps()
	views := make([]appView, 0, len(apps))
	for _, spec := range apps {
		views = append(views, s.viewOf(spec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"apps": views})
}

// appView is an AppSpec plus the live counters and audit info readers
// expect alongside it.
type appView struct {
	app.AppSpec
	TasksRunning    int                `json:"tasksRunning"`
	TasksHealthy    int                `json:"tasksHealthy"`
	TasksUnhealthy  int                `json:"tasksUnhealthy"`
	LastTaskFailure *store.TaskFailure `json:"lastTaskFailure,omitempty"`
}

func (s *Server) viewOf(spec app.AppSpec) appView {
	running, healthy, unhealthy := s.Tasks.Counts(spec.ID)
	v := appView{
		AppSpec:        spec,
		TasksRunning:   running,
		TasksHealthy:   healthy,
		TasksUnhealthy: unhealthy,
	}
	if f, ok := s.Specs.LastTaskFailure(spec.ID); ok {
		v.LastTaskFailure = &f
	}
	return v
}

func (s *Server) getApp(w http.ResponseWriter, rawPath string) {
	path, err := parsePath(rawPath)
	if err != nil {
		writeError(w, err)
		return
	}
	spec, ok := s.Specs.GetApp(path)
	if !ok {
		writeError(w, app.NewNotFoundError(fmt.Sprintf("app %s does not exist", path)))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"app": s.viewOf(spec)})
}

func (s *Server) putApp(w http.ResponseWriter, r *http.Request, rawPath string) {
	var spec app.AppSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, app.NewValidationError(fmt.Sprintf("bad app json: %v", err)))
		return
	}
	if rawPath != "" && rawPath != "/" {
		path, err := parsePath(rawPath)
		if err != nil {
			writeError(w, err)
			return
		}
		if spec.ID != "" && spec.ID != path {
			writeError(w, app.NewValidationError(
				fmt.Sprintf("app id %s does not match request path %s", spec.ID, path)))
			return
		}
		spec.ID = path
	}
	id, err := s.Mgr.PutApp(spec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deploymentReply{DeploymentId: id})
}

func (s *Server) removeApp(w http.ResponseWriter, rawPath string) {
	path, err := parsePath(rawPath)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := s.Mgr.RemoveApp(path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentReply{DeploymentId: id})
}

func (s *Server) handleAppScale(w http.ResponseWriter, r *http.Request, rawPath string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, err := parsePath(rawPath)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Instances int `json:"instances"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, app.NewValidationError(fmt.Sprintf("bad scale json: %v", err)))
		return
	}
	id, err := s.Mgr.ScaleApp(path, body.Instances)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentReply{DeploymentId: id})
}

type taskView struct {
	Id        string   `json:"id"`
	AppId     app.Path `json:"appId"`
	Host      string   `json:"host"`
	Ports     []int    `json:"ports"`
	State     string   `json:"state"`
	Version   string   `json:"version"`
	StartedAt string   `json:"startedAt"`
}

func (s *Server) handleAppTasks(w http.ResponseWriter, r *http.Request, rawPath string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, err := parsePath(rawPath)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, ok := s.Specs.GetApp(path); !ok {
		writeError(w, app.NewNotFoundError(fmt.Sprintf("app %s does not exist", path)))
		return
	}
	tasks := s.Tasks.TasksForApp(path)
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		views = append(views, taskView{
			Id:        string(t.Id),
			AppId:     t.AppId,
			Host:      t.Host,
			Ports:     t.Ports,
			State:     t.State.String(),
			Version:   t.AppVersion,
			StartedAt: t.StartedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": views})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	if s.Stat != nil {
		defer s.Stat.Latency("apiGroupsLatency_ms").Time().Stop()
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v2/groups")
	if sub := strings.TrimSuffix(rest, "/scale"); sub != rest {
		s.handleGroupScale(w, r, sub)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getGroup(w, rest)
	case http.MethodPut, http.MethodPost:
		s.putGroup(w, r, rest)
	case http.MethodDelete:
		s.removeGroup(w, r, rest)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getGroup(w http.ResponseWriter, rawPath string) {
	path := app.RootPath
	if rawPath != "" && rawPath != "/" {
		var err error
		path, err = parsePath(rawPath)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	g, err := s.Specs.GetGroup(path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) putGroup(w http.ResponseWriter, r *http.Request, rawPath string) {
	var g app.Group
	if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
		writeError(w, app.NewValidationError(fmt.Sprintf("bad group json: %v", err)))
		return
	}
	if rawPath != "" && rawPath != "/" {
		path, err := parsePath(rawPath)
		if err != nil {
			writeError(w, err)
			return
		}
		if g.ID != "" && g.ID != path {
			writeError(w, app.NewValidationError(
				fmt.Sprintf("group id %s does not match request path %s", g.ID, path)))
			return
		}
		g.ID = path
	}
	id, err := s.Mgr.PutGroup(g)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deploymentReply{DeploymentId: id})
}

func (s *Server) removeGroup(w http.ResponseWriter, r *http.Request, rawPath string) {
	path, err := parsePath(rawPath)
	if err != nil {
		writeError(w, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"
	id, err := s.Mgr.RemoveGroup(path, force)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentReply{DeploymentId: id})
}

func (s *Server) handleGroupScale(w http.ResponseWriter, r *http.Request, rawPath string) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	path, err := parsePath(rawPath)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		ScaleBy float64 `json:"scaleBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, app.NewValidationError(fmt.Sprintf("bad scale json: %v", err)))
		return
	}
	id, err := s.Mgr.ScaleGroup(path, body.ScaleBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentReply{DeploymentId: id})
}

type deploymentView struct {
	Id          string     `json:"id"`
	Status      string     `json:"status"`
	CurrentStep int        `json:"currentStep"`
	TotalSteps  int        `json:"totalSteps"`
	Paths       []app.Path `json:"affectedPaths"`
	Message     string     `json:"message,omitempty"`
}

func viewOfDeployment(d deploy.Deployment) deploymentView {
	v := deploymentView{
		Id:          d.Id,
		Status:      d.Status.String(),
		CurrentStep: d.CurrentStep,
		TotalSteps:  len(d.Plan.Steps),
		Paths:       d.Plan.AffectedPaths(),
	}
	if err := d.Err(); err != nil {
		v.Message = err.Error()
	}
	return v
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v2/deployments"), "/")
	if id == "" {
		views := make([]deploymentView, 0)
		for _, d := range s.Coord.Active() {
			views = append(views, viewOfDeployment(d))
		}
		writeJSON(w, http.StatusOK, views)
		return
	}
	d, ok := s.Coord.Get(id)
	if !ok {
		writeError(w, app.NewNotFoundError(fmt.Sprintf("deployment %s does not exist", id)))
		return
	}
	writeJSON(w, http.StatusOK, viewOfDeployment(d))
}

func parsePath(raw string) (app.Path, error) {
	p := app.NormalizePath(raw)
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("Could not encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case app.IsValidation(err):
		status = http.StatusBadRequest
	case app.IsNotFound(err):
		status = http.StatusNotFound
	case app.IsConflict(err):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"message": err.Error()})
}
