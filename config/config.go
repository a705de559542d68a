// Package config parses the daemon's JSON configuration. Zero values get
// sensible defaults so an empty config file is a working local setup.
package config

import (
	"encoding/json"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	Api       ApiConfig       `json:"api"`
	Admin     AdminConfig     `json:"admin"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Health    HealthConfig    `json:"health"`
	Cluster   ClusterConfig   `json:"cluster"`
}

type ApiConfig struct {
	Addr string `json:"addr"`
}

type AdminConfig struct {
	Addr string `json:"addr"`
}

type SchedulerConfig struct {
	LoopIntervalMs     int  `json:"loopIntervalMs"`
	RecoverDeployments bool `json:"recoverDeployments"`
	BackoffInitialMs   int  `json:"backoffInitialMs"`
	BackoffMaxMs       int  `json:"backoffMaxMs"`
}

type HealthConfig struct {
	ProbeRetries int `json:"probeRetries"`
}

type ClusterConfig struct {
	Agents []AgentConfig `json:"agents"`
}

type AgentConfig struct {
	Id        string  `json:"id"`
	Cpus      float64 `json:"cpus"`
	Mem       float64 `json:"mem"`
	PortBegin int     `json:"portBegin"`
	PortEnd   int     `json:"portEnd"`
}

func DefaultConfig() Config {
	return Config{
		Api:   ApiConfig{Addr: "localhost:8080"},
		Admin: AdminConfig{Addr: "localhost:9091"},
		Scheduler: SchedulerConfig{
			LoopIntervalMs:   250,
			BackoffInitialMs: 1000,
			BackoffMaxMs:     16000,
		},
		Health: HealthConfig{ProbeRetries: 1},
		Cluster: ClusterConfig{
			Agents: []AgentConfig{
				{Id: "agent1", Cpus: 4, Mem: 4096, PortBegin: 31000, PortEnd: 31999},
				{Id: "agent2", Cpus: 4, Mem: 4096, PortBegin: 31000, PortEnd: 31999},
				{Id: "agent3", Cpus: 4, Mem: 4096, PortBegin: 31000, PortEnd: 31999},
			},
		},
	}
}

// Parse overlays the JSON in data onto the defaults.
func Parse(data []byte) (Config, error) {
	c := DefaultConfig()
	if len(data) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "could not parse config")
	}
	return c, nil
}

// ParseFile reads and parses path, or returns the defaults for "".
func ParseFile(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "could not read config file %s", path)
	}
	return Parse(data)
}

func (c SchedulerConfig) LoopInterval() time.Duration {
	return time.Duration(c.LoopIntervalMs) * time.Millisecond
}

func (c SchedulerConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

func (c SchedulerConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}
