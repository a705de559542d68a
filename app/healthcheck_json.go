package app

import (
	"encoding/json"
	"time"
)

// Clients express health check durations in whole seconds, internally we
// keep time.Duration.
type healthCheckWire struct {
	Protocol               string `json:"protocol,omitempty"`
	Path                   string `json:"path,omitempty"`
	PortIndex              int    `json:"portIndex"`
	GracePeriodSeconds     int    `json:"gracePeriodSeconds"`
	IntervalSeconds        int    `json:"intervalSeconds"`
	TimeoutSeconds         int    `json:"timeoutSeconds"`
	HealthyThreshold       int    `json:"healthyThreshold"`
	MaxConsecutiveFailures int    `json:"maxConsecutiveFailures"`
}

func (hc HealthCheck) MarshalJSON() ([]byte, error) {
	return json.Marshal(healthCheckWire{
		Protocol:               hc.Protocol,
		Path:                   hc.Path,
		PortIndex:              hc.PortIndex,
		GracePeriodSeconds:     int(hc.GracePeriod / time.Second),
		IntervalSeconds:        int(hc.Interval / time.Second),
		TimeoutSeconds:         int(hc.Timeout / time.Second),
		HealthyThreshold:       hc.HealthyThreshold,
		MaxConsecutiveFailures: hc.MaxConsecutiveFailures,
	})
}

func (hc *HealthCheck) UnmarshalJSON(data []byte) error {
	var w healthCheckWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*hc = HealthCheck{
		Protocol:               w.Protocol,
		Path:                   w.Path,
		PortIndex:              w.PortIndex,
		GracePeriod:            time.Duration(w.GracePeriodSeconds) * time.Second,
		Interval:               time.Duration(w.IntervalSeconds) * time.Second,
		Timeout:                time.Duration(w.TimeoutSeconds) * time.Second,
		HealthyThreshold:       w.HealthyThreshold,
		MaxConsecutiveFailures: w.MaxConsecutiveFailures,
	}
	return nil
}
