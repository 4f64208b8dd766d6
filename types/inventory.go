package types

import (
	"sort"
	"strings"
	"time"
)

// HealthState is a container's health probe result.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthStarting  HealthState = "starting"
	// HealthNone means the container declares no health probe.
	HealthNone HealthState = "none"
)

// IsHealthy reports whether the state counts as converged. Anything
// other than an explicit healthy probe does not.
func (h HealthState) IsHealthy() bool {
	return h == HealthHealthy
}

// ContainerInfo is one live container as reported by the engine.
type ContainerInfo struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Status  string            `json:"status"`
	Health  HealthState       `json:"health"`
	Labels  map[string]string `json:"labels,omitempty"`
	Created time.Time         `json:"created,omitempty"`
}

// MatchesService reports whether this container belongs to the named
// service, by service label or name prefix.
func (c ContainerInfo) MatchesService(service string) bool {
	if c.Labels != nil && c.Labels["service"] == service {
		return true
	}
	return strings.HasPrefix(c.Name, service)
}

// NetworkInfo is one engine network.
type NetworkInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver,omitempty"`
}

// VolumeInfo is one engine volume.
type VolumeInfo struct {
	Name   string            `json:"name"`
	Driver string            `json:"driver,omitempty"`
	Labels map[string]string `json:"labels,omitempty"`
}

// InventorySnapshot is a point-in-time view of the container engine,
// filtered to one environment.
type InventorySnapshot struct {
	Timestamp  time.Time       `json:"timestamp"`
	Containers []ContainerInfo `json:"containers"`
	Networks   []NetworkInfo   `json:"networks"`
	Volumes    []VolumeInfo    `json:"volumes"`
}

// CountService counts live containers matching a declared service.
func (s *InventorySnapshot) CountService(service string) int {
	n := 0
	for _, c := range s.Containers {
		if c.MatchesService(service) {
			n++
		}
	}
	return n
}

// ServiceContainers returns containers for a service in name order, so
// truncation beyond a target count is deterministic.
func (s *InventorySnapshot) ServiceContainers(service string) []ContainerInfo {
	var out []ContainerInfo
	for _, c := range s.Containers {
		if c.MatchesService(service) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
