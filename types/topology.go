package types

import (
	"fmt"
	"sort"
)

// ServiceSpec declares the expected shape of one service.
type ServiceSpec struct {
	// Count is the expected number of live containers.
	Count int `yaml:"count" json:"count"`
	// HealthProbe marks whether instances are expected to carry a
	// health probe. A probe-less container for a probe-less service is
	// not drift.
	HealthProbe bool `yaml:"health_probe,omitempty" json:"health_probe,omitempty"`
	// CountVar is the tfvars variable controlling this service's scale
	// target, used when remediation scales up through the planning tool.
	CountVar string `yaml:"count_var,omitempty" json:"count_var,omitempty"`
	// Address is the planning-tool resource address used to mark an
	// instance for forced replacement.
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

// Topology maps service names to their declared specs.
type Topology map[string]ServiceSpec

// Validate rejects nonsensical declarations.
func (t Topology) Validate() error {
	for name, spec := range t {
		if name == "" {
			return fmt.Errorf("service name cannot be empty")
		}
		if spec.Count < 0 {
			return fmt.Errorf("service %s: count cannot be negative", name)
		}
	}
	return nil
}

// ServiceNames returns declared service names in stable sorted order.
func (t Topology) ServiceNames() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
