package model

import "fmt"

// Resources defines the compute resources for a sandbox.
type Resources struct {
	VCPUs    float64
	MemoryMB int
}

// Validate validates the resources, zero values mean provider defaults.
func (r Resources) Validate() error {
	if r.VCPUs < 0 {
		return fmt.Errorf("vcpus can't be negative: %w", ErrNotValid)
	}
	if r.MemoryMB < 0 {
		return fmt.Errorf("memory_mb can't be negative: %w", ErrNotValid)
	}
	return nil
}
