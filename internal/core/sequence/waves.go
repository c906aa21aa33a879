// Package sequence orders service descriptors into deployment waves.
// This is part of the Functional Core - all functions are pure with no I/O.
package sequence

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/artpar/flotilla/internal/core/descriptor"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrCircularDependency is returned when the dependency graph contains a cycle.
	ErrCircularDependency = errors.New("circular dependency detected")

	// ErrUnknownDependency is returned when a service depends on an undeclared service.
	ErrUnknownDependency = errors.New("dependency references undeclared service")
)

// =============================================================================
// Wave Layering
// =============================================================================

// Waves partitions services into deployment waves using Kahn's algorithm.
// Wave i contains exactly the services whose dependencies are all contained
// in waves 0..i-1; wave 0 holds the services with no dependencies.
//
// The function implements BFS-based topological layering:
//  1. Build an in-degree map over declared dependencies
//  2. Extract every service with in-degree 0 as the next wave
//  3. Reduce the in-degree of their dependents and repeat
//
// Within a wave, services keep their declaration order so repeated runs over
// the same descriptor file are reproducible.
//
// A cycle or a dependency on an undeclared service is a fatal configuration
// error: the caller must not attempt any deployment against a malformed graph.
//
// Example:
//
//	// Services: api → db, worker → db
//	services := []descriptor.Service{
//	    {Name: "db"},
//	    {Name: "api", DependsOn: []string{"db"}},
//	    {Name: "worker", DependsOn: []string{"db"}},
//	}
//	waves, _ := Waves(services)
//	// Result: [[db], [api, worker]]
func Waves(services []descriptor.Service) ([][]descriptor.Service, error) {
	if len(services) == 0 {
		return nil, nil
	}

	declared := make(map[string]bool, len(services))
	for _, svc := range services {
		declared[svc.Name] = true
	}

	inDegree := make(map[string]int, len(services))
	dependents := make(map[string][]string)

	for _, svc := range services {
		inDegree[svc.Name] = len(svc.DependsOn)
		for _, dep := range svc.DependsOn {
			if !declared[dep] {
				return nil, fmt.Errorf("%w: service %q depends on %q",
					ErrUnknownDependency, svc.Name, dep)
			}
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	var waves [][]descriptor.Service
	remaining := len(services)
	sequenced := make(map[string]bool, len(services))

	for remaining > 0 {
		// Declaration order scan keeps intra-wave order stable.
		var wave []descriptor.Service
		for _, svc := range services {
			if !sequenced[svc.Name] && inDegree[svc.Name] == 0 {
				wave = append(wave, svc)
			}
		}

		if len(wave) == 0 {
			return nil, fmt.Errorf("%w: involving %s",
				ErrCircularDependency, strings.Join(unsequencedNames(services, sequenced), ", "))
		}

		for _, svc := range wave {
			sequenced[svc.Name] = true
			for _, dep := range dependents[svc.Name] {
				inDegree[dep]--
			}
		}

		waves = append(waves, wave)
		remaining -= len(wave)
	}

	return waves, nil
}

// unsequencedNames returns the names not yet assigned to a wave, sorted for
// deterministic error messages.
func unsequencedNames(services []descriptor.Service, sequenced map[string]bool) []string {
	var names []string
	for _, svc := range services {
		if !sequenced[svc.Name] {
			names = append(names, svc.Name)
		}
	}
	sort.Strings(names)
	return names
}
