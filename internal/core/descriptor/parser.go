package descriptor

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Wire Format
// =============================================================================

type fileSpec struct {
	Services []serviceSpec `yaml:"services"`
}

type serviceSpec struct {
	Name         string            `yaml:"name"`
	DependsOn    []string          `yaml:"depends_on"`
	Source       string            `yaml:"source"`
	StartCommand string            `yaml:"start_command"`
	Config       map[string]string `yaml:"config"`
	Health       *healthSpec       `yaml:"health"`
}

type healthSpec struct {
	Path            string `yaml:"path"`
	IntervalSeconds int    `yaml:"interval_seconds"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	MaxAttempts     int    `yaml:"max_attempts"`
}

// =============================================================================
// Parser Functions
// =============================================================================

// ParseFile reads and parses a descriptor file.
func ParseFile(path string) ([]Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read descriptor file: %w", err)
	}
	return Parse(data)
}

// Parse parses descriptor YAML into a validated service list.
// Declaration order is preserved; the sequencer relies on it for
// reproducible tie-breaking within a wave.
func Parse(data []byte) ([]Service, error) {
	if strings.TrimSpace(string(data)) == "" {
		return nil, ErrEmptyInput
	}

	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, NewParseError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	if len(spec.Services) == 0 {
		return nil, ErrNoServices
	}

	services := make([]Service, 0, len(spec.Services))
	seen := make(map[string]bool, len(spec.Services))

	for i, raw := range spec.Services {
		if strings.TrimSpace(raw.Name) == "" {
			return nil, NewParseError(
				fmt.Sprintf("services[%d]", i),
				"service must have a name",
				ErrServiceNoName,
			)
		}
		if seen[raw.Name] {
			return nil, NewParseError(
				fmt.Sprintf("services.%s", raw.Name),
				fmt.Sprintf("service %q is declared more than once", raw.Name),
				ErrDuplicateService,
			)
		}
		seen[raw.Name] = true

		svc, err := convertService(raw)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}

	// Dangling depends_on references are a fatal configuration error. The
	// sequencer checks this too, but failing at parse time gives the field
	// path in the error.
	for _, svc := range services {
		for j, dep := range svc.DependsOn {
			if !seen[dep] {
				return nil, NewParseError(
					fmt.Sprintf("services.%s.depends_on[%d]", svc.Name, j),
					fmt.Sprintf("service %q depends on undeclared service %q", svc.Name, dep),
					ErrUnknownDependency,
				)
			}
		}
	}

	return services, nil
}

func convertService(raw serviceSpec) (Service, error) {
	svc := Service{
		Name:         raw.Name,
		DependsOn:    raw.DependsOn,
		Source:       raw.Source,
		StartCommand: raw.StartCommand,
		Config:       raw.Config,
	}

	for j, dep := range raw.DependsOn {
		if dep == raw.Name {
			return Service{}, NewParseError(
				fmt.Sprintf("services.%s.depends_on[%d]", raw.Name, j),
				fmt.Sprintf("service %q cannot depend on itself", raw.Name),
				ErrSelfDependency,
			)
		}
	}

	if raw.Health != nil {
		if raw.Health.IntervalSeconds < 0 || raw.Health.TimeoutSeconds < 0 || raw.Health.MaxAttempts < 0 {
			return Service{}, NewParseError(
				fmt.Sprintf("services.%s.health", raw.Name),
				"health polling parameters must not be negative",
				ErrInvalidHealthSpec,
			)
		}
		svc.Health = HealthSpec{
			Path:        raw.Health.Path,
			Interval:    time.Duration(raw.Health.IntervalSeconds) * time.Second,
			Timeout:     time.Duration(raw.Health.TimeoutSeconds) * time.Second,
			MaxAttempts: raw.Health.MaxAttempts,
		}
	}
	svc.Health = svc.Health.Normalize()

	return svc, nil
}
