package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// In-Memory Gateway (for tests and dry-run simulation)
// =============================================================================

// MemoryGateway is an in-memory Gateway. It records deploy calls and serves
// scriptable health and status sequences, which makes it usable both as a
// test double and as the no-call backend for --dry-run simulation.
type MemoryGateway struct {
	mu sync.Mutex

	services     map[string]*memoryService // keyed by service name
	healthScript map[string][]Health
	statuses     map[string]Status
	outputs      map[string]map[string]string
	deployErr    map[string]error
	deployCalls  int
}

type memoryService struct {
	id        string
	name      string
	env       map[string]string
	variables map[string]string
}

// NewMemoryGateway creates an empty in-memory gateway.
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		services:     make(map[string]*memoryService),
		healthScript: make(map[string][]Health),
		statuses:     make(map[string]Status),
		outputs:      make(map[string]map[string]string),
		deployErr:    make(map[string]error),
	}
}

// =============================================================================
// Scripting Helpers
// =============================================================================

// SetHealthSequence scripts the health responses for a service. Polls consume
// the sequence in order; the final value repeats once the sequence runs out.
// Unscripted services always report pass.
func (m *MemoryGateway) SetHealthSequence(name string, seq ...Health) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthScript[name] = seq
}

// SetStatus scripts the lifecycle status for a service. Unscripted services
// report running.
func (m *MemoryGateway) SetStatus(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = status
}

// SetOutputs scripts the live outputs for a service. Unscripted services
// expose {"address": "<name>.internal", "url": "http://<name>.internal"}.
func (m *MemoryGateway) SetOutputs(name string, outputs map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[name] = outputs
}

// FailDeploy makes Deploy fail for a service.
func (m *MemoryGateway) FailDeploy(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployErr[name] = err
}

// DeployCalls returns the number of Deploy calls accepted so far.
func (m *MemoryGateway) DeployCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deployCalls
}

// Deployed reports whether a service has been deployed.
func (m *MemoryGateway) Deployed(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.services[name]
	return ok
}

// DeployedEnv returns the environment sent on the last deploy of a service.
func (m *MemoryGateway) DeployedEnv(name string) map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if svc, ok := m.services[name]; ok {
		return svc.env
	}
	return nil
}

// =============================================================================
// Gateway Implementation
// =============================================================================

// Deploy records the request and returns a handle.
func (m *MemoryGateway) Deploy(ctx context.Context, req DeployRequest) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.deployErr[req.Name]; err != nil {
		return Handle{}, NewGatewayError("Deploy", req.Name, err.Error(), ErrDeployRejected)
	}

	svc, ok := m.services[req.Name]
	if !ok {
		svc = &memoryService{
			id:        uuid.New().String(),
			name:      req.Name,
			variables: make(map[string]string),
		}
		m.services[req.Name] = svc
	}
	svc.env = req.Env
	m.deployCalls++

	return Handle{ServiceID: svc.id, ServiceName: req.Name}, nil
}

// GetStatus returns the scripted status, defaulting to running.
func (m *MemoryGateway) GetStatus(ctx context.Context, h Handle) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[h.ServiceName]; !ok {
		return StatusUnknown, NewGatewayError("GetStatus", h.ServiceName, "not deployed", ErrServiceNotFound)
	}
	if status, ok := m.statuses[h.ServiceName]; ok {
		return status, nil
	}
	return StatusRunning, nil
}

// GetHealth consumes the scripted health sequence, defaulting to pass.
func (m *MemoryGateway) GetHealth(ctx context.Context, h Handle, path string) (Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.healthScript[h.ServiceName]
	if !ok || len(seq) == 0 {
		return HealthPass, nil
	}

	next := seq[0]
	if len(seq) > 1 {
		m.healthScript[h.ServiceName] = seq[1:]
	}
	return next, nil
}

// GetLiveOutputs returns scripted outputs or synthetic address/url values.
func (m *MemoryGateway) GetLiveOutputs(ctx context.Context, h Handle) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[h.ServiceName]; !ok {
		return nil, NewGatewayError("GetLiveOutputs", h.ServiceName, "not deployed", ErrServiceNotFound)
	}
	if outputs, ok := m.outputs[h.ServiceName]; ok {
		return outputs, nil
	}
	return map[string]string{
		"address": h.ServiceName + ".internal",
		"url":     "http://" + h.ServiceName + ".internal",
	}, nil
}

// SetVariable records a variable upsert.
func (m *MemoryGateway) SetVariable(ctx context.Context, h Handle, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	svc, ok := m.services[h.ServiceName]
	if !ok {
		return NewGatewayError("SetVariable", h.ServiceName, "not deployed", ErrServiceNotFound)
	}
	svc.variables[key] = value
	return nil
}

// GetLogs returns synthetic log lines.
func (m *MemoryGateway) GetLogs(ctx context.Context, h Handle, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.services[h.ServiceName]; !ok {
		return nil, NewGatewayError("GetLogs", h.ServiceName, "not deployed", ErrServiceNotFound)
	}
	return []string{fmt.Sprintf("%s: started", h.ServiceName)}, nil
}
