package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// =============================================================================
// GraphQL Gateway Configuration
// =============================================================================

// GraphQLConfig holds configuration for the GraphQL gateway client.
type GraphQLConfig struct {
	// APIURL is the platform's GraphQL endpoint.
	APIURL string

	// Token is the bearer token for API authentication.
	Token string

	// Timeout bounds a single API call.
	Timeout time.Duration

	// RetryMax is the number of retries for transient API failures
	// (network timeouts, 429, 5xx). Retries use exponential backoff
	// between RetryWaitMin and RetryWaitMax.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// HealthTimeout bounds a single health probe. Probes are never retried
	// here; the health verifier owns the retry budget.
	HealthTimeout time.Duration
}

// DefaultGraphQLConfig returns default gateway client configuration.
func DefaultGraphQLConfig() GraphQLConfig {
	return GraphQLConfig{
		Timeout:       30 * time.Second,
		RetryMax:      4,
		RetryWaitMin:  1 * time.Second,
		RetryWaitMax:  15 * time.Second,
		HealthTimeout: 10 * time.Second,
	}
}

// =============================================================================
// GraphQL Gateway
// =============================================================================

// GraphQLGateway implements Gateway against a GraphQL platform API.
//
// Transient failures of control-plane calls retry with bounded exponential
// backoff inside the HTTP client. Health probes go through a plain client so
// every probe outcome reaches the verifier exactly once.
type GraphQLGateway struct {
	apiURL       string
	token        string
	client       *retryablehttp.Client
	healthClient *http.Client
	logger       *slog.Logger

	// baseURL caches the platform-assigned URL per service so health polling
	// does not re-query live outputs on every probe.
	mu      sync.Mutex
	baseURL map[string]string
}

// NewGraphQLGateway creates a gateway client for a GraphQL platform API.
func NewGraphQLGateway(cfg GraphQLConfig, logger *slog.Logger) *GraphQLGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryWaitMin == 0 {
		cfg.RetryWaitMin = 1 * time.Second
	}
	if cfg.RetryWaitMax == 0 {
		cfg.RetryWaitMax = 15 * time.Second
	}
	if cfg.HealthTimeout == 0 {
		cfg.HealthTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil // structured logging happens at the gateway level

	return &GraphQLGateway{
		apiURL:       cfg.APIURL,
		token:        cfg.Token,
		client:       rc,
		healthClient: &http.Client{Timeout: cfg.HealthTimeout},
		logger:       logger.With("component", "platform_gateway"),
		baseURL:      make(map[string]string),
	}
}

// =============================================================================
// Wire Types
// =============================================================================

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

type serviceNode struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	URL     string `json:"url"`
	Outputs []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"outputs"`
}

// call executes one GraphQL request and decodes the data payload into out.
func (g *GraphQLGateway) call(ctx context.Context, op, service, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return NewGatewayError(op, service, "failed to marshal request", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(body))
	if err != nil {
		return NewGatewayError(op, service, "failed to create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return NewGatewayError(op, service, "platform API unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return NewGatewayError(op, service, fmt.Sprintf("platform returned %d", resp.StatusCode), ErrUnauthorized)
	}
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return NewGatewayError(op, service,
			fmt.Sprintf("platform returned %d: %s", resp.StatusCode, string(respBody)), nil)
	}

	var envelope gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return NewGatewayError(op, service, "failed to decode response", err)
	}
	if len(envelope.Errors) > 0 {
		return NewGatewayError(op, service, envelope.Errors[0].Message, nil)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return NewGatewayError(op, service, "failed to decode response data", err)
		}
	}
	return nil
}

// =============================================================================
// Gateway Implementation
// =============================================================================

const serviceCreateMutation = `
mutation($input: ServiceCreateInput!) {
  serviceCreate(input: $input) {
    id
    name
  }
}`

const variableUpsertMutation = `
mutation($input: VariableUpsertInput!) {
  variableUpsert(input: $input) {
    id
  }
}`

const serviceDeployMutation = `
mutation($serviceId: String!) {
  serviceInstanceDeploy(serviceId: $serviceId) {
    id
  }
}`

const serviceQuery = `
query($id: String!) {
  service(id: $id) {
    id
    name
    status
    url
    outputs {
      name
      value
    }
  }
}`

const serviceLogsQuery = `
query($serviceId: String!, $limit: Int!) {
  serviceLogs(serviceId: $serviceId, limit: $limit) {
    line
  }
}`

// Deploy creates or updates the service, upserts its resolved environment,
// and triggers a deployment. It returns once the platform has accepted the
// request; it does not wait for readiness.
func (g *GraphQLGateway) Deploy(ctx context.Context, req DeployRequest) (Handle, error) {
	var created struct {
		ServiceCreate struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"serviceCreate"`
	}

	input := map[string]any{
		"name":         req.Name,
		"source":       req.Source,
		"startCommand": req.StartCommand,
	}
	if err := g.call(ctx, "Deploy", req.Name, serviceCreateMutation, map[string]any{"input": input}, &created); err != nil {
		return Handle{}, err
	}

	h := Handle{ServiceID: created.ServiceCreate.ID, ServiceName: req.Name}

	// The platform separates variable upsert from deployment; push the
	// resolved environment before triggering the deploy. Sorted for
	// deterministic call order.
	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := g.SetVariable(ctx, h, k, req.Env[k]); err != nil {
			return Handle{}, err
		}
	}

	if err := g.call(ctx, "Deploy", req.Name, serviceDeployMutation, map[string]any{"serviceId": h.ServiceID}, nil); err != nil {
		return Handle{}, err
	}

	g.logger.Info("deploy accepted", "service", req.Name, "service_id", h.ServiceID)
	return h, nil
}

// GetStatus returns the platform lifecycle state of a service.
func (g *GraphQLGateway) GetStatus(ctx context.Context, h Handle) (Status, error) {
	node, err := g.queryService(ctx, "GetStatus", h)
	if err != nil {
		return StatusUnknown, err
	}

	switch strings.ToUpper(node.Status) {
	case "BUILDING", "DEPLOYING", "INITIALIZING", "QUEUED":
		return StatusProvisioning, nil
	case "RUNNING", "SUCCESS":
		return StatusRunning, nil
	case "CRASHED", "FAILED":
		return StatusCrashed, nil
	default:
		return StatusUnknown, nil
	}
}

// GetHealth probes the service's health endpoint through its
// platform-assigned URL. The probe itself is never retried; the verifier
// owns the retry budget.
func (g *GraphQLGateway) GetHealth(ctx context.Context, h Handle, path string) (Health, error) {
	base, err := g.serviceBaseURL(ctx, h)
	if err != nil {
		// The control-plane lookup failed; the endpoint cannot be reached.
		return HealthUnreachable, nil
	}

	url := strings.TrimRight(base, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return HealthUnreachable, err
	}

	resp, err := g.healthClient.Do(req)
	if err != nil {
		return HealthUnreachable, nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return HealthPass, nil
	}
	return HealthFail, nil
}

// GetLiveOutputs returns the runtime-assigned values the service exposes.
func (g *GraphQLGateway) GetLiveOutputs(ctx context.Context, h Handle) (map[string]string, error) {
	node, err := g.queryService(ctx, "GetLiveOutputs", h)
	if err != nil {
		return nil, err
	}

	outputs := make(map[string]string, len(node.Outputs)+1)
	for _, o := range node.Outputs {
		outputs[o.Name] = o.Value
	}
	if node.URL != "" {
		outputs["url"] = node.URL
	}
	return outputs, nil
}

// SetVariable upserts a single environment variable on a service.
func (g *GraphQLGateway) SetVariable(ctx context.Context, h Handle, key, value string) error {
	input := map[string]any{
		"serviceId": h.ServiceID,
		"name":      key,
		"value":     value,
	}
	return g.call(ctx, "SetVariable", h.ServiceName, variableUpsertMutation, map[string]any{"input": input}, nil)
}

// GetLogs fetches up to limit recent log lines for a service.
func (g *GraphQLGateway) GetLogs(ctx context.Context, h Handle, limit int) ([]string, error) {
	var result struct {
		ServiceLogs []struct {
			Line string `json:"line"`
		} `json:"serviceLogs"`
	}
	vars := map[string]any{"serviceId": h.ServiceID, "limit": limit}
	if err := g.call(ctx, "GetLogs", h.ServiceName, serviceLogsQuery, vars, &result); err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(result.ServiceLogs))
	for _, l := range result.ServiceLogs {
		lines = append(lines, l.Line)
	}
	return lines, nil
}

// queryService fetches the service node for a handle.
func (g *GraphQLGateway) queryService(ctx context.Context, op string, h Handle) (*serviceNode, error) {
	var result struct {
		Service *serviceNode `json:"service"`
	}
	if err := g.call(ctx, op, h.ServiceName, serviceQuery, map[string]any{"id": h.ServiceID}, &result); err != nil {
		return nil, err
	}
	if result.Service == nil {
		return nil, NewGatewayError(op, h.ServiceName, "service not found", ErrServiceNotFound)
	}
	return result.Service, nil
}

// serviceBaseURL resolves and caches the platform-assigned URL for a service.
func (g *GraphQLGateway) serviceBaseURL(ctx context.Context, h Handle) (string, error) {
	g.mu.Lock()
	if base, ok := g.baseURL[h.ServiceID]; ok {
		g.mu.Unlock()
		return base, nil
	}
	g.mu.Unlock()

	node, err := g.queryService(ctx, "GetHealth", h)
	if err != nil {
		return "", err
	}
	if node.URL == "" {
		return "", NewGatewayError("GetHealth", h.ServiceName, "service has no assigned URL yet", nil)
	}

	g.mu.Lock()
	g.baseURL[h.ServiceID] = node.URL
	g.mu.Unlock()
	return node.URL, nil
}
