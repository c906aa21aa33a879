package resolve

import (
	"fmt"

	"github.com/artpar/flotilla/internal/core/descriptor"
	"github.com/artpar/flotilla/internal/core/domain"
)

// =============================================================================
// Configuration Resolution
// =============================================================================

// Resolve expands a service's raw configuration against a snapshot of
// deployment records, producing the literal environment for one deploy
// attempt.
//
// Behavior per raw value:
//   - pure literal: passed through unchanged
//   - ${{service.field}} tokens: each is parsed to a typed ServiceRef and
//     looked up in the snapshot; the referenced record must be healthy and
//     must expose the field among its live outputs
//   - tokens embedded in longer literals are expanded in place, so values
//     like "postgres://${{db.address}}/app" work
//
// Multiple independent references within one descriptor resolve independently
// and may name different dependencies. Resolution is pure and idempotent:
// the same raw config against the same snapshot always yields the same
// result, and a successful result never contains an unexpanded token.
func Resolve(svc descriptor.Service, records map[string]domain.Record) (map[string]string, error) {
	resolved := make(map[string]string, len(svc.Config))

	for key, raw := range svc.Config {
		value, err := expand(svc.Name, key, raw, records)
		if err != nil {
			return nil, err
		}
		resolved[key] = value
	}

	return resolved, nil
}

// expand replaces every reference token in a raw value with the looked-up
// live output. The first failing lookup aborts the expansion.
func expand(service, key, raw string, records map[string]domain.Record) (string, error) {
	var firstErr error

	value := refPattern.ReplaceAllStringFunc(raw, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := refPattern.FindStringSubmatch(match)
		ref := ServiceRef{Service: sub[1], Field: sub[2]}

		out, err := lookup(ref, records)
		if err != nil {
			firstErr = &ResolutionError{Service: service, Key: key, Ref: ref, Err: err}
			return match
		}
		return out
	})

	if firstErr != nil {
		return "", firstErr
	}
	return value, nil
}

// lookup fetches one live output through a typed reference.
func lookup(ref ServiceRef, records map[string]domain.Record) (string, error) {
	rec, ok := records[ref.Service]
	if !ok {
		return "", ErrUnknownService
	}
	if rec.Phase != domain.PhaseHealthy {
		return "", fmt.Errorf("%w: phase is %s", ErrDependencyNotHealthy, rec.Phase)
	}
	value, ok := rec.Outputs[ref.Field]
	if !ok {
		return "", ErrUnknownOutput
	}
	return value, nil
}

// =============================================================================
// Static Reference Validation
// =============================================================================

// ValidateRefs checks that every template reference in every descriptor names
// a service in that descriptor's depends_on list. Only declared dependencies
// are guaranteed to be sequenced into an earlier wave, so an undeclared
// reference could never resolve; it is rejected before any deployment begins.
func ValidateRefs(services []descriptor.Service) error {
	for _, svc := range services {
		deps := make(map[string]bool, len(svc.DependsOn))
		for _, dep := range svc.DependsOn {
			deps[dep] = true
		}

		for key, raw := range svc.Config {
			for _, ref := range ParseRefs(raw) {
				if !deps[ref.Service] {
					return &ResolutionError{
						Service: svc.Name,
						Key:     key,
						Ref:     ref,
						Err:     ErrRefNotDeclared,
					}
				}
			}
		}
	}
	return nil
}
