package descriptor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// =============================================================================
// Descriptor Content Hash
// =============================================================================

// Hash computes a stable content hash of a service descriptor.
//
// The state tracker compares this hash against the one recorded for a healthy
// service to decide whether a re-run may skip it: same hash means the source,
// start command, configuration, and health parameters are unchanged, so
// redeploying would be redundant. Any field change produces a new hash and
// forces exactly that service to redeploy.
//
// Config keys are hashed in sorted order so map iteration order cannot
// destabilize the result. Dependency order is semantic (it does not affect
// what gets deployed), so DependsOn is excluded.
func Hash(svc Service) string {
	h := sha256.New()

	fmt.Fprintf(h, "name=%s\n", svc.Name)
	fmt.Fprintf(h, "source=%s\n", svc.Source)
	fmt.Fprintf(h, "start_command=%s\n", svc.StartCommand)

	keys := make([]string, 0, len(svc.Config))
	for k := range svc.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "config.%s=%s\n", k, svc.Config[k])
	}

	fmt.Fprintf(h, "health=%s,%s,%s,%d\n",
		svc.Health.Path, svc.Health.Interval, svc.Health.Timeout, svc.Health.MaxAttempts)

	return hex.EncodeToString(h.Sum(nil))
}
