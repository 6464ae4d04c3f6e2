package partition

import (
	"context"
	"slices"

	"github.com/auditvault/auditperf/pkg/types"
)

// StaticPolicies serves a fixed policy list, typically from configuration.
type StaticPolicies []types.RetentionPolicy

var _ types.RetentionPolicySource = StaticPolicies(nil)

// Policies implements types.RetentionPolicySource.
func (s StaticPolicies) Policies(context.Context) ([]types.RetentionPolicy, error) {
	return slices.Clone(s), nil
}

// resolvePolicy finds name in policies, falling back to a policy built from
// the default retention when the name is unknown.
func resolvePolicy(policies []types.RetentionPolicy, name string, defaultDays int) types.RetentionPolicy {
	for _, p := range policies {
		if p.Name == name {
			if p.RetentionDays <= 0 {
				p.RetentionDays = defaultDays
			}
			return p
		}
	}
	return types.RetentionPolicy{Name: name, RetentionDays: defaultDays}
}
