package ivylab

import (
	"github.com/ivylab/ivylab/entitlement"
	"github.com/ivylab/ivylab/subscription"
	"github.com/ivylab/ivylab/types"
)

// Re-export common types so callers rarely need the sub-packages.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Decision is the result of Entitled.
type Decision = entitlement.Decision

// Snapshot is the session-cached subscription state passed to Entitled.
type Snapshot = entitlement.Snapshot

// Delta is the partial update accepted by ApplyLifecycle.
type Delta = subscription.Delta

var (
	USD       = types.USD
	Zero      = types.Zero
	NewEntity = types.NewEntity
)
