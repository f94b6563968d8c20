package ivylab

import "github.com/ivylab/ivylab/id"

// ID is the TypeID used for sessions and audit events.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
