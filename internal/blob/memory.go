package blob

import (
	memorystore "github.com/i2kashif/CopperCore-sub002/internal/infra/blob/memory"
)

// NewMemory returns an in-memory blob.Store suitable for tests.
func NewMemory() Store { return memorystore.New() }
