package models

import (
	"path/filepath"
)

// ProvisioningContext carries the identity of a single run. It is built once the
// metadata and settings have been resolved and is passed by value afterwards.
type ProvisioningContext struct {
	RunID         string // KSUID identifying this run
	RepositoryURL string // Source repository cloned into TargetDir
	TargetDir     string // Absolute path of the application checkout
	Region        string // Region reported by the metadata service (or the default)
	InstanceID    string // Instance id reported by the metadata service
}

// Path joins rel onto the target directory
func (p ProvisioningContext) Path(rel string) string {
	return filepath.Join(p.TargetDir, rel)
}

// RequiredFileSet lists paths, relative to the checkout root, that must exist
// before anything depending on the checkout runs. Order is preserved so the
// first missing file reported is deterministic.
type RequiredFileSet []string

// Identity is the (region, instance id) pair reported by the metadata service
type Identity struct {
	Region     string
	InstanceID string
}
