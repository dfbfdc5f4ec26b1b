package fingerprint

import "github.com/google/uuid"

// CacheContext carries the run-wide values folded into every fingerprint.
type CacheContext struct {
	// Namespace separates projects sharing one cache index.
	Namespace string `json:"namespace"`
	// ArtifactStoreID and ArtifactStoreRoot keep entries from one artifact
	// store from being reused against another.
	ArtifactStoreID   string `json:"artifact_store_id"`
	ArtifactStoreRoot string `json:"artifact_store_root"`
	// RunNonce is unique per run and salts steps that must not be reused.
	RunNonce string `json:"run_nonce"`
}

// NewRunNonce returns a fresh random nonce.
func NewRunNonce() string {
	return uuid.NewString()
}
