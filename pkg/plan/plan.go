// Package plan defines the Install Plan, the immutable descriptor that
// flows unchanged from the update-check collaborator, through the
// Download Stage, to the activation step.
package plan

import "github.com/google/uuid"

// Plan is an immutable value carried through the pipeline. Construct one
// with New; downstream stages re-emit it unchanged on their output side.
type Plan struct {
	// ID correlates log lines and history entries for one update attempt.
	ID uuid.UUID

	IsFullUpdate bool
	URL          string
	PayloadSize  uint64
	PayloadHash  []byte
	InstallPath  string
}

// New constructs a Plan, generating a fresh correlation ID.
func New(isFullUpdate bool, url string, payloadSize uint64, payloadHash []byte, installPath string) Plan {
	return Plan{
		ID:           uuid.New(),
		IsFullUpdate: isFullUpdate,
		URL:          url,
		PayloadSize:  payloadSize,
		PayloadHash:  payloadHash,
		InstallPath:  installPath,
	}
}
