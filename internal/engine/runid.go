package engine

import "github.com/google/uuid"

// RunIDGenerator generates run ids for log and trace correlation.
// testutil.FixedRunID stands in for it in tests.
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run ids. The simulated
// execution service uses it for request refs too.
type UUIDv7Generator struct{}

// Generate panics only if the system entropy source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
