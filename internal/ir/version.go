package ir

// Version constants for persisted records and the tool itself.
const (
	// SchemaVersion is the persisted record schema version.
	SchemaVersion = "1"

	// ToolVersion is the diamondctl version.
	ToolVersion = "0.1.0"
)
