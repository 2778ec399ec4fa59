// Package ir provides the shared data model for diamondctl.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps the
// data model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - A Registry is a true mapping: one RegistryEntry per Selector
//   - Priority values come from configuration and are never derived
//   - All JSON tags use snake_case
//   - Canonical JSON (RFC 8785 subset) is the only encoding used for hashing
package ir
