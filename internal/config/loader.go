// Package config loads the desired deployment configuration from YAML or CUE
// files. Both formats are checked against the embedded CUE schema in
// schema.cue and then against the semantic rules in Validate.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/diamondctl/internal/ir"
)

// Error codes for loading. Validation codes live in validate.go.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeParse       = "E004" // YAML or CUE syntax error
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeSchema      = "E006" // Document does not match the schema
	ErrCodeUnsupported = "E008" // Unknown file extension
	ErrCodeInvalid     = "E200" // Semantic validation failed
)

// LoadError represents an error that occurred while loading a config file.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available

	// Errors holds every semantic violation when Code is ErrCodeInvalid.
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Load reads a deploy config from path. The format is picked by extension:
// .yaml and .yml are YAML, .cue is CUE.
func Load(path string) (ir.DeployConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ir.DeployConfig{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path)}
	}
	if err != nil {
		return ir.DeployConfig{}, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("reading config file: %v", err)}
	}

	var cfg ir.DeployConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	case ".cue":
		cfg, err = ParseCUE(path, data)
	default:
		return ir.DeployConfig{}, &LoadError{
			Code:    ErrCodeUnsupported,
			Message: fmt.Sprintf("unsupported config extension %q (want .yaml, .yml or .cue)", filepath.Ext(path)),
		}
	}
	if err != nil {
		return ir.DeployConfig{}, err
	}

	if errs := Validate(cfg); len(errs) > 0 {
		msg := errs[0].Error()
		if len(errs) > 1 {
			msg = fmt.Sprintf("%s (and %d more)", msg, len(errs)-1)
		}
		return ir.DeployConfig{}, &LoadError{Code: ErrCodeInvalid, Message: msg, Errors: errs}
	}
	return cfg, nil
}

// FileLoader returns a loader that rereads path on every call, so a long
// running process always sees the current file.
func FileLoader(path string) func(context.Context) (ir.DeployConfig, error) {
	return func(context.Context) (ir.DeployConfig, error) {
		return Load(path)
	}
}
