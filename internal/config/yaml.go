package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/roach88/diamondctl/internal/ir"
)

// ParseYAML decodes a YAML deploy config. Unknown fields are rejected so a
// typo like "deployExlude" fails instead of being silently ignored. The
// decoded config is then checked against the CUE schema.
func ParseYAML(data []byte) (ir.DeployConfig, error) {
	var cfg ir.DeployConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return ir.DeployConfig{}, &LoadError{Code: ErrCodeParse, Message: "config file is empty"}
		}
		return ir.DeployConfig{}, &LoadError{Code: ErrCodeParse, Message: fmt.Sprintf("parsing YAML: %v", err)}
	}
	if cfg.Facets == nil {
		cfg.Facets = map[string]ir.FacetConfig{}
	}

	if err := checkSchema(document(cfg)); err != nil {
		return ir.DeployConfig{}, err
	}
	return cfg, nil
}

// document renders cfg with the field names the schema and the YAML file use.
// Empty optional fields are left out.
func document(cfg ir.DeployConfig) map[string]any {
	facets := make(map[string]any, len(cfg.Facets))
	for name, fc := range cfg.Facets {
		versions := make(map[string]any, len(fc.Versions))
		for version, spec := range fc.Versions {
			versions[strconv.Itoa(version)] = versionDocument(spec)
		}
		facets[name] = map[string]any{
			"priority": fc.Priority,
			"versions": versions,
		}
	}

	doc := map[string]any{
		"protocolVersion": cfg.ProtocolVersion,
		"facets":          facets,
	}
	if cfg.ProtocolInitFacet != "" {
		doc["protocolInitFacet"] = cfg.ProtocolInitFacet
	}
	return doc
}

func versionDocument(spec ir.VersionSpec) map[string]any {
	out := map[string]any{}
	if spec.DeployInit != "" {
		out["deployInit"] = spec.DeployInit
	}
	if spec.UpgradeInit != "" {
		out["upgradeInit"] = spec.UpgradeInit
	}
	if len(spec.Callbacks) > 0 {
		out["callbacks"] = spec.Callbacks
	}
	if len(spec.DeployInclude) > 0 {
		out["deployInclude"] = selectorStrings(spec.DeployInclude)
	}
	if len(spec.DeployExclude) > 0 {
		out["deployExclude"] = selectorStrings(spec.DeployExclude)
	}
	return out
}

func selectorStrings(sels []ir.Selector) []string {
	out := make([]string, len(sels))
	for i, s := range sels {
		out[i] = s.String()
	}
	return out
}

// MarshalYAML renders cfg in the same shape ParseYAML reads.
func MarshalYAML(cfg ir.DeployConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encoding YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding YAML: %w", err)
	}
	return buf.Bytes(), nil
}
