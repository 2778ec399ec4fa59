package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diamondctl/internal/ir"
)

func TestLoadScenario_AllFixtures(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.NotEmpty(t, scenario.Name)
			assert.NotEmpty(t, scenario.Runs)
		})
	}
}

func TestLoadScenario_DecodesConfig(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "exclude_on_upgrade.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "exclude_on_upgrade", scenario.Name)
	assert.Equal(t, "run-upgrade", scenario.RunID)
	require.Len(t, scenario.Runs, 2)

	token := scenario.Runs[1].Config.Facets["TokenFacet"]
	assert.Equal(t, 10, token.Priority)
	assert.Equal(t, []ir.Selector{ir.MustParseSelector("0x70a08231")}, token.Versions[2].DeployExclude)
	assert.Equal(t, 2, scenario.Runs[1].Config.ProtocolVersion)
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "minimal", scenario.Name)
}

const minimalScenario = `name: minimal
description: one facet
artifacts:
  AFacet: ["0x00000001"]
runs:
  - config:
      protocolVersion: 1
      facets:
        AFacet: {priority: 1, versions: {1: {}}}
assertions:
  - {type: routes, selector: "0x00000001", facet: AFacet}
`

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", minimalScenario + "assertion: []\n", "failed to parse YAML"},
		{"missing name", "description: d\nruns: [{config: {protocolVersion: 1, facets: {}}}]\nassertions: [{type: protocol_version}]\n", "name is required"},
		{"missing description", "name: n\nruns: [{config: {protocolVersion: 1, facets: {}}}]\nassertions: [{type: protocol_version}]\n", "description is required"},
		{"no runs", "name: n\ndescription: d\nruns: []\nassertions: [{type: protocol_version}]\n", "runs list is required"},
		{"no assertions", "name: n\ndescription: d\nruns: [{config: {protocolVersion: 1, facets: {}}}]\n", "assertions list is required"},
		{"bad artifact", "name: n\ndescription: d\nartifacts: {A: [\"0x12\"]}\nruns: [{config: {protocolVersion: 1, facets: {}}}]\nassertions: [{type: protocol_version}]\n", "artifacts.A"},
		{"fail without target", "name: n\ndescription: d\nruns: [{fail: {reason: r}, config: {protocolVersion: 1, facets: {}}}]\nassertions: [{type: protocol_version}]\n", "target is required"},
		{"unknown assertion", "name: n\ndescription: d\nruns: [{config: {protocolVersion: 1, facets: {}}}]\nassertions: [{type: trace_order}]\n", "unknown assertion type"},
		{"routes without facet", "name: n\ndescription: d\nruns: [{config: {protocolVersion: 1, facets: {}}}]\nassertions: [{type: routes, selector: \"0x00000001\"}]\n", "selector and facet are required"},
		{"bad selector", "name: n\ndescription: d\nruns: [{config: {protocolVersion: 1, facets: {}}}]\nassertions: [{type: unrouted, selector: \"0xzz\"}]\n", "assertions[0]"},
		{"count without event", "name: n\ndescription: d\nruns: [{config: {protocolVersion: 1, facets: {}}}]\nassertions: [{type: trace_count, count: 1}]\n", "event is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseABI_SelectorsAndSignatures(t *testing.T) {
	sels, err := parseABI([]string{"transfer(address,uint256)", "0x70a08231"})
	require.NoError(t, err)
	assert.Equal(t, []ir.Selector{
		ir.MustParseSelector("0x70a08231"),
		ir.MustParseSelector("0xa9059cbb"),
	}, sels)
}
