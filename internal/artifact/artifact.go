// Package artifact reads compiled facet artifacts.
//
// Foundry reads the JSON files forge writes under its out directory
// (out/<Name>.sol/<Name>.json): selectors come from methodIdentifiers and
// creation code from bytecode.object. Static serves artifacts from memory.
package artifact

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/roach88/diamondctl/internal/ir"
)

// ErrNotFound is returned when no artifact exists for a contract name.
var ErrNotFound = errors.New("artifact not found")

// Contract is the compiled form of one contract.
type Contract struct {
	Selectors []ir.Selector
	Bytecode  []byte
}

// foundryArtifact is the subset of a forge artifact that is read.
type foundryArtifact struct {
	MethodIdentifiers map[string]string `json:"methodIdentifiers"`
	Bytecode          struct {
		Object string `json:"object"`
	} `json:"bytecode"`
}

// Foundry reads forge artifacts from an out directory. Parsed artifacts are
// cached. Safe for concurrent use.
type Foundry struct {
	dir string

	mu    sync.Mutex
	cache map[string]Contract
}

// NewFoundry creates a reader rooted at dir.
func NewFoundry(dir string) *Foundry {
	return &Foundry{dir: dir, cache: map[string]Contract{}}
}

// Selectors implements engine.ArtifactSource.
func (f *Foundry) Selectors(name string) ([]ir.Selector, error) {
	c, err := f.load(name)
	if err != nil {
		return nil, err
	}
	return c.Selectors, nil
}

// Bytecode implements engine.ArtifactSource.
func (f *Foundry) Bytecode(name string) ([]byte, error) {
	c, err := f.load(name)
	if err != nil {
		return nil, err
	}
	return c.Bytecode, nil
}

func (f *Foundry) load(name string) (Contract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.cache[name]; ok {
		return c, nil
	}

	path := filepath.Join(f.dir, name+".sol", name+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Contract{}, fmt.Errorf("%s: %w (looked in %s)", name, ErrNotFound, path)
	}
	if err != nil {
		return Contract{}, fmt.Errorf("read artifact %s: %w", name, err)
	}

	c, err := ParseFoundry(data)
	if err != nil {
		return Contract{}, fmt.Errorf("artifact %s: %w", name, err)
	}
	f.cache[name] = c
	return c, nil
}

// ParseFoundry decodes one forge artifact. Selectors are returned sorted.
func ParseFoundry(data []byte) (Contract, error) {
	var raw foundryArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return Contract{}, fmt.Errorf("parse artifact JSON: %w", err)
	}

	sels := make([]ir.Selector, 0, len(raw.MethodIdentifiers))
	for sig, id := range raw.MethodIdentifiers {
		sel, err := ir.ParseSelector(id)
		if err != nil {
			return Contract{}, fmt.Errorf("method %s: %w", sig, err)
		}
		if derived := ir.SelectorFromSignature(sig); derived != sel {
			return Contract{}, fmt.Errorf("method %s: identifier %s does not match signature hash %s", sig, sel, derived)
		}
		sels = append(sels, sel)
	}

	code, err := hex.DecodeString(strings.TrimPrefix(raw.Bytecode.Object, "0x"))
	if err != nil {
		return Contract{}, fmt.Errorf("decode bytecode: %w", err)
	}

	return Contract{Selectors: ir.SortSelectors(sels), Bytecode: code}, nil
}

// Static serves artifacts from memory.
type Static map[string]Contract

// FromSignatures builds a Contract whose selectors are derived from Solidity
// function signatures. The bytecode is a non-empty stand-in derived from the
// name.
func FromSignatures(name string, signatures ...string) Contract {
	sels := make([]ir.Selector, 0, len(signatures))
	for _, sig := range signatures {
		sels = append(sels, ir.SelectorFromSignature(sig))
	}
	return Contract{Selectors: ir.SortSelectors(sels), Bytecode: []byte("bytecode:" + name)}
}

// Selectors implements engine.ArtifactSource.
func (s Static) Selectors(name string) ([]ir.Selector, error) {
	c, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return c.Selectors, nil
}

// Bytecode implements engine.ArtifactSource.
func (s Static) Bytecode(name string) ([]byte, error) {
	c, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return c.Bytecode, nil
}
