// Package sim provides an in-memory chain that implements both
// engine.Executor and engine.Broker.
//
// Contracts get deterministic addresses derived from the sender and a nonce.
// Proxies keep a selector dispatch table that diamondCut updates with
// ERC-2535 rules: Add requires an absent selector, Replace requires a present
// selector routed to a different address, Remove requires the zero address
// and a present selector. A cut that breaks any rule changes nothing.
//
// Remote requests stay pending for a configurable number of status checks
// before they execute, so polling and resumption can be exercised. Snapshot
// and Load carry contracts, dispatch tables and requests across processes.
package sim

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/roach88/diamondctl/internal/cut"
	"github.com/roach88/diamondctl/internal/engine"
	"github.com/roach88/diamondctl/internal/ir"
)

// pendingState is reported for requests that have not executed yet.
const pendingState engine.RemoteState = "queued"

// CutFailure is the failure target name that matches every cut.
const CutFailure = "diamondCut"

// DefaultSender is the account the chain executes as unless overridden.
var DefaultSender = ir.AddressFromBytes(keccak([]byte("diamondctl/sim/sender")))

// CutCall is one applied diamondCut.
type CutCall struct {
	Diamond ir.Address
	Plan    cut.Plan
	TxRef   string
}

type contract struct {
	Name string            `json:"name"`
	Kind engine.DeployKind `json:"kind"`
}

type proxy struct {
	Owner ir.Address                `json:"owner"`
	Table map[ir.Selector]ir.Address `json:"table"`
}

// request is a remote submission. Exactly one of Deploy and Proposal is set.
type request struct {
	State     engine.RemoteState    `json:"state"`
	Remaining int                   `json:"remaining"`
	Deploy    *engine.DeployRequest `json:"deploy,omitempty"`
	Proposal  *engine.Proposal      `json:"proposal,omitempty"`
	Result    ir.StepResult         `json:"result"`
	Reason    string                `json:"reason,omitempty"`
}

// snapshot is the persistent part of a Chain. Failure injections and the
// per-process counters (Deployments, Cuts, Submissions) are not carried.
type snapshot struct {
	Nonce     uint64                  `json:"nonce"`
	Contracts map[ir.Address]contract `json:"contracts"`
	Proxies   map[ir.Address]*proxy   `json:"proxies"`
	Requests  map[string]*request     `json:"requests"`
}

// Chain is an in-memory execution backend. Safe for concurrent use.
type Chain struct {
	mu sync.Mutex

	sender       ir.Address
	nonce        uint64
	pendingPolls int
	refs         engine.RunIDGenerator

	contracts map[ir.Address]contract
	proxies   map[ir.Address]*proxy
	requests  map[string]*request
	failures  map[string]string

	deployments []string
	cuts        []CutCall
	submissions int
}

// Option configures a Chain.
type Option func(*Chain)

// WithSender sets the executing account.
func WithSender(addr ir.Address) Option {
	return func(c *Chain) {
		c.sender = addr
	}
}

// WithPendingPolls keeps every remote request pending for n status checks
// before it executes.
func WithPendingPolls(n int) Option {
	return func(c *Chain) {
		c.pendingPolls = n
	}
}

// WithRefGenerator sets the source of remote request refs (default UUIDv7).
func WithRefGenerator(gen engine.RunIDGenerator) Option {
	return func(c *Chain) {
		c.refs = gen
	}
}

// New creates an empty chain.
func New(opts ...Option) *Chain {
	c := &Chain{
		sender:    DefaultSender,
		refs:      engine.UUIDv7Generator{},
		contracts: map[ir.Address]contract{},
		proxies:   map[ir.Address]*proxy{},
		requests:  map[string]*request{},
		failures:  map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FailNext makes the next deployment of name (or the next cut, for
// CutFailure) fail with reason.
func (c *Chain) FailNext(name, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[name] = reason
}

// SetPendingPolls changes how many status checks new requests stay pending.
func (c *Chain) SetPendingPolls(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingPolls = n
}

// Sender implements engine.Executor and engine.Broker.
func (c *Chain) Sender(context.Context) (ir.Address, error) {
	return c.sender, nil
}

// DeployContract implements engine.Executor.
func (c *Chain) DeployContract(_ context.Context, req engine.DeployRequest) (engine.Deployment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deployLocked(req)
}

// DiamondCut implements engine.Executor.
func (c *Chain) DiamondCut(_ context.Context, addr ir.Address, plan cut.Plan) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cutLocked(addr, plan)
}

// SubmitDeployment implements engine.Broker.
func (c *Chain) SubmitDeployment(_ context.Context, req engine.DeployRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitLocked(&request{Deploy: &req}), nil
}

// SubmitProposal implements engine.Broker. The proposal executes as a
// diamondCut once it leaves the pending state.
func (c *Chain) SubmitProposal(_ context.Context, p engine.Proposal) (string, error) {
	hash, err := ir.CutPayloadHash(p.Plan.Payload())
	if err != nil {
		return "", err
	}
	if p.PayloadHash != "" && p.PayloadHash != hash {
		return "", fmt.Errorf("proposal payload hash %s does not match plan hash %s", p.PayloadHash, hash)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitLocked(&request{Proposal: &p}), nil
}

// Status implements engine.Broker. Each call counts as one check; a request
// executes on the check after its pending checks run out.
func (c *Chain) Status(_ context.Context, ref string) (engine.StatusReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.requests[ref]
	if !ok {
		return engine.StatusReport{}, fmt.Errorf("%w: %s", engine.ErrUnknownRef, ref)
	}
	if req.State == pendingState {
		if req.Remaining > 0 {
			req.Remaining--
		} else {
			res, err := c.executeLocked(req)
			if err != nil {
				req.State = engine.StateFailed
				req.Reason = err.Error()
			} else {
				req.State = engine.StateCompleted
				req.Result = res
			}
		}
	}
	return engine.StatusReport{State: req.State, Result: req.Result, Reason: req.Reason}, nil
}

func (c *Chain) submitLocked(req *request) string {
	ref := c.refs.Generate()
	req.State = pendingState
	req.Remaining = c.pendingPolls
	c.requests[ref] = req
	c.submissions++
	return ref
}

func (c *Chain) executeLocked(req *request) (ir.StepResult, error) {
	if req.Deploy != nil {
		dep, err := c.deployLocked(*req.Deploy)
		if err != nil {
			return ir.StepResult{}, err
		}
		return ir.StepResult{Address: dep.Address, TxRef: dep.TxRef}, nil
	}
	if req.Proposal == nil {
		return ir.StepResult{}, fmt.Errorf("request carries neither a deployment nor a proposal")
	}
	txRef, err := c.cutLocked(req.Proposal.Diamond, req.Proposal.Plan)
	if err != nil {
		return ir.StepResult{}, err
	}
	return ir.StepResult{Address: req.Proposal.Diamond, TxRef: txRef}, nil
}

func (c *Chain) deployLocked(req engine.DeployRequest) (engine.Deployment, error) {
	if reason, ok := c.failures[req.Name]; ok {
		delete(c.failures, req.Name)
		return engine.Deployment{}, fmt.Errorf("deploy %s reverted: %s", req.Name, reason)
	}
	if len(req.Bytecode) == 0 {
		return engine.Deployment{}, fmt.Errorf("deploy %s: empty bytecode", req.Name)
	}

	var table map[ir.Selector]ir.Address
	if req.Kind == engine.KindProxy {
		if len(req.ConstructorArgs) != 2 {
			return engine.Deployment{}, fmt.Errorf("deploy %s: proxy wants owner and cut facet, got %d args", req.Name, len(req.ConstructorArgs))
		}
		cutFacet := req.ConstructorArgs[1]
		if _, ok := c.contracts[cutFacet]; !ok {
			return engine.Deployment{}, fmt.Errorf("deploy %s: cut facet %s has no code", req.Name, cutFacet)
		}
		table = map[ir.Selector]ir.Address{}
		for _, sel := range req.Selectors {
			table[sel] = cutFacet
		}
	}

	addr, txRef := c.nextAddressLocked()
	c.contracts[addr] = contract{Name: req.Name, Kind: req.Kind}
	c.deployments = append(c.deployments, req.Name)
	if table != nil {
		c.proxies[addr] = &proxy{Owner: req.ConstructorArgs[0], Table: table}
	}
	return engine.Deployment{Address: addr, TxRef: txRef}, nil
}

func (c *Chain) cutLocked(addr ir.Address, plan cut.Plan) (string, error) {
	if reason, ok := c.failures[CutFailure]; ok {
		delete(c.failures, CutFailure)
		return "", fmt.Errorf("diamondCut reverted: %s", reason)
	}
	p, ok := c.proxies[addr]
	if !ok {
		return "", fmt.Errorf("diamondCut: %s is not a diamond", addr)
	}

	table := maps.Clone(p.Table)
	for _, rec := range plan.Records {
		if err := c.applyLocked(table, rec); err != nil {
			return "", fmt.Errorf("diamondCut: %w", err)
		}
	}
	if !plan.InitAddress.IsZero() {
		if _, ok := c.contracts[plan.InitAddress]; !ok {
			return "", fmt.Errorf("diamondCut: initializer %s has no code", plan.InitAddress)
		}
		if len(plan.InitCalldata) == 0 {
			return "", fmt.Errorf("diamondCut: initializer %s without calldata", plan.InitAddress)
		}
	}

	p.Table = table
	_, txRef := c.nextAddressLocked()
	c.cuts = append(c.cuts, CutCall{Diamond: addr, Plan: plan, TxRef: txRef})
	return txRef, nil
}

func (c *Chain) applyLocked(table map[ir.Selector]ir.Address, rec ir.CutRecord) error {
	for _, sel := range rec.Selectors {
		current, exists := table[sel]
		switch rec.Action {
		case ir.ActionAdd:
			if exists {
				return fmt.Errorf("add %s: selector already routed to %s", sel, current)
			}
			if _, ok := c.contracts[rec.FacetAddress]; !ok {
				return fmt.Errorf("add %s: facet %s has no code", sel, rec.FacetAddress)
			}
			table[sel] = rec.FacetAddress
		case ir.ActionReplace:
			if !exists {
				return fmt.Errorf("replace %s: selector not routed", sel)
			}
			if current == rec.FacetAddress {
				return fmt.Errorf("replace %s: already routed to %s", sel, current)
			}
			if _, ok := c.contracts[rec.FacetAddress]; !ok {
				return fmt.Errorf("replace %s: facet %s has no code", sel, rec.FacetAddress)
			}
			table[sel] = rec.FacetAddress
		case ir.ActionRemove:
			if rec.FacetAddress != ir.ZeroAddress {
				return fmt.Errorf("remove %s: facet address must be zero, got %s", sel, rec.FacetAddress)
			}
			if !exists {
				return fmt.Errorf("remove %s: selector not routed", sel)
			}
			delete(table, sel)
		default:
			return fmt.Errorf("%s: unsupported action %q", sel, rec.Action)
		}
	}
	return nil
}

// nextAddressLocked derives a contract address and a transaction ref from
// the sender and the next nonce. Addresses that already hold code, such as
// restored contracts, are skipped.
func (c *Chain) nextAddressLocked() (ir.Address, string) {
	for {
		c.nonce++
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], c.nonce)
		addr := ir.AddressFromBytes(keccak([]byte(c.sender), buf[:]))
		if _, taken := c.contracts[addr]; taken {
			continue
		}
		tx := keccak([]byte("tx"), []byte(c.sender), buf[:])
		return addr, fmt.Sprintf("0x%x", tx)
	}
}

// Restore loads a previously persisted diamond: the proxy, every recorded
// facet and a dispatch table routing each recorded selector to its facet.
// It lets a fresh process continue a deployment whose state lives in the
// store. Restoring a diamond that already exists replaces its table.
func (c *Chain) Restore(data ir.DeployedDiamondData) error {
	if data.DiamondAddress.IsZero() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	table := map[ir.Selector]ir.Address{}
	for _, name := range data.FacetNames() {
		rec := data.DeployedFacets[name]
		addr := rec.Address.Normalize()
		if addr.IsZero() {
			return fmt.Errorf("restore %s: facet %s has no address", data.DiamondAddress, name)
		}
		c.contracts[addr] = contract{Name: name, Kind: engine.KindFacet}
		for _, sel := range rec.Selectors {
			if owner, dup := table[sel]; dup {
				return fmt.Errorf("restore %s: selector %s routed to both %s and %s", data.DiamondAddress, sel, owner, addr)
			}
			table[sel] = addr
		}
	}

	diamond := data.DiamondAddress.Normalize()
	c.contracts[diamond] = contract{Name: "Diamond", Kind: engine.KindProxy}
	c.proxies[diamond] = &proxy{Owner: data.DeployerAddress.Normalize(), Table: table}
	return nil
}

// Snapshot serializes every contract, dispatch table and remote request,
// pending ones included, so a later process can Load it and keep polling
// the same refs.
func (c *Chain) Snapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(snapshot{
		Nonce:     c.nonce,
		Contracts: c.contracts,
		Proxies:   c.proxies,
		Requests:  c.requests,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot chain: %w", err)
	}
	return data, nil
}

// Load replaces the chain's contracts, dispatch tables and requests with a
// Snapshot.
func (c *Chain) Load(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("load chain snapshot: %w", err)
	}
	for ref, req := range snap.Requests {
		if (req.Deploy == nil) == (req.Proposal == nil) {
			return fmt.Errorf("load chain snapshot: request %s must carry one deployment or proposal", ref)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonce = snap.Nonce
	c.contracts = orEmpty(snap.Contracts)
	c.proxies = orEmpty(snap.Proxies)
	c.requests = orEmpty(snap.Requests)
	return nil
}

func orEmpty[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}

func keccak(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

// Table returns a copy of the dispatch table of the diamond at addr.
func (c *Chain) Table(addr ir.Address) map[ir.Selector]ir.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.proxies[addr]
	if !ok {
		return nil
	}
	return maps.Clone(p.Table)
}

// Owner returns the owner the diamond at addr was constructed with.
func (c *Chain) Owner(addr ir.Address) ir.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.proxies[addr]; ok {
		return p.Owner
	}
	return ""
}

// Contract returns the name and kind a contract was deployed under.
func (c *Chain) Contract(addr ir.Address) (string, engine.DeployKind, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.contracts[addr]
	return ct.Name, ct.Kind, ok
}

// Deployments returns deployed contract names in deployment order.
func (c *Chain) Deployments() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.deployments))
	copy(out, c.deployments)
	return out
}

// Cuts returns every applied diamondCut in order.
func (c *Chain) Cuts() []CutCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CutCall, len(c.cuts))
	copy(out, c.cuts)
	return out
}

// Submissions returns how many remote requests were submitted.
func (c *Chain) Submissions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submissions
}
