// Package trace implements the inspector/trace plumbing (C9): a collector
// that records the before/step/after message sequence of a call's
// execution, a dual-inspector composition that lets a trace collector and a
// user-supplied inspector observe the same execution side by side, and a
// call-override hook for substituting a call's result before it executes
// (the console.log interception / debug_traceCall override path).
package trace

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ExecutionStatus classifies how a call or create message ended.
type ExecutionStatus int

const (
	StatusSuccess ExecutionStatus = iota
	StatusRevert
	StatusHalt
)

// BeforeMessage is emitted before a call or create message executes.
type BeforeMessage struct {
	Depth       int
	To          *common.Address // nil for a create message
	Data        []byte
	Value       *big.Int
	CodeAddress *common.Address
	Code        []byte
}

// StepMessage is emitted once per executed opcode.
type StepMessage struct {
	PC    uint64
	Depth uint64
}

// AfterMessage is emitted when a call or create message completes.
type AfterMessage struct {
	Status      ExecutionStatus
	GasUsed     uint64
	GasRefunded uint64
	Logs        []*types.Log
	Output      []byte
	CreatedAddr *common.Address // set for a successful create
	HaltReason  string          // set when Status == StatusHalt
}

// Message is one entry in a recorded Trace, holding exactly one of its
// fields depending on which stage produced it.
type Message struct {
	Before *BeforeMessage
	Step   *StepMessage
	After  *AfterMessage
}

// Trace is the ordered sequence of messages recorded for one top-level call,
// including every nested call or create it made.
type Trace struct {
	Messages    []Message
	ReturnValue []byte
}

// Inspector observes a call's execution as it happens. It is the seam an
// Executor (builder.Executor's underlying EVM) drives while running a
// transaction; opcode-level execution itself is out of scope, so Inspector
// only describes the shape of what an external EVM would report.
type Inspector interface {
	Before(msg BeforeMessage)
	Step(msg StepMessage)
	After(msg AfterMessage)
}

// Collector gathers the before/step/after sequence of a call into a Trace.
// A Before message is buffered rather than appended immediately: if the
// call it announces is reverted before producing any step, the buffered
// message is discarded instead of leaving an orphaned entry in the trace.
type Collector struct {
	trace         Trace
	pendingBefore *BeforeMessage
}

// NewCollector creates an empty trace collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) flushPending() {
	if c.pendingBefore != nil {
		c.trace.Messages = append(c.trace.Messages, Message{Before: c.pendingBefore})
		c.pendingBefore = nil
	}
}

// Before records the start of a call or create message. Only one Before
// message may be pending at a time; a second Before call flushes the first.
func (c *Collector) Before(msg BeforeMessage) {
	c.flushPending()
	m := msg
	c.pendingBefore = &m
}

// Step records one executed opcode.
func (c *Collector) Step(msg StepMessage) {
	c.flushPending()
	c.trace.Messages = append(c.trace.Messages, Message{Step: &msg})
}

// After records the completion of a call or create message. A revert with
// no steps taken discards its pending Before message entirely, matching the
// return_revert short-circuit in call_end semantics.
func (c *Collector) After(msg AfterMessage) {
	if msg.Status == StatusRevert && c.pendingBefore != nil {
		c.pendingBefore = nil
		return
	}
	c.flushPending()
	c.trace.Messages = append(c.trace.Messages, Message{After: &msg})
}

// IntoTrace returns the accumulated trace and resets the collector to
// gather a fresh one.
func (c *Collector) IntoTrace() Trace {
	t := c.trace
	c.trace = Trace{}
	c.pendingBefore = nil
	return t
}

// DualInspector runs two inspectors side by side against the same
// execution: Immutable first, then Mutable. Pairs a Collector with a
// caller-supplied inspector so tracing and user instrumentation never
// interfere with each other's view of the call.
type DualInspector struct {
	Immutable Inspector
	Mutable   Inspector
}

// NewDualInspector pairs immutable and mutable into one Inspector.
func NewDualInspector(immutable, mutable Inspector) *DualInspector {
	return &DualInspector{Immutable: immutable, Mutable: mutable}
}

func (d *DualInspector) Before(msg BeforeMessage) {
	d.Immutable.Before(msg)
	d.Mutable.Before(msg)
}

func (d *DualInspector) Step(msg StepMessage) {
	d.Immutable.Step(msg)
	d.Mutable.Step(msg)
}

func (d *DualInspector) After(msg AfterMessage) {
	d.Immutable.After(msg)
	d.Mutable.After(msg)
}

// CallOverrideResult is the substituted outcome of a call that a
// CallOverrideFunc chooses to short-circuit, bypassing normal execution
// entirely (Hardhat's console.log interception works this way: a call to
// the console.log precompile address never reaches the EVM).
type CallOverrideResult struct {
	Output  []byte
	GasUsed uint64
	Revert  bool
}

// CallOverrideFunc inspects an outgoing call before it executes and may
// substitute its result. The bool return reports whether the override
// applies; when false, CallOverrideResult is ignored and the call proceeds
// normally.
type CallOverrideFunc func(to common.Address, data []byte, value *big.Int) (CallOverrideResult, bool)

// Container holds the optional collector and caller-supplied inspector for
// one execution, composing them into a single Inspector when both are
// present. A four-variant enum of collector/external combinations collapses
// naturally into the two independent optional fields Go's nil-interface
// idiom already expresses.
type Container struct {
	collector *Collector
	external  Inspector
}

// NewContainer builds a container. withTrace requests a Collector; external
// may be nil.
func NewContainer(withTrace bool, external Inspector) *Container {
	c := &Container{external: external}
	if withTrace {
		c.collector = NewCollector()
	}
	return c
}

// AsInspector returns the single Inspector an Executor should drive, or nil
// if neither a collector nor an external inspector was requested.
func (c *Container) AsInspector() Inspector {
	switch {
	case c.collector != nil && c.external != nil:
		return NewDualInspector(c.collector, c.external)
	case c.collector != nil:
		return c.collector
	case c.external != nil:
		return c.external
	default:
		return nil
	}
}

// ClearTrace returns the collected trace, if a collector was requested, and
// resets it to collect a fresh one.
func (c *Container) ClearTrace() (Trace, bool) {
	if c.collector == nil {
		return Trace{}, false
	}
	return c.collector.IntoTrace(), true
}
