// Package intcode implements the Intcode virtual machine.
//
// Intcode is an integer-only instruction set. A program is a sequence of
// signed 64-bit cells that is loaded into memory and may rewrite itself while
// running. Memory grows on demand and reads of untouched cells yield zero.
//
// A Machine is driven cooperatively by its caller:
//   - Push queues input values.
//   - Run executes until the program halts, needs input that is not queued,
//     or produces one output value, and then returns control.
//
// Fatal decode errors (unknown opcodes, negative addresses, writes through
// immediate-mode operands) are returned as *Fault and leave the machine
// stopped; the expected suspensions are reported through Result.
package intcode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/crypto/sha3"
)

// Errors.
var (
	ErrMalformedProgram  = errors.New("malformed program")
	ErrUnknownOpcode     = errors.New("unknown opcode")
	ErrInvalidMode       = errors.New("invalid parameter mode")
	ErrNegativeAddress   = errors.New("negative address")
	ErrImmediateWrite    = errors.New("write through immediate parameter")
	ErrMemoryLimit       = errors.New("memory limit exceeded")
	ErrStepLimitExceeded = errors.New("step limit exceeded")
)

// Status is the execution state reported by Run.
type Status int

const (
	// StatusReady is the state of a machine that has not yet suspended.
	StatusReady Status = iota
	// StatusHalted means opcode 99 ran. The machine never resumes.
	StatusHalted
	// StatusBlocked means an input instruction found the queue empty.
	StatusBlocked
	// StatusOutput means one value was produced.
	StatusOutput
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusHalted:
		return "halted"
	case StatusBlocked:
		return "blocked"
	case StatusOutput:
		return "output"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is what Run hands back to the caller.
type Result struct {
	Status Status
	Value  int64 // set when Status is StatusOutput
}

// Fault is a fatal decode or addressing error.
type Fault struct {
	Cursor int64 // cursor of the failing instruction
	Cell   int64 // its opcode cell
	Err    error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("intcode fault at %d (cell %d): %v", f.Cursor, f.Cell, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Options configures a machine.
type Options struct {
	// StepLimit bounds the instructions executed across Run calls.
	// Zero means unlimited.
	StepLimit uint64

	// MaxCells bounds memory growth. Zero means unlimited.
	MaxCells int

	// Logger receives debug records on lifecycle events. Nil discards them.
	Logger *slog.Logger
}

// Machine is one Intcode virtual machine. It is not safe for concurrent use;
// independent machines share nothing and may run in parallel.
type Machine struct {
	program []int64 // loaded program, kept for Reset
	mem     Memory
	cursor  int64
	base    int64
	input   []int64

	status Status
	fault  error
	meter  *StepMeter
	opts   Options
	log    *slog.Logger
}

// New creates a machine running a copy of program.
func New(program []int64, opts Options) *Machine {
	log := opts.Logger
	if log == nil {
		log = slog.New(discardHandler{})
	}

	snapshot := make([]int64, len(program))
	copy(snapshot, program)

	m := &Machine{
		program: snapshot,
		meter:   NewStepMeter(opts.StepLimit),
		opts:    opts,
		log:     log,
	}
	m.init()
	m.log.Debug("program loaded", "cells", len(snapshot))
	return m
}

func (m *Machine) init() {
	m.mem = newMemory(m.program, m.opts.MaxCells)
	m.cursor = 0
	m.base = 0
	m.input = nil
	m.status = StatusReady
	m.fault = nil
	m.meter.Reset()
}

// Run executes instructions from the current cursor until the program halts,
// blocks on input, or outputs a value. After a halt every call returns
// StatusHalted. After a fault every call returns the same fault.
//
// ErrStepLimitExceeded is not a fault: the cursor stays on the unexecuted
// instruction and Run may be called again after raising the limit.
func (m *Machine) Run() (Result, error) {
	if m.fault != nil {
		return Result{}, m.fault
	}
	if m.status == StatusHalted {
		return Result{Status: StatusHalted}, nil
	}

	for {
		if m.meter.IsExhausted() {
			return Result{}, fmt.Errorf("%w: %d of %d steps at cursor %d", ErrStepLimitExceeded, m.meter.Consumed(), m.meter.Limit(), m.cursor)
		}

		res, suspend, err := m.step()
		if err != nil {
			var f *Fault
			if errors.As(err, &f) {
				m.fault = err
				m.log.Debug("machine fault", "err", err)
			}
			return Result{}, err
		}
		if suspend {
			m.status = res.Status
			if res.Status == StatusHalted {
				m.log.Debug("machine halted", "steps", m.meter.Consumed())
			}
			return res, nil
		}
	}
}

// step executes one instruction. suspend reports that Run must return res.
func (m *Machine) step() (res Result, suspend bool, err error) {
	start := m.cursor
	cell, err := m.mem.Read(start)
	if err != nil {
		return res, false, m.faultf(start, cell, err)
	}
	ins := Instruction(cell)

	width, ok := ins.Width()
	if !ok {
		return res, false, m.faultf(start, cell, fmt.Errorf("%w: %d", ErrUnknownOpcode, ins.Op()))
	}
	for n := 1; n <= width; n++ {
		if mode := ins.Mode(n); mode > ModeRelative || mode < 0 {
			return res, false, m.faultf(start, cell, fmt.Errorf("%w: %d for parameter %d", ErrInvalidMode, mode, n))
		}
	}

	// Operand access, n counts from 1.
	get := func(n int) int64 {
		if err != nil {
			return 0
		}
		var v int64
		v, err = m.load(ins, start, n)
		return v
	}
	set := func(n int, v int64) {
		if err != nil {
			return
		}
		err = m.store(ins, start, n, v)
	}

	next := start + 1 + int64(width)

	switch ins.Op() {
	case OpAdd:
		a, b := get(1), get(2)
		set(3, a+b)
	case OpMul:
		a, b := get(1), get(2)
		set(3, a*b)
	case OpInput:
		if len(m.input) == 0 {
			return Result{Status: StatusBlocked}, true, nil
		}
		set(1, m.input[0])
		if err == nil {
			m.input = m.input[1:]
		}
	case OpOutput:
		res = Result{Status: StatusOutput, Value: get(1)}
		suspend = true
	case OpJumpIfTrue:
		if a, target := get(1), get(2); a != 0 {
			next = target
		}
	case OpJumpIfFalse:
		if a, target := get(1), get(2); a == 0 {
			next = target
		}
	case OpLessThan:
		a, b := get(1), get(2)
		set(3, boolCell(a < b))
	case OpEquals:
		a, b := get(1), get(2)
		set(3, boolCell(a == b))
	case OpAdjustBase:
		m.base += get(1)
	case OpHalt:
		// The cursor stays on the halt cell.
		res = Result{Status: StatusHalted}
		suspend = true
		next = start
	}

	if err != nil {
		return Result{}, false, m.faultf(start, cell, err)
	}
	if cerr := m.meter.Consume(1); cerr != nil {
		return Result{}, false, cerr
	}
	m.cursor = next
	return res, suspend, nil
}

// address resolves the n-th operand of the instruction at start to a
// memory address. Immediate operands have no address.
func (m *Machine) address(ins Instruction, start int64, n int) (int64, bool, error) {
	raw, err := m.mem.Read(start + int64(n))
	if err != nil {
		return 0, false, err
	}
	switch ins.Mode(n) {
	case ModePosition:
		return raw, true, nil
	case ModeRelative:
		return m.base + raw, true, nil
	default:
		return raw, false, nil
	}
}

func (m *Machine) load(ins Instruction, start int64, n int) (int64, error) {
	addr, isAddr, err := m.address(ins, start, n)
	if err != nil || !isAddr {
		return addr, err
	}
	return m.mem.Read(addr)
}

func (m *Machine) store(ins Instruction, start int64, n int, v int64) error {
	addr, isAddr, err := m.address(ins, start, n)
	if err != nil {
		return err
	}
	if !isAddr {
		return fmt.Errorf("%w: parameter %d", ErrImmediateWrite, n)
	}
	return m.mem.Write(addr, v)
}

func (m *Machine) faultf(cursor, cell int64, err error) error {
	return &Fault{Cursor: cursor, Cell: cell, Err: err}
}

func boolCell(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// Push appends values to the input queue.
func (m *Machine) Push(values ...int64) {
	m.input = append(m.input, values...)
}

// PushASCII queues each byte of s as one input value.
func (m *Machine) PushASCII(s string) {
	for i := 0; i < len(s); i++ {
		m.input = append(m.input, int64(s[i]))
	}
}

// Poke patches memory directly, growing it as needed.
func (m *Machine) Poke(addr, value int64) error {
	return m.mem.Write(addr, value)
}

// Peek reads memory directly, growing it as needed.
func (m *Machine) Peek(addr int64) (int64, error) {
	return m.mem.Read(addr)
}

// Reset restores the state right after loading. The input queue is emptied
// and the step count is zeroed.
func (m *Machine) Reset() {
	m.init()
	m.log.Debug("machine reset")
}

// Clone returns an independent deep copy of the machine.
func (m *Machine) Clone() *Machine {
	c := *m
	c.mem = m.mem.clone()
	c.input = append([]int64(nil), m.input...)
	c.meter = m.meter.clone()
	return &c
}

// Drain runs until the machine halts or blocks on input, collecting every
// output along the way.
func (m *Machine) Drain() ([]int64, error) {
	var outputs []int64
	for {
		res, err := m.Run()
		if err != nil {
			return outputs, err
		}
		if res.Status != StatusOutput {
			return outputs, nil
		}
		outputs = append(outputs, res.Value)
	}
}

// Memory returns a copy of the live memory.
func (m *Machine) Memory() []int64 {
	return m.mem.Snapshot()
}

// Program returns a copy of the loaded program.
func (m *Machine) Program() []int64 {
	return append([]int64(nil), m.program...)
}

// Cursor returns the instruction pointer.
func (m *Machine) Cursor() int64 {
	return m.cursor
}

// RelativeBase returns the relative base register.
func (m *Machine) RelativeBase() int64 {
	return m.base
}

// Status returns the last status reported by Run.
func (m *Machine) Status() Status {
	return m.status
}

// Err returns the fault that stopped the machine, if any.
func (m *Machine) Err() error {
	return m.fault
}

// Pending returns the number of queued input values.
func (m *Machine) Pending() int {
	return len(m.input)
}

// Steps returns the number of instructions executed since load or reset.
func (m *Machine) Steps() uint64 {
	return m.meter.Consumed()
}

// SetStepLimit replaces the step limit. Zero removes it.
func (m *Machine) SetStepLimit(limit uint64) {
	m.meter.SetLimit(limit)
}

// Fingerprint digests the cursor, relative base and memory. Trailing zero
// cells are ignored, so growth alone does not change it.
func (m *Machine) Fingerprint() [32]byte {
	h := sha3.New256()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(m.cursor))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(m.base))
	h.Write(buf[:])
	for _, v := range m.mem.trimmed() {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}
