package intcode

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// runToHalt drains m and fails the test unless it halted.
func runToHalt(t *testing.T, m *Machine) []int64 {
	t.Helper()
	outputs, err := m.Drain()
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if m.Status() != StatusHalted {
		t.Fatalf("Status() = %v, want halted", m.Status())
	}
	return outputs
}

// TestArithmetic covers the add/mul programs of the canonical corpus.
func TestArithmetic(t *testing.T) {
	tests := []struct {
		name    string
		program string
		memory  []int64
	}{
		{"add", "1,0,0,0,99", []int64{2, 0, 0, 0, 99}},
		{"mul", "2,3,0,3,99", []int64{2, 3, 0, 6, 99}},
		{"mul past end", "2,4,4,5,99,0", []int64{2, 4, 4, 5, 99, 9801}},
		{"self modify", "1,1,1,4,99,5,6,0,99", []int64{30, 1, 1, 4, 2, 5, 6, 0, 99}},
		{"immediate", "1002,4,3,4,33", []int64{1002, 4, 3, 4, 99}},
		{"negative", "1101,100,-1,4,0", []int64{1101, 100, -1, 4, 99}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MustLoad(tt.program)
			runToHalt(t, m)
			if got := m.Memory(); !reflect.DeepEqual(got, tt.memory) {
				t.Errorf("Memory() = %v, want %v", got, tt.memory)
			}
		})
	}
}

// TestComparisons covers input-driven comparison and jump programs.
func TestComparisons(t *testing.T) {
	const large = "3,21,1008,21,8,20,1005,20,22,107,8,21,20,1006,20,31," +
		"1106,0,36,98,0,0,1002,21,125,20,4,20,1105,1,46,104," +
		"999,1105,1,46,1101,1000,1,20,4,20,1105,1,46,98,99"

	tests := []struct {
		name    string
		program string
		input   int64
		want    int64
	}{
		{"equal position hit", "3,9,8,9,10,9,4,9,99,-1,8", 8, 1},
		{"equal position miss", "3,9,8,9,10,9,4,9,99,-1,8", 7, 0},
		{"less position hit", "3,9,7,9,10,9,4,9,99,-1,8", 5, 1},
		{"less position miss", "3,9,7,9,10,9,4,9,99,-1,8", 8, 0},
		{"equal immediate", "3,3,1108,-1,8,3,4,3,99", 8, 1},
		{"less immediate", "3,3,1107,-1,8,3,4,3,99", 9, 0},
		{"jump position zero", "3,12,6,12,15,1,13,14,13,4,13,99,-1,0,1,9", 0, 0},
		{"jump position nonzero", "3,12,6,12,15,1,13,14,13,4,13,99,-1,0,1,9", 3, 1},
		{"jump immediate zero", "3,3,1105,-1,9,1101,0,0,12,4,12,99,1", 0, 0},
		{"jump immediate nonzero", "3,3,1105,-1,9,1101,0,0,12,4,12,99,1", -2, 1},
		{"large below", large, 7, 999},
		{"large equal", large, 8, 1000},
		{"large above", large, 9, 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MustLoad(tt.program)
			m.Push(tt.input)
			outputs := runToHalt(t, m)
			if len(outputs) != 1 || outputs[0] != tt.want {
				t.Errorf("outputs = %v, want [%d]", outputs, tt.want)
			}
		})
	}
}

func TestEcho(t *testing.T) {
	m := MustLoad("3,0,4,0,99")
	m.Push(42)

	res, err := m.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Status != StatusOutput || res.Value != 42 {
		t.Errorf("Run() = %+v, want output 42", res)
	}
	if m.Cursor() != 4 {
		t.Errorf("Cursor() = %d, want 4", m.Cursor())
	}

	res, err = m.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Status != StatusHalted {
		t.Errorf("Run() = %+v, want halted", res)
	}
}

func TestLargeNumbers(t *testing.T) {
	m := MustLoad("1102,34915192,34915192,7,4,7,99,0")
	res, err := m.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Status != StatusOutput {
		t.Fatalf("Run() = %+v, want output", res)
	}
	if n := len(strings.TrimPrefix(strconv.FormatInt(res.Value, 10), "-")); n != 16 {
		t.Errorf("output %d has %d digits, want 16", res.Value, n)
	}

	m = MustLoad("104,1125899906842624,99")
	res, err = m.Run()
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if res.Value != 1125899906842624 {
		t.Errorf("Run() = %d, want 1125899906842624", res.Value)
	}
}

func TestRelativeMode(t *testing.T) {
	// Set the base to 10, write 5+7 at base+0, read it back through base+0.
	m := MustLoad("109,10,21101,5,7,0,204,0,99")
	outputs := runToHalt(t, m)
	if len(outputs) != 1 || outputs[0] != 12 {
		t.Errorf("outputs = %v, want [12]", outputs)
	}
	if m.RelativeBase() != 10 {
		t.Errorf("RelativeBase() = %d, want 10", m.RelativeBase())
	}

	quine := "109,1,204,-1,1001,100,1,100,1008,100,16,101,1006,101,0,99"
	m = MustLoad(quine)
	outputs = runToHalt(t, m)
	if got := Format(outputs); got != quine {
		t.Errorf("quine output = %s, want %s", got, quine)
	}
}

func TestBlockedOnInput(t *testing.T) {
	m := MustLoad("3,0,99")

	for i := 0; i < 2; i++ {
		res, err := m.Run()
		if err != nil {
			t.Fatalf("Run() failed: %v", err)
		}
		if res.Status != StatusBlocked {
			t.Fatalf("Run() = %+v, want blocked", res)
		}
		if m.Cursor() != 0 {
			t.Errorf("Cursor() = %d, want 0", m.Cursor())
		}
	}
	if m.Steps() != 0 {
		t.Errorf("Steps() = %d, want 0", m.Steps())
	}

	m.Push(5)
	if m.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", m.Pending())
	}
	runToHalt(t, m)
	if got, _ := m.Peek(0); got != 5 {
		t.Errorf("Peek(0) = %d, want 5", got)
	}
	if m.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", m.Pending())
	}
}

func TestHaltIsSticky(t *testing.T) {
	m := MustLoad("1,0,0,0,99")
	runToHalt(t, m)
	before := m.Memory()

	for i := 0; i < 3; i++ {
		res, err := m.Run()
		if err != nil || res.Status != StatusHalted {
			t.Fatalf("Run() = %+v, %v, want halted", res, err)
		}
	}
	if !reflect.DeepEqual(m.Memory(), before) {
		t.Error("memory changed after halt")
	}
	if m.Cursor() != 4 {
		t.Errorf("Cursor() = %d, want 4", m.Cursor())
	}
}

func TestFaults(t *testing.T) {
	tests := []struct {
		name    string
		program string
		want    error
		cursor  int64
	}{
		{"unknown opcode", "98", ErrUnknownOpcode, 0},
		{"unknown after add", "1101,49,49,4,99", ErrUnknownOpcode, 4},
		{"immediate write", "11101,1,1,0,99", ErrImmediateWrite, 0},
		{"negative read", "1,-1,0,0,99", ErrNegativeAddress, 0},
		{"negative relative write", "109,-5,21101,1,1,0,99", ErrNegativeAddress, 2},
		{"negative jump", "1105,1,-3", ErrNegativeAddress, -3},
		{"invalid mode", "301,0,0,0,99", ErrInvalidMode, 0},
		{"zero opcode", "0", ErrUnknownOpcode, 0},
		{"write at max address", "1101,1,1,9223372036854775807,99", ErrMemoryLimit, 0},
		{"read at max address", "4,9223372036854775807,99", ErrMemoryLimit, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := MustLoad(tt.program)
			_, err := m.Drain()
			if !errors.Is(err, tt.want) {
				t.Fatalf("Drain() error = %v, want %v", err, tt.want)
			}

			var fault *Fault
			if !errors.As(err, &fault) {
				t.Fatalf("error %v is not a *Fault", err)
			}
			if fault.Cursor != tt.cursor {
				t.Errorf("fault.Cursor = %d, want %d", fault.Cursor, tt.cursor)
			}

			// The machine stays stopped.
			if _, again := m.Run(); again != err {
				t.Errorf("second Run() error = %v, want %v", again, err)
			}
			if m.Err() != err {
				t.Errorf("Err() = %v, want %v", m.Err(), err)
			}
		})
	}
}

func TestStepLimit(t *testing.T) {
	// Jump to itself forever.
	m := MustLoad("1105,1,0", Options{StepLimit: 10})

	_, err := m.Run()
	if !errors.Is(err, ErrStepLimitExceeded) {
		t.Fatalf("Run() error = %v, want ErrStepLimitExceeded", err)
	}
	if m.Steps() != 10 {
		t.Errorf("Steps() = %d, want 10", m.Steps())
	}
	if m.Err() != nil {
		t.Errorf("Err() = %v, want nil", m.Err())
	}

	m.SetStepLimit(25)
	if _, err := m.Run(); !errors.Is(err, ErrStepLimitExceeded) {
		t.Fatalf("Run() error = %v, want ErrStepLimitExceeded", err)
	}
	if m.Steps() != 25 {
		t.Errorf("Steps() = %d, want 25", m.Steps())
	}

	m.Reset()
	if m.Steps() != 0 {
		t.Errorf("Steps() after Reset = %d, want 0", m.Steps())
	}
}

func TestStepLimitAllowsExactFit(t *testing.T) {
	// add, out, halt: three steps.
	m := MustLoad("1101,2,3,7,4,7,99,0", Options{StepLimit: 3})
	outputs := runToHalt(t, m)
	if len(outputs) != 1 || outputs[0] != 5 {
		t.Errorf("outputs = %v, want [5]", outputs)
	}
	if m.Steps() != 3 {
		t.Errorf("Steps() = %d, want 3", m.Steps())
	}
}

func TestMemoryGrowth(t *testing.T) {
	m := MustLoad("1,100,101,200,4,200,99")
	outputs := runToHalt(t, m)
	if len(outputs) != 1 || outputs[0] != 0 {
		t.Errorf("outputs = %v, want [0]", outputs)
	}
	if n := len(m.Memory()); n < 201 {
		t.Errorf("len(Memory()) = %d, want at least 201", n)
	}

	v, err := m.Peek(5000)
	if err != nil {
		t.Fatalf("Peek(5000) failed: %v", err)
	}
	if v != 0 {
		t.Errorf("Peek(5000) = %d, want 0", v)
	}
	if n := len(m.Memory()); n != 5001 {
		t.Errorf("len(Memory()) = %d, want 5001", n)
	}

	if _, err := m.Peek(-1); !errors.Is(err, ErrNegativeAddress) {
		t.Errorf("Peek(-1) error = %v, want ErrNegativeAddress", err)
	}
}

func TestMemoryLimit(t *testing.T) {
	m := MustLoad("1101,1,1,100,99", Options{MaxCells: 50})
	_, err := m.Run()
	if !errors.Is(err, ErrMemoryLimit) {
		t.Fatalf("Run() error = %v, want ErrMemoryLimit", err)
	}

	if err := m.Poke(49, 1); err != nil {
		t.Errorf("Poke(49) failed: %v", err)
	}
	if err := m.Poke(50, 1); !errors.Is(err, ErrMemoryLimit) {
		t.Errorf("Poke(50) error = %v, want ErrMemoryLimit", err)
	}
}

func TestPoke(t *testing.T) {
	// Patch the first operand before running, like flipping a mode flag.
	m := MustLoad("1,0,0,0,99")
	if err := m.Poke(0, 2); err != nil {
		t.Fatalf("Poke() failed: %v", err)
	}
	runToHalt(t, m)
	if got, _ := m.Peek(0); got != 4 {
		t.Errorf("Peek(0) = %d, want 4", got)
	}

	if err := m.Poke(-3, 1); !errors.Is(err, ErrNegativeAddress) {
		t.Errorf("Poke(-3) error = %v, want ErrNegativeAddress", err)
	}

	// Addresses too large to allocate are refused without a cap too.
	for _, addr := range []int64{math.MaxInt64, math.MaxInt64 - 1, 1 << 50} {
		if err := m.Poke(addr, 1); !errors.Is(err, ErrMemoryLimit) {
			t.Errorf("Poke(%d) error = %v, want ErrMemoryLimit", addr, err)
		}
		if _, err := m.Peek(addr); !errors.Is(err, ErrMemoryLimit) {
			t.Errorf("Peek(%d) error = %v, want ErrMemoryLimit", addr, err)
		}
	}
	if got, _ := m.Peek(0); got != 4 {
		t.Errorf("Peek(0) after refused pokes = %d, want 4", got)
	}
}

func TestReset(t *testing.T) {
	m := MustLoad("1,1,1,4,99,5,6,0,99")
	program := m.Program()
	runToHalt(t, m)
	m.Push(1, 2, 3)
	if err := m.Poke(300, 9); err != nil {
		t.Fatalf("Poke() failed: %v", err)
	}

	m.Reset()
	if !reflect.DeepEqual(m.Memory(), program) {
		t.Errorf("Memory() = %v, want %v", m.Memory(), program)
	}
	if m.Cursor() != 0 || m.RelativeBase() != 0 || m.Pending() != 0 {
		t.Errorf("cursor=%d base=%d pending=%d, want zeros", m.Cursor(), m.RelativeBase(), m.Pending())
	}
	if m.Status() != StatusReady {
		t.Errorf("Status() = %v, want ready", m.Status())
	}

	// The program runs again from scratch.
	runToHalt(t, m)
	if got, _ := m.Peek(0); got != 30 {
		t.Errorf("Peek(0) = %d, want 30", got)
	}
}

func TestResetClearsFault(t *testing.T) {
	m := MustLoad("3,0,1,0,0,0,4,0,99")
	m.Push(98) // cell 0 is overwritten but never executed again
	outputs := runToHalt(t, m)
	if len(outputs) != 1 || outputs[0] != 196 {
		t.Fatalf("outputs = %v, want [196]", outputs)
	}

	bad := MustLoad("98")
	if _, err := bad.Run(); err == nil {
		t.Fatal("Run() succeeded, want fault")
	}
	bad.Reset()
	if bad.Err() != nil {
		t.Errorf("Err() after Reset = %v, want nil", bad.Err())
	}
}

func TestClone(t *testing.T) {
	m := MustLoad("3,20,4,20,1105,1,0")
	m.Push(7)
	res, err := m.Run()
	if err != nil || res.Value != 7 {
		t.Fatalf("Run() = %+v, %v, want output 7", res, err)
	}

	memBefore := m.Memory()
	cursorBefore := m.Cursor()
	fpBefore := m.Fingerprint()

	c := m.Clone()
	if c.Fingerprint() != fpBefore {
		t.Error("clone fingerprint differs from original")
	}

	c.Push(11, 12)
	outputs, err := c.Drain()
	if err != nil {
		t.Fatalf("clone Drain() failed: %v", err)
	}
	if !reflect.DeepEqual(outputs, []int64{11, 12}) {
		t.Errorf("clone outputs = %v, want [11 12]", outputs)
	}
	if c.Status() != StatusBlocked {
		t.Errorf("clone Status() = %v, want blocked", c.Status())
	}

	if !reflect.DeepEqual(m.Memory(), memBefore) {
		t.Errorf("original Memory() = %v, want %v", m.Memory(), memBefore)
	}
	if m.Cursor() != cursorBefore || m.Pending() != 0 {
		t.Errorf("original cursor=%d pending=%d changed", m.Cursor(), m.Pending())
	}
	if m.Fingerprint() != fpBefore {
		t.Error("original fingerprint changed")
	}
}

func TestFingerprint(t *testing.T) {
	m := MustLoad("1101,1,1,5,99,0")
	fp := m.Fingerprint()

	if _, err := m.Peek(1000); err != nil {
		t.Fatalf("Peek() failed: %v", err)
	}
	if m.Fingerprint() != fp {
		t.Error("growth alone changed the fingerprint")
	}

	runToHalt(t, m)
	if m.Fingerprint() == fp {
		t.Error("fingerprint did not change after execution")
	}
}

func TestPushASCII(t *testing.T) {
	m := MustLoad("3,100,4,100,3,100,4,100,3,100,4,100,99")
	m.PushASCII("OK\n")
	outputs := runToHalt(t, m)
	if !reflect.DeepEqual(outputs, []int64{'O', 'K', '\n'}) {
		t.Errorf("outputs = %v, want ASCII of %q", outputs, "OK\n")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    []int64
		wantErr bool
	}{
		{"simple", "1,9,10,3,2,3,11,0,99,30,40,50", []int64{1, 9, 10, 3, 2, 3, 11, 0, 99, 30, 40, 50}, false},
		{"trailing newline", "1,0,0,0,99\n", []int64{1, 0, 0, 0, 99}, false},
		{"spaces", " 1, -2 ,3 \r\n", []int64{1, -2, 3}, false},
		{"empty", "", nil, true},
		{"blank", "  \n", nil, true},
		{"empty token", "1,,2", nil, true},
		{"word", "1,a,3", nil, true},
		{"float", "1,2.5", nil, true},
		{"overflow", "99999999999999999999", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedProgram) {
					t.Errorf("Parse(%q) error = %v, want ErrMalformedProgram", tt.text, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.text, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	if got := Format([]int64{1, -2, 99}); got != "1,-2,99" {
		t.Errorf("Format() = %q, want %q", got, "1,-2,99")
	}
	if got := Format(nil); got != "" {
		t.Errorf("Format(nil) = %q, want empty", got)
	}
}

func TestMustLoadPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustLoad did not panic on malformed text")
		}
	}()
	MustLoad("1,x")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	text := "104,1125899906842624,99\n"

	plain := filepath.Join(dir, "prog.txt")
	if err := os.WriteFile(plain, []byte(text), 0644); err != nil {
		t.Fatalf("write plain: %v", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	packed := filepath.Join(dir, "prog.txt.zst")
	if err := os.WriteFile(packed, encoder.EncodeAll([]byte(text), nil), 0644); err != nil {
		t.Fatalf("write packed: %v", err)
	}
	encoder.Close()

	for _, path := range []string{plain, packed} {
		m, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile(%s) failed: %v", path, err)
		}
		outputs := runToHalt(t, m)
		if len(outputs) != 1 || outputs[0] != 1125899906842624 {
			t.Errorf("LoadFile(%s) outputs = %v", path, outputs)
		}
	}

	if _, err := LoadFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("LoadFile() of a missing file succeeded")
	}
}

func TestInstruction(t *testing.T) {
	ins := Instruction(21002)
	if ins.Op() != OpMul {
		t.Errorf("Op() = %d, want %d", ins.Op(), OpMul)
	}
	wantModes := []int64{ModePosition, ModeImmediate, ModeRelative}
	for i, want := range wantModes {
		if got := ins.Mode(i + 1); got != want {
			t.Errorf("Mode(%d) = %d, want %d", i+1, got, want)
		}
	}
	if w, ok := ins.Width(); !ok || w != 3 {
		t.Errorf("Width() = %d, %v, want 3, true", w, ok)
	}
	if ins.String() != "mul" {
		t.Errorf("String() = %q, want mul", ins.String())
	}
	if Instruction(42).String() != "?" {
		t.Errorf("String() of unknown = %q, want ?", Instruction(42).String())
	}
	if got := Encode(OpMul, ModePosition, ModeImmediate, ModeRelative); got != 21002 {
		t.Errorf("Encode() = %d, want 21002", got)
	}
	if got := Encode(OpHalt); got != 99 {
		t.Errorf("Encode(OpHalt) = %d, want 99", got)
	}
}

func TestStepMeter(t *testing.T) {
	sm := NewStepMeter(100)
	if sm.Limit() != 100 {
		t.Errorf("Limit() = %d, want 100", sm.Limit())
	}

	if err := sm.Consume(60); err != nil {
		t.Errorf("Consume(60) failed: %v", err)
	}
	if sm.Remaining() != 40 {
		t.Errorf("Remaining() = %d, want 40", sm.Remaining())
	}
	if err := sm.Consume(41); err != ErrStepLimitExceeded {
		t.Errorf("Consume(41) = %v, want ErrStepLimitExceeded", err)
	}
	if sm.Consumed() != 60 {
		t.Errorf("Consumed() = %d, want 60 after failed consume", sm.Consumed())
	}
	if err := sm.Consume(40); err != nil {
		t.Errorf("Consume(40) failed: %v", err)
	}
	if !sm.IsExhausted() {
		t.Error("IsExhausted() = false, want true")
	}

	sm.Reset()
	if sm.Consumed() != 0 || sm.IsExhausted() {
		t.Error("Reset() did not clear the meter")
	}

	unlimited := NewStepMeter(0)
	if err := unlimited.Consume(1 << 40); err != nil {
		t.Errorf("unlimited Consume() failed: %v", err)
	}
	if unlimited.IsExhausted() {
		t.Error("unlimited meter reports exhausted")
	}
}
