package intcode

// Operation codes (low two decimal digits of an opcode cell).
const (
	OpAdd         = 1  // a + b -> dst
	OpMul         = 2  // a * b -> dst
	OpInput       = 3  // input -> dst
	OpOutput      = 4  // output a
	OpJumpIfTrue  = 5  // cursor = target if a != 0
	OpJumpIfFalse = 6  // cursor = target if a == 0
	OpLessThan    = 7  // a < b -> dst
	OpEquals      = 8  // a == b -> dst
	OpAdjustBase  = 9  // relative base += a
	OpHalt        = 99 // stop
)

// Parameter modes (decimal digits above the operation code).
const (
	ModePosition  = 0 // operand is an address
	ModeImmediate = 1 // operand is the value
	ModeRelative  = 2 // operand plus relative base is an address
)

var opNames = map[int64]string{
	OpAdd:         "add",
	OpMul:         "mul",
	OpInput:       "in",
	OpOutput:      "out",
	OpJumpIfTrue:  "jnz",
	OpJumpIfFalse: "jz",
	OpLessThan:    "lt",
	OpEquals:      "eq",
	OpAdjustBase:  "arb",
	OpHalt:        "halt",
}

// opWidths is the number of operands each operation takes.
var opWidths = map[int64]int{
	OpAdd:         3,
	OpMul:         3,
	OpInput:       1,
	OpOutput:      1,
	OpJumpIfTrue:  2,
	OpJumpIfFalse: 2,
	OpLessThan:    3,
	OpEquals:      3,
	OpAdjustBase:  1,
	OpHalt:        0,
}

// Instruction extracts fields from an opcode cell.
type Instruction int64

// Op returns the operation code (cell mod 100).
func (i Instruction) Op() int64 {
	return int64(i) % 100
}

// Mode returns the parameter mode of the n-th operand, counting from 1.
// Absent digits read as ModePosition.
func (i Instruction) Mode(n int) int64 {
	div := int64(100)
	for k := 1; k < n; k++ {
		div *= 10
	}
	return (int64(i) / div) % 10
}

// Width returns the operand count and whether the operation is known.
func (i Instruction) Width() (int, bool) {
	w, ok := opWidths[i.Op()]
	return w, ok
}

// String returns the mnemonic of the operation, or "?" for unknown codes.
func (i Instruction) String() string {
	if name, ok := opNames[i.Op()]; ok {
		return name
	}
	return "?"
}

// Encode builds an opcode cell from an operation code and parameter modes,
// first operand first.
func Encode(op int64, modes ...int64) int64 {
	cell := op
	mul := int64(100)
	for _, m := range modes {
		cell += m * mul
		mul *= 10
	}
	return cell
}
