package circuit

import (
	"fmt"
	"strings"

	. "nyiyui.ca/hato/shingou"
)

// Op combines an accumulator with a source circuit's state.
type Op int

const (
	OpAnd Op = iota + 1
	OpAndNot
	OpNand
	OpOr
	OpNor
	// OpNot discards the accumulator.
	OpNot
	// OpEq discards the accumulator and takes the source's state as is.
	OpEq
)

var opNames = map[Op]string{
	OpAnd:    "AND",
	OpAndNot: "ANDNOT",
	OpNand:   "NAND",
	OpOr:     "OR",
	OpNor:    "NOR",
	OpNot:    "NOT",
	OpEq:     "EQ",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("%d", o)
}

// ParseOp returns the Op named s (case-insensitive), e.g. "ANDNOT".
func ParseOp(s string) (Op, bool) {
	s = strings.ToUpper(s)
	for o, name := range opNames {
		if name == s {
			return o, true
		}
	}
	return 0, false
}

func (o Op) apply(acc, s bool) bool {
	switch o {
	case OpAnd:
		return acc && s
	case OpAndNot:
		return acc && !s
	case OpNand:
		return !(acc && s)
	case OpOr:
		return acc || s
	case OpNor:
		return !(acc || s)
	case OpNot:
		return !s
	case OpEq:
		return s
	default:
		panic(fmt.Sprintf("unknown op %d", o))
	}
}

// Condition is a single term of a LogicCircuit's condition list.
type Condition struct {
	Source CircuitRef
	Op     Op
}

func (c Condition) String() string {
	return fmt.Sprintf("%s(%s)", c.Op, c.Source)
}
