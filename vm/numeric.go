package vm

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Simple instructions: constants, variables, memory and i32 arithmetic
// ---------------------------------------------------------------------------

type binaryFunc func(a, b int32) (int32, error)

func boolI32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

var i32Binary = map[string]binaryFunc{
	"i32.add": func(a, b int32) (int32, error) { return a + b, nil },
	"i32.sub": func(a, b int32) (int32, error) { return a - b, nil },
	"i32.mul": func(a, b int32) (int32, error) { return a * b, nil },
	"i32.div_s": func(a, b int32) (int32, error) {
		if b == 0 {
			return 0, trapf("integer divide by zero")
		}
		if a == -1<<31 && b == -1 {
			return 0, trapf("integer overflow")
		}
		return a / b, nil
	},
	"i32.div_u": func(a, b int32) (int32, error) {
		if b == 0 {
			return 0, trapf("integer divide by zero")
		}
		return int32(uint32(a) / uint32(b)), nil
	},
	"i32.rem_s": func(a, b int32) (int32, error) {
		if b == 0 {
			return 0, trapf("integer divide by zero")
		}
		if b == -1 {
			return 0, nil
		}
		return a % b, nil
	},
	"i32.rem_u": func(a, b int32) (int32, error) {
		if b == 0 {
			return 0, trapf("integer divide by zero")
		}
		return int32(uint32(a) % uint32(b)), nil
	},
	"i32.and":   func(a, b int32) (int32, error) { return a & b, nil },
	"i32.or":    func(a, b int32) (int32, error) { return a | b, nil },
	"i32.xor":   func(a, b int32) (int32, error) { return a ^ b, nil },
	"i32.shl":   func(a, b int32) (int32, error) { return a << (uint32(b) & 31), nil },
	"i32.shr_s": func(a, b int32) (int32, error) { return a >> (uint32(b) & 31), nil },
	"i32.shr_u": func(a, b int32) (int32, error) { return int32(uint32(a) >> (uint32(b) & 31)), nil },

	"i32.eq":   func(a, b int32) (int32, error) { return boolI32(a == b), nil },
	"i32.ne":   func(a, b int32) (int32, error) { return boolI32(a != b), nil },
	"i32.lt_s": func(a, b int32) (int32, error) { return boolI32(a < b), nil },
	"i32.le_s": func(a, b int32) (int32, error) { return boolI32(a <= b), nil },
	"i32.gt_s": func(a, b int32) (int32, error) { return boolI32(a > b), nil },
	"i32.ge_s": func(a, b int32) (int32, error) { return boolI32(a >= b), nil },
	"i32.lt_u": func(a, b int32) (int32, error) { return boolI32(uint32(a) < uint32(b)), nil },
	"i32.le_u": func(a, b int32) (int32, error) { return boolI32(uint32(a) <= uint32(b)), nil },
	"i32.gt_u": func(a, b int32) (int32, error) { return boolI32(uint32(a) > uint32(b)), nil },
	"i32.ge_u": func(a, b int32) (int32, error) { return boolI32(uint32(a) >= uint32(b)), nil },
}

func (m *Machine) execSimple(f *frame, e *SExpr, op string, imm []*SExpr) error {
	if fn, ok := i32Binary[op]; ok {
		vals, err := f.popN(2)
		if err != nil {
			return err
		}
		v, err := fn(vals[0], vals[1])
		if err != nil {
			return err
		}
		f.push(v)
		return nil
	}

	switch op {
	case "i32.const":
		if len(imm) != 1 {
			return trapf("line %d: i32.const needs a value", e.Line)
		}
		v, err := parseI32(imm[0].Atom)
		if err != nil {
			return trapf("line %d: %v", e.Line, err)
		}
		f.push(v)

	case "i32.eqz":
		v, err := f.pop()
		if err != nil {
			return err
		}
		f.push(boolI32(v == 0))

	case "local.get", "local.set", "local.tee":
		if len(imm) != 1 {
			return trapf("line %d: %s needs a local", e.Line, op)
		}
		idx, ok := f.fn.LocalIndex(imm[0].Atom)
		if !ok {
			return trapf("line %d: unknown local %s in %s", e.Line, imm[0].Atom, f.fn.Name)
		}
		if op == "local.get" {
			f.push(f.locals[idx])
			return nil
		}
		v, err := f.pop()
		if err != nil {
			return err
		}
		f.locals[idx] = v
		if op == "local.tee" {
			f.push(v)
		}

	case "global.get", "global.set":
		if len(imm) != 1 {
			return trapf("line %d: %s needs a global", e.Line, op)
		}
		idx, ok := m.Module.resolveGlobal(imm[0].Atom)
		if !ok {
			return trapf("line %d: unknown global %s", e.Line, imm[0].Atom)
		}
		if op == "global.get" {
			f.push(m.globals[idx])
			return nil
		}
		if !m.Module.Globals[idx].Mutable {
			return trapf("line %d: global %s is immutable", e.Line, imm[0].Atom)
		}
		v, err := f.pop()
		if err != nil {
			return err
		}
		m.globals[idx] = v

	case "i32.load8_u", "i32.load8_s", "i32.load":
		offset, err := memOffset(e, imm)
		if err != nil {
			return err
		}
		addr, err := f.pop()
		if err != nil {
			return err
		}
		size := 1
		if op == "i32.load" {
			size = 4
		}
		b, err := m.slice(addr, offset, size)
		if err != nil {
			return err
		}
		switch op {
		case "i32.load8_u":
			f.push(int32(b[0]))
		case "i32.load8_s":
			f.push(int32(int8(b[0])))
		default:
			f.push(int32(binary.LittleEndian.Uint32(b)))
		}

	case "i32.store8", "i32.store":
		offset, err := memOffset(e, imm)
		if err != nil {
			return err
		}
		vals, err := f.popN(2)
		if err != nil {
			return err
		}
		size := 1
		if op == "i32.store" {
			size = 4
		}
		b, err := m.slice(vals[0], offset, size)
		if err != nil {
			return err
		}
		if size == 1 {
			b[0] = byte(vals[1])
		} else {
			binary.LittleEndian.PutUint32(b, uint32(vals[1]))
		}

	default:
		return trapf("line %d: unsupported instruction %s", e.Line, op)
	}
	return nil
}

// memOffset reads an optional offset=N immediate.
func memOffset(e *SExpr, imm []*SExpr) (uint32, error) {
	var offset uint32
	for _, i := range imm {
		switch {
		case strings.HasPrefix(i.Atom, "offset="):
			v, err := strconv.ParseUint(strings.TrimPrefix(i.Atom, "offset="), 0, 32)
			if err != nil {
				return 0, trapf("line %d: bad offset %s", e.Line, i.Atom)
			}
			offset = uint32(v)
		case strings.HasPrefix(i.Atom, "align="):
		default:
			return 0, trapf("line %d: unexpected immediate %s", e.Line, i.Atom)
		}
	}
	return offset, nil
}

// slice returns size bytes of memory at the effective address, trapping
// when any of them is out of range.
func (m *Machine) slice(addr int32, offset uint32, size int) ([]byte, error) {
	ea := uint64(uint32(addr)) + uint64(offset)
	if ea+uint64(size) > uint64(len(m.memory)) {
		return nil, trapf("out of bounds memory access at %d", ea)
	}
	return m.memory[ea : ea+uint64(size)], nil
}
