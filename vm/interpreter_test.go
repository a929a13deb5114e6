package vm

import (
	"errors"
	"strings"
	"testing"
)

func mustLoad(t *testing.T, text string) *Machine {
	t.Helper()
	m, err := LoadMachine(text)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	return m
}

func invoke1(t *testing.T, m *Machine, name string, args ...int32) int32 {
	t.Helper()
	results, err := m.Invoke(name, args...)
	if err != nil {
		t.Fatalf("%s%v: %v", name, args, err)
	}
	if len(results) != 1 {
		t.Fatalf("%s%v returned %d values, want 1", name, args, len(results))
	}
	return results[0]
}

// ---------------------------------------------------------------------------
// Basic execution tests
// ---------------------------------------------------------------------------

func TestMachineArithmetic(t *testing.T) {
	m := mustLoad(t, `
(module
  (memory 1)
  (func $calc (param $a i32) (param $b i32) (result i32)
    (i32.add (i32.mul (local.get $a) (i32.const 10)) (local.get $b))  ;; a*10 + b
  )
  (export "calc" (func $calc))
)`)

	if got := invoke1(t, m, "calc", 4, 2); got != 42 {
		t.Errorf("calc(4, 2) = %d, want 42", got)
	}
	if got := invoke1(t, m, "calc", -1, 3); got != -7 {
		t.Errorf("calc(-1, 3) = %d, want -7", got)
	}
}

func TestMachineStackForm(t *testing.T) {
	// Operands pushed by earlier instructions, consumed by empty folded forms.
	m := mustLoad(t, `
(module
  (memory 1)
  (func $f (result i32)
    (i32.const 7)
    (i32.const 3)
    (i32.sub)
    (i32.const 2)
    (i32.div_s)
  )
  (export "f" (func $f))
)`)
	if got := invoke1(t, m, "f"); got != 2 {
		t.Errorf("f() = %d, want 2", got)
	}
}

func TestMachineComparisons(t *testing.T) {
	tests := []struct {
		op   string
		a, b int32
		want int32
	}{
		{"i32.eq", 3, 3, 1},
		{"i32.ne", 3, 3, 0},
		{"i32.lt_s", -1, 0, 1},
		{"i32.lt_u", -1, 0, 0},
		{"i32.le_s", 2, 2, 1},
		{"i32.gt_s", 5, 2, 1},
		{"i32.ge_s", 1, 2, 0},
		{"i32.rem_s", -7, 2, -1},
		{"i32.and", 6, 3, 2},
		{"i32.shl", 1, 4, 16},
	}

	for _, tc := range tests {
		m := mustLoad(t, `(module (memory 1)
  (func $f (param $a i32) (param $b i32) (result i32) (`+tc.op+` (local.get $a) (local.get $b)))
  (export "f" (func $f)))`)
		if got := invoke1(t, m, "f", tc.a, tc.b); got != tc.want {
			t.Errorf("%s(%d, %d) = %d, want %d", tc.op, tc.a, tc.b, got, tc.want)
		}
	}
}

func TestMachineLoop(t *testing.T) {
	// sum of 1..n
	m := mustLoad(t, `
(module
  (memory 1)
  (func $sum (param $n i32) (result i32)
    (local $acc i32)
    (block $exit
      (loop $again
        (i32.eqz (local.get $n))
        (br_if $exit)
        (local.set $acc (i32.add (local.get $acc) (local.get $n)))
        (local.set $n (i32.sub (local.get $n) (i32.const 1)))
        (br $again)
      )
    )
    (local.get $acc)
  )
  (export "sum" (func $sum))
)`)

	if got := invoke1(t, m, "sum", 10); got != 55 {
		t.Errorf("sum(10) = %d, want 55", got)
	}
	if got := invoke1(t, m, "sum", 0); got != 0 {
		t.Errorf("sum(0) = %d, want 0", got)
	}
}

func TestMachineNumericBranchDepth(t *testing.T) {
	m := mustLoad(t, `
(module (memory 1)
  (func $f (result i32)
    (block
      (block
        (br 1)
      )
      (unreachable)
    )
    (i32.const 9)
  )
  (export "f" (func $f)))`)
	if got := invoke1(t, m, "f"); got != 9 {
		t.Errorf("f() = %d, want 9", got)
	}
}

func TestMachineIf(t *testing.T) {
	m := mustLoad(t, `
(module
  (memory 1)
  (func $abs (param $x i32) (result i32)
    (i32.lt_s (local.get $x) (i32.const 0))
    (if (result i32)
      (then (i32.sub (i32.const 0) (local.get $x)))
      (else (local.get $x))
    )
  )
  (func $clamp (param $x i32) (result i32)
    (if (i32.gt_s (local.get $x) (i32.const 100))
      (then (local.set $x (i32.const 100)))
    )
    (local.get $x)
  )
  (export "abs" (func $abs))
  (export "clamp" (func $clamp))
)`)

	if got := invoke1(t, m, "abs", -5); got != 5 {
		t.Errorf("abs(-5) = %d, want 5", got)
	}
	if got := invoke1(t, m, "abs", 6); got != 6 {
		t.Errorf("abs(6) = %d, want 6", got)
	}
	if got := invoke1(t, m, "clamp", 500); got != 100 {
		t.Errorf("clamp(500) = %d, want 100", got)
	}
	if got := invoke1(t, m, "clamp", 7); got != 7 {
		t.Errorf("clamp(7) = %d, want 7", got)
	}
}

func TestMachineCallsAndMultiValue(t *testing.T) {
	m := mustLoad(t, `
(module
  (memory 1)
  (func $swap (param $a i32) (param $b i32) (result i32 i32)
    (local.get $b)
    (local.get $a)
  )
  (func $sub_swapped (param $a i32) (param $b i32) (result i32)
    (local.get $a)
    (local.get $b)
    (call $swap)
    (i32.sub)
  )
  (func $fact (param $n i32) (result i32)
    (if (result i32) (i32.le_s (local.get $n) (i32.const 1))
      (then (i32.const 1))
      (else (i32.mul (local.get $n) (call $fact (i32.sub (local.get $n) (i32.const 1)))))
    )
  )
  (export "swap" (func $swap))
  (export "sub_swapped" (func $sub_swapped))
  (export "fact" (func $fact))
)`)

	results, err := m.Invoke("swap", 1, 2)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if len(results) != 2 || results[0] != 2 || results[1] != 1 {
		t.Errorf("swap(1, 2) = %v, want [2 1]", results)
	}
	if got := invoke1(t, m, "sub_swapped", 10, 3); got != -7 {
		t.Errorf("sub_swapped(10, 3) = %d, want -7", got)
	}
	if got := invoke1(t, m, "fact", 5); got != 120 {
		t.Errorf("fact(5) = %d, want 120", got)
	}
}

func TestMachineEarlyReturn(t *testing.T) {
	m := mustLoad(t, `
(module (memory 1)
  (func $first_positive (param $a i32) (param $b i32) (result i32)
    (if (i32.gt_s (local.get $a) (i32.const 0))
      (then (local.get $a) (return))
    )
    (local.get $b)
  )
  (export "first_positive" (func $first_positive)))`)

	if got := invoke1(t, m, "first_positive", 3, 4); got != 3 {
		t.Errorf("first_positive(3, 4) = %d, want 3", got)
	}
	if got := invoke1(t, m, "first_positive", -3, 4); got != 4 {
		t.Errorf("first_positive(-3, 4) = %d, want 4", got)
	}
}

// ---------------------------------------------------------------------------
// Memory, data and globals
// ---------------------------------------------------------------------------

func TestMachineDataAndGlobals(t *testing.T) {
	m := mustLoad(t, `
(module
  (memory (export "memory") 1)
  (data (i32.const 0) "hi\00")
  (data (i32.const 3) "a\22b\\\0a\00")
  (global $free (mut i32) (i32.const 9))
  (func $bump (param $n i32) (result i32)
    (global.get $free)
    (global.set $free (i32.add (global.get $free) (local.get $n)))
  )
  (export "bump" (func $bump))
)`)

	if s, err := m.ReadString(0); err != nil || s != "hi" {
		t.Errorf("ReadString(0) = %q, %v; want \"hi\"", s, err)
	}
	if s, err := m.ReadString(3); err != nil || s != "a\"b\\\n" {
		t.Errorf("ReadString(3) = %q, %v", s, err)
	}
	if got := invoke1(t, m, "bump", 4); got != 9 {
		t.Errorf("bump(4) = %d, want 9", got)
	}
	if g, ok := m.Global("free"); !ok || g != 13 {
		t.Errorf("global free = %d, %v; want 13", g, ok)
	}
}

func TestMachineLoadStore(t *testing.T) {
	m := mustLoad(t, `
(module
  (memory 1)
  (func $poke (param $addr i32) (param $v i32)
    (i32.store8 (local.get $addr) (local.get $v))
  )
  (func $peek (param $addr i32) (result i32)
    (i32.load8_u (local.get $addr))
  )
  (func $word (result i32)
    (i32.store offset=4 (i32.const 0) (i32.const 0x01020304))
    (i32.load (i32.const 4))
  )
  (export "poke" (func $poke))
  (export "peek" (func $peek))
  (export "word" (func $word))
)`)

	if _, err := m.Invoke("poke", 100, 0x1ff); err != nil {
		t.Fatalf("poke: %v", err)
	}
	if got := invoke1(t, m, "peek", 100); got != 0xff {
		t.Errorf("peek(100) = %#x, want 0xff", got)
	}
	if got := invoke1(t, m, "word"); got != 0x01020304 {
		t.Errorf("word() = %#x, want 0x01020304", got)
	}
	if b, _ := m.ByteAt(4); b != 0x04 {
		t.Errorf("little-endian low byte = %#x, want 0x04", b)
	}
}

// ---------------------------------------------------------------------------
// Traps
// ---------------------------------------------------------------------------

func TestMachineTraps(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unreachable", "(unreachable)", "unreachable"},
		{"divide by zero", "(drop (i32.div_s (i32.const 1) (i32.const 0)))", "divide by zero"},
		{"out of bounds load", "(drop (i32.load8_u (i32.const 65536)))", "out of bounds"},
		{"out of bounds store", "(i32.store8 (i32.const -1) (i32.const 0))", "out of bounds"},
		{"leftover value", "(i32.const 1)", "stack imbalance"},
		{"underflow", "(drop)", "underflow"},
		{"unknown local", "(drop (local.get $nope))", "unknown local"},
		{"block imbalance", "(block (i32.const 1))", "stack imbalance"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := mustLoad(t, `(module (memory 1) (func $f `+tc.body+`) (export "f" (func $f)))`)
			_, err := m.Invoke("f")
			if err == nil {
				t.Fatalf("expected a trap")
			}
			if !errors.Is(err, ErrTrap) {
				t.Errorf("error %v does not wrap ErrTrap", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error = %q, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestMachineMissingResult(t *testing.T) {
	m := mustLoad(t, `(module (memory 1) (func $f (result i32) (nop)) (export "f" (func $f)))`)
	if _, err := m.Invoke("f"); err == nil || !strings.Contains(err.Error(), "stack imbalance") {
		t.Errorf("err = %v, want stack imbalance", err)
	}
}

func TestMachineStepLimit(t *testing.T) {
	m := mustLoad(t, `
(module (memory 1)
  (func $spin (loop $l (br $l)))
  (export "spin" (func $spin)))`)
	m.MaxSteps = 1000

	_, err := m.Invoke("spin")
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
	if m.Steps() <= 1000 {
		t.Errorf("steps = %d, want > 1000", m.Steps())
	}
}

func TestMachineInvokeErrors(t *testing.T) {
	m := mustLoad(t, `(module (memory 1) (func $f (param i32) (result i32) (local.get 0)) (export "f" (func $f)))`)

	if _, err := m.Invoke("missing"); !errors.Is(err, ErrUnknownFunc) {
		t.Errorf("Invoke(missing) err = %v, want ErrUnknownFunc", err)
	}
	if _, err := m.Invoke("f"); !errors.Is(err, ErrArgumentCount) {
		t.Errorf("Invoke(f) err = %v, want ErrArgumentCount", err)
	}
	results, err := m.InvokeFunc("f", 8)
	if err != nil || len(results) != 1 || results[0] != 8 {
		t.Errorf("InvokeFunc(f, 8) = %v, %v", results, err)
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

func TestLoadMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"not a module", "(func $f)"},
		{"unclosed", "(module (memory 1)"},
		{"no memory size", "(module (memory))"},
		{"bad export", `(module (memory 1) (export "f" (func $nope)))`},
		{"duplicate func", "(module (memory 1) (func $f) (func $f))"},
		{"data too large", `(module (memory 1) (data (i32.const 65535) "ab"))`},
		{"unsupported field", "(module (import \"a\" \"b\" (func)))"},
		{"i64 param", "(module (memory 1) (func $f (param $x i64)))"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(tc.text); err == nil {
				t.Errorf("Load(%q) succeeded, want error", tc.text)
			} else if !errors.Is(err, ErrMalformed) {
				t.Errorf("Load(%q) err = %v, want ErrMalformed", tc.text, err)
			}
		})
	}
}

func TestLoadInlineExport(t *testing.T) {
	mod, err := Load(`(module (memory 2) (func $seven (export "seven") (result i32) (i32.const 7)))`)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if mod.MemoryPages != 2 {
		t.Errorf("MemoryPages = %d, want 2", mod.MemoryPages)
	}
	if got := invoke1(t, New(mod), "seven"); got != 7 {
		t.Errorf("seven() = %d, want 7", got)
	}
}

func TestParseSExprsComments(t *testing.T) {
	exprs, err := ParseSExprs(`
;; leading comment
(a (; block
comment ;) b "c\41" ;; trailing
  (d))
`)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if len(exprs) != 1 {
		t.Fatalf("got %d expressions, want 1", len(exprs))
	}
	if got := exprs[0].String(); got != `(a b "cA" (d))` {
		t.Errorf("String() = %s", got)
	}
	if exprs[0].Line != 3 {
		t.Errorf("Line = %d, want 3", exprs[0].Line)
	}
	if exprs[0].List[3].Line != 5 {
		t.Errorf("inner Line = %d, want 5", exprs[0].List[3].Line)
	}
}
