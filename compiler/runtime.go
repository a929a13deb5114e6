package compiler

// ---------------------------------------------------------------------------
// Runtime string library, written directly in the target instruction set
// ---------------------------------------------------------------------------

// FreeMemGlobal is the global word holding the start of unallocated memory.
const FreeMemGlobal = "free_mem"

func i32(name string) Param { return Param{Name: name, Type: "i32"} }

// Runtime function signatures. Each is the only description of its
// function: the header is emitted from it and call sites read its arity.
var (
	AllocSig = Signature{
		Name:    "_alloc_str",
		Export:  "alloc_str",
		Params:  []Param{i32("size")},
		Results: []string{"i32"},
		Locals:  []Param{i32("null_pos")},
	}
	SizeSig = Signature{
		Name:    "_size",
		Export:  "size",
		Params:  []Param{i32("str")},
		Results: []string{"i32"},
		Locals:  []Param{i32("len"), i32("i")},
	}
	StrcpySig = Signature{
		Name:    "_strcpy",
		Export:  "strcpy",
		Params:  []Param{i32("src"), i32("dest"), i32("amount")},
		Results: []string{"i32"},
		Locals:  []Param{i32("i")},
	}
	ConcatSig = Signature{
		Name:    "_concat",
		Export:  "concat",
		Params:  []Param{i32("str1"), i32("str2")},
		Results: []string{"i32"},
		Locals:  []Param{i32("size1"), i32("size2"), i32("start")},
	}
	CharToStringSig = Signature{
		Name:    "_char_to_string",
		Export:  "char_to_string",
		Params:  []Param{i32("ch")},
		Results: []string{"i32"},
		Locals:  []Param{i32("start")},
	}
	SwapSig = Signature{
		Name:    "_swap",
		Export:  "swap",
		Params:  []Param{i32("a"), i32("b")},
		Results: []string{"i32", "i32"},
	}
)

// RuntimeFunc is one generated library routine.
type RuntimeFunc struct {
	Sig      Signature
	Generate func(control *Control)

	// Builtin is the name user code calls it by, empty if internal only.
	Builtin string
	Params  []Type
	Return  Type
}

// Runtime lists the library in emission order.
var Runtime = []RuntimeFunc{
	{Sig: AllocSig, Generate: GenerateAllocFunction},
	{Sig: SizeSig, Generate: GenerateSizeFunction, Builtin: "size", Params: []Type{StringType}, Return: IntType},
	{Sig: StrcpySig, Generate: GenerateStrcpyFunction},
	{Sig: ConcatSig, Generate: GenerateConcatFunction},
	{Sig: CharToStringSig, Generate: GenerateCharToStringFunction},
	{Sig: SwapSig, Generate: GenerateSwapFunction},
}

// RegisterRuntime adds the user-callable builtins to the function table.
func RegisterRuntime(symbols *SymbolTable) error {
	for _, rf := range Runtime {
		if rf.Builtin == "" {
			continue
		}
		info, err := symbols.AddFunction(rf.Builtin, rf.Params, rf.Return)
		if err != nil {
			return err
		}
		info.Internal = rf.Sig.Name
	}
	return nil
}

// GenerateRuntime emits every library routine once.
func GenerateRuntime(control *Control) {
	for _, rf := range Runtime {
		rf.Generate(control)
	}
}

// ExportRuntime emits the export entries for the library.
func ExportRuntime(control *Control) {
	for _, rf := range Runtime {
		control.Export(rf.Sig)
	}
}

// GenerateAllocFunction emits the bump allocator: it returns the old free
// pointer, writes a null at start+size and advances the pointer past it.
func GenerateAllocFunction(control *Control) {
	defer control.Guard()()

	control.CommentLine("Function to allocate a string; add one to size and place null there.").
		Func(AllocSig).
		Codef("(global.get $%s)", FreeMemGlobal).Comment("Old free mem is alloc start.").
		Codef("(global.get $%s)", FreeMemGlobal).Comment("Adjust new free mem.").
		Code("(local.get $size)").
		Code("(i32.add)").
		Code("(local.set $null_pos)").
		Code("(i32.store8 (local.get $null_pos) (i32.const 0))").Comment("Place null terminator.").
		Code("(i32.add (i32.const 1) (local.get $null_pos))").
		Codef("(global.set $%s)", FreeMemGlobal).Comment("Update free memory start.").
		EndFunc().
		CommentLine("")
}

// GenerateSizeFunction emits size(str): the number of bytes before the
// first null. It never writes memory.
func GenerateSizeFunction(control *Control) {
	defer control.Guard()()

	control.CommentLine("Function to get the size of a string").
		Func(SizeSig).
		Code("(local.set $len (i32.const 0))").Comment("Set len to 0").
		Code("(local.set $i (local.get $str))").Comment("Set i to the starting index of str").
		Code("(block $exit_while").Indent(1).
		Code("(loop $while").Indent(1).
		CommentLine("While test condition").
		Code("(i32.load8_u (local.get $i))").Comment("Stack.push str[i]").
		Code("(i32.eqz)").Comment("Check if we loaded a nullterm").
		Code("(br_if $exit_while)").Comment("break").
		CommentLine("While body").
		Code("(i32.add (local.get $len) (i32.const 1))").Comment("len + 1").
		Code("(local.set $len)").Comment("len = len + 1").
		Code("(i32.add (local.get $i) (i32.const 1))").Comment("i + 1").
		Code("(local.set $i)").Comment("i = i + 1").
		Code("(br $while)").Comment("continue").
		Indent(-1).Code(")").
		Indent(-1).Code(")").
		Code("(local.get $len)").Comment("return len").
		EndFunc().
		CommentLine("")
}

// GenerateStrcpyFunction emits strcpy(src, dest, amount): copies exactly
// amount bytes, does not null-terminate, returns dest.
func GenerateStrcpyFunction(control *Control) {
	defer control.Guard()()

	control.CommentLine("Function to copy amount bytes from src to dest; returns dest").
		Func(StrcpySig).
		Code("(local.set $i (i32.const 0))").Comment("i = 0").
		Code("(block $exit_copy").Indent(1).
		Code("(loop $copy").Indent(1).
		Code("(i32.ge_s (local.get $i) (local.get $amount))").Comment("i >= amount?").
		Code("(br_if $exit_copy)").Comment("done").
		Code("(i32.store8").Indent(1).
		Code("(i32.add (local.get $dest) (local.get $i))").Comment("&dest[i]").
		Code("(i32.load8_u (i32.add (local.get $src) (local.get $i))))").Comment("dest[i] = src[i]").
		Indent(-1).
		Code("(local.set $i (i32.add (local.get $i) (i32.const 1)))").Comment("i = i + 1").
		Code("(br $copy)").
		Indent(-1).Code(")").
		Indent(-1).Code(")").
		Code("(local.get $dest)").Comment("return dest").
		EndFunc().
		CommentLine("")
}

// GenerateConcatFunction emits concat(str1, str2). The allocation is
// size1+size2 bytes plus the allocator's terminator; the second copy targets
// start+size1. The swap helper reorders operands so no extra locals are
// needed for the copy arguments.
func GenerateConcatFunction(control *Control) {
	defer control.Guard()()

	control.CommentLine("Function to concatenate two strings into a new allocation").
		Func(ConcatSig).
		Code("(local.get $str1)").Call(SizeSig).Code("(local.set $size1)").Comment("size1 = size(str1)").
		Code("(local.get $str2)").Call(SizeSig).Code("(local.set $size2)").Comment("size2 = size(str2)").
		Code("(i32.add (local.get $size1) (local.get $size2))").
		Call(AllocSig).Comment("start = alloc(size1 + size2)").
		Code("(local.tee $start)").Comment("Stack: start").
		Code("(local.get $str1)").Comment("Stack: start str1").
		Call(SwapSig).Comment("Stack: str1 start").
		Code("(local.get $size1)").Comment("Stack: str1 start size1").
		Call(StrcpySig).Comment("copy str1; Stack: start").
		Code("(local.get $size1)").
		Code("(i32.add)").Comment("Stack: start+size1").
		Code("(local.get $str2)").Comment("Stack: start+size1 str2").
		Call(SwapSig).Comment("Stack: str2 start+size1").
		Code("(local.get $size2)").
		Call(StrcpySig).Comment("copy str2; Stack: start+size1").
		Drop().
		Code("(local.get $start)").Comment("return start").
		EndFunc().
		CommentLine("")
}

// GenerateCharToStringFunction emits char_to_string(ch): a two-byte
// allocation holding ch and the allocator's terminator.
func GenerateCharToStringFunction(control *Control) {
	defer control.Guard()()

	control.CommentLine("Function to convert a char to a one-character string").
		Func(CharToStringSig).
		Code("(i32.const 1)").
		Call(AllocSig).Comment("two bytes: ch and null").
		Code("(local.set $start)").
		Code("(i32.store8 (local.get $start) (local.get $ch))").
		Code("(local.get $start)").
		EndFunc().
		CommentLine("")
}

// GenerateSwapFunction emits swap(a, b), which leaves b then a: the two
// values re-pushed in reverse order.
func GenerateSwapFunction(control *Control) {
	defer control.Guard()()

	control.CommentLine("Function to swap the top two values on the stack").
		Func(SwapSig).
		Code("(local.get $b)").
		Code("(local.get $a)").
		EndFunc().
		CommentLine("")
}
