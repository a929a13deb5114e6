// Package vm implements the Tubular execution machine.
//
// This package contains:
//   - An S-expression reader for module text
//   - Module loading: memory, data segments, globals, functions, exports
//   - A tree-walking interpreter for the folded i32 instruction subset
//     the compiler emits, with linear memory and a step limit
package vm
