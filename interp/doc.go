// Package interp simulates WebAssembly function bodies over a small
// constant lattice to recover the arguments passed at call sites.
//
// Every value is either Unknown or a proven i32/i64 constant. Analyze
// walks a body once, tracking the operand stack and locals, and reports
// the abstract arguments of every direct and indirect call it reaches.
// The walk is sound with respect to constants: a value is reported as a
// constant only if every modeled path produces that same constant.
package interp
