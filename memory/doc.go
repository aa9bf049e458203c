// Package memory reconstructs what a module's linear memory and globals
// hold before any code runs.
//
// Build evaluates global initializers and active data segment offsets
// using only values that are provably constant. Segments whose offset
// cannot be resolved are recorded but not applied, so their bytes are
// never used for string recovery. The resulting Image is sparse: only
// bytes written by a segment are present, and reads that touch a gap
// fail rather than returning zeroes.
package memory
