// Package scanner runs the full analysis pipeline over a WebAssembly
// binary and reports the environment variable names it reads.
//
// For every core module (a plain module, or each module embedded in a
// component) the scanner builds the initial memory snapshot, simulates
// each function body to collect call-site arguments, recovers strings
// from constant (pointer, length) pairs and classifies them. Functions
// are analyzed in parallel; the result never depends on scheduling.
//
// Parse failures abort the scan. Everything after parsing degrades to
// dropped candidates instead of failing.
package scanner
