// Package wasm2env recovers the environment variable names a WebAssembly
// module or component reads, without running it.
//
// The analysis is static. Each function is simulated over an abstract
// stack that tracks only proven integer constants, and every call whose
// arguments include a constant (pointer, length) pair into the module's
// initial memory yields a candidate string. A heuristic classifier keeps
// the candidates shaped like environment variable names.
//
// # Architecture Overview
//
//	wasm2env/           ScanBytes and ScanFile
//	├── scanner/        Pipeline, options, reports and wazero validation
//	├── wasm/           Core module parser and instruction decoder
//	├── component/      Core modules embedded in component binaries
//	├── memory/         Constant globals and the sparse initial memory image
//	├── interp/         Abstract stack interpreter and call site capture
//	├── extract/        String recovery at call sites
//	├── classify/       Name heuristics and YAML rule overrides
//	├── errors/         Structured error types
//	└── cmd/wasm2env/   Command line tool
//
// # Quick Start
//
//	names, err := wasm2env.ScanFile("app.wasm")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, n := range names {
//	    fmt.Println(n)
//	}
//
// Use the scanner package directly for logging, custom rules, worker
// limits and per-candidate provenance.
//
// # Precision
//
// Values merged at control flow joins survive only when every incoming
// path agrees, loops are entered with their locals forgotten, and call
// results are never tracked. The scanner may miss names but never
// reports a string that was not a constant argument at some call.
package wasm2env
