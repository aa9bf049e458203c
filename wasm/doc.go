// Package wasm provides WebAssembly binary format parsing and encoding
// for static analysis.
//
// The parser decodes the sections a static scan needs (types, imports,
// functions, memories, globals, exports, code, data and custom sections)
// and keeps every other section as an opaque payload, so modules using
// newer proposals still parse. Decoding is bounded: every length and vector
// count is checked against the bytes that remain before anything is
// allocated, and failures are *errors.Error values of kind BadMagic,
// BadVersion, Truncated or Malformed carrying the section and byte offset.
//
// # Parsing
//
//	data, _ := os.ReadFile("module.wasm")
//	module, err := wasm.ParseModule(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Byte slices in the returned Module (function code, init expressions,
// data segment contents) alias the input buffer.
//
// ReadHeader distinguishes core modules from component-model binaries,
// which share the magic number but carry a different version word.
//
// # Instructions
//
// Function bodies are decoded lazily by the caller:
//
//	body := module.Code[0]
//	instrs, err := wasm.DecodeInstructions(body.Code, body.Offset)
//
// Every Instruction records its absolute offset in the input. When an
// opcode cannot be decoded the instructions before it are still returned
// alongside a *DecodeError.
//
// # Names
//
// FuncNames reads the "name" custom section and FuncLabels derives a
// display label for each function index from names, exports and imports.
//
// # Encoding
//
// Encode writes a module back to binary. It is used to assemble test
// fixtures:
//
//	roundtrip, _ := wasm.ParseModule(module.Encode())
package wasm
