// Package component finds the core modules embedded in WebAssembly
// Component Model binaries.
//
// A component carries its code as core modules (section 1) and may nest
// further components (section 4). CoreModules walks both depth first and
// returns each core module with its absolute offset, so errors from
// parsing a module can point into the outer binary. Everything else in a
// component (types, canonical ABI, instances) is skipped unread.
package component
