// Package extract turns resolved call-site arguments into byte strings
// read from a module's initial memory.
//
// The primary path looks for adjacent (pointer, length) argument pairs.
// A secondary path reads NUL-terminated strings at pointers that were
// not part of any pair. Nothing here judges whether a string is
// interesting; that is the classifier's job.
package extract
