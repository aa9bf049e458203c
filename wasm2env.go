package wasm2env

import (
	"context"
	"os"

	"github.com/wippyai/wasm2env/errors"
	"github.com/wippyai/wasm2env/scanner"
)

// ScanBytes returns the environment variable names read by the module or
// component in data, sorted and without duplicates. The result is empty,
// not nil, when nothing is found.
func ScanBytes(data []byte) ([]string, error) {
	return scanner.New().ScanBytes(context.Background(), data)
}

// ScanFile reads path and scans its contents. Read failures are errors of
// kind io and never parse errors.
func ScanFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.IO(path, err)
	}
	return ScanBytes(data)
}
