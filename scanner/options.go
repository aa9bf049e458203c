package scanner

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm2env/classify"
)

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger for debug tracing. A nil logger is ignored.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRules replaces the classifier rules.
func WithRules(r classify.Rules) Option {
	return func(s *Scanner) {
		s.classifier = classify.New(r)
	}
}

// WithWorkers bounds how many functions are simulated at once.
// Values below 1 mean GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		s.workers = n
	}
}

// WithMaxInstructions caps the instructions simulated per function.
// Zero means no cap.
func WithMaxInstructions(n int) Option {
	return func(s *Scanner) {
		s.maxInstructions = n
	}
}

// WithMaxStringLength bounds recovered strings. Zero keeps the default.
func WithMaxStringLength(n int) Option {
	return func(s *Scanner) {
		s.maxStringLength = n
	}
}

// WithCStrings toggles recovery of NUL-terminated strings at unpaired
// pointer arguments.
func WithCStrings(on bool) Option {
	return func(s *Scanner) {
		s.cstrings = on
	}
}
