package classify

import (
	stderrors "errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/wasm2env/errors"
)

// Rules holds the classifier's tables and bounds.
type Rules struct {
	// Keywords accept a name containing one of them (case-insensitive)
	// even when it is not all upper case.
	Keywords []string `yaml:"keywords"`
	// DenyExact rejects names equal to one of these.
	DenyExact []string `yaml:"deny_exact"`
	// DenySubstrings rejects names containing one of these.
	DenySubstrings []string `yaml:"deny_substrings"`
	MinLength      int      `yaml:"min_length"`
	MaxLength      int      `yaml:"max_length"`
	MinLetters     int      `yaml:"min_letters"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		Keywords: []string{
			"_KEY", "_TOKEN", "_SECRET", "_PASSWORD", "_URL", "_DB",
			"API_KEY", "DATABASE_", "HOST_", "_PORT", "_API_", "JWT",
		},
		DenyExact: []string{
			"HTTP", "HTTPS", "JSON", "UTF8", "WASM", "COMPONENT",
			"LOCALHOST", "MAIN", "FALSE", "TRUE", "FILE",
		},
		DenySubstrings: []string{"RUST_", "BACKTRACE"},
		MinLength:      4,
		MaxLength:      100,
		MinLetters:     4,
	}
}

// ruleFile is the YAML override format. Without replace, listed entries
// are added to the defaults; with it, every table given replaces the
// default one. Zero bounds keep the default.
type ruleFile struct {
	Rules   `yaml:",inline"`
	Replace bool `yaml:"replace"`
}

// LoadRules reads a YAML rule override and merges it over DefaultRules.
// An empty document yields the defaults.
func LoadRules(r io.Reader) (Rules, error) {
	return loadRules(r, "")
}

// LoadRulesFile is LoadRules on a file.
func LoadRulesFile(path string) (Rules, error) {
	f, err := os.Open(path)
	if err != nil {
		return Rules{}, errors.IO(path, err)
	}
	defer f.Close()
	return loadRules(f, path)
}

func loadRules(r io.Reader, path string) (Rules, error) {
	var rf ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil && !stderrors.Is(err, io.EOF) {
		return Rules{}, errors.InvalidRules(path, "decode rules", err)
	}

	out := DefaultRules()
	if rf.Replace {
		if rf.Keywords != nil {
			out.Keywords = rf.Keywords
		}
		if rf.DenyExact != nil {
			out.DenyExact = rf.DenyExact
		}
		if rf.DenySubstrings != nil {
			out.DenySubstrings = rf.DenySubstrings
		}
	} else {
		out.Keywords = append(out.Keywords, rf.Keywords...)
		out.DenyExact = append(out.DenyExact, rf.DenyExact...)
		out.DenySubstrings = append(out.DenySubstrings, rf.DenySubstrings...)
	}
	if rf.MinLength != 0 {
		out.MinLength = rf.MinLength
	}
	if rf.MaxLength != 0 {
		out.MaxLength = rf.MaxLength
	}
	if rf.MinLetters != 0 {
		out.MinLetters = rf.MinLetters
	}

	if err := out.validate(); err != nil {
		return Rules{}, errors.InvalidRules(path, err.Error(), nil)
	}
	return out, nil
}

func (r Rules) validate() error {
	switch {
	case r.MinLength < 1:
		return stderrors.New("min_length must be positive")
	case r.MaxLength < r.MinLength:
		return stderrors.New("max_length is below min_length")
	case r.MinLetters < 0:
		return stderrors.New("min_letters is negative")
	}
	for _, s := range r.DenySubstrings {
		if s == "" {
			return stderrors.New("empty deny substring")
		}
	}
	for _, s := range r.Keywords {
		if s == "" {
			return stderrors.New("empty keyword")
		}
	}
	return nil
}
