// Package validate provides input validation for descriptor API requests.
// Values are validated and trimmed, never rewritten: descriptor text is
// indexed verbatim, so escaping belongs to the rendering layer.
package validate

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Validation errors.
var (
	ErrStringTooShort    = errors.New("string is too short")
	ErrStringTooLong     = errors.New("string is too long")
	ErrInvalidCharacters = errors.New("string contains invalid characters")
	ErrEmpty             = errors.New("string is empty")
	ErrInvalidID         = errors.New("invalid id")
	ErrOutOfRange        = errors.New("value out of range")
)

// Field limits.
const (
	MaxQueryLength      = 200
	MaxFilterLength     = 100
	MaxNameLength       = 300
	MaxLevelTextLength  = 4000
	MaxSimilarityLength = 500
)

var codePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,31}$`)

// StringConstraints defines validation constraints for a string.
type StringConstraints struct {
	MinLength      int            // Minimum length in characters (0 = no minimum)
	MaxLength      int            // Maximum length in characters (0 = no maximum)
	AllowedPattern *regexp.Regexp // Optional pattern the whole value must match
	AllowEmpty     bool
	TrimSpace      bool
}

// String validates s against the constraints and returns the (optionally
// trimmed) value. Control characters other than tab and newline are rejected.
func String(s string, c StringConstraints) (string, error) {
	if c.TrimSpace {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		if !c.AllowEmpty {
			return "", ErrEmpty
		}
		return s, nil
	}

	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidCharacters)
	}
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return "", fmt.Errorf("%w: control character %U", ErrInvalidCharacters, r)
		}
	}

	length := utf8.RuneCountInString(s)
	if c.MinLength > 0 && length < c.MinLength {
		return "", fmt.Errorf("%w: got %d chars, need at least %d", ErrStringTooShort, length, c.MinLength)
	}
	if c.MaxLength > 0 && length > c.MaxLength {
		return "", fmt.Errorf("%w: got %d chars, maximum is %d", ErrStringTooLong, length, c.MaxLength)
	}
	if c.AllowedPattern != nil && !c.AllowedPattern.MatchString(s) {
		return "", fmt.Errorf("%w: does not match required pattern", ErrInvalidCharacters)
	}
	return s, nil
}

// SearchQuery validates free-text search input. Empty is allowed.
func SearchQuery(q string) (string, error) {
	return String(q, StringConstraints{MaxLength: MaxQueryLength, AllowEmpty: true, TrimSpace: true})
}

// FilterValue validates a skill area or category filter. Empty is allowed.
func FilterValue(v string) (string, error) {
	return String(v, StringConstraints{MaxLength: MaxFilterLength, AllowEmpty: true, TrimSpace: true})
}

// SimilarityText validates the probe text of a duplicate or related lookup.
// Short text is accepted; the engine answers it with no matches.
func SimilarityText(v string) (string, error) {
	return String(v, StringConstraints{MaxLength: MaxSimilarityLength, AllowEmpty: true, TrimSpace: true})
}

// CriterionName validates a descriptor's criterion name.
func CriterionName(name string) (string, error) {
	return String(name, StringConstraints{MinLength: 1, MaxLength: MaxNameLength, TrimSpace: true})
}

// Code validates a descriptor code: up to 32 letters, digits, dot, dash or
// underscore, starting with a letter or digit.
func Code(code string) (string, error) {
	return String(code, StringConstraints{AllowedPattern: codePattern, TrimSpace: true})
}

// LevelText validates one of the four performance level descriptions.
func LevelText(text string) (string, error) {
	return String(text, StringConstraints{MaxLength: MaxLevelTextLength, AllowEmpty: true, TrimSpace: true})
}

// ID validates a descriptor id and returns its canonical form.
func ID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return parsed.String(), nil
}

// Threshold validates a similarity threshold in [0, 1].
func Threshold(v float64) (float64, error) {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return 0, fmt.Errorf("%w: threshold must be between 0 and 1", ErrOutOfRange)
	}
	return v, nil
}
