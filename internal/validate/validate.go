// Package validate normalizes and checks user-supplied text and numbers.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/example/taxi-dispatch/internal/errs"
)

const (
	MinDescriptionLen = 5
	MaxDescriptionLen = 500
	MaxAddressLen     = 255
	MaxDistanceKm     = 1000
)

var (
	htmlTag    = regexp.MustCompile(`<[^>]+>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// SanitizeText strips HTML tags and collapses whitespace.
func SanitizeText(s string) string {
	s = htmlTag.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Description sanitizes s and checks its length. Lengths count characters, not bytes.
func Description(s string) (string, error) {
	s = SanitizeText(s)
	if s == "" {
		return "", errs.NewValueIsInvalidError("description")
	}
	if n := utf8.RuneCountInString(s); n < MinDescriptionLen || n > MaxDescriptionLen {
		return "", errs.NewValueIsInvalidErrorWithCause("description",
			fmt.Errorf("length %d is outside [%d, %d]", n, MinDescriptionLen, MaxDescriptionLen))
	}
	return s, nil
}

// Address sanitizes an optional free-text address.
func Address(param, s string) (string, error) {
	s = SanitizeText(s)
	if utf8.RuneCountInString(s) > MaxAddressLen {
		return "", errs.NewValueIsInvalidErrorWithCause(param, fmt.Errorf("longer than %d characters", MaxAddressLen))
	}
	return s, nil
}

// plate letters are the Cyrillic ones that look Latin; both spellings are accepted
const plateLetters = `[АВЕКМНОРСТУХABEKMHOPCTYX]`

var platePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^` + plateLetters + `\d{3}` + plateLetters + `{2}\d{2,3}$`), // А123ВС77
	regexp.MustCompile(`^` + plateLetters + `\d{2}` + plateLetters + `{2}\d{2,3}$`), // А12ВС77
	regexp.MustCompile(`^\d{3}` + plateLetters + `{2}\d{2,3}$`),                     // 123ВС77
	regexp.MustCompile(`^` + plateLetters + `{2}\d{3}\d{2,3}$`),                     // АВ12377
}

// CarNumber normalizes a Russian registration plate to upper case without spaces.
func CarNumber(s string) (string, error) {
	s = strings.ToUpper(strings.Join(strings.Fields(s), ""))
	if s == "" {
		return "", errs.NewValueIsInvalidError("car_number")
	}
	for _, p := range platePatterns {
		if p.MatchString(s) {
			return s, nil
		}
	}
	return "", errs.NewValueIsInvalidErrorWithCause("car_number", fmt.Errorf("%q is not a registration plate, e.g. А123ВС77", s))
}

func Rating(r int) error {
	if r < 1 || r > 5 {
		return errs.NewValueIsInvalidErrorWithCause("rating", fmt.Errorf("%d is outside [1, 5]", r))
	}
	return nil
}

func Distance(km float64) error {
	if km < 0 || km > MaxDistanceKm {
		return errs.NewValueIsInvalidErrorWithCause("distance", fmt.Errorf("%.2f km is outside [0, %d]", km, MaxDistanceKm))
	}
	return nil
}

// Required checks that a sanitized free-text field is present and not too long.
func Required(param, s string, maxLen int) (string, error) {
	s = SanitizeText(s)
	if s == "" {
		return "", errs.NewValueIsInvalidError(param)
	}
	if utf8.RuneCountInString(s) > maxLen {
		return "", errs.NewValueIsInvalidErrorWithCause(param, fmt.Errorf("longer than %d characters", maxLen))
	}
	return s, nil
}
