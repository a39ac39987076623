// Package format holds the display conventions shared by the roster, notice
// and report code: dates in Brasilia time, Brazilian phone numbers and
// accent-free slugs.
package format

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Timezone is where the school operates. The backend stores UTC; everything
// shown to people is in Brasilia time.
const Timezone = "America/Sao_Paulo"

// NotAvailable is shown in place of missing values.
const NotAvailable = "N/A"

var location = mustLoadLocation()

func mustLoadLocation() *time.Location {
	loc, err := time.LoadLocation(Timezone)
	if err != nil {
		return time.FixedZone("BRT", -3*60*60)
	}
	return loc
}

// Location returns the Brasilia time zone.
func Location() *time.Location {
	return location
}

// Date formats t as DD/MM/YYYY in Brasilia time.
func Date(t time.Time) string {
	if t.IsZero() {
		return NotAvailable
	}
	return t.In(location).Format("02/01/2006")
}

// DateTime formats t as DD/MM/YYYY HH:MM in Brasilia time.
func DateTime(t time.Time) string {
	if t.IsZero() {
		return NotAvailable
	}
	return t.In(location).Format("02/01/2006 15:04")
}

// ISODate formats t as YYYY-MM-DD in Brasilia time.
func ISODate(t time.Time) string {
	return t.In(location).Format("2006-01-02")
}

// ParseLocalDateTime reads a "YYYY-MM-DDTHH:MM" or "YYYY-MM-DD HH:MM" value
// entered in Brasilia time.
func ParseLocalDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02T15:04", "2006-01-02 15:04", "02/01/2006 15:04", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, s, location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date/time %q", s)
}

// ParseBirthDate accepts DD-MM-YYYY (spreadsheet convention), DD/MM/YYYY or
// YYYY-MM-DD and returns the ISO form stored by the backend.
func ParseBirthDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "02-01-2006", "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("invalid date %q, use DD-MM-YYYY or YYYY-MM-DD", s)
}

// DigitsOnly strips everything but ASCII digits.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Phone renders 13 digit numbers with country code 55 as
// "+55 (DD) NNNNN-NNNN" and leaves anything else untouched.
func Phone(phone string) string {
	if phone == "" {
		return NotAvailable
	}
	n := DigitsOnly(phone)
	if len(n) == 13 && strings.HasPrefix(n, "55") {
		return fmt.Sprintf("+55 (%s) %s-%s", n[2:4], n[4:9], n[9:13])
	}
	return phone
}

// ValidPhone reports whether phone has between 11 and 13 digits.
func ValidPhone(phone string) bool {
	n := len(DigitsOnly(phone))
	return n >= 11 && n <= 13
}

// Slug lower-cases s and removes diacritics ("Média" -> "media").
func Slug(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}

// OrNA returns s, or NotAvailable when s is blank.
func OrNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}
