package students

import (
	"math/rand/v2"
	"strconv"
)

const (
	portalCodeMin = 100000
	portalCodeMax = 999999
)

// CodeGenerator returns candidate portal access codes.
type CodeGenerator func() string

// RandomPortalCode draws a 6-digit code in [100000, 999999].
func RandomPortalCode() string {
	return strconv.Itoa(portalCodeMin + rand.IntN(portalCodeMax-portalCodeMin+1))
}

// ValidPortalCode reports whether code is exactly six ASCII digits.
func ValidPortalCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
