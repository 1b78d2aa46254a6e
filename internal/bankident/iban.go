/**
 * @description
 * This package validates and normalizes heterogeneous bank-account identifiers.
 * It is pure: no I/O, no side effects. IBAN validation implements the
 * ISO 7064 MOD 97-10 check; local schemes (US, GB, AU, CA) are handled by
 * the Build constructor in local.go.
 */

package bankident

import "strings"

// ValidateIBAN reports whether raw is a checksum-valid IBAN.
//
// The input is stripped of whitespace and uppercased, rejected unless it is
// alphanumeric with length in [15, 34], rearranged by moving the first four
// characters to the end, letters expanded to two digits (A=10 .. Z=35), and
// the resulting digit string reduced modulo 97 digit by digit. Valid iff the
// remainder is 1.
func ValidateIBAN(raw string) bool {
	iban := strings.ToUpper(strings.Join(strings.Fields(raw), ""))
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	for i := 0; i < len(iban); i++ {
		c := iban[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}

	rearranged := iban[4:] + iban[:4]

	// Streaming mod 97 avoids big-integer arithmetic: each letter contributes
	// its two-digit expansion, each digit contributes itself.
	remainder := 0
	for i := 0; i < len(rearranged); i++ {
		c := rearranged[i]
		if c >= 'A' && c <= 'Z' {
			v := int(c) - 55 // A=10 .. Z=35
			remainder = (remainder*10 + v/10) % 97
			remainder = (remainder*10 + v%10) % 97
		} else {
			remainder = (remainder*10 + int(c-'0')) % 97
		}
	}
	return remainder == 1
}
