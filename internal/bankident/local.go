package bankident

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors surfaced to callers as client-facing validation failures.
var (
	ErrInvalidIBAN        = errors.New("invalid IBAN checksum")
	ErrInvalidRouting     = errors.New("invalid routing code")
	ErrUnsupportedCountry = errors.New("unsupported country for local bank identifiers")
)

// Kind tags the closed set of identifier variants. Unknown countries are
// rejected at construction, never deep in call sites.
type Kind string

const (
	KindIBAN Kind = "iban"
	KindUS   Kind = "us"
	KindGB   Kind = "gb"
	KindAU   Kind = "au"
	KindCA   Kind = "ca"
)

// Identifier is a validated, normalized bank-account identifier. Only the
// fields relevant to its Kind are populated.
type Identifier struct {
	Kind              Kind
	Country           string
	IBAN              string
	AccountNumber     string
	RoutingNumber     string // US ABA routing number, verbatim
	SortCode          string // GB, 6 digits
	BSB               string // AU, 6 digits
	InstitutionNumber string // CA, 3 digits
	TransitNumber     string // CA, 5 digits
}

// Build validates and normalizes a destination identifier. A supplied IBAN
// always takes precedence and is returned as-is after checksum validation;
// otherwise the account number and routing code are interpreted per the
// uppercased country code.
func Build(country, iban, accountNumber, routingCode string) (Identifier, error) {
	cc := strings.ToUpper(strings.TrimSpace(country))

	if strings.TrimSpace(iban) != "" {
		normalized := strings.ToUpper(strings.Join(strings.Fields(iban), ""))
		if !ValidateIBAN(normalized) {
			return Identifier{}, ErrInvalidIBAN
		}
		return Identifier{Kind: KindIBAN, Country: cc, IBAN: normalized}, nil
	}

	switch cc {
	case "US":
		return Identifier{
			Kind:          KindUS,
			Country:       cc,
			AccountNumber: accountNumber,
			RoutingNumber: routingCode,
		}, nil
	case "GB":
		sortCode := digitsOnly(routingCode)
		if len(sortCode) != 6 {
			return Identifier{}, fmt.Errorf("%w: GB sort code must have 6 digits", ErrInvalidRouting)
		}
		return Identifier{
			Kind:          KindGB,
			Country:       cc,
			AccountNumber: accountNumber,
			SortCode:      sortCode,
		}, nil
	case "AU":
		bsb := digitsOnly(routingCode)
		if len(bsb) != 6 {
			return Identifier{}, fmt.Errorf("%w: AU BSB must have 6 digits", ErrInvalidRouting)
		}
		return Identifier{
			Kind:          KindAU,
			Country:       cc,
			AccountNumber: accountNumber,
			BSB:           bsb,
		}, nil
	case "CA":
		institution, transit, err := parseCanadianRouting(routingCode)
		if err != nil {
			return Identifier{}, err
		}
		return Identifier{
			Kind:              KindCA,
			Country:           cc,
			AccountNumber:     accountNumber,
			InstitutionNumber: institution,
			TransitNumber:     transit,
		}, nil
	default:
		return Identifier{}, fmt.Errorf("%w: %s", ErrUnsupportedCountry, cc)
	}
}

// parseCanadianRouting accepts two input shapes:
//
//	(1) exactly 9 digits with a leading 0: 0 III TTTTT
//	    institution = digits[1:4], transit = digits[4:9]
//	(2) two dash/space-separated groups, one of 5 digits (transit) and one of
//	    3 digits (institution), in either order.
func parseCanadianRouting(routingCode string) (institution, transit string, err error) {
	trimmed := strings.TrimSpace(routingCode)

	if digits := digitsOnly(trimmed); digits == trimmed && len(digits) == 9 && digits[0] == '0' {
		return digits[1:4], digits[4:9], nil
	}

	groups := strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == '-' || r == ' '
	})
	if len(groups) == 2 {
		a, b := groups[0], groups[1]
		if isDigits(a) && isDigits(b) {
			switch {
			case len(a) == 5 && len(b) == 3:
				return b, a, nil
			case len(a) == 3 && len(b) == 5:
				return a, b, nil
			}
		}
	}
	return "", "", fmt.Errorf("%w: CA routing must be 9 digits starting with 0, or transit+institution groups", ErrInvalidRouting)
}

// Masked returns the audit-safe destination snapshot: country, scheme fields,
// and at most the last 4 digits of any account number or IBAN.
func (id Identifier) Masked() map[string]string {
	snapshot := map[string]string{"countryCode": id.Country}
	switch id.Kind {
	case KindIBAN:
		snapshot["iban"] = lastFour(id.IBAN)
	case KindUS:
		snapshot["accountNumber"] = lastFour(id.AccountNumber)
		snapshot["routingNumber"] = id.RoutingNumber
	case KindGB:
		snapshot["accountNumber"] = lastFour(id.AccountNumber)
		snapshot["sortCode"] = id.SortCode
	case KindAU:
		snapshot["accountNumber"] = lastFour(id.AccountNumber)
		snapshot["bsb"] = id.BSB
	case KindCA:
		snapshot["accountNumber"] = lastFour(id.AccountNumber)
		snapshot["institutionNumber"] = id.InstitutionNumber
		snapshot["transitNumber"] = id.TransitNumber
	}
	return snapshot
}

// BankLocationID returns the branch/routing component in the payout network's
// single-field representation. For CA this is the canonical 9-digit
// 0+institution+transit form.
func (id Identifier) BankLocationID() string {
	switch id.Kind {
	case KindUS:
		return id.RoutingNumber
	case KindGB:
		return id.SortCode
	case KindAU:
		return id.BSB
	case KindCA:
		return "0" + id.InstitutionNumber + id.TransitNumber
	default:
		return ""
	}
}

func lastFour(s string) string {
	if len(s) <= 4 {
		return s
	}
	return "****" + s[len(s)-4:]
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
