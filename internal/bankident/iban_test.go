package bankident

import "testing"

func TestValidateIBAN_AcceptsKnownGoodIBANs(t *testing.T) {
	valid := []string{
		"GB82WEST12345698765432",
		"DE89370400440532013000",
		"FR1420041010050500013M02606",
		"NL91ABNA0417164300",
		"BE68539007547034",
	}
	for _, iban := range valid {
		if !ValidateIBAN(iban) {
			t.Errorf("expected %s to validate", iban)
		}
	}
}

func TestValidateIBAN_RejectsBadChecksum(t *testing.T) {
	invalid := []string{
		"GB82WEST12345698765431", // last digit off by one
		"DE89370400440532013001",
		"NL91ABNA0417164301",
		"GB00WEST12345698765432", // wrong check digits
	}
	for _, iban := range invalid {
		if ValidateIBAN(iban) {
			t.Errorf("expected %s to be rejected", iban)
		}
	}
}

func TestValidateIBAN_NormalizesSpacingAndCase(t *testing.T) {
	// Paper-format and lowercase inputs are normalized before the check.
	normalized := []string{
		"GB82 WEST 1234 5698 7654 32",
		"gb82west12345698765432",
		"  DE89 3704 0044 0532 0130 00  ",
	}
	for _, iban := range normalized {
		if !ValidateIBAN(iban) {
			t.Errorf("expected %q to validate after normalization", iban)
		}
	}
}

func TestValidateIBAN_RejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name string
		iban string
	}{
		{"empty", ""},
		{"too short", "GB82WEST123456"},
		{"too long", "GB82WEST12345698765432WEST12345698765432"},
		{"punctuation", "GB82-WEST-1234-5698-7654-32"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if ValidateIBAN(tc.iban) {
				t.Fatalf("expected %q to be rejected", tc.iban)
			}
		})
	}
}
