package auth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultPhoneRegion is used to parse phone numbers given without a
// country calling code.
var DefaultPhoneRegion = "US"

var (
	usernamePattern = regexp.MustCompile(`^\w+$`)
	nonDigits       = regexp.MustCompile(`\D`)
	titleCaser      = cases.Title(language.Und)
)

// NormalizeEmail trims and lowercases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims and lowercases a username
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// NormalizeName trims and title-cases a personal or country name
func NormalizeName(name string) string {
	name = collapseSpaces(name)
	if name == "" {
		return ""
	}
	return titleCaser.String(name)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizedPhone is a parsed phone number split into calling code and
// national digits.
type NormalizedPhone struct {
	CountryCode string
	National    string
}

// NormalizePhone parses raw with an optional calling code such as "+351".
// It returns the zero value for an empty input.
func NormalizePhone(raw, callingCode string) (NormalizedPhone, error) {
	digits := nonDigits.ReplaceAllString(raw, "")
	if digits == "" {
		return NormalizedPhone{}, nil
	}

	input := strings.TrimSpace(raw)
	region := DefaultPhoneRegion
	if code := nonDigits.ReplaceAllString(callingCode, ""); code != "" {
		input = "+" + code + digits
		region = ""
	} else if strings.HasPrefix(input, "+") {
		input = "+" + digits
		region = ""
	} else {
		input = digits
	}

	num, err := phonenumbers.Parse(input, region)
	if err != nil {
		return NormalizedPhone{}, fmt.Errorf("unable to parse phone number: %w", err)
	}

	if !phonenumbers.IsValidNumber(num) {
		return NormalizedPhone{}, fmt.Errorf("phone number is not valid")
	}

	return NormalizedPhone{
		CountryCode: fmt.Sprintf("+%d", num.GetCountryCode()),
		National:    phonenumbers.GetNationalSignificantNumber(num),
	}, nil
}
