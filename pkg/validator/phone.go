package validator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	// ErrInvalidLength indicates phone number length is not 10 digits
	ErrInvalidLength = errors.New("phone number must be exactly 10 digits")

	// ErrInvalidPrefix indicates phone number doesn't start with a Rwandan mobile prefix
	ErrInvalidPrefix = errors.New("phone number must start with 072, 073, 078, or 079")

	// ErrInvalidFormat indicates phone number contains invalid characters
	ErrInvalidFormat = errors.New("phone number can only contain digits")

	// ErrEmptyPhone indicates phone number is empty
	ErrEmptyPhone = errors.New("phone number cannot be empty")
)

// countryCode is the Rwandan dialing code
const countryCode = "250"

// operatorPrefixes maps Rwandan mobile prefixes to their operator
var operatorPrefixes = map[string]string{
	"072": "Airtel",
	"073": "Airtel",
	"078": "MTN",
	"079": "MTN",
}

// phoneRegex matches digits only
var phoneRegex = regexp.MustCompile(`^\d+$`)

// PhoneValidator handles phone number validation
type PhoneValidator struct{}

// NewPhoneValidator creates a new phone validator instance
func NewPhoneValidator() *PhoneValidator {
	return &PhoneValidator{}
}

// Validate validates a Rwandan mobile number.
// Accepts 0788123456, 078 812 3456, +250788123456 or 250788123456.
// Returns the national format (10 digits starting with 0).
func (v *PhoneValidator) Validate(phone string) (string, error) {
	if phone == "" {
		return "", ErrEmptyPhone
	}

	sanitized := v.Sanitize(phone)

	if !phoneRegex.MatchString(sanitized) {
		return "", ErrInvalidFormat
	}

	if len(sanitized) != 10 {
		return "", ErrInvalidLength
	}

	if !v.IsValidPrefix(sanitized) {
		return "", ErrInvalidPrefix
	}

	return sanitized, nil
}

// Sanitize strips separators and rewrites the country code to a leading 0
func (v *PhoneValidator) Sanitize(phone string) string {
	replacer := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "", ".", "")
	phone = replacer.Replace(phone)

	if strings.HasPrefix(phone, countryCode) && len(phone) == 12 {
		phone = "0" + phone[len(countryCode):]
	}

	return phone
}

// IsValidPrefix checks if phone number has a Rwandan mobile prefix
func (v *PhoneValidator) IsValidPrefix(phone string) bool {
	if len(phone) < 3 {
		return false
	}
	_, ok := operatorPrefixes[phone[:3]]
	return ok
}

// E164 returns the number as +2507XXXXXXXX, the form SMS gateways expect
func (v *PhoneValidator) E164(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}
	return "+" + countryCode + sanitized[1:], nil
}

// Format formats a phone number for display: 07X XXX XXXX
func (v *PhoneValidator) Format(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s %s %s", sanitized[0:3], sanitized[3:6], sanitized[6:10]), nil
}

// GetOperator returns the mobile operator name based on prefix
func (v *PhoneValidator) GetOperator(phone string) (string, error) {
	sanitized, err := v.Validate(phone)
	if err != nil {
		return "", err
	}
	return operatorPrefixes[sanitized[:3]], nil
}

// IsValid is a convenience method that returns true if phone is valid
func (v *PhoneValidator) IsValid(phone string) bool {
	_, err := v.Validate(phone)
	return err == nil
}
