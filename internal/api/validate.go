package api

import (
	"regexp"
	"unicode/utf8"
)

// maxNameLen is the maximum length for name fields (agent names, flow names, departments).
const maxNameLen = 200

// maxShortStringLen is the maximum length for short identifiers (agent ids, flow ids, extensions).
const maxShortStringLen = 40

// maxEmailLen is the maximum length for email addresses (RFC 5321).
const maxEmailLen = 254

// maxPasswordLen is the maximum length for passwords.
const maxPasswordLen = 256

// maxFlowDataLen is the maximum length for IVR flow JSON definitions (512 KB).
const maxFlowDataLen = 512 * 1024

// emailRe is a basic email format regex. Not exhaustive; validates structure only.
var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// phoneRe validates dialable numbers: optional leading +, then 2-20 digits.
var phoneRe = regexp.MustCompile(`^\+?\d{2,20}$`)

// extensionRe validates agent extensions: digits only, 1-20 chars.
var extensionRe = regexp.MustCompile(`^\d{1,20}$`)

// validateStringLen checks that a string does not exceed maxLen runes.
// Returns an error message if invalid, empty string if OK.
func validateStringLen(field, value string, maxLen int) string {
	if utf8.RuneCountInString(value) > maxLen {
		return field + " exceeds maximum length"
	}
	return ""
}

// validateRequiredStringLen checks that a non-empty string does not exceed maxLen runes.
func validateRequiredStringLen(field, value string, maxLen int) string {
	if value == "" {
		return field + " is required"
	}
	return validateStringLen(field, value, maxLen)
}

// validateEmail checks that a string is a valid-looking email address.
func validateEmail(field, value string) string {
	if value == "" {
		return ""
	}
	if len(value) > maxEmailLen {
		return field + " exceeds maximum length"
	}
	if !emailRe.MatchString(value) {
		return field + " is not a valid email address"
	}
	return ""
}

// validatePhoneNumber checks that a string looks like a dialable number.
func validatePhoneNumber(field, value string) string {
	if value == "" {
		return field + " is required"
	}
	if !phoneRe.MatchString(value) {
		return field + " must be digits with an optional leading +"
	}
	return ""
}

// validateExtensionNumber checks that an extension is digits only.
// Empty extensions are allowed (optional field).
func validateExtensionNumber(field, value string) string {
	if value == "" {
		return ""
	}
	if !extensionRe.MatchString(value) {
		return field + " must contain only digits (max 20)"
	}
	return ""
}

// containsControlChars checks whether a string has control characters
// (except common whitespace like \n, \r, \t).
func containsControlChars(s string) bool {
	for _, r := range s {
		if r < 32 && r != '\n' && r != '\r' && r != '\t' {
			return true
		}
	}
	return false
}

// validateNoControlChars rejects strings with control characters.
func validateNoControlChars(field, value string) string {
	if containsControlChars(value) {
		return field + " contains invalid characters"
	}
	return ""
}
