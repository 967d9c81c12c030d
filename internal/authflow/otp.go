package authflow

import (
	"strings"
	"unicode"
)

// OTPInput models the segmented one-time-code entry: one field per digit,
// focus tracking, and completion detection. It is a pure state model; the
// rendering layer mirrors it field-for-field.
type OTPInput struct {
	digits []string
	focus  int
	fired  bool
}

func NewOTPInput(length int) *OTPInput {
	if length < 1 {
		length = 6
	}
	return &OTPInput{digits: make([]string, length)}
}

func (o *OTPInput) Length() int {
	return len(o.digits)
}

// Focus returns the index of the field that should hold input focus.
func (o *OTPInput) Focus() int {
	return o.focus
}

// Code returns the concatenated digits entered so far.
func (o *OTPInput) Code() string {
	return strings.Join(o.digits, "")
}

// Complete reports whether every field holds a digit.
func (o *OTPInput) Complete() bool {
	for _, d := range o.digits {
		if d == "" {
			return false
		}
	}
	return true
}

// SetDigit records a single typed character at the given field. Non-digit
// input is ignored. Focus advances to the next field. The boolean is true
// only on the keystroke that completes the code, so verification fires
// exactly once per fill.
func (o *OTPInput) SetDigit(index int, value string) (string, bool) {
	if index < 0 || index >= len(o.digits) {
		return o.Code(), false
	}
	value = strings.TrimSpace(value)
	if value == "" || len(value) > 1 || !unicode.IsDigit(rune(value[0])) {
		return o.Code(), false
	}
	o.digits[index] = value
	if index < len(o.digits)-1 {
		o.focus = index + 1
	}
	return o.Code(), o.completeOnce()
}

// Paste fills fields starting at index from the digit characters of the
// pasted string. A full-length paste completes the code and reports true;
// a partial paste advances focus past the last filled field.
func (o *OTPInput) Paste(index int, value string) (string, bool) {
	if index < 0 || index >= len(o.digits) {
		return o.Code(), false
	}
	var filtered []rune
	for _, r := range value {
		if unicode.IsDigit(r) {
			filtered = append(filtered, r)
		}
	}
	pos := index
	for _, r := range filtered {
		if pos >= len(o.digits) {
			break
		}
		o.digits[pos] = string(r)
		pos++
	}
	if pos < len(o.digits) {
		o.focus = pos
	} else {
		o.focus = len(o.digits) - 1
	}
	return o.Code(), o.completeOnce()
}

// Backspace clears the digit at index. On an already-empty field it moves
// focus to the previous field instead.
func (o *OTPInput) Backspace(index int) {
	if index < 0 || index >= len(o.digits) {
		return
	}
	if o.digits[index] == "" {
		if index > 0 {
			o.focus = index - 1
		}
		return
	}
	o.digits[index] = ""
	o.focus = index
	o.fired = false
}

// Clear resets every field, e.g. after a resend.
func (o *OTPInput) Clear() {
	for i := range o.digits {
		o.digits[i] = ""
	}
	o.focus = 0
	o.fired = false
}

func (o *OTPInput) completeOnce() bool {
	for _, d := range o.digits {
		if d == "" {
			return false
		}
	}
	if o.fired {
		return false
	}
	o.fired = true
	return true
}
