/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package sms sends text notifications to rental participants.
package sms

import (
	"context"
	"regexp"
	"strings"
)

// Options carries routing data attached to one message.
type Options struct {
	// Tag names the reminder window, e.g. "return-t-minus-1".
	Tag      string
	Metadata map[string]string
}

// Result describes an accepted message.
type Result struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	To        string `json:"to"`
	Simulated bool   `json:"simulated"`
}

// Dispatcher sends one message to one recipient.
type Dispatcher interface {
	Send(ctx context.Context, to, body string, opts Options) (*Result, error)
	// Available reports whether credentials are configured. Jobs skip
	// dispatch entirely when it returns false.
	Available() bool
}

var nonDigits = regexp.MustCompile(`[^0-9]`)

// NormalizePhone reduces a phone number to E.164 form. Ten-digit numbers
// are treated as North American. An empty string means the input is not a
// usable number.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	digits := nonDigits.ReplaceAllString(raw, "")
	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "1"):
		return "+" + digits
	case strings.HasPrefix(raw, "+") && len(digits) >= 8 && len(digits) <= 15:
		return "+" + digits
	default:
		return ""
	}
}

// SamePhone reports whether a and b normalize to the same number.
func SamePhone(a, b string) bool {
	na, nb := NormalizePhone(a), NormalizePhone(b)
	return na != "" && na == nb
}
