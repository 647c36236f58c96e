/*
Copyright 2024 The Deckhand Authors.

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

package xerrors

import (
	"regexp"
	"strings"
)

// Redacted replaces any message fragment that may expose a substituted
// secret value.
const Redacted = "Sanitized to avoid exposing secret."

// Validation error messages that echo the offending value back verbatim.
var insecurePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^.* is not of type .+$`),
	regexp.MustCompile(`^.* does not match .+$`),
}

// Sanitize scrubs the message of an error raised for a document that carries
// or consumes secret material. Messages that echo values verbatim are
// replaced wholesale; individual tokens recognized as secret references by
// isRef are replaced in place.
func Sanitize(e *Error, sensitive bool, isRef func(string) bool) {
	if e == nil {
		return
	}
	if sensitive {
		for _, p := range insecurePatterns {
			if p.MatchString(e.Message) {
				e.Message = Redacted
				return
			}
		}
	}
	if isRef == nil {
		return
	}
	fields := strings.Fields(e.Message)
	replaced := false
	for i, f := range fields {
		if isRef(strings.Trim(f, `"',:;()[]{}`)) {
			fields[i] = Redacted
			replaced = true
		}
	}
	if replaced {
		e.Message = strings.Join(fields, " ")
	}
}
