// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"strings"
)

// ActionableError pairs a failure with the operation that hit it and hints
// for getting past it. Commands wrap the errors of their long-running steps
// in one of these so the final report names what was being attempted rather
// than only the innermost OS error.
type ActionableError struct {
	// Operation is what was being attempted, as a verb phrase
	// ("install package \"shells.bash\"").
	Operation string
	// Resource is the file, directory or package involved, when one exists.
	Resource string
	// Suggestions are fix-it hints shown under the message.
	Suggestions []string
	// Cause is the wrapped error.
	Cause error
}

// Wrap attaches operation context and optional fix-it hints to err.
// A nil err stays nil.
func Wrap(err error, operation, resource string, suggestions ...string) error {
	if err == nil {
		return nil
	}
	return &ActionableError{
		Operation:   operation,
		Resource:    resource,
		Suggestions: suggestions,
		Cause:       err,
	}
}

func (e *ActionableError) Error() string {
	parts := []string{"failed to " + e.Operation}
	if e.Resource != "" {
		parts = append(parts, e.Resource)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ActionableError) Unwrap() error { return e.Cause }

// HasSuggestions reports whether any fix-it hints were attached.
func (e *ActionableError) HasSuggestions() bool {
	return len(e.Suggestions) > 0
}

// Format renders the error for terminal display: the message, then the
// suggestions as bullet points. Verbose mode appends every link of the
// wrapped error chain on its own line.
func (e *ActionableError) Format(verbose bool) string {
	var b strings.Builder
	b.WriteString(e.Error())
	for _, s := range e.Suggestions {
		b.WriteString("\n  • ")
		b.WriteString(s)
	}
	if verbose {
		for cause := errors.Unwrap(e); cause != nil; cause = errors.Unwrap(cause) {
			b.WriteString("\n  caused by: ")
			b.WriteString(cause.Error())
		}
	}
	return b.String()
}
