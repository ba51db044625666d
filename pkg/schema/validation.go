package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValidationSeverity tells apart issues that reject an app file from those
// that are only reported.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue locates one problem in an app file. Path uses the dotted
// form automations[0].actions[2].params.url; "/" is the whole document.
// Pointer is the same location as an RFC 6901 JSON pointer.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Pointer  string             `json:"pointer"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" || i.Path == "/" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// AutomationIndex returns the index of the automation the issue belongs to.
func (i ValidationIssue) AutomationIndex() (int, bool) {
	rest, ok := strings.CutPrefix(i.Path, "automations[")
	if !ok {
		return 0, false
	}
	end := strings.IndexByte(rest, ']')
	if end < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// ValidationResult collects the issues of one app file check.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether the app file can be loaded. Warnings never block it.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, newIssue(path, code, message, SeverityError))
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, newIssue(path, code, message, SeverityWarning))
}

func newIssue(path, code, message string, severity ValidationSeverity) ValidationIssue {
	return ValidationIssue{Path: path, Pointer: JSONPointer(path), Code: code, Message: message, Severity: severity}
}

// Merge appends other's issues after r's.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError returns nil for a valid result, otherwise a VALIDATION error
// naming the first issue. Details carry every issue and the indexes of the
// automations that have errors.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].String()
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("app file has %d errors, first: %s", len(r.Errors), msg)
	}

	seen := make(map[int]bool)
	automations := []int{}
	for _, issue := range r.Errors {
		if i, ok := issue.AutomationIndex(); ok && !seen[i] {
			seen[i] = true
			automations = append(automations, i)
		}
	}
	sort.Ints(automations)

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"errors":      r.Errors,
			"warnings":    r.Warnings,
			"automations": automations,
		})
}

// JSONPointer converts a dotted issue path into a JSON pointer:
// automations[0].actions[1].name becomes /automations/0/actions/1/name.
func JSONPointer(path string) string {
	if path == "" || path == "/" {
		return ""
	}
	var b strings.Builder
	for _, field := range strings.Split(path, ".") {
		name, rest, _ := strings.Cut(field, "[")
		writeToken(&b, name)
		for rest != "" {
			idx, after, ok := strings.Cut(rest, "]")
			if !ok {
				writeToken(&b, idx)
				break
			}
			writeToken(&b, idx)
			rest = strings.TrimPrefix(after, "[")
		}
	}
	return b.String()
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

func writeToken(b *strings.Builder, token string) {
	if token == "" {
		return
	}
	b.WriteByte('/')
	b.WriteString(pointerEscaper.Replace(token))
}
