package schema

import "fmt"

type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one finding, located by a path into the graph
// document such as "nodes[2]" or "/edges/0/source".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// ValidationResult collects issues from every validation stage. Only
// errors make a graph invalid.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(path, code, message string) {
	r.Add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Add(ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Add files issue under Errors or Warnings by its severity. An issue with
// no severity counts as an error.
func (r *ValidationResult) Add(issues ...ValidationIssue) {
	for _, is := range issues {
		if is.Severity == SeverityWarning {
			r.Warnings = append(r.Warnings, is)
			continue
		}
		is.Severity = SeverityError
		r.Errors = append(r.Errors, is)
	}
}

func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Add(other.Errors...)
		r.Add(other.Warnings...)
	}
}

// ToError returns nil for a valid result. Otherwise it returns a
// VALIDATION error named after the first problem, with every issue in the
// details.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	first := r.Errors[0]
	msg := first.Message
	if n := len(r.Errors); n > 1 {
		msg = fmt.Sprintf("graph has %d problems, first at %s", n, first)
	}
	return NewError(ErrCodeValidation, msg).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}
