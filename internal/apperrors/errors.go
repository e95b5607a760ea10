// Package apperrors defines the error kinds surfaced by the pipeline.
//
// Every kind keeps a short, operator-facing Error() string. Raw diagnostic
// output (tool stderr, response bodies) lives in a separate field and is only
// reachable through Diagnostic.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// maxDiagnosticLen bounds how much raw tool/service output is retained.
const maxDiagnosticLen = 8192

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func NewValidation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type UnsupportedPlatformError struct {
	URL  string
	Host string
}

func (e *UnsupportedPlatformError) Error() string {
	if e.Host == "" {
		return fmt.Sprintf("unsupported platform for %q", e.URL)
	}
	return fmt.Sprintf("unsupported platform %q", e.Host)
}

// ExternalToolError reports a missing binary, a non-zero exit or a timeout of
// a child process. Output holds the captured combined output.
type ExternalToolError struct {
	Tool     string
	Op       string
	ExitCode int // -1 when the process never ran or was killed
	Output   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Tool, e.Op)
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalToolError) Unwrap() error { return e.Err }

func NewExternalTool(tool, op string, exitCode int, output []byte, err error) *ExternalToolError {
	return &ExternalToolError{
		Tool:     tool,
		Op:       op,
		ExitCode: exitCode,
		Output:   tail(string(output), maxDiagnosticLen),
		Err:      err,
	}
}

// ExternalServiceError reports a remote dependency answering with an error
// status or a payload that could not be used.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Message    string
	Body       string
	Err        error
}

func (e *ExternalServiceError) Error() string {
	msg := e.Service + ": " + e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: %s (status %d)", e.Service, e.Message, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

func NewExternalService(service string, status int, message string, body []byte, err error) *ExternalServiceError {
	return &ExternalServiceError{
		Service:    service,
		StatusCode: status,
		Message:    message,
		Body:       tail(string(body), maxDiagnosticLen),
		Err:        err,
	}
}

// ParseError means a model response could not be turned into candidates, even
// after the tolerant recovery pass.
type ParseError struct {
	What string
	Raw  string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to parse %s: %v", e.What, e.Err)
	}
	return "failed to parse " + e.What
}

func (e *ParseError) Unwrap() error { return e.Err }

type QuotaExceededError struct {
	Resource string
	Used     float64
	Limit    float64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %g of %g used", e.Resource, e.Used, e.Limit)
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return e.Resource + " not found"
	}
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func NewNotFound(resource string, id fmt.Stringer) *NotFoundError {
	if id == nil {
		return &NotFoundError{Resource: resource}
	}
	return &NotFoundError{Resource: resource, ID: id.String()}
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// UserMessage returns the short message stored on a failed project.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var (
		tool  *ExternalToolError
		svc   *ExternalServiceError
		parse *ParseError
	)
	switch {
	case errors.As(err, &tool):
		return fmt.Sprintf("%s %s failed", tool.Tool, tool.Op)
	case errors.As(err, &svc):
		return fmt.Sprintf("%s unavailable: %s", svc.Service, svc.Message)
	case errors.As(err, &parse):
		return "could not parse " + parse.What
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return Truncate(msg, 300)
}

// Diagnostic returns the raw output attached to err, if any, prefixed with the
// full error chain.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	var (
		tool  *ExternalToolError
		svc   *ExternalServiceError
		parse *ParseError
	)
	out := err.Error()
	switch {
	case errors.As(err, &tool) && tool.Output != "":
		out += "\n--- " + tool.Tool + " output ---\n" + tool.Output
	case errors.As(err, &svc) && svc.Body != "":
		out += "\n--- response body ---\n" + svc.Body
	case errors.As(err, &parse) && parse.Raw != "":
		out += "\n--- raw response ---\n" + parse.Raw
	}
	return strings.ToValidUTF8(out, "\uFFFD")
}

// HTTPStatus maps an error kind to a response status.
func HTTPStatus(err error) int {
	var (
		validation  *ValidationError
		unsupported *UnsupportedPlatformError
		notFound    *NotFoundError
		quota       *QuotaExceededError
		svc         *ExternalServiceError
		tool        *ExternalToolError
		parse       *ParseError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &unsupported):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &quota):
		return http.StatusPaymentRequired
	case errors.As(err, &svc), errors.As(err, &tool), errors.As(err, &parse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Truncate keeps at most maxLen bytes of s without splitting a character.
// The result is always valid UTF-8, so it can be stored in a TEXT column.
func Truncate(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// tail keeps the end of long tool output, where the actual error usually is.
func tail(s string, maxLen int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= maxLen {
		return s
	}
	start := len(s) - maxLen
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return "..." + s[start:]
}
