// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

// Package errors provides structured error handling for the kbridge CLI and
// its tool surface.
//
// It defines UserError, a type that carries structured error information
// including what went wrong, why it happened, and how to fix it, plus a Kind
// that normalizes across every layer of the system (kernel, knowledge store,
// fetcher, sub-agent runner, tool dispatch) into a single vocabulary so a
// caller can branch on failure category without string-matching messages.
//
// # Usage Example
//
//	err := errors.NewBlockedError(
//	    "Host is blocklisted",
//	    "docs.contentfarm.example matches a blocked suffix",
//	    "Choose a different source",
//	)
//	if err != nil {
//	    errors.FatalError(err, false)
//	}
//
// # Formatted Output
//
// The Format() method provides colored terminal output:
//
//	fmt.Fprint(os.Stderr, err.Format(false))
//	// Error: Host is blocklisted
//	// Cause: docs.contentfarm.example matches a blocked suffix
//	// Fix:   Choose a different source
//
// For JSON output:
//
//	jsonData := err.ToJSON()
//	json.NewEncoder(os.Stderr).Encode(jsonData)
//	// {"error": "...", "cause": "...", "fix": "...", "error_kind": "blocked", "exit_code": 7}
//
// # Error Kinds and Exit Codes
//
// Kind is the normalized vocabulary surfaced by tool results as
// {error_kind, message}: validation, not_found, blocked, timeout, transport,
// kernel_runtime, storage, sandbox_limit, rate_limited, unavailable,
// conflict, internal. Each kind maps to a CLI exit code following Unix
// conventions, with ExitSuccess (0) reserved for the non-error path.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Exit codes for different error categories.
const (
	// ExitSuccess indicates successful execution.
	ExitSuccess = 0

	// ExitConfig indicates configuration errors (missing/invalid config files).
	ExitConfig = 1

	// ExitDatabase indicates database/storage errors (segment file locked, corrupted, etc.).
	ExitDatabase = 2

	// ExitNetwork indicates network or transport errors (connection failed, timeout).
	ExitNetwork = 3

	// ExitInput indicates invalid user input (bad arguments, validation errors).
	ExitInput = 4

	// ExitPermission indicates permission denied errors (file access, etc.).
	ExitPermission = 5

	// ExitNotFound indicates resource not found errors (project, document, etc.).
	ExitNotFound = 6

	// ExitBlocked indicates a request was refused by policy (blocklisted host).
	ExitBlocked = 7

	// ExitSandboxLimit indicates a sub-agent loop or kernel exhausted a bounded resource.
	ExitSandboxLimit = 8

	// ExitUnavailable indicates a dependent service (kernel, sub-model) is not ready.
	ExitUnavailable = 9

	// ExitInternal indicates internal errors (bugs, unexpected panics).
	// Exit code 10 signals "this is a bug that should be reported".
	ExitInternal = 10

	// ExitKernelRuntime indicates the remote Python kernel returned a
	// non-zero execution with a captured traceback.
	ExitKernelRuntime = 11
)

// Kind is the normalized error vocabulary shared by every tool result.
type Kind string

// The full set of normalized error kinds. Lower layers surface the most
// specific kind available; the Tool Surface wraps any uncaught condition as
// KindInternal rather than letting a stack trace escape.
const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindBlocked       Kind = "blocked"
	KindTimeout       Kind = "timeout"
	KindTransport     Kind = "transport"
	KindKernelRuntime Kind = "kernel_runtime"
	KindStorage       Kind = "storage"
	KindSandboxLimit  Kind = "sandbox_limit"
	KindRateLimited   Kind = "rate_limited"
	KindUnavailable   Kind = "unavailable"
	KindConflict      Kind = "conflict"
	KindInternal      Kind = "internal"
)

// exitCodeForKind maps a normalized Kind to a CLI exit code.
func exitCodeForKind(k Kind) int {
	switch k {
	case KindValidation:
		return ExitInput
	case KindNotFound:
		return ExitNotFound
	case KindBlocked:
		return ExitBlocked
	case KindTimeout, KindTransport:
		return ExitNetwork
	case KindKernelRuntime:
		return ExitKernelRuntime
	case KindStorage:
		return ExitDatabase
	case KindSandboxLimit:
		return ExitSandboxLimit
	case KindRateLimited, KindUnavailable:
		return ExitUnavailable
	case KindConflict:
		return ExitConfig
	default:
		return ExitInternal
	}
}

// UserError represents an error with structured context for end users.
//
// It provides three levels of information:
//   - Message: What went wrong (user-facing error description)
//   - Cause: Why it happened (diagnostic information)
//   - Fix: How to fix it (actionable suggestion)
//
// UserError also carries an exit code for consistent CLI exit behavior
// and optionally wraps an underlying error for error chain compatibility.
type UserError struct {
	// Message describes what went wrong in user-friendly language.
	Message string

	// Cause explains why the error occurred (diagnostic information).
	Cause string

	// Fix provides an actionable suggestion on how to resolve the error.
	Fix string

	// Kind is the normalized error_kind surfaced in tool results.
	Kind Kind

	// ExitCode is the exit code that should be used when exiting due to this error.
	ExitCode int

	// Err is the underlying error that caused this error (optional).
	// This enables error wrapping and compatibility with errors.Is/As.
	Err error
}

// Error implements the error interface.
//
// It returns a simple error message string. If an underlying error is present,
// it appends that error's message for context.
func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap implements error unwrapping for compatibility with errors.Is and errors.As.
//
// It returns the underlying error, allowing standard library error inspection
// functions to work with error chains.
func (e *UserError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a configuration error with exit code ExitConfig.
//
// Use this for errors related to missing, invalid, or malformed configuration files.
//
// Example:
//
//	return NewConfigError(
//	    "Cannot load kbridge configuration",
//	    "The config file ~/.kbridge/config.yaml is missing",
//	    "Run 'kbridge init' to create a new configuration",
//	    nil,
//	)
func NewConfigError(msg, cause, fix string, err error) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindConflict,
		ExitCode: ExitConfig,
		Err:      err,
	}
}

// NewDatabaseError creates a database error with exit code ExitDatabase.
//
// Use this for errors related to database operations, such as locked files,
// corruption, or failed transactions.
//
// Example:
//
//	return NewDatabaseError(
//	    "Cannot open kbridge database",
//	    "The database file is locked by another process",
//	    "Close other kbridge instances or run: kbridge reset --yes",
//	    err,
//	)
func NewDatabaseError(msg, cause, fix string, err error) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindStorage,
		ExitCode: ExitDatabase,
		Err:      err,
	}
}

// NewNetworkError creates a network error with exit code ExitNetwork.
//
// Use this for errors related to network connectivity, API calls, or remote operations.
//
// Example:
//
//	return NewNetworkError(
//	    "Cannot connect to embedding API",
//	    "Connection timed out after 30 seconds",
//	    "Check your network connection and try again",
//	    err,
//	)
func NewNetworkError(msg, cause, fix string, err error) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindTransport,
		ExitCode: ExitNetwork,
		Err:      err,
	}
}

// NewInputError creates an input validation error with exit code ExitInput.
//
// Use this for errors related to invalid user input, such as bad command-line
// arguments or failed validation checks. Input errors typically do not wrap
// an underlying error.
//
// Example:
//
//	return NewInputError(
//	    "Invalid project name",
//	    "Project name must contain only alphanumeric characters",
//	    "Use a name like 'my-project' or 'myproject123'",
//	)
func NewInputError(msg, cause, fix string) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindValidation,
		ExitCode: ExitInput,
		Err:      nil, // Input errors typically don't wrap underlying errors
	}
}

// NewPermissionError creates a permission denied error with exit code ExitPermission.
//
// Use this for errors related to insufficient permissions, such as file access
// or operation authorization failures.
//
// Example:
//
//	return NewPermissionError(
//	    "Cannot write to index directory",
//	    "Permission denied for ~/.kbridge/indexes/",
//	    "Run with appropriate permissions or change the index directory",
//	    err,
//	)
func NewPermissionError(msg, cause, fix string, err error) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindValidation,
		ExitCode: ExitPermission,
		Err:      err,
	}
}

// NewNotFoundError creates a resource not found error with exit code ExitNotFound.
//
// Use this for errors when a requested resource (project, file, etc.) cannot be found.
// Not found errors typically do not wrap an underlying error.
//
// Example:
//
//	return NewNotFoundError(
//	    "Project not found",
//	    "No project named 'myproject' exists in the index",
//	    "Run 'kbridge status' to list indexed projects",
//	)
func NewNotFoundError(msg, cause, fix string) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindNotFound,
		ExitCode: ExitNotFound,
		Err:      nil, // Not found errors typically don't wrap underlying errors
	}
}

// NewBlockedError creates a policy-blocked error with exit code ExitBlocked.
//
// Use this when a request is refused outright by policy, such as a
// blocklisted host matched before the fetch cascade runs.
func NewBlockedError(msg, cause, fix string) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindBlocked,
		ExitCode: ExitBlocked,
		Err:      nil,
	}
}

// NewTimeoutError creates a timeout error with exit code ExitNetwork.
func NewTimeoutError(msg, cause, fix string, err error) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindTimeout,
		ExitCode: ExitNetwork,
		Err:      err,
	}
}

// NewSandboxLimitError creates an error for a sub-agent loop or kernel that
// exhausted a bounded resource (turn count, wall clock, output size).
func NewSandboxLimitError(msg, cause, fix string) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindSandboxLimit,
		ExitCode: ExitSandboxLimit,
		Err:      nil,
	}
}

// NewRateLimitedError creates a terminal rate-limit error from a sub-model
// provider. Per the no-retry failure semantics, callers must not retry.
func NewRateLimitedError(msg, cause, fix string, err error) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindRateLimited,
		ExitCode: ExitUnavailable,
		Err:      err,
	}
}

// NewUnavailableError creates an error for a dependent service that is not
// yet ready, such as a kernel still warming up or past its restart budget.
func NewUnavailableError(msg, cause, fix string, err error) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindUnavailable,
		ExitCode: ExitUnavailable,
		Err:      err,
	}
}

// NewConflictError creates an error for a request that conflicts with
// existing state, such as re-registering an in-use project name.
func NewConflictError(msg, cause, fix string) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindConflict,
		ExitCode: ExitConfig,
		Err:      nil,
	}
}

// NewInternalError creates an internal error with exit code ExitInternal.
//
// Use this for unexpected errors that indicate bugs in the program, such as
// assertion failures, unexpected nil values, or unhandled error cases.
// Internal errors should be reported to the maintainers.
//
// Example:
//
//	return NewInternalError(
//	    "Unexpected nil pointer",
//	    "The function indexer returned nil unexpectedly",
//	    "This is a bug. Please report it at github.com/kraklabs/kraken/issues",
//	    err,
//	)
func NewInternalError(msg, cause, fix string, err error) *UserError {
	return &UserError{
		Message:  msg,
		Cause:    cause,
		Fix:      fix,
		Kind:     KindInternal,
		ExitCode: ExitInternal,
		Err:      err,
	}
}

// Normalize ensures a UserError carries the exit code matching its Kind and
// falls back to KindInternal when Kind was left unset by an older call site.
func (e *UserError) Normalize() *UserError {
	if e.Kind == "" {
		e.Kind = KindInternal
	}
	if e.ExitCode == 0 && e.Kind != "" {
		e.ExitCode = exitCodeForKind(e.Kind)
	}
	return e
}

// Color definitions for error formatting.
var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format returns a formatted error message for terminal display.
//
// The output includes colored sections for Error (red/bold), Cause (yellow),
// and Fix (green). Color output respects the NO_COLOR environment variable
// and can be explicitly disabled with the noColor parameter.
//
// Example output:
//
//	Error: Cannot open the kbridge database
//	Cause: The database file is locked by another process
//	Fix:   Close other kbridge instances or run: kbridge reset --yes
//
// Empty Cause or Fix fields are omitted from the output.
//
// Note: This method temporarily modifies the global color.NoColor state
// and restores it after formatting; the global is not synchronized, so
// concurrent calls are not safe.
func (e *UserError) Format(noColor bool) string {
	// Save and restore global color state to avoid side effects
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()

	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")

	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}

	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}

	return out.String()
}

// ErrorJSON represents error information in JSON format.
//
// This structure is suitable for machine consumption and integrates with
// CLI commands that support --json output mode.
type ErrorJSON struct {
	Error     string `json:"error"`
	Cause     string `json:"cause,omitempty"`
	Fix       string `json:"fix,omitempty"`
	ErrorKind Kind   `json:"error_kind,omitempty"`
	ExitCode  int    `json:"exit_code"`
}

// ToJSON converts the UserError to a JSON-serializable structure.
//
// Fields with empty values (Cause, Fix) are omitted from JSON output
// using the omitempty tag. This keeps JSON output clean when additional
// context is not available.
func (e *UserError) ToJSON() ErrorJSON {
	return ErrorJSON{
		Error:     e.Message,
		Cause:     e.Cause,
		Fix:       e.Fix,
		ErrorKind: e.Kind,
		ExitCode:  e.ExitCode,
	}
}

// ToolResult is the structured failure shape every tool result returns
// instead of raising: {error_kind, message}. It never carries a stack.
type ToolResult struct {
	ErrorKind Kind   `json:"error_kind"`
	Message   string `json:"message"`
}

// AsToolResult converts any error into the tool surface's {error_kind,
// message} shape. A *UserError keeps its own Kind; any other error is
// wrapped as KindInternal with a generic message, never exposing Go's
// internal error text to a tool caller.
func AsToolResult(err error) ToolResult {
	if err == nil {
		return ToolResult{}
	}
	if ue, ok := err.(*UserError); ok {
		k := ue.Kind
		if k == "" {
			k = KindInternal
		}
		return ToolResult{ErrorKind: k, Message: ue.Message}
	}
	return ToolResult{ErrorKind: KindInternal, Message: "an internal error occurred"}
}

// FatalError prints the error and exits with the appropriate code.
//
// If the error is a UserError, it uses Format() for colored output or
// ToJSON() for JSON mode. For non-UserError types, it prints a simple
// error message and exits with ExitInternal.
//
// This function never returns - it always calls os.Exit().
//
// Usage:
//
//	if err := doSomething(); err != nil {
//	    errors.FatalError(err, jsonMode)
//	}
func FatalError(err error, jsonOutput bool) {
	if err == nil {
		return
	}

	if ue, ok := err.(*UserError); ok {
		if jsonOutput {
			enc := json.NewEncoder(os.Stderr)
			enc.SetIndent("", "  ")
			// Encode error is intentionally ignored since we're about to exit.
			// If JSON encoding fails, the program will still exit with the correct code.
			_ = enc.Encode(ue.ToJSON())
		} else {
			fmt.Fprint(os.Stderr, ue.Format(false))
		}
		os.Exit(ue.ExitCode)
	}

	// Fallback for non-UserError
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitInternal)
}
