package jiterrors

import (
	"errors"
	"strings"
)

// Runtime (J) Errors
var (
	ErrJOutOfSpace      = errors.New("J1|OutOfSpace: Partition capacity is exhausted. Memory is reclaimed only at finalize.")
	ErrJEncoding        = errors.New("J2|EncodingError: Builder produced invalid or unresolvable instructions.")
	ErrJExecUnsupported = errors.New("J3|ExecUnsupported: Native execution of generated code is not supported on this platform.")
)

// Ahead-of-time (A) Errors
var (
	ErrANotFound     = errors.New("A1|NotFound: No installed symbol carries this name.")
	ErrAObjectFormat = errors.New("A2|ObjectFormat: Object file is malformed or truncated.")
	ErrAObjectTarget = errors.New("A3|ObjectTarget: Object was compiled for a different target or engine version.")
	ErrAObjectDigest = errors.New("A4|ObjectDigest: Object payload does not match its fingerprint.")
	ErrANoEngine     = errors.New("A5|NoEngine: No compilation engine is attached to this bridge.")
)

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	if len(parts) < 2 {
		return errStr
	}
	nameDesc := parts[1]
	// Split on ':' to separate the error name from its description.
	nameParts := strings.SplitN(nameDesc, ":", 2)
	if len(nameParts) < 1 {
		return errStr
	}
	return strings.TrimSpace(nameParts[0])
}

func GetErrorNames(errs []error) []string {
	errStrs := make([]string, len(errs))
	for i, err := range errs {
		errStrs[i] = GetErrorName(err)
	}
	return errStrs
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	// Check if the error string contains '|'.
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	parts := strings.SplitN(errStr, ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
