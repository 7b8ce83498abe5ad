package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// FormatForCLI formats an error for terminal output, always including the
// stable code and any structured context.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if !stderrors.As(err, &e) {
		e = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", e.Message))
	sb.WriteString(fmt.Sprintf("  Code: %s\n", e.Code))
	for _, k := range sortedKeys(e.Details) {
		sb.WriteString(fmt.Sprintf("  %s: %s\n", k, e.Details[k]))
	}
	return sb.String()
}

// FormatForLog formats an error for structured logging.
// Returns key-value pairs suitable for slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	var e *Error
	if !stderrors.As(err, &e) {
		return map[string]any{"error": err.Error()}
	}

	result := map[string]any{
		"error_code": e.Code,
		"message":    e.Message,
		"category":   string(e.Category),
		"severity":   string(e.Severity),
		"retryable":  e.Retryable,
	}
	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}
	for k, v := range e.Details {
		result["detail_"+k] = v
	}
	return result
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
