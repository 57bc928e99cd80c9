package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
)

// Code identifies an engine failure kind
type Code string

const (
	CodeLogNotFound            Code = "LOG_NOT_FOUND"
	CodeUnauthorizedMatch      Code = "UNAUTHORIZED_MATCH"
	CodeInvalidLogTypeForMatch Code = "INVALID_LOG_TYPE_FOR_MATCH"
	CodeAlreadyMatched         Code = "ALREADY_MATCHED"
	CodeManualMatchError       Code = "MANUAL_MATCH_ERROR"
	CodeLogTypeAnalysisError   Code = "LOG_TYPE_ANALYSIS_ERROR"
	CodeFindCandidatesError    Code = "FIND_MATCHING_CANDIDATES_ERROR"
	CodeGetUnmatchedLogsError  Code = "GET_UNMATCHED_LOGS_ERROR"
)

// Sentinels for errors.Is. An *Error matches the sentinel carrying its code.
var (
	ErrLogNotFound            = &Error{Code: CodeLogNotFound}
	ErrUnauthorizedMatch      = &Error{Code: CodeUnauthorizedMatch}
	ErrInvalidLogTypeForMatch = &Error{Code: CodeInvalidLogTypeForMatch}
	ErrAlreadyMatched         = &Error{Code: CodeAlreadyMatched}
	ErrManualMatch            = &Error{Code: CodeManualMatchError}
	ErrLogTypeAnalysis        = &Error{Code: CodeLogTypeAnalysisError}
	ErrFindCandidates         = &Error{Code: CodeFindCandidatesError}
	ErrGetUnmatchedLogs       = &Error{Code: CodeGetUnmatchedLogsError}
)

// Error is a coded engine failure with the context it happened in
type Error struct {
	Code    Code
	Op      string
	Context map[string]string
	Err     error
}

// NewError builds an Error. kv is read as alternating key/value pairs.
func NewError(code Code, op string, err error, kv ...string) *Error {
	e := &Error{Code: code, Op: op, Err: err}
	if len(kv) > 0 {
		e.Context = make(map[string]string, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			e.Context[kv[i]] = kv[i+1]
		}
	}
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(string(e.Code))
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " %s=%s", k, e.Context[k])
		}
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// UserMessage returns an end-user facing sentence for err, distinct per code
func UserMessage(err error) string {
	switch CodeOf(err) {
	case CodeLogNotFound:
		return "The log entry could not be found. Check the id and try again."
	case CodeUnauthorizedMatch:
		return "You can only match your own log entries."
	case CodeInvalidLogTypeForMatch:
		return "A match needs a start entry first and an end entry second."
	case CodeAlreadyMatched:
		return "One of these entries is already matched."
	case CodeManualMatchError:
		return "The match could not be saved. Please try again later."
	case CodeLogTypeAnalysisError:
		return "The entry could not be analyzed."
	case CodeFindCandidatesError:
		return "Matching candidates could not be loaded."
	case CodeGetUnmatchedLogsError:
		return "Unmatched entries could not be loaded."
	}
	if err == nil {
		return ""
	}
	return "Something went wrong."
}
