package database

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode is the normalized code of a database failure. The numeric
// values of the first thirteen codes form the legacy wire numbering and
// must not be reordered.
type ErrorCode int

// The canonical error taxonomy.
const (
	// ErrorCodeUnknown is the catch-all code for unrecognized failures.
	ErrorCodeUnknown ErrorCode = iota + 1

	// ErrorCodeNonTransient marks failures that retrying cannot fix.
	ErrorCodeNonTransient

	// ErrorCodeNotFound marks lookups of records, stores or indexes
	// that do not exist.
	ErrorCodeNotFound

	// ErrorCodeConstraint marks violations of uniqueness constraints.
	ErrorCodeConstraint

	// ErrorCodeData marks values that cannot yield a usable key.
	ErrorCodeData

	// ErrorCodeNotAllowed marks operations that are illegal in the
	// current mode, such as structural edits outside a version change.
	ErrorCodeNotAllowed

	// ErrorCodeTransactionInactive marks requests issued against a
	// transaction that already reached a terminal state.
	ErrorCodeTransactionInactive

	// ErrorCodeAbort marks requests cancelled by a transaction abort.
	ErrorCodeAbort

	// ErrorCodeReadOnly marks write requests on read-only transactions.
	ErrorCodeReadOnly

	// ErrorCodeTimeout marks engine-reported timeouts.
	ErrorCodeTimeout

	// ErrorCodeQuota marks engine-reported storage quota exhaustion.
	ErrorCodeQuota

	// ErrorCodeInvalidAccess marks calls that violate the caller
	// contract, such as an out-of-scope transaction request.
	ErrorCodeInvalidAccess

	// ErrorCodeInvalidState marks calls on objects that are closed or
	// otherwise not in a state that permits the call.
	ErrorCodeInvalidState

	// ErrorCodeVersionChangeBlocked is the distinguished condition of
	// the legacy SetVersion flow. It is not part of the legacy numeric
	// table above.
	ErrorCodeVersionChangeBlocked
)

const legacyErrorCodeCount = 13

var errorCodeToName = map[ErrorCode]string{
	ErrorCodeUnknown:              "unknown",
	ErrorCodeNonTransient:         "non-transient",
	ErrorCodeNotFound:             "not-found",
	ErrorCodeConstraint:           "constraint",
	ErrorCodeData:                 "data",
	ErrorCodeNotAllowed:           "not-allowed",
	ErrorCodeTransactionInactive:  "transaction-inactive",
	ErrorCodeAbort:                "abort",
	ErrorCodeReadOnly:             "read-only",
	ErrorCodeTimeout:              "timeout",
	ErrorCodeQuota:                "quota",
	ErrorCodeInvalidAccess:        "invalid-access",
	ErrorCodeInvalidState:         "invalid-state",
	ErrorCodeVersionChangeBlocked: "version-change-blocked",
}

var errorNameToCode = func() map[string]ErrorCode {
	nameToCode := make(map[string]ErrorCode, len(errorCodeToName))
	for code, name := range errorCodeToName {
		nameToCode[name] = code
	}
	return nameToCode
}()

// Name returns the canonical name of the error code. Unrecognized codes
// are named "unknown".
func (code ErrorCode) Name() string {
	name, ok := errorCodeToName[code]
	if !ok {
		return errorCodeToName[ErrorCodeUnknown]
	}
	return name
}

func (code ErrorCode) String() string {
	return code.Name()
}

// Sentinel errors engine drivers return. The translator maps each to its
// error code.
var (
	ErrNotFound            = errors.New("not found")
	ErrConstraint          = errors.New("constraint violation")
	ErrData                = errors.New("bad data")
	ErrNotAllowed          = errors.New("operation not allowed")
	ErrTransactionInactive = errors.New("transaction is inactive")
	ErrAbort               = errors.New("aborted")
	ErrReadOnly            = errors.New("transaction is read-only")
	ErrTimeout             = errors.New("timed out")
	ErrQuota               = errors.New("quota exceeded")
	ErrInvalidAccess       = errors.New("invalid access")
	ErrInvalidState        = errors.New("invalid state")
	ErrNonTransient        = errors.New("non-transient failure")
	ErrVersionChangeBlocked = errors.New("version change blocked by open connections")
)

// sentinelCodes is ordered so that translation walks it deterministically.
var sentinelCodes = []struct {
	sentinel error
	code     ErrorCode
}{
	{ErrNotFound, ErrorCodeNotFound},
	{ErrConstraint, ErrorCodeConstraint},
	{ErrData, ErrorCodeData},
	{ErrNotAllowed, ErrorCodeNotAllowed},
	{ErrTransactionInactive, ErrorCodeTransactionInactive},
	{ErrAbort, ErrorCodeAbort},
	{ErrReadOnly, ErrorCodeReadOnly},
	{ErrTimeout, ErrorCodeTimeout},
	{ErrQuota, ErrorCodeQuota},
	{ErrInvalidAccess, ErrorCodeInvalidAccess},
	{ErrInvalidState, ErrorCodeInvalidState},
	{ErrNonTransient, ErrorCodeNonTransient},
	{ErrVersionChangeBlocked, ErrorCodeVersionChangeBlocked},
}

// FailureKind tags the representation a low-level failure arrived in.
type FailureKind int

// The three failure representations the translator accepts.
const (
	// FailureKindLegacyCode is a bare numeric code from the legacy API
	// surface.
	FailureKindLegacyCode FailureKind = iota

	// FailureKindName is a bare canonical error name.
	FailureKindName

	// FailureKindStructured is a Go error, usually wrapping one of the
	// sentinel errors above.
	FailureKindStructured
)

// Failure is a tagged union over the three representations a low-level
// failure may take.
type Failure struct {
	kind FailureKind
	code int
	name string
	err  error
}

// FailureFromLegacyCode builds a Failure from a legacy numeric code.
func FailureFromLegacyCode(code int) Failure {
	return Failure{kind: FailureKindLegacyCode, code: code}
}

// FailureFromName builds a Failure from a canonical error name.
func FailureFromName(name string) Failure {
	return Failure{kind: FailureKindName, name: name}
}

// FailureFromError builds a Failure from a structured Go error.
func FailureFromError(err error) Failure {
	return Failure{kind: FailureKindStructured, err: err}
}

// Kind returns the representation this failure arrived in.
func (f Failure) Kind() FailureKind {
	return f.kind
}

// Code translates the failure into its canonical error code. This is a
// pure function of the failure value: it has no side effects and the same
// input always yields the same code.
func (f Failure) Code() ErrorCode {
	switch f.kind {
	case FailureKindLegacyCode:
		if f.code >= 1 && f.code <= legacyErrorCodeCount {
			return ErrorCode(f.code)
		}
		return ErrorCodeUnknown
	case FailureKindName:
		if code, ok := errorNameToCode[f.name]; ok {
			return code
		}
		return ErrorCodeUnknown
	case FailureKindStructured:
		for _, entry := range sentinelCodes {
			if errors.Is(f.err, entry.sentinel) {
				return entry.code
			}
		}
		return ErrorCodeUnknown
	default:
		return ErrorCodeUnknown
	}
}

// extra returns the free-text detail of the failure beyond its canonical
// name, or an empty string when it carries none.
func (f Failure) extra() string {
	if f.kind != FailureKindStructured || f.err == nil {
		return ""
	}
	message := f.err.Error()
	for _, entry := range sentinelCodes {
		if message == entry.sentinel.Error() {
			return ""
		}
	}
	return message
}

// Error is a translated database failure. It carries the normalized code
// and a human-readable context describing the attempted operation. It
// never references live engine objects; translation happens eagerly at
// the failure boundary.
type Error struct {
	// Code is the normalized error code.
	Code ErrorCode

	// Context has the form "<action> <subject>: <name>[, <extra>]".
	Context string
}

func (e *Error) Error() string {
	return e.Context
}

// Is makes errors.Is match a translated Error against the sentinel of its
// code, so driver-level checks keep working across the translation
// boundary.
func (e *Error) Is(target error) bool {
	for _, entry := range sentinelCodes {
		if entry.sentinel == target {
			return entry.code == e.Code
		}
	}
	return false
}

// TranslateError translates a low-level failure into an Error, describing
// the attempted operation with the given action and subject. If the
// failure already carries a translated Error it is returned as-is to
// avoid double wrapping.
func TranslateError(action, subject string, failure Failure) *Error {
	if failure.kind == FailureKindStructured {
		var translated *Error
		if errors.As(failure.err, &translated) {
			return translated
		}
	}

	code := failure.Code()
	context := fmt.Sprintf("%s %s: %s", action, subject, code.Name())
	if extra := failure.extra(); extra != "" {
		context = fmt.Sprintf("%s, %s", context, extra)
	}
	return &Error{Code: code, Context: context}
}

// newError builds a translated Error directly from a code, bypassing
// failure classification. Used for contract violations detected by the
// adapter itself.
func newError(code ErrorCode, action, subject string) *Error {
	return &Error{
		Code:    code,
		Context: fmt.Sprintf("%s %s: %s", action, subject, code.Name()),
	}
}

func newErrorWithExtra(code ErrorCode, action, subject, extra string) *Error {
	return &Error{
		Code:    code,
		Context: fmt.Sprintf("%s %s: %s, %s", action, subject, code.Name(), extra),
	}
}

// IsErrorCode reports whether err is a translated Error carrying the
// given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var translated *Error
	return errors.As(err, &translated) && translated.Code == code
}

// IsNotFoundError reports whether err represents a not-found failure,
// translated or raw.
func IsNotFoundError(err error) bool {
	return IsErrorCode(err, ErrorCodeNotFound) || errors.Is(err, ErrNotFound)
}

// IsConstraintError reports whether err represents a constraint
// violation, translated or raw.
func IsConstraintError(err error) bool {
	return IsErrorCode(err, ErrorCodeConstraint) || errors.Is(err, ErrConstraint)
}

// IsTransactionInactiveError reports whether err represents a request
// against a terminated transaction.
func IsTransactionInactiveError(err error) bool {
	return IsErrorCode(err, ErrorCodeTransactionInactive) || errors.Is(err, ErrTransactionInactive)
}

// IsVersionChangeBlockedError reports whether err is the distinguished
// legacy version-change-blocked condition.
func IsVersionChangeBlockedError(err error) bool {
	return IsErrorCode(err, ErrorCodeVersionChangeBlocked) || errors.Is(err, ErrVersionChangeBlocked)
}
