package w77q

import (
	"errors"
	"fmt"
)

// Code is the driver's error taxonomy (spec §7). It is not a type name
// hierarchy — every failure mode the driver can report is one of these
// codes, wrapped in a *DeviceError.
type Code int

const (
	CodeOK Code = iota
	CodeInvalidParameter
	CodeParameterOutOfRange
	CodeInvalidDataAlignment
	CodeInvalidDataSize
	CodeSessionErr
	CodePrivilegeErr
	CodeAuthenticationErr
	CodeIntegrityErr
	CodeMCErr
	CodeSystemErr
	CodeSecurityErr
	CodeIncorrectState
	CodeCommandIgnored
	CodeNotConnected
	CodeConnectivityErr
	CodeNotSupported
	CodeTestFail
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeInvalidParameter:
		return "invalid_parameter"
	case CodeParameterOutOfRange:
		return "parameter_out_of_range"
	case CodeInvalidDataAlignment:
		return "invalid_data_alignment"
	case CodeInvalidDataSize:
		return "invalid_data_size"
	case CodeSessionErr:
		return "device_session_err"
	case CodePrivilegeErr:
		return "device_privilege_err"
	case CodeAuthenticationErr:
		return "device_authentication_err"
	case CodeIntegrityErr:
		return "device_integrity_err"
	case CodeMCErr:
		return "device_mc_err"
	case CodeSystemErr:
		return "device_system_err"
	case CodeSecurityErr:
		return "security_err"
	case CodeIncorrectState:
		return "system_in_incorrect_state"
	case CodeCommandIgnored:
		return "command_ignored"
	case CodeNotConnected:
		return "not_connected"
	case CodeConnectivityErr:
		return "connectivity_err"
	case CodeNotSupported:
		return "not_supported"
	case CodeTestFail:
		return "test_fail"
	default:
		return "unknown"
	}
}

// DeviceError is the driver's single error type; every operation that
// can fail returns one (or nil). Callers compare against Code with
// errors.As, or use CodeOf below.
type DeviceError struct {
	Code  Code
	Op    string // operation name, e.g. "OpenSession", "SEC_Read"
	Cause error
}

func (e *DeviceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("w77q: %s: %s: %v", e.Op, e.Code, e.Cause)
	}
	return fmt.Sprintf("w77q: %s: %s", e.Op, e.Code)
}

func (e *DeviceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newErr(op string, code Code) error {
	return &DeviceError{Op: op, Code: code}
}

func wrapErr(op string, code Code, cause error) error {
	return &DeviceError{Op: op, Code: code, Cause: cause}
}

// CodeOf extracts the Code from err, returning (code, true) if err is
// (or wraps) a *DeviceError, else (CodeOK, false).
func CodeOf(err error) (Code, bool) {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code, true
	}
	return CodeOK, false
}

// IsTolerated reports whether err is the one non-fatal outcome this
// driver recognizes: a device_integrity_err returned from SESSION_OPEN
// (stale stored CRC, correct key), tolerated so plain-access can still
// be granted.
func IsTolerated(op string, err error) bool {
	code, ok := CodeOf(err)
	if !ok {
		return false
	}
	return op == "OpenSession" && code == CodeIntegrityErr
}
