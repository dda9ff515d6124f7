package apperrors

// wireAPICode assigns a stable numeric api_error_code to every Code that
// can cross the wire in a response envelope (spec §6's api-error-code
// field). The numbering is implementation-defined (spec leaves the wire
// representation open); 0 is reserved for "no error" (wire.ResponseFrame
// with StatusCode == 0).
var wireAPICode = map[Code]uint32{
	CodeNotFound:             1,
	CodeAlreadyExists:        2,
	CodeUniqueConstraint:     3,
	CodeInvalidInput:         4,
	CodeInvalidState:         5,
	CodeAuthRequired:         6,
	CodeAuthForbidden:        7,
	CodeAuthTokenTagInvalid:  8,
	CodeAuthTokenInvalidType: 9,
	CodeAuthTokenExpired:     10,
	CodeTimeout:              11,
	CodeCancelled:            12,
	CodeTransport:            13,
	CodePoolClosed:           14,
	CodeTransactionConflict:  15,
	CodeFileNotFound:         16,
	CodeOutOfOrder:           17,
	CodeMessageTooOld:        18,
	CodeInternal:             19,
}

var codeForWireAPICode map[uint32]Code

func init() {
	codeForWireAPICode = make(map[uint32]Code, len(wireAPICode))
	for code, api := range wireAPICode {
		codeForWireAPICode[api] = code
	}
}

// WireAPICode returns e's wire api_error_code, preferring an explicit
// WithAPICode override, falling back to the stable table, and finally to
// CodeInternal's slot for codes with no assigned number.
func (e *Error) WireAPICode() uint32 {
	if e.APICode != 0 {
		return e.APICode
	}
	if api, ok := wireAPICode[e.Code]; ok {
		return api
	}
	return wireAPICode[CodeInternal]
}

// FromWireStatus reconstructs an error from a response envelope's
// status_code/api_error_code pair (spec §6). statusCode == 0 means
// success and FromWireStatus returns nil.
func FromWireStatus(statusCode, apiErrorCode uint32) error {
	if statusCode == 0 {
		return nil
	}
	code, ok := codeForWireAPICode[apiErrorCode]
	if !ok {
		code = CodeInternal
	}
	return New(code)
}
