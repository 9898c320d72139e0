package guest

import (
	"github.com/wippyai/sandbox-runtime/errors"
)

// Status codes returned to the guest. Host calls return zero or a
// non-negative result on success and one of these on failure.
const (
	CodeResourceExhausted int32 = -1
	CodeResourceForbidden int32 = -2
	CodeAddressInUse      int32 = -3
	CodeAlreadyListening  int32 = -4
	CodeTimeout           int32 = -5
	CodeConnectionRefused int32 = -6
	CodeNetwork           int32 = -7
	CodeSocketClosed      int32 = -8
	CodeFileNotFound      int32 = -9
	CodeFileInUse         int32 = -10
	CodeFileClosed        int32 = -11
	CodeSeekPastEnd       int32 = -12
	CodeInvalidArgument   int32 = -13
	CodeNotFound          int32 = -14
	CodeInvalidData       int32 = -16
	CodeUnknown           int32 = -99
	CodeFault             int32 = -100
)

var kindCodes = map[errors.Kind]int32{
	errors.KindResourceExhausted: CodeResourceExhausted,
	errors.KindResourceForbidden: CodeResourceForbidden,
	errors.KindAddressInUse:      CodeAddressInUse,
	errors.KindAlreadyListening:  CodeAlreadyListening,
	errors.KindTimeout:           CodeTimeout,
	errors.KindConnectionRefused: CodeConnectionRefused,
	errors.KindNetwork:           CodeNetwork,
	errors.KindSocketClosed:      CodeSocketClosed,
	errors.KindFileNotFound:      CodeFileNotFound,
	errors.KindFileInUse:         CodeFileInUse,
	errors.KindFileClosed:        CodeFileClosed,
	errors.KindSeekPastEnd:       CodeSeekPastEnd,
	errors.KindInvalidArgument:   CodeInvalidArgument,
	errors.KindNotFound:          CodeNotFound,
	errors.KindInvalidData:       CodeInvalidData,
}

// Code returns the guest status code for err.
func Code(err error) int32 {
	if err == nil {
		return 0
	}
	if errors.IsFault(err) {
		return CodeFault
	}
	if c, ok := kindCodes[errors.KindOf(err)]; ok {
		return c
	}
	return CodeUnknown
}
