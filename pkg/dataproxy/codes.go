package dataproxy

import (
	"errors"

	"github.com/songhahaha66/inlong/internal/domain"
)

// Result codes returned by API. Zero is success; the positive values
// follow the native SDK's numbering.
const (
	CodeSuccess        = 0
	CodeFailed         = -1
	CodeMultiInit      = 4
	CodeErrorInit      = 5
	CodeMsgTooLong     = 6
	CodeInvalidInput   = 7
	CodeBufferFull     = 12
	CodeNotInitialized = 16
	CodeMultiExits     = 17
	CodeSendAfterClose = 20
	CodeCloseTimeout   = 24
)

// CodeOf maps an error returned by Client to an API code.
func CodeOf(err error) int {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, domain.ErrMessageTooLarge):
		return CodeMsgTooLong
	case errors.Is(err, domain.ErrInvalidMessage):
		return CodeInvalidInput
	case errors.Is(err, domain.ErrBufferFull):
		return CodeBufferFull
	case errors.Is(err, domain.ErrNotInitialized):
		return CodeNotInitialized
	case errors.Is(err, domain.ErrClosed):
		return CodeSendAfterClose
	case errors.Is(err, domain.ErrInvalidConfig):
		return CodeErrorInit
	case errors.Is(err, domain.ErrShutdownTimeout):
		return CodeCloseTimeout
	}
	return CodeFailed
}
