package constants

const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeAuthFailed         = "AUTH_FAILED"
	ErrCodeAuthExpired        = "AUTH_EXPIRED"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeAttachmentInvalid  = "ATTACHMENT_INVALID"
	ErrCodeMessageTooLong     = "MESSAGE_TOO_LONG"
	ErrCodeMessageEmpty       = "MESSAGE_EMPTY"
)
