package errs

// HTTP 层通用错误码
const (
	ServerInternalError = 500
	ArgsError           = 400
	TokenInvalidError   = 401
	RecordNotFoundError = 404
	DuplicateError      = 409
)

// 实时投递子系统错误码
const (
	AuthFailedCode        = 1001
	AuthTimeoutCode       = 1002
	BrokerUnavailableCode = 1101
	ReplayGapCode         = 1102
	PublishDegradedCode   = 1103
)

// 账号/验证相关
const (
	PasswordWrongCode  = 1201
	VerifyCodeWrong    = 1202
	SessionRevokedCode = 1203
)

var (
	ErrInternal       = NewCodeError(ServerInternalError, "server internal error")
	ErrArgs           = NewCodeError(ArgsError, "bad request args")
	ErrTokenInvalid   = NewCodeError(TokenInvalidError, "token invalid or expired")
	ErrRecordNotFound = NewCodeError(RecordNotFoundError, "record not found")
	ErrDuplicate      = NewCodeError(DuplicateError, "record already exists")

	// Real-time delivery taxonomy. Connection scoped failures never cross
	// connections; broker failures degrade, they do not crash.
	ErrAuthFailed        = NewCodeError(AuthFailedCode, "auth failed")
	ErrAuthTimeout       = NewCodeError(AuthTimeoutCode, "auth timeout")
	ErrBrokerUnavailable = NewCodeError(BrokerUnavailableCode, "broker unavailable")
	ErrReplayGap         = NewCodeError(ReplayGapCode, "replay gap detected")
	ErrPublishDegraded   = NewCodeError(PublishDegradedCode, "publish degraded")

	ErrPasswordWrong  = NewCodeError(PasswordWrongCode, "password wrong")
	ErrVerifyCode     = NewCodeError(VerifyCodeWrong, "verification code wrong")
	ErrSessionRevoked = NewCodeError(SessionRevokedCode, "session revoked")
)
