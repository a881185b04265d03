package auth

// Issuer is stamped into and required on every operator token
const Issuer = "smc-trading-bot"

// OperatorClaims identifies who called a control endpoint
type OperatorClaims struct {
	Subject string `json:"sub"`
}

// AuthError represents an authentication error
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrNoSecret     = AuthError{Code: "NO_SECRET", Message: "jwt secret not configured"}
	ErrRateLimited  = AuthError{Code: "RATE_LIMITED", Message: "too many requests, please try again later"}
)
