package auth

// AuthError rejects a request at the gate. The request never reaches any
// other component.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "auth error: " + e.Message
}

var (
	ErrMissingToken = &AuthError{Message: "no bearer token presented"}
	ErrInvalidToken = &AuthError{Message: "token is not valid for this service"}
	ErrExpiredToken = &AuthError{Message: "token is expired"}
)
