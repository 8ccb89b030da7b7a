package errors

// ErrorCode represents a machine-readable error identifier so the front-end
// can pick the right guidance message without string matching.
type ErrorCode string

// Startup errors
const (
	// Required setting missing or invalid - fatal, never recoverable at runtime
	ErrCodeConfiguration ErrorCode = "configuration_error"
)

// Gateway errors
const (
	// Credential fetch or refresh failed - safe to retry on the next user action
	ErrCodeGatewayAuth ErrorCode = "gateway_auth_error"

	// Non-2xx or malformed response from link creation/lookup - no retry
	ErrCodeGatewayRequest ErrorCode = "gateway_request_error"

	// Gateway call rejected by an open circuit breaker
	ErrCodeGatewayUnavailable ErrorCode = "gateway_unavailable"
)

// Workflow errors
const (
	// No payment link created by this user today - guidance to re-initiate
	ErrCodeNoLinkToday ErrorCode = "no_link_today"

	// Plan kind unknown or disabled by the operator
	ErrCodePlanUnavailable ErrorCode = "plan_unavailable"

	// Renewal refused while a subscription is still active (renewal_policy: reject)
	ErrCodeAlreadySubscribed ErrorCode = "already_subscribed"

	// Record store append/read failure
	ErrCodeStore ErrorCode = "store_error"
)

// IsRetryable reports whether the user should simply try the same action again.
func (c ErrorCode) IsRetryable() bool {
	switch c {
	case ErrCodeGatewayAuth, ErrCodeGatewayUnavailable, ErrCodeStore:
		return true
	default:
		return false
	}
}

// Guidance returns the next action shown to the user. Never a stack trace,
// never a payload dump.
func (c ErrorCode) Guidance() string {
	switch c {
	case ErrCodeGatewayAuth, ErrCodeGatewayUnavailable:
		return "El servicio de pagos no está disponible en este momento. Intenta de nuevo en unos minutos."
	case ErrCodeGatewayRequest:
		return "No se pudo completar la operación con la pasarela de pago. Intenta de nuevo o contacta a soporte."
	case ErrCodeNoLinkToday:
		return "No hay pagos recientes. Usa /start para crear uno."
	case ErrCodePlanUnavailable:
		return "Ese plan no está disponible actualmente. Usa /start para ver los planes vigentes."
	case ErrCodeAlreadySubscribed:
		return "Ya tienes una suscripción activa. Podrás renovar cuando esté por vencer."
	case ErrCodeStore:
		return "Ocurrió un problema temporal guardando tu información. Intenta de nuevo."
	default:
		return "Ocurrió un error inesperado. Intenta de nuevo o contacta a soporte."
	}
}
