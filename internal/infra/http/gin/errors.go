package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"staybook/internal/app/middleware"
	"staybook/internal/app/payments"
	"staybook/internal/app/policies"
	domainaccess "staybook/internal/domain/access"
	domainavailability "staybook/internal/domain/availability"
	domainbooking "staybook/internal/domain/booking"
	domainproperty "staybook/internal/domain/property"
)

// writeError maps application errors onto responses. Conflicts never echo the
// other booking; illegal transitions report the current status.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, body := errorResponse(err)
	if logger != nil {
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "request rejected",
			"route", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	var (
		transition *domainbooking.TransitionError
		stayLength *domainavailability.StayLengthError
	)
	switch {
	case errors.Is(err, middleware.ErrValidation):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, middleware.ErrIdempotencyKeyReused):
		return http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "idempotency_key_reused"}
	case errors.Is(err, domainavailability.ErrDateConflict):
		return http.StatusConflict, gin.H{"error": "dates not available", "code": "date_conflict"}
	case errors.As(err, &stayLength):
		return http.StatusUnprocessableEntity, gin.H{
			"error":      "stay length outside allowed bounds",
			"code":       "stay_length",
			"min_nights": stayLength.MinNights,
			"max_nights": stayLength.MaxNights,
		}
	case errors.Is(err, domainavailability.ErrInvalidRange):
		return http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "code": "invalid_range"}
	case errors.As(err, &transition):
		return http.StatusConflict, gin.H{"error": err.Error(), "code": "illegal_transition", "status": string(transition.Current)}
	case errors.Is(err, domainbooking.ErrBookingNotFound),
		errors.Is(err, domainproperty.ErrPropertyNotFound),
		errors.Is(err, domainaccess.ErrCredentialNotFound):
		return http.StatusNotFound, gin.H{"error": "not found"}
	case errors.Is(err, policies.ErrLockNotAcquired):
		return http.StatusServiceUnavailable, gin.H{"error": "property busy, please retry", "code": "busy"}
	case errors.Is(err, payments.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, gin.H{"error": "payment gateway unavailable, please retry", "code": "gateway_unavailable"}
	case errors.Is(err, domainbooking.ErrDepositOutstanding),
		errors.Is(err, domainbooking.ErrDepositAlreadyPaid),
		errors.Is(err, domainbooking.ErrStayNotFinished),
		errors.Is(err, domainbooking.ErrInvalidPaymentMethod),
		errors.Is(err, domainbooking.ErrInvalidGuests),
		errors.Is(err, domainbooking.ErrGuestContactRequired):
		return http.StatusUnprocessableEntity, gin.H{"error": err.Error()}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal error"}
	}
}
