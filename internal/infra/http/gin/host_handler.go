package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	accessapp "staybook/internal/app/handlers/access"
	availabilityapp "staybook/internal/app/handlers/availability"
	bookingapp "staybook/internal/app/handlers/booking"
	"staybook/internal/app/queries"
)

// HostHandler serves the host surface. Every route requires a host token and
// acts only on the host's own bookings and properties.
type HostHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type messageRequest struct {
	Message string `json:"message"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type paymentRequest struct {
	Method string `json:"method"`
}

func (h HostHandler) List(c *gin.Context) {
	host, ok := requireRole(c, RoleHost)
	if !ok {
		return
	}
	q := bookingapp.ListHostBookingsQuery{
		HostID:     host.ID,
		PropertyID: strings.TrimSpace(c.Query("property_id")),
		Status:     c.Query("status"),
	}
	result, err := queries.Ask[bookingapp.ListHostBookingsQuery, dto.HostBookingCollection](c.Request.Context(), h.Queries, q)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h HostHandler) Approve(c *gin.Context) {
	host, ok := requireRole(c, RoleHost)
	if !ok {
		return
	}
	var req messageRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.dispatch(c, bookingapp.ApproveBookingCommand{HostID: host.ID, BookingID: bookingID(c), Message: strings.TrimSpace(req.Message)})
}

func (h HostHandler) Decline(c *gin.Context) {
	host, ok := requireRole(c, RoleHost)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.dispatch(c, bookingapp.DeclineBookingCommand{HostID: host.ID, BookingID: bookingID(c), Reason: strings.TrimSpace(req.Reason)})
}

func (h HostHandler) SettleBalance(c *gin.Context) {
	host, ok := requireRole(c, RoleHost)
	if !ok {
		return
	}
	var req paymentRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.dispatch(c, bookingapp.SettleBalanceCommand{HostID: host.ID, BookingID: bookingID(c), Method: methodOrDefault(req.Method)})
}

func (h HostHandler) RecordDeposit(c *gin.Context) {
	host, ok := requireRole(c, RoleHost)
	if !ok {
		return
	}
	var req paymentRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.dispatch(c, bookingapp.RecordDepositCommand{HostID: host.ID, BookingID: bookingID(c), Method: methodOrDefault(req.Method)})
}

func (h HostHandler) Complete(c *gin.Context) {
	host, ok := requireRole(c, RoleHost)
	if !ok {
		return
	}
	h.dispatch(c, bookingapp.CompleteBookingCommand{HostID: host.ID, BookingID: bookingID(c)})
}

func (h HostHandler) Cancel(c *gin.Context) {
	host, ok := requireRole(c, RoleHost)
	if !ok {
		return
	}
	var req reasonRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	h.dispatch(c, bookingapp.HostCancelBookingCommand{HostID: host.ID, BookingID: bookingID(c), Reason: strings.TrimSpace(req.Reason)})
}

func (h HostHandler) Calendar(c *gin.Context) {
	host, ok := requireRole(c, RoleHost)
	if !ok {
		return
	}
	q := availabilityapp.GetCalendarQuery{HostID: host.ID, PropertyID: strings.TrimSpace(c.Param("id"))}
	if from, to := c.Query("from"), c.Query("to"); from != "" || to != "" {
		start, end, err := parseDates(from, to)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		q.From, q.To = start, end
	}
	result, err := queries.Ask[availabilityapp.GetCalendarQuery, dto.Calendar](c.Request.Context(), h.Queries, q)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h HostHandler) DeactivateCredential(c *gin.Context) {
	host, ok := requireRole(c, RoleHost)
	if !ok {
		return
	}
	cmd := accessapp.DeactivateCredentialCommand{HostID: host.ID, CredentialID: strings.TrimSpace(c.Param("id"))}
	result, err := commands.Dispatch[accessapp.DeactivateCredentialCommand, *accessapp.CredentialResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h HostHandler) dispatch(c *gin.Context, cmd commands.Command) {
	result, err := commands.Dispatch[commands.Command, *dto.HostActionResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h HostHandler) handleError(c *gin.Context, err error) {
	writeError(c, h.Logger, err)
}

func bookingID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("id"))
}

func methodOrDefault(method string) string {
	method = strings.ToLower(strings.TrimSpace(method))
	if method == "" {
		return "other"
	}
	return method
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

var _ HostHTTP = HostHandler{}

