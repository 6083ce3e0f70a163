package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"staybook/internal/app/commands"
	"staybook/internal/app/dto"
	availabilityapp "staybook/internal/app/handlers/availability"
	bookingapp "staybook/internal/app/handlers/booking"
	"staybook/internal/app/queries"
)

var errBadDate = errors.New("dates must use YYYY-MM-DD")

// GuestHandler serves the unauthenticated guest surface. Guests are identified
// by confirmation code plus the email used on the request.
type GuestHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
}

type guestContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type requestBookingRequest struct {
	PropertyID string       `json:"property_id"`
	CheckIn    string       `json:"check_in"`
	CheckOut   string       `json:"check_out"`
	Guests     int          `json:"guests"`
	Guest      guestContact `json:"guest"`
	Message    string       `json:"message"`
	CardToken  string       `json:"card_token"`
}

type cancelBookingRequest struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

func (h GuestHandler) Quote(c *gin.Context) {
	checkIn, checkOut, err := parseDates(c.Query("check_in"), c.Query("check_out"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	guests := 0
	if raw := c.Query("guests"); raw != "" {
		if guests, err = strconv.Atoi(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "guests must be a number"})
			return
		}
	}
	q := availabilityapp.QuoteQuery{
		PropertyID: strings.TrimSpace(c.Param("id")),
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Guests:     guests,
	}
	result, err := queries.Ask[availabilityapp.QuoteQuery, dto.Quote](c.Request.Context(), h.Queries, q)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h GuestHandler) Request(c *gin.Context) {
	var req requestBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	checkIn, checkOut, err := parseDates(req.CheckIn, req.CheckOut)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := bookingapp.RequestBookingCommand{
		PropertyID:      strings.TrimSpace(req.PropertyID),
		CheckIn:         checkIn,
		CheckOut:        checkOut,
		Guests:          req.Guests,
		GuestName:       strings.TrimSpace(req.Guest.Name),
		GuestEmail:      strings.TrimSpace(req.Guest.Email),
		GuestPhone:      strings.TrimSpace(req.Guest.Phone),
		Message:         strings.TrimSpace(req.Message),
		CardToken:       req.CardToken,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[bookingapp.RequestBookingCommand, *bookingapp.RequestBookingResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result.Booking)
}

func (h GuestHandler) Lookup(c *gin.Context) {
	q := bookingapp.LookupBookingQuery{
		ConfirmationCode: c.Param("code"),
		Email:            strings.TrimSpace(c.Query("email")),
	}
	result, err := queries.Ask[bookingapp.LookupBookingQuery, dto.GuestBookingView](c.Request.Context(), h.Queries, q)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h GuestHandler) Cancel(c *gin.Context) {
	var req cancelBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cmd := bookingapp.GuestCancelBookingCommand{
		ConfirmationCode: c.Param("code"),
		Email:            strings.TrimSpace(req.Email),
		Reason:           strings.TrimSpace(req.Reason),
	}
	result, err := commands.Dispatch[bookingapp.GuestCancelBookingCommand, *dto.GuestActionResult](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h GuestHandler) handleError(c *gin.Context, err error) {
	writeError(c, h.Logger, err)
}

func parseDates(checkIn, checkOut string) (time.Time, time.Time, error) {
	in, err := time.Parse(time.DateOnly, strings.TrimSpace(checkIn))
	if err != nil {
		return time.Time{}, time.Time{}, errBadDate
	}
	out, err := time.Parse(time.DateOnly, strings.TrimSpace(checkOut))
	if err != nil {
		return time.Time{}, time.Time{}, errBadDate
	}
	return in, out, nil
}

var _ GuestHTTP = GuestHandler{}
