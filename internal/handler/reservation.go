// Package handler exposes the engine's mutation operations and booking
// collections over HTTP. Handlers translate between the wire and the
// engine only; every booking rule lives below this layer.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/engine"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/errs"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/flow"
)

// ReservationHandler dispatches mutation requests to the path-specific
// mutators. Each mutator was constructed for its own mode behind the
// capability interface; the handler only selects, it never builds.
type ReservationHandler struct {
	Wallet        engine.ReservationMutator
	Institutional engine.ReservationMutator
	WalletFlow    *flow.Machine
	InstFlow      *flow.Machine
}

// NewReservationHandler constructs the handler. Both mutators must be
// non-nil; the flows may be nil when the deployment does not expose stage
// inspection.
func NewReservationHandler(wallet, institutional engine.ReservationMutator, walletFlow, instFlow *flow.Machine) *ReservationHandler {
	if wallet == nil || institutional == nil {
		panic("nil mutator passed to NewReservationHandler")
	}
	return &ReservationHandler{
		Wallet:        wallet,
		Institutional: institutional,
		WalletFlow:    walletFlow,
		InstFlow:      instFlow,
	}
}

// createBody accepts the loosely typed identifiers the UI sends: labId,
// start and end may be JSON numbers or decimal strings; normalization
// happens at the projection boundary, not here.
type createBody struct {
	LabID       any    `json:"labId"`
	Start       any    `json:"start"`
	End         any    `json:"end"`
	UserAddress string `json:"userAddress"`
	Note        string `json:"note"`
}

// CreateWalletReservation handles POST /v1/wallet/reservations. The caller
// is the wallet UI; identity is proven by the wallet signature inside the
// ledger writer, not by this route.
func (h *ReservationHandler) CreateWalletReservation(c echo.Context) error {
	var body createBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	booking, err := h.Wallet.CreateReservation(c.Request().Context(), engine.CreateRequest{
		LabID:       body.LabID,
		Start:       body.Start,
		End:         body.End,
		UserAddress: body.UserAddress,
		Note:        body.Note,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, booking)
}

// CreateInstitutionalReservation handles POST /v1/institutional/reservations.
// The user address comes from the bearer token, never from the body.
func (h *ReservationHandler) CreateInstitutionalReservation(c echo.Context) error {
	addr, ok := c.Get("address").(string)
	if !ok || addr == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body createBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	booking, err := h.Institutional.CreateReservation(c.Request().Context(), engine.CreateRequest{
		LabID:       body.LabID,
		Start:       body.Start,
		End:         body.End,
		UserAddress: addr,
		Note:        body.Note,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, booking)
}

type cancelFunc func(ctx context.Context, reservationKey, userAddress string) error

// CancelWalletReservation handles POST /v1/wallet/reservations/:key/cancel.
func (h *ReservationHandler) CancelWalletReservation(c echo.Context) error {
	return h.walletCancel(c, h.Wallet.CancelReservation)
}

// CancelWalletBooking handles POST /v1/wallet/bookings/:key/cancel.
func (h *ReservationHandler) CancelWalletBooking(c echo.Context) error {
	return h.walletCancel(c, h.Wallet.CancelBooking)
}

func (h *ReservationHandler) walletCancel(c echo.Context, do cancelFunc) error {
	key := c.Param("key")
	var body struct {
		UserAddress string `json:"userAddress"`
	}
	// The body is optional; a missing address only widens the fallback
	// invalidation scope.
	_ = c.Bind(&body)
	if err := do(c.Request().Context(), key, body.UserAddress); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"status": "cancel-requested"})
}

// CancelInstitutionalReservation handles
// POST /v1/institutional/reservations/:key/cancel.
func (h *ReservationHandler) CancelInstitutionalReservation(c echo.Context) error {
	return h.institutionalCancel(c, h.Institutional.CancelReservation)
}

// CancelInstitutionalBooking handles
// POST /v1/institutional/bookings/:key/cancel.
func (h *ReservationHandler) CancelInstitutionalBooking(c echo.Context) error {
	return h.institutionalCancel(c, h.Institutional.CancelBooking)
}

func (h *ReservationHandler) institutionalCancel(c echo.Context, do cancelFunc) error {
	addr, ok := c.Get("address").(string)
	if !ok || addr == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := do(c.Request().Context(), c.Param("key"), addr); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"status": "cancel-requested"})
}

// RequestFunds handles POST /v1/institutional/funds.
func (h *ReservationHandler) RequestFunds(c echo.Context) error {
	addr, ok := c.Get("address").(string)
	if !ok || addr == "" {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		Amount string `json:"amount"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := h.Institutional.RequestFunds(c.Request().Context(), addr, body.Amount); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, echo.Map{"status": "requested"})
}

// Flows handles GET /v1/flows, exposing the current stage of both path
// machines for UI inspection.
func (h *ReservationHandler) Flows(c echo.Context) error {
	out := echo.Map{}
	if h.WalletFlow != nil {
		out["wallet"] = h.WalletFlow.Stage()
	}
	if h.InstFlow != nil {
		out["institutional"] = h.InstFlow.Stage()
	}
	return c.JSON(http.StatusOK, out)
}

// ResetFlow handles POST /v1/flows/:mode/reset, the explicit reset the
// institutional path needs after a reported failure.
func (h *ReservationHandler) ResetFlow(c echo.Context) error {
	switch engine.Mode(c.Param("mode")) {
	case engine.ModeWallet:
		if h.WalletFlow != nil {
			h.WalletFlow.Reset()
		}
	case engine.ModeInstitutional:
		if h.InstFlow != nil {
			h.InstFlow.Reset()
		}
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown mode"})
	}
	return c.NoContent(http.StatusNoContent)
}

// writeError maps engine error kinds onto HTTP responses. Anything that is
// not an engine error is a ledger or internal failure; its message is
// surfaced verbatim per the error policy.
func writeError(c echo.Context, err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case errs.KindValidation:
			return c.JSON(http.StatusBadRequest, echo.Map{"error": e.Message})
		case errs.KindAuthorizationDeclined:
			return c.JSON(http.StatusForbidden, echo.Map{"message": e.Message, "code": e.Code})
		case errs.KindTransport:
			return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
		}
	}
	return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
}
