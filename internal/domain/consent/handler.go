package consent

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthportal/portal/internal/domain/identity"
	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/internal/platform/auth"
	"github.com/healthportal/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	patientGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	patientGroup.POST("/consents", h.Share)
	patientGroup.GET("/consents/granted", h.ListGranted)
	patientGroup.POST("/consents/:id/revoke", h.Revoke)

	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.GET("/consents/received", h.ListReceived)
	doctorGroup.POST("/consents/check", h.Check)

	api.GET("/consultations/:id/shared-records", h.SharedRecords)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

type shareRequest struct {
	DoctorID  identity.AccountID `json:"doctor_id"`
	RecordIDs []uuid.UUID        `json:"record_ids"`
	ExpiresAt *time.Time         `json:"expires_at"`
}

// Share grants a doctor access to some of the caller's records outside any
// consultation.
func (h *Handler) Share(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	var body shareRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req := GrantRequest{
		PatientID: caller.AccountID,
		DoctorID:  body.DoctorID,
		RecordIDs: body.RecordIDs,
	}
	if body.ExpiresAt != nil {
		req.ExpiresAt = *body.ExpiresAt
	}
	g, err := h.svc.ShareRecords(ctx, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *Handler) ListGranted(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	grants, total, err := h.svc.ListGrantsForPatient(ctx, caller.AccountID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if grants == nil {
		grants = []*Grant{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(grants, total, pg.Limit, pg.Offset).WithNext(c.Path()))
}

func (h *Handler) ListReceived(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	grants, total, err := h.svc.ListGrantsForDoctor(ctx, caller.AccountID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if grants == nil {
		grants = []*Grant{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(grants, total, pg.Limit, pg.Offset).WithNext(c.Path()))
}

func (h *Handler) Revoke(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	g, err := h.svc.RevokeGrant(ctx, caller.AccountID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, g)
}

type checkRequest struct {
	RecordIDs []uuid.UUID `json:"record_ids"`
}

// Check answers, per record id, whether the calling doctor may view it.
func (h *Handler) Check(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	var body checkRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	access := h.svc.CheckAccess(ctx, caller.AccountID, body.RecordIDs)
	out := make(map[string]bool, len(access))
	for id, ok := range access {
		out[id.String()] = ok
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"access": out})
}

func (h *Handler) SharedRecords(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	shared, err := h.svc.SharedRecordsFor(ctx, caller.AccountID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": shared, "total": len(shared)})
}
