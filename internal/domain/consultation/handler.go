package consultation

import (
	"net/http"

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
	patientGroup.POST("/consultations", h.Create)

	api.GET("/consultations", h.List)
	api.GET("/consultations/:id", h.Get)
	api.PUT("/consultations/:id/status", h.UpdateStatus)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

// Create books a consultation for the calling patient. patient_id defaults
// to the caller's profile.
func (h *Handler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID.IsZero() {
		req.PatientID = caller.ProfileID
	}
	cons, err := h.svc.Book(ctx, caller.AccountID, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, cons)
}

// List returns the caller's consultations. ?as=doctor|patient picks the
// side; it defaults to doctor for callers holding the doctor role. The
// side's profile is looked up by account, so a dual-role caller sees the
// right list whichever profile the token carries.
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}

	as := c.QueryParam("as")
	if as == "" {
		as = auth.RolePatient
		for _, r := range caller.Roles {
			if r == auth.RoleDoctor {
				as = auth.RoleDoctor
			}
		}
	}
	if as != auth.RoleDoctor && as != auth.RolePatient {
		return echo.NewHTTPError(http.StatusBadRequest, "as must be doctor or patient")
	}

	profile, err := h.svc.SideProfile(ctx, caller.AccountID, identity.Role(as))
	if err != nil {
		return httpError(err)
	}

	pg := pagination.FromContext(c)
	var items []*Consultation
	var total int
	if as == auth.RoleDoctor {
		items, total, err = h.svc.ListForDoctor(ctx, profile, pg.Limit, pg.Offset)
	} else {
		items, total, err = h.svc.ListForPatient(ctx, profile, pg.Limit, pg.Offset)
	}
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Consultation{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Path()))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	cons, err := h.svc.Get(ctx, caller.AccountID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cons)
}

type statusRequest struct {
	Status Status `json:"status"`
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	var body statusRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cons, err := h.svc.UpdateStatus(ctx, caller.AccountID, id, body.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cons)
}
