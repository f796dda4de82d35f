package identity

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

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
	api.POST("/profiles", h.CreateProfile)
	api.GET("/profiles/me", h.GetMyProfile)
	api.GET("/profiles/:id", h.GetProfile)
	api.GET("/doctors", h.ListDoctors)

	doctorGroup := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctorGroup.GET("/doctors/:id/patients", h.ListPatientsForDoctor)

	patientGroup := api.Group("", auth.RequireRole(auth.RolePatient))
	patientGroup.GET("/patients/:id/doctors", h.ListAssignedDoctors)
	patientGroup.POST("/patients/:id/doctors", h.AssignDoctor)
	patientGroup.DELETE("/patients/:id/doctors/:doctor_id", h.RevokeAssignment)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

func profileParam(c echo.Context, name string) (ProfileID, error) {
	id, err := ParseProfileID(c.Param(name))
	if err != nil {
		return ProfileID{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// ownedProfile loads id and checks that the caller owns it or is an admin.
func (h *Handler) ownedProfile(ctx context.Context, id ProfileID) (*Profile, error) {
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return nil, err
	}
	p, err := h.svc.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.Acts(p) {
		return nil, apperr.ErrForbidden
	}
	return p, nil
}

type createProfileRequest struct {
	AccountID string  `json:"account_id"`
	Role      Role    `json:"role"`
	FullName  string  `json:"full_name"`
	Email     string  `json:"email"`
	Specialty *string `json:"specialty"`
}

func (h *Handler) CreateProfile(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	var req createProfileRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	p := &Profile{
		AccountID: caller.AccountID,
		Role:      req.Role,
		FullName:  req.FullName,
		Email:     req.Email,
		Specialty: req.Specialty,
	}
	if req.AccountID != "" {
		acct, err := ParseAccountID(req.AccountID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid account_id")
		}
		if acct != caller.AccountID && !caller.IsAdmin() {
			return echo.NewHTTPError(http.StatusForbidden, "cannot create a profile for another account")
		}
		p.AccountID = acct
	}

	if err := h.svc.CreateProfile(ctx, p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetMyProfile(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	p, err := h.svc.ProfileForAccount(ctx, caller.AccountID, Role(c.QueryParam("role")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetProfile(c echo.Context) error {
	id, err := profileParam(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetProfile(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	doctors, total, err := h.svc.ListDoctors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(doctors, total, pg.Limit, pg.Offset).WithNext(c.Path()))
}

func (h *Handler) ListPatientsForDoctor(c echo.Context) error {
	id, err := profileParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.ownedProfile(ctx, id); err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	patients, total, err := h.svc.ListPatientsForDoctor(ctx, id, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(patients, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListAssignedDoctors(c echo.Context) error {
	id, err := profileParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.ownedProfile(ctx, id); err != nil {
		return httpError(err)
	}
	doctors, err := h.svc.ListActiveAssignmentsForPatient(ctx, id)
	if err != nil {
		return httpError(err)
	}
	if doctors == nil {
		doctors = []*Profile{}
	}
	return c.JSON(http.StatusOK, doctors)
}

type assignDoctorRequest struct {
	DoctorID string `json:"doctor_id"`
}

func (h *Handler) AssignDoctor(c echo.Context) error {
	id, err := profileParam(c, "id")
	if err != nil {
		return err
	}
	var req assignDoctorRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	doctorID, err := ParseProfileID(req.DoctorID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
	}
	ctx := c.Request().Context()
	if _, err := h.ownedProfile(ctx, id); err != nil {
		return httpError(err)
	}
	a, err := h.svc.AssignDoctor(ctx, id, doctorID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) RevokeAssignment(c echo.Context) error {
	id, err := profileParam(c, "id")
	if err != nil {
		return err
	}
	doctorID, err := profileParam(c, "doctor_id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if _, err := h.ownedProfile(ctx, id); err != nil {
		return httpError(err)
	}
	if err := h.svc.RevokeAssignment(ctx, id, doctorID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
