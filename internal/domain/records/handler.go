package records

import (
	"errors"
	"net/http"
	"strings"
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
	patientGroup.POST("/records", h.Upload)
	patientGroup.GET("/records", h.List)
	patientGroup.GET("/records/match", h.Match)

	api.GET("/records/:id", h.Get)
	api.GET("/records/:id/file", h.Download)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

// Upload accepts multipart/form-data with title, record_type and the
// optional service_date (YYYY-MM-DD), tags (comma separated) and file.
func (h *Handler) Upload(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}

	req := UploadRequest{
		Owner:      caller.AccountID,
		Title:      c.FormValue("title"),
		RecordType: RecordType(c.FormValue("record_type")),
	}
	if raw := c.FormValue("service_date"); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "service_date must be YYYY-MM-DD")
		}
		req.ServiceDate = &d
	}
	if raw := c.FormValue("tags"); raw != "" {
		req.Tags = strings.Split(raw, ",")
	}

	fh, err := c.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return echo.NewHTTPError(http.StatusBadRequest, "invalid file upload: "+err.Error())
	default:
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
		}
		defer f.Close()
		req.File = f
		req.FileName = fh.Filename
		req.ContentType = fh.Header.Get(echo.HeaderContentType)
	}

	rec, err := h.svc.Upload(ctx, req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	pg := pagination.FromContext(c)
	recs, total, err := h.svc.ListByOwner(ctx, caller.AccountID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if recs == nil {
		recs = []*HealthRecord{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(recs, total, pg.Limit, pg.Offset))
}

func (h *Handler) Match(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, h.svc.MatchForOwner(ctx, caller.AccountID, c.QueryParam("title")))
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
	rec, err := h.svc.Get(ctx, caller.AccountID, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Download(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	body, obj, rec, err := h.svc.OpenFile(ctx, caller.AccountID, id)
	if err != nil {
		return httpError(err)
	}
	defer body.Close()

	if rec.FileName != nil {
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+strings.ReplaceAll(*rec.FileName, `"`, "")+`"`)
	}
	return c.Stream(http.StatusOK, obj.ContentType, body)
}
