package notification

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/healthportal/portal/internal/domain/identity"
	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/notifications", h.List)
	api.GET("/notifications/unread-count", h.UnreadCount)
	api.PUT("/notifications/read-all", h.MarkAllRead)
	api.PUT("/notifications/:id/read", h.MarkRead)
}

func httpError(err error) error {
	return echo.NewHTTPError(apperr.HTTPStatus(err), err.Error())
}

func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	unreadOnly, _ := strconv.ParseBool(c.QueryParam("unread"))
	pg := pagination.FromContext(c)

	items, total, err := h.svc.ListForUser(ctx, caller.AccountID, unreadOnly, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Notification{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UnreadCount(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	n, err := h.svc.UnreadCount(ctx, caller.AccountID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"unread": n})
}

func (h *Handler) MarkRead(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	if err := h.svc.MarkRead(ctx, caller.AccountID, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkAllRead(c echo.Context) error {
	ctx := c.Request().Context()
	caller, err := identity.CallerFromContext(ctx)
	if err != nil {
		return httpError(err)
	}
	n, err := h.svc.MarkAllRead(ctx, caller.AccountID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"updated": n})
}
