package identity

import (
	"context"
	"net/url"
	"strconv"

	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/internal/platform/backend"
)

// remoteProfileRepo serves profiles from the remote REST backend.
type remoteProfileRepo struct {
	client *backend.Client
}

func NewRemoteProfileRepo(client *backend.Client) ProfileRepository {
	return &remoteProfileRepo{client: client}
}

type remoteProfilePage struct {
	Data  []*Profile `json:"data"`
	Total int        `json:"total"`
}

func (r *remoteProfileRepo) Create(ctx context.Context, p *Profile) error {
	var created Profile
	if err := r.client.PostJSON(ctx, "/profiles", p, &created); err != nil {
		return err
	}
	*p = created
	return nil
}

func (r *remoteProfileRepo) GetByID(ctx context.Context, id ProfileID) (*Profile, error) {
	var p Profile
	if err := r.client.GetJSON(ctx, "/profiles/"+url.PathEscape(id.String()), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *remoteProfileRepo) GetByAccount(ctx context.Context, accountID AccountID, role Role) (*Profile, error) {
	q := url.Values{"account_id": {accountID.String()}}
	if role != "" {
		q.Set("role", string(role))
	}
	var page remoteProfilePage
	if err := r.client.GetJSON(ctx, "/profiles", q, &page); err != nil {
		return nil, err
	}
	if len(page.Data) == 0 {
		return nil, apperr.ErrNotFound
	}
	return page.Data[0], nil
}

func (r *remoteProfileRepo) ListByRole(ctx context.Context, role Role, limit, offset int) ([]*Profile, int, error) {
	q := url.Values{
		"role":   {string(role)},
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	var page remoteProfilePage
	if err := r.client.GetJSON(ctx, "/profiles", q, &page); err != nil {
		return nil, 0, err
	}
	return page.Data, page.Total, nil
}
