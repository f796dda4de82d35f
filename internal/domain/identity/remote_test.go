package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/internal/platform/backend"
)

func newRemoteRepo(t *testing.T, handler http.HandlerFunc) ProfileRepository {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRemoteProfileRepo(backend.NewWithHTTPClient(srv.URL, srv.Client()))
}

func TestRemoteProfileRepo_GetByID(t *testing.T) {
	want := Profile{ID: NewProfileID(uuid.New()), AccountID: NewAccountID(uuid.New()), Role: RoleDoctor, FullName: "House"}
	repo := newRemoteRepo(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/profiles/"+want.ID.String() {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(want)
	})

	got, err := repo.GetByID(context.Background(), want.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.AccountID != want.AccountID || got.Role != RoleDoctor {
		t.Errorf("unexpected profile %+v", got)
	}

	_, err = repo.GetByID(context.Background(), NewProfileID(uuid.New()))
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoteProfileRepo_GetByAccount(t *testing.T) {
	acct := NewAccountID(uuid.New())
	repo := newRemoteRepo(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("account_id") != acct.String() || q.Get("role") != "patient" {
			json.NewEncoder(w).Encode(remoteProfilePage{})
			return
		}
		json.NewEncoder(w).Encode(remoteProfilePage{
			Data:  []*Profile{{ID: NewProfileID(uuid.New()), AccountID: acct, Role: RolePatient}},
			Total: 1,
		})
	})

	p, err := repo.GetByAccount(context.Background(), acct, RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.AccountID != acct {
		t.Errorf("expected account %s, got %s", acct, p.AccountID)
	}

	_, err = repo.GetByAccount(context.Background(), acct, RoleDoctor)
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound for empty page, got %v", err)
	}
}

func TestRemoteProfileRepo_ListByRole(t *testing.T) {
	repo := newRemoteRepo(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("role") != "doctor" || q.Get("limit") != "5" || q.Get("offset") != "10" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(remoteProfilePage{Data: []*Profile{{Role: RoleDoctor}}, Total: 11})
	})

	items, total, err := repo.ListByRole(context.Background(), RoleDoctor, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || total != 11 {
		t.Errorf("expected 1 item of 11, got %d of %d", len(items), total)
	}
}

func TestRemoteProfileRepo_Create(t *testing.T) {
	repo := newRemoteRepo(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		var p Profile
		json.NewDecoder(r.Body).Decode(&p)
		p.ID = NewProfileID(uuid.New())
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(p)
	})

	p := &Profile{AccountID: NewAccountID(uuid.New()), Role: RolePatient, FullName: "Alice", Email: "a@example.com"}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ID.IsZero() {
		t.Error("expected the backend-assigned id")
	}
	if p.FullName != "Alice" {
		t.Errorf("expected name preserved, got %q", p.FullName)
	}
}

func TestRemoteProfileRepo_ServerError(t *testing.T) {
	repo := newRemoteRepo(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, _, err := repo.ListByRole(context.Background(), RoleDoctor, 5, 0)
	var re *apperr.RemoteError
	if !errors.As(err, &re) || re.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected RemoteError with 500, got %v", err)
	}
}
