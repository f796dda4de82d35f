package notification

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/healthportal/portal/internal/domain/identity"
	"github.com/healthportal/portal/internal/platform/apperr"
	"github.com/healthportal/portal/internal/platform/events"
	"github.com/healthportal/portal/internal/platform/websocket"
)

// -- Mock Repository --

type mockRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Notification
	err   error
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]*Notification)}
}

func (m *mockRepo) Create(_ context.Context, n *Notification) error {
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	m.items[n.ID] = n
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return n, nil
}

func (m *mockRepo) ListByUser(_ context.Context, userID identity.AccountID, unreadOnly bool, limit, offset int) ([]*Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.items {
		if n.UserID == userID && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *mockRepo) CountUnread(ctx context.Context, userID identity.AccountID) (int, error) {
	_, total, err := m.ListByUser(ctx, userID, true, 1000, 0)
	return total, err
}

func (m *mockRepo) MarkRead(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok {
		return apperr.ErrNotFound
	}
	n.Read = true
	return nil
}

func (m *mockRepo) MarkAllRead(_ context.Context, userID identity.AccountID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.items {
		if n.UserID == userID && !n.Read {
			n.Read = true
			count++
		}
	}
	return count, nil
}

// -- Realtime recorder --

type realtimeRecorder struct {
	mu     sync.Mutex
	events []websocket.Event
	err    error
}

func (r *realtimeRecorder) Publish(_ context.Context, e websocket.Event) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func newTestService() (*Service, *mockRepo, *realtimeRecorder, *events.Recorder) {
	repo := newMockRepo()
	rt := &realtimeRecorder{}
	bus := &events.Recorder{}
	return NewService(repo, rt, bus, zerolog.Nop()), repo, rt, bus
}

func TestService_Notify(t *testing.T) {
	svc, repo, rt, bus := newTestService()
	user := identity.NewAccountID(uuid.New())

	n := &Notification{
		UserID:   user,
		Type:     TypeHealthAlert,
		Read:     true,
		Metadata: map[string]interface{}{"record_title": "Blood panel", "record_type": "lab_report"},
	}
	if err := svc.Notify(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.items) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(repo.items))
	}
	if n.Read {
		t.Error("expected read to default to false")
	}
	if n.Title != "New health record" {
		t.Errorf("expected templated title, got %q", n.Title)
	}
	if !strings.Contains(n.Message, `"Blood panel" (lab_report)`) {
		t.Errorf("expected templated message, got %q", n.Message)
	}

	if len(rt.events) != 1 {
		t.Fatalf("expected 1 realtime event, got %d", len(rt.events))
	}
	if rt.events[0].Topic != "notifications/"+user.String() {
		t.Errorf("unexpected topic %s", rt.events[0].Topic)
	}
	if got := bus.Events(); len(got) != 1 || got[0].Type != EventCreated {
		t.Errorf("expected one %s bus event, got %+v", EventCreated, got)
	}
}

func TestService_Notify_KeepsExplicitText(t *testing.T) {
	svc, _, _, _ := newTestService()
	n := &Notification{
		UserID:  identity.NewAccountID(uuid.New()),
		Type:    TypeConsultationBooked,
		Title:   "Custom",
		Message: "Custom body",
	}
	if err := svc.Notify(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Title != "Custom" || n.Message != "Custom body" {
		t.Errorf("explicit text was overwritten: %q / %q", n.Title, n.Message)
	}
}

func TestService_Notify_Validation(t *testing.T) {
	svc, repo, _, _ := newTestService()

	err := svc.Notify(context.Background(), &Notification{Type: TypeHealthAlert})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) || ve.Field != "user_id" {
		t.Errorf("expected user_id ValidationError, got %v", err)
	}

	err = svc.Notify(context.Background(), &Notification{UserID: identity.NewAccountID(uuid.New()), Type: "lab_ready"})
	if !errors.As(err, &ve) || ve.Field != "type" {
		t.Errorf("expected type ValidationError, got %v", err)
	}

	if len(repo.items) != 0 {
		t.Errorf("expected nothing stored, got %d", len(repo.items))
	}
}

func TestService_Notify_DeliveryFailuresAreBestEffort(t *testing.T) {
	repo := newMockRepo()
	rt := &realtimeRecorder{err: errors.New("hub down")}
	bus := &events.Recorder{Err: errors.New("kafka down")}
	svc := NewService(repo, rt, bus, zerolog.Nop())

	n := &Notification{UserID: identity.NewAccountID(uuid.New()), Type: TypeConsultationUpdated}
	if err := svc.Notify(context.Background(), n); err != nil {
		t.Fatalf("delivery failure should not fail Notify: %v", err)
	}
	if len(repo.items) != 1 {
		t.Error("expected the notification to be stored")
	}
}

func TestService_Notify_StoreFailure(t *testing.T) {
	svc, repo, rt, _ := newTestService()
	repo.err = errors.New("db down")

	err := svc.Notify(context.Background(), &Notification{UserID: identity.NewAccountID(uuid.New()), Type: TypeHealthAlert})
	if err == nil {
		t.Fatal("expected store error")
	}
	if len(rt.events) != 0 {
		t.Error("nothing should be pushed when the write fails")
	}
}

func TestService_ReadFlags(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	user := identity.NewAccountID(uuid.New())
	other := identity.NewAccountID(uuid.New())

	var first *Notification
	for i := 0; i < 3; i++ {
		n := &Notification{UserID: user, Type: TypeHealthAlert}
		if err := svc.Notify(ctx, n); err != nil {
			t.Fatalf("Notify: %v", err)
		}
		if first == nil {
			first = n
		}
	}

	if count, _ := svc.UnreadCount(ctx, user); count != 3 {
		t.Fatalf("expected 3 unread, got %d", count)
	}

	if err := svc.MarkRead(ctx, other, first.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("expected ErrForbidden for another user, got %v", err)
	}
	if err := svc.MarkRead(ctx, user, first.ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := svc.MarkRead(ctx, user, first.ID); err != nil {
		t.Errorf("marking twice should be a no-op, got %v", err)
	}

	unread, total, _ := svc.ListForUser(ctx, user, true, 10, 0)
	if total != 2 || len(unread) != 2 {
		t.Errorf("expected 2 unread, got %d", total)
	}

	updated, err := svc.MarkAllRead(ctx, user)
	if err != nil || updated != 2 {
		t.Errorf("expected 2 updated, got %d, %v", updated, err)
	}
	if count, _ := svc.UnreadCount(ctx, user); count != 0 {
		t.Errorf("expected 0 unread, got %d", count)
	}

	if err := svc.MarkRead(ctx, user, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTemplateEngine(t *testing.T) {
	e := NewTemplateEngine()

	for typ := range validTypes {
		if _, _, err := e.Render(typ, nil); err != nil {
			t.Errorf("missing template for %s: %v", typ, err)
		}
	}

	title, msg, err := e.Render(TypeConsultationUpdated, map[string]interface{}{"consultation_date": "2024-01-15", "status": "confirmed"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if title != "Consultation updated" || msg != "Your consultation on 2024-01-15 is now confirmed." {
		t.Errorf("unexpected render: %q / %q", title, msg)
	}

	_, msg, _ = e.Render(TypeHealthAlert, map[string]interface{}{"record_title": "CBC"})
	if msg != "A patient you care for uploaded \"CBC\" ({{record_type}})." {
		t.Errorf("expected missing placeholders to be left as-is, got %q", msg)
	}

	if _, _, err := e.Render("bogus", nil); err == nil {
		t.Error("expected error for unknown type")
	}
}
