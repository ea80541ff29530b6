package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/dispomail/internal/repository"
)

// fakeEmailStore serves the handler from a map keyed by inbox.
type fakeEmailStore struct {
	byInbox    map[string][]repository.Email
	byID       map[int64]*repository.Email
	listCalls  []string
	failure    error
	deletedIDs []int64
}

func newFakeEmailStore() *fakeEmailStore {
	return &fakeEmailStore{
		byInbox: make(map[string][]repository.Email),
		byID:    make(map[int64]*repository.Email),
	}
}

func (s *fakeEmailStore) add(email repository.Email) {
	s.byInbox[email.Inbox] = append(s.byInbox[email.Inbox], email)
	copied := email
	s.byID[email.ID] = &copied
}

func (s *fakeEmailStore) ListByInbox(ctx context.Context, inbox string) ([]repository.Email, error) {
	s.listCalls = append(s.listCalls, inbox)
	if s.failure != nil {
		return nil, s.failure
	}
	emails := s.byInbox[inbox]
	if emails == nil {
		emails = []repository.Email{}
	}
	return emails, nil
}

func (s *fakeEmailStore) GetByID(ctx context.Context, id int64) (*repository.Email, error) {
	if s.failure != nil {
		return nil, s.failure
	}
	if email, ok := s.byID[id]; ok {
		return email, nil
	}
	return nil, repository.ErrEmailNotFound
}

func (s *fakeEmailStore) Delete(ctx context.Context, id int64) error {
	if s.failure != nil {
		return s.failure
	}
	if _, ok := s.byID[id]; !ok {
		return repository.ErrEmailNotFound
	}
	delete(s.byID, id)
	s.deletedIDs = append(s.deletedIDs, id)
	return nil
}

func newTestRouter(store EmailStore) chi.Router {
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(store, nil))
	return r
}

func doRequest(t *testing.T, router chi.Router, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListEmails(t *testing.T) {
	store := newFakeEmailStore()
	store.add(repository.Email{ID: 1, Inbox: "alice", Sender: "a@b.c", Subject: "first", ReceivedAt: time.Now().UTC()})
	store.add(repository.Email{ID: 2, Inbox: "alice", Sender: "a@b.c", Subject: "second", ReceivedAt: time.Now().UTC()})
	router := newTestRouter(store)

	rec := doRequest(t, router, http.MethodGet, "/api/inboxes/alice/emails")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}

	var emails []repository.Email
	if err := json.Unmarshal(rec.Body.Bytes(), &emails); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if len(emails) != 2 {
		t.Errorf("expected 2 emails, got %d", len(emails))
	}
}

func TestListNormalizesInboxKey(t *testing.T) {
	store := newFakeEmailStore()
	router := newTestRouter(store)

	doRequest(t, router, http.MethodGet, "/api/inboxes/MiXeD/emails")

	if len(store.listCalls) != 1 || store.listCalls[0] != "mixed" {
		t.Errorf("inbox key not normalized before lookup: %v", store.listCalls)
	}
}

func TestListUnknownInboxReturnsEmptyArray(t *testing.T) {
	store := newFakeEmailStore()
	router := newTestRouter(store)

	rec := doRequest(t, router, http.MethodGet, "/api/inboxes/nobody/emails")

	if rec.Code != http.StatusOK {
		t.Fatalf("unknown inbox should be 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("expected empty JSON array, got %q", body)
	}
}

func TestListStoreFailure(t *testing.T) {
	store := newFakeEmailStore()
	store.failure = errors.New("connection refused")
	router := newTestRouter(store)

	rec := doRequest(t, router, http.MethodGet, "/api/inboxes/alice/emails")

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON error body: %v", err)
	}
	if body.Message == "" {
		t.Error("error body should carry a message")
	}
}

func TestGetEmailByID(t *testing.T) {
	store := newFakeEmailStore()
	store.add(repository.Email{ID: 7, Inbox: "alice", Sender: "a@b.c", Subject: "hello", BodyText: "text", ReceivedAt: time.Now().UTC()})
	router := newTestRouter(store)

	rec := doRequest(t, router, http.MethodGet, "/api/emails/7")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var email repository.Email
	if err := json.Unmarshal(rec.Body.Bytes(), &email); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if email.ID != 7 || email.Subject != "hello" {
		t.Errorf("wrong email returned: %+v", email)
	}
}

func TestGetEmailNonNumericID(t *testing.T) {
	router := newTestRouter(newFakeEmailStore())

	rec := doRequest(t, router, http.MethodGet, "/api/emails/abc")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric id should be 400, got %d", rec.Code)
	}

	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON error body: %v", err)
	}
	if body.Message != "Invalid ID" {
		t.Errorf("expected %q, got %q", "Invalid ID", body.Message)
	}
}

func TestGetEmailNotFound(t *testing.T) {
	router := newTestRouter(newFakeEmailStore())

	rec := doRequest(t, router, http.MethodGet, "/api/emails/99")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing email should be 404, got %d", rec.Code)
	}

	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON error body: %v", err)
	}
	if body.Message != "Email not found" {
		t.Errorf("expected %q, got %q", "Email not found", body.Message)
	}
}

func TestDeleteEmail(t *testing.T) {
	store := newFakeEmailStore()
	store.add(repository.Email{ID: 3, Inbox: "alice"})
	router := newTestRouter(store)

	rec := doRequest(t, router, http.MethodDelete, "/api/emails/3")

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(store.deletedIDs) != 1 || store.deletedIDs[0] != 3 {
		t.Errorf("delete not forwarded to store: %v", store.deletedIDs)
	}
}

func TestDeleteEmailNotFound(t *testing.T) {
	router := newTestRouter(newFakeEmailStore())

	rec := doRequest(t, router, http.MethodDelete, "/api/emails/5")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestDeleteEmailNonNumericID(t *testing.T) {
	router := newTestRouter(newFakeEmailStore())

	rec := doRequest(t, router, http.MethodDelete, "/api/emails/oops")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
