package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/arcadian-io/docchat/config"
	"github.com/arcadian-io/docchat/internal/blob"
	"github.com/arcadian-io/docchat/internal/history"
	"github.com/arcadian-io/docchat/internal/ingest"
	"github.com/arcadian-io/docchat/internal/orchestrator"
	"github.com/arcadian-io/docchat/models"
)

type stubConverser struct {
	resp orchestrator.Response
	err  error
	got  models.ChatHistory
}

func (s *stubConverser) Orchestrate(_ context.Context, h models.ChatHistory) (orchestrator.Response, error) {
	s.got = h
	return s.resp, s.err
}

type stubHistory struct {
	appended []history.Record
	turns    models.ChatHistory
}

func (s *stubHistory) Append(_ context.Context, rec history.Record) (string, error) {
	s.appended = append(s.appended, rec)
	return rec.MessageID, nil
}

func (s *stubHistory) Conversation(_ context.Context, _, _ string) (models.ChatHistory, error) {
	return s.turns, nil
}

func (s *stubHistory) DeleteConversation(_ context.Context, _, _ string) error { return nil }

func (s *stubHistory) ListConversations(_ context.Context, _ string) ([]string, error) {
	return []string{"conv-1"}, nil
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func answeredResponse(text string) orchestrator.Response {
	return orchestrator.Response{
		ID:     "resp-1",
		Model:  "gpt-4o-mini",
		Object: "extensions.chat.completion",
		Choices: []orchestrator.Choice{{Messages: []orchestrator.ResponseMessage{
			{Role: models.RoleTool, Content: `{"citations":[]}`, EndTurn: false},
			{Role: models.RoleAssistant, Content: text, EndTurn: true},
		}}},
	}
}

func TestConverseReturnsEnvelope(t *testing.T) {
	e := echo.New()
	conv := &stubConverser{resp: answeredResponse("hello")}
	hist := &stubHistory{}
	h := &ChatHandler{Orch: conv, History: hist}

	body := `{"user_id":"u1","conversation_id":"c1","messages":[{"role":"user","content":"hi"}]}`
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/conversation", body), rec)
	if err := h.converse(ctx); err != nil {
		t.Fatalf("converse: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp orchestrator.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Object != "extensions.chat.completion" {
		t.Fatalf("object = %q", resp.Object)
	}
	if len(conv.got) != 1 || conv.got[0].Content != "hi" {
		t.Fatalf("orchestrator history = %+v", conv.got)
	}
	if len(hist.appended) != 2 {
		t.Fatalf("appended %d records, want question and answer", len(hist.appended))
	}
	if hist.appended[0].Role != models.RoleUser || hist.appended[1].Role != models.RoleAssistant {
		t.Fatalf("persisted roles = %q, %q", hist.appended[0].Role, hist.appended[1].Role)
	}
	if hist.appended[1].Content != "hello" {
		t.Fatalf("persisted answer = %q", hist.appended[1].Content)
	}
}

func TestConverseRequiresMessages(t *testing.T) {
	e := echo.New()
	h := &ChatHandler{Orch: &stubConverser{}}
	rec := httptest.NewRecorder()
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/conversation", `{"messages":[]}`), rec)
	err := h.converse(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestConverseMapsStrategyErrorsTo400(t *testing.T) {
	e := echo.New()
	conv := &stubConverser{err: fmt.Errorf("%w: %q", orchestrator.ErrUnknownStrategy, "bogus")}
	h := &ChatHandler{Orch: conv}
	rec := httptest.NewRecorder()
	body := `{"messages":[{"role":"user","content":"hi"}]}`
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/conversation", body), rec)
	err := h.converse(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}
}

func TestAnonymousTurnNotPersisted(t *testing.T) {
	e := echo.New()
	hist := &stubHistory{}
	h := &ChatHandler{Orch: &stubConverser{resp: answeredResponse("hi")}, History: hist}
	rec := httptest.NewRecorder()
	body := `{"messages":[{"role":"user","content":"hi"}]}`
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/conversation", body), rec)
	if err := h.converse(ctx); err != nil {
		t.Fatalf("converse: %v", err)
	}
	if len(hist.appended) != 0 {
		t.Fatalf("appended %d records, want none without user_id", len(hist.appended))
	}
}

func TestLoginIssuesAdminToken(t *testing.T) {
	e := echo.New()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	a := &AuthHandler{
		Admin:  config.AdminConfig{Email: "ops@example.com", PasswordHash: string(hash)},
		Secret: []byte("test-secret"),
	}

	rec := httptest.NewRecorder()
	body := `{"email":"ops@example.com","password":"s3cret-pass"}`
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/login", body), rec)
	if err := a.login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["token"] == "" {
		t.Fatalf("no token in response")
	}

	// the issued token passes the admin middleware
	called := false
	mw := withAdminAuth(a.Secret)(func(c echo.Context) error { called = true; return nil })
	req := httptest.NewRequest(http.MethodGet, "/api/admin/files", nil)
	req.Header.Set("Authorization", "Bearer "+resp["token"])
	if err := mw(e.NewContext(req, httptest.NewRecorder())); err != nil {
		t.Fatalf("middleware: %v", err)
	}
	if !called {
		t.Fatalf("next handler not reached")
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	e := echo.New()
	hash, _ := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	a := &AuthHandler{
		Admin:  config.AdminConfig{Email: "ops@example.com", PasswordHash: string(hash)},
		Secret: []byte("test-secret"),
	}
	rec := httptest.NewRecorder()
	body := `{"email":"ops@example.com","password":"wrong"}`
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/auth/login", body), rec)
	err := a.login(ctx)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("err = %v, want 401", err)
	}
}

func TestAdminAuthRejectsMissingAndForeignTokens(t *testing.T) {
	e := echo.New()
	mw := withAdminAuth([]byte("test-secret"))(func(c echo.Context) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/api/admin/files", nil)
	err := mw(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("missing token err = %v, want 401", err)
	}

	foreign, err := signAdminJWT("ops@example.com", []byte("other-secret"), time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req = httptest.NewRequest(http.MethodGet, "/api/admin/files", nil)
	req.Header.Set("Authorization", "Bearer "+foreign)
	err = mw(e.NewContext(req, httptest.NewRecorder()))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("foreign token err = %v, want 401", err)
	}
}

type stubContainer struct {
	items   []blob.Item
	deleted []string
}

func (s *stubContainer) List(_ context.Context, _ string) ([]blob.Item, error) { return s.items, nil }

func (s *stubContainer) Upload(_ context.Context, name string, _ []byte, _ map[string]string) error {
	s.items = append(s.items, blob.Item{Name: name})
	return nil
}

func (s *stubContainer) Delete(_ context.Context, name string) error {
	s.deleted = append(s.deleted, name)
	return nil
}

type stubRemover struct {
	patterns []string
	removed  int
}

func (s *stubRemover) DeleteBySource(_ context.Context, pattern string) (int, error) {
	s.patterns = append(s.patterns, pattern)
	return s.removed, nil
}

type stubPublisher struct {
	events []ingest.Event
}

func (s *stubPublisher) Publish(_ context.Context, event ingest.Event) (string, error) {
	s.events = append(s.events, event)
	return "1-0", nil
}

func TestDeleteFileRemovesEverywhere(t *testing.T) {
	e := echo.New()
	container := &stubContainer{}
	remover := &stubRemover{removed: 3}
	pub := &stubPublisher{}
	h := &AdminHandler{Blob: container, Index: remover, Publisher: pub}

	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/admin/files/report.pdf", nil), rec)
	ctx.SetParamNames("name")
	ctx.SetParamValues("report.pdf")
	if err := h.deleteFile(ctx); err != nil {
		t.Fatalf("deleteFile: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(container.deleted) != 1 || container.deleted[0] != "report.pdf" {
		t.Fatalf("blob deletes = %v", container.deleted)
	}
	if len(remover.patterns) != 1 || remover.patterns[0] != "%report.pdf%" {
		t.Fatalf("index patterns = %v", remover.patterns)
	}
	if len(pub.events) != 1 || pub.events[0].EventType != ingest.EventBlobDeleted {
		t.Fatalf("events = %+v", pub.events)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["chunks_removed"].(float64) != 3 {
		t.Fatalf("chunks_removed = %v", resp["chunks_removed"])
	}
}

func TestIngestURLQueuesEvent(t *testing.T) {
	e := echo.New()
	pub := &stubPublisher{}
	h := &AdminHandler{Publisher: pub}

	rec := httptest.NewRecorder()
	body := `{"url":"https://example.com/a"}`
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/admin/files/url", body), rec)
	if err := h.ingestURL(ctx); err != nil {
		t.Fatalf("ingestURL: %v", err)
	}
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(pub.events) != 1 || pub.events[0].BlobName != "https://example.com/a" {
		t.Fatalf("events = %+v", pub.events)
	}

	ctx = e.NewContext(jsonRequest(http.MethodPost, "/api/admin/files/url", `{"url":"ftp://nope"}`), httptest.NewRecorder())
	err := h.ingestURL(ctx)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("scheme err = %v, want 400", err)
	}
}

type memConfigBlob struct {
	objects map[string][]byte
}

func (m *memConfigBlob) Download(_ context.Context, name string) ([]byte, error) {
	data, ok := m.objects[name]
	if !ok {
		return nil, fmt.Errorf("not found: %s", name)
	}
	return data, nil
}

func (m *memConfigBlob) Upload(_ context.Context, name string, data []byte, _ map[string]string) error {
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[name] = data
	return nil
}

func (m *memConfigBlob) Exists(_ context.Context, name string) (bool, error) {
	_, ok := m.objects[name]
	return ok, nil
}

func TestSaveConfigNotifiesReplicas(t *testing.T) {
	e := echo.New()
	active := config.NewActiveLoader(&memConfigBlob{}, nil)
	notified := 0
	h := &AdminHandler{Active: active, Notify: func(context.Context) { notified++ }}

	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/admin/config", `{"orchestrator":{"strategy":"bogus"}}`), httptest.NewRecorder())
	if err := h.saveConfig(ctx); err == nil {
		t.Fatal("expected validation error")
	}
	if notified != 0 {
		t.Fatalf("rejected save broadcast an invalidation")
	}

	ctx = e.NewContext(jsonRequest(http.MethodPost, "/api/admin/config", `{"orchestrator":{"strategy":"langchain"}}`), httptest.NewRecorder())
	if err := h.saveConfig(ctx); err != nil {
		t.Fatalf("saveConfig: %v", err)
	}
	if notified != 1 {
		t.Fatalf("notified %d times, want 1", notified)
	}
}

func TestSaveConfigValidatesStrategy(t *testing.T) {
	e := echo.New()
	active := config.NewActiveLoader(&memConfigBlob{}, nil)
	h := &AdminHandler{Active: active}

	rec := httptest.NewRecorder()
	body := `{"orchestrator":{"strategy":"bogus"}}`
	ctx := e.NewContext(jsonRequest(http.MethodPost, "/api/admin/config", body), rec)
	err := h.saveConfig(ctx)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400", err)
	}

	rec = httptest.NewRecorder()
	body = `{"orchestrator":{"strategy":"openai_function"}}`
	ctx = e.NewContext(jsonRequest(http.MethodPost, "/api/admin/config", body), rec)
	if err := h.saveConfig(ctx); err != nil {
		t.Fatalf("saveConfig: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// the saved overlay is what subsequent reads observe
	got, err := active.GetActiveConfigOrDefault(context.Background())
	if err != nil {
		t.Fatalf("GetActiveConfigOrDefault: %v", err)
	}
	if got.Orchestrator.Strategy != config.StrategyOpenAIFunction {
		t.Fatalf("strategy = %q", got.Orchestrator.Strategy)
	}
}
