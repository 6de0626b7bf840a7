package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/askluigi/agentd/internal/domain"
	"github.com/askluigi/agentd/internal/domain/agent"
	"github.com/askluigi/agentd/internal/domain/order"
	"github.com/askluigi/agentd/internal/domain/session"
	"github.com/askluigi/agentd/internal/service"
)

// fakeRunner replays scripted events on Run.
type fakeRunner struct {
	mu        sync.Mutex
	script    []agent.Event
	runs      int
	cancels   int
	resets    int
	threadID  string
	active    bool
	cancelErr error
}

func (f *fakeRunner) Run(_ context.Context, _ string) <-chan agent.Event {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	out := make(chan agent.Event, len(f.script))
	for _, ev := range f.script {
		out <- ev
	}
	close(out)
	return out
}

func (f *fakeRunner) Cancel(context.Context) (bool, error) {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
	if f.cancelErr != nil {
		return false, f.cancelErr
	}
	return f.active, nil
}

func (f *fakeRunner) ThreadID() string { return f.threadID }

func (f *fakeRunner) ResetThread(context.Context) {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

// fakeGit returns canned results or a fixed error.
type fakeGit struct {
	status *service.GitStatus
	branch *service.BranchResult
	target string
	err    error
}

func (f *fakeGit) Status(context.Context) (*service.GitStatus, error) {
	return f.status, f.err
}

func (f *fakeGit) CreateBranchAndCommit(context.Context, string) (*service.BranchResult, error) {
	return f.branch, f.err
}

func (f *fakeGit) DeployToMain(context.Context, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.target, nil
}

// fakeSessions records calls.
type fakeSessions struct {
	mu          sync.Mutex
	sessions    map[string]*session.Session
	recordedRun []session.FileChange
	branches    map[string]string
	deployed    map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[string]*session.Session),
		branches: make(map[string]string),
		deployed: make(map[string]bool),
	}
}

func (f *fakeSessions) Create(_ context.Context, userID string) (*session.Session, error) {
	sess := session.New(userID)
	f.mu.Lock()
	f.sessions[sess.ID] = sess
	f.mu.Unlock()
	return sess, nil
}

func (f *fakeSessions) List(_ context.Context, userID string) ([]session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []session.Session{}
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessions) Get(_ context.Context, id, userID string) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.UserID != userID {
		return nil, fmt.Errorf("get session: %w", domain.ErrNotFound)
	}
	return s, nil
}

func (f *fakeSessions) RecordRun(_ context.Context, _, _, _, _ string, changes []session.FileChange) error {
	f.mu.Lock()
	f.recordedRun = changes
	f.mu.Unlock()
	return nil
}

func (f *fakeSessions) SetBranch(_ context.Context, id, _, branch string) error {
	f.mu.Lock()
	f.branches[id] = branch
	f.mu.Unlock()
	return nil
}

func (f *fakeSessions) MarkDeployed(_ context.Context, id, _ string) error {
	f.mu.Lock()
	f.deployed[id] = true
	f.mu.Unlock()
	return nil
}

// fakeOrders validates like the real service.
type fakeOrders struct {
	orders []order.Order
}

func (f *fakeOrders) Create(_ context.Context, req order.CreateRequest) (*order.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	o := order.Order{ID: int64(len(f.orders) + 1), Email: req.Email, Name: req.Name,
		Address: req.Address, Items: req.Items, Subtotal: req.Subtotal}
	f.orders = append(f.orders, o)
	return &o, nil
}

func (f *fakeOrders) ListForEmail(_ context.Context, email string) ([]order.Order, error) {
	out := []order.Order{}
	for _, o := range f.orders {
		if o.Email == email {
			out = append(out, o)
		}
	}
	return out, nil
}

func newTestServer(t *testing.T, run runner, git gitCoordinator, sessions sessionManager, orders orderManager) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	MountRoutes(r, NewHandlers(run, git, sessions, orders), "")
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// readSSE parses every data: record from an SSE body.
func readSSE(t *testing.T, resp *http.Response) []agent.Event {
	t.Helper()
	defer resp.Body.Close()

	var events []agent.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev agent.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("bad SSE record %q: %v", line, err)
		}
		events = append(events, ev)
	}
	return events
}

func TestRunAgent_StreamsEvents(t *testing.T) {
	run := &fakeRunner{script: []agent.Event{
		agent.Plan("Starting run..."),
		agent.FileChange("components/hero.tsx", agent.StatusModified),
		agent.Message("Updated the hero."),
		agent.Done(),
	}, threadID: "th-1"}
	sessions := newFakeSessions()
	srv := newTestServer(t, run, &fakeGit{}, sessions, &fakeOrders{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agent/run", `{"prompt":"make it pop"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	events := readSSE(t, resp)
	if len(events) != 4 {
		t.Fatalf("events = %d, want 4: %v", len(events), events)
	}
	if events[len(events)-1].Type != agent.TypeDone {
		t.Errorf("last event = %+v, want done", events[len(events)-1])
	}
}

func TestRunAgent_EmptyPromptRejectedBeforeRun(t *testing.T) {
	run := &fakeRunner{script: []agent.Event{agent.Done()}}
	srv := newTestServer(t, run, &fakeGit{}, newFakeSessions(), &fakeOrders{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agent/run", `{"prompt":"   "}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if run.runs != 0 {
		t.Error("runner must not be invoked on validation failure")
	}
}

func TestRunAgent_RecordsChangesOnSession(t *testing.T) {
	run := &fakeRunner{script: []agent.Event{
		agent.FileChange("components/hero.tsx", agent.StatusModified),
		agent.FileChange("package.json", agent.StatusRestored),
		agent.Done(),
	}, threadID: "th-1"}
	sessions := newFakeSessions()
	srv := newTestServer(t, run, &fakeGit{}, sessions, &fakeOrders{})

	sess, err := sessions.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agent/run",
		fmt.Sprintf(`{"prompt":"edit","session_id":%q}`, sess.ID))
	readSSE(t, resp)

	sessions.mu.Lock()
	recorded := sessions.recordedRun
	sessions.mu.Unlock()
	if len(recorded) != 2 {
		t.Fatalf("recorded changes = %v, want 2", recorded)
	}
}

func TestCancelRun(t *testing.T) {
	run := &fakeRunner{}
	srv := newTestServer(t, run, &fakeGit{}, newFakeSessions(), &fakeOrders{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/agent/cancel", ``)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Canceled bool   `json:"canceled"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Canceled {
		t.Errorf("canceled = false, want true: %+v", body)
	}
	if body.Message != "no run in progress" {
		t.Errorf("message = %q, want idle acknowledgement", body.Message)
	}
	if run.cancels != 1 {
		t.Errorf("cancels = %d, want 1", run.cancels)
	}
}

func TestCreateBranch_ConflictDuringRun(t *testing.T) {
	git := &fakeGit{err: fmt.Errorf("create branch: %w", domain.ErrRunInProgress)}
	srv := newTestServer(t, &fakeRunner{}, git, newFakeSessions(), &fakeOrders{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/git/branch", `{"prompt":"ship it"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestCreateBranch_RecordsOnSession(t *testing.T) {
	git := &fakeGit{branch: &service.BranchResult{Branch: "codex/123", CommitMessage: "codex: ship it"}}
	sessions := newFakeSessions()
	srv := newTestServer(t, &fakeRunner{}, git, sessions, &fakeOrders{})

	sess, err := sessions.Create(context.Background(), "user-1")
	if err != nil {
		t.Fatal(err)
	}

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/git/branch",
		fmt.Sprintf(`{"prompt":"ship it","session_id":%q}`, sess.ID))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	sessions.mu.Lock()
	branch := sessions.branches[sess.ID]
	sessions.mu.Unlock()
	if branch != "codex/123" {
		t.Errorf("session branch = %q, want codex/123", branch)
	}
}

func TestDeploy_InvalidBranch(t *testing.T) {
	git := &fakeGit{err: fmt.Errorf("%w: invalid branch", domain.ErrValidation)}
	run := &fakeRunner{}
	srv := newTestServer(t, run, git, newFakeSessions(), &fakeOrders{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/git/deploy", `{"branch":"main"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if run.resets != 0 {
		t.Error("failed deploy must not reset the agent thread")
	}
}

func TestDeploy_ResetsThread(t *testing.T) {
	run := &fakeRunner{}
	srv := newTestServer(t, run, &fakeGit{target: "trunk"}, newFakeSessions(), &fakeOrders{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/git/deploy", `{"branch":"codex/123"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Merged bool   `json:"merged"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Merged || body.Target != "trunk" {
		t.Errorf("body = %+v, want merged into trunk", body)
	}
	if run.resets != 1 {
		t.Errorf("resets = %d, want 1", run.resets)
	}
}

func TestSessionEndpoints(t *testing.T) {
	sessions := newFakeSessions()
	srv := newTestServer(t, &fakeRunner{}, &fakeGit{}, sessions, &fakeOrders{})

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sessions", ``)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var sess session.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/"+sess.ID, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}

	// Unknown session id is a 404, not a 500.
	missing := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sessions/nope", "")
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing status = %d, want 404", missing.StatusCode)
	}
}

func TestOrderEndpoints(t *testing.T) {
	srv := newTestServer(t, &fakeRunner{}, &fakeGit{}, newFakeSessions(), &fakeOrders{})

	bad := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders", `{"name":"","email":"a@b.c","address":"x","items":[],"subtotal":0}`)
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid order status = %d, want 400", bad.StatusCode)
	}

	good := doJSON(t, http.MethodPost, srv.URL+"/api/v1/orders",
		`{"name":"Luigi","email":"a@b.c","address":"1 Main St","items":[{"headphoneId":1,"quantity":2}],"subtotal":599.98}`)
	if good.StatusCode != http.StatusCreated {
		t.Fatalf("valid order status = %d, want 201", good.StatusCode)
	}
	good.Body.Close()

	noEmail := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders", "")
	defer noEmail.Body.Close()
	if noEmail.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing email status = %d, want 400", noEmail.StatusCode)
	}

	list := doJSON(t, http.MethodGet, srv.URL+"/api/v1/orders?email=a@b.c", "")
	defer list.Body.Close()
	if list.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", list.StatusCode)
	}
	var body struct {
		Orders []order.Order `json:"orders"`
	}
	if err := json.NewDecoder(list.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Orders) != 1 {
		t.Errorf("orders = %d, want 1", len(body.Orders))
	}
}

func TestHealth(t *testing.T) {
	h := Health(pingFunc(func(context.Context) error { return nil }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	h = Health(pingFunc(func(context.Context) error { return errors.New("down") }))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }
