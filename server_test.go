package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

type testServer struct {
	*Server
	store *Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := newTestStore()
	srv := NewServer(NewSessions(store, nil), nil, NewMetrics(nil), NewBroadcaster())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

// do sends a request carrying cookie (if any) and returns the recorder.
func (s *testServer) do(method, target string, body string, cookie *http.Cookie, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if method == "POST" && !strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func sessionCookieFrom(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

// identify opens a session and passes the identity gate as handle.
func (s *testServer) identify(t *testing.T, handle string) *http.Cookie {
	t.Helper()
	w := s.do("GET", "/", "", nil)
	cookie := sessionCookieFrom(t, w)
	w = s.do("POST", "/handle", url.Values{"handle": {handle}}.Encode(), cookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("set handle: expected 303, got %d: %s", w.Code, w.Body.String())
	}
	return cookie
}

func (s *testServer) feedFor(t *testing.T, cookie *http.Cookie) *Feed {
	t.Helper()
	feed, err := s.sessions.Get(context.Background(), cookie.Value)
	if err != nil {
		t.Fatalf("get feed: %v", err)
	}
	return feed
}

func TestIdentityPromptUntilHandleSet(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do("GET", "/", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Please enter your handle") {
		t.Fatal("expected the handle prompt")
	}
	if strings.Contains(w.Body.String(), "Here's what people have to announce") {
		t.Fatal("feed should be hidden behind the prompt")
	}
	cookie := sessionCookieFrom(t, w)
	if !cookie.HttpOnly || cookie.MaxAge != 0 || !cookie.Expires.IsZero() {
		t.Fatalf("expected an HttpOnly browser-session cookie, got %+v", cookie)
	}

	// Empty handle keeps the prompt up.
	w = srv.do("POST", "/handle", "handle=+@+", cookie)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty handle, got %d", w.Code)
	}

	w = srv.do("POST", "/handle", "handle=%40alice", cookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", w.Code)
	}

	w = srv.do("GET", "/", "", cookie)
	body := w.Body.String()
	if strings.Contains(body, "Please enter your handle") {
		t.Fatal("prompt should be skipped once a handle is set")
	}
	if !strings.Contains(body, "Sign Wars") || !strings.Contains(body, "alice") {
		t.Fatal("expected the board for alice")
	}
}

func TestGateBlocksActions(t *testing.T) {
	srv := newTestServer(t)
	cookie := sessionCookieFrom(t, srv.do("GET", "/", "", nil))

	w := srv.do("POST", "/compose", "", cookie)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/" {
		t.Fatalf("expected redirect to the prompt, got %d", w.Code)
	}

	w = srv.do("POST", "/signs/1/like", "", cookie, "Accept", "application/json")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	w = srv.do("GET", "/feed", "", cookie, "Accept", "application/json")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestInvalidCookieGetsNewSession(t *testing.T) {
	srv := newTestServer(t)
	w := srv.do("GET", "/", "", &http.Cookie{Name: sessionCookie, Value: "forged"})
	c := sessionCookieFrom(t, w)
	if c.Value == "forged" || !ValidSessionID(c.Value) {
		t.Fatalf("expected a fresh session id, got %q", c.Value)
	}
}

func TestFeedRendersSigns(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	rec, _ := srv.store.CreateSign(ctx, EncodedSign{Coordinates: "0, 0;0, 1", Characters: "H;I"}, "bob")
	srv.store.IncrementLikes(ctx, rec.ID)
	srv.now = func() time.Time { return rec.CreatedAt.Add(3 * time.Minute) }

	cookie := srv.identify(t, "alice")
	w := srv.do("GET", "/feed", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`data-sign="1"`,
		`<div class="cell">H</div><div class="cell">I</div>`,
		"bob",
		"3 minutes ago",
		`<span class="count">1</span>`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("feed missing %q", want)
		}
	}
}

func TestFeedShowsErrorWhenBackendFails(t *testing.T) {
	stub := newStubService()
	stub.listErr = context.DeadlineExceeded
	srv := &testServer{Server: NewServer(NewSessions(stub, nil), nil, nil, NewBroadcaster()), store: stub.Store}
	t.Cleanup(srv.Close)

	cookie := srv.identify(t, "alice")
	w := srv.do("GET", "/", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Oops! Something went wrong") {
		t.Fatal("expected inline error indicator")
	}
}

func TestLikeFlow(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	rec, _ := srv.store.CreateSign(ctx, EncodedSign{Coordinates: "0, 0", Characters: "A"}, "bob")
	cookie := srv.identify(t, "alice")
	target := "/signs/" + strconv.Itoa(rec.ID) + "/like"

	w := srv.do("POST", target, "", cookie, "Accept", "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("like: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Liked bool `json:"liked"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Liked {
		t.Fatal("expected liked=true")
	}

	w = srv.do("POST", target, "", cookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("form like: expected 303, got %d", w.Code)
	}
	srv.feedFor(t, cookie).Settle()

	got, _ := srv.store.GetSign(rec.ID)
	if len(got.Likes) != 2 {
		t.Fatalf("expected one backend like per click, got %d", len(got.Likes))
	}

	// Backend now has 2 likes; the overlay adds exactly one.
	w = srv.do("GET", "/feed", "", cookie)
	if !strings.Contains(w.Body.String(), `<span class="count">3</span>`) {
		t.Fatalf("expected displayed count 3, got:\n%s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "heart liked") {
		t.Fatal("expected liked heart")
	}

	w = srv.do("POST", "/signs/abc/like", "", cookie)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", w.Code)
	}
}

func TestComposeAndSubmitFlow(t *testing.T) {
	srv := newTestServer(t)
	cookie := srv.identify(t, "alice")

	// Typing before opening the modal is refused.
	w := srv.do("POST", "/compose/cells", `{"row":0,"col":0,"value":"A"}`, cookie)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	w = srv.do("POST", "/compose", "", cookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("open compose: expected 303, got %d", w.Code)
	}
	w = srv.do("GET", "/", "", cookie)
	if !strings.Contains(w.Body.String(), `id="compose"`) {
		t.Fatal("expected the compose modal")
	}

	w = srv.do("POST", "/compose/cells", `{"row":2,"col":5,"value":"Y"}`, cookie)
	if w.Code != http.StatusNoContent {
		t.Fatalf("type: expected 204, got %d: %s", w.Code, w.Body.String())
	}
	w = srv.do("POST", "/compose/cells", `{"row":2,"col":5,"value":"Z"}`, cookie)
	if w.Code != http.StatusNoContent {
		t.Fatalf("type: expected 204, got %d", w.Code)
	}
	w = srv.do("POST", "/compose/cells", `{"row":9,"col":0,"value":"Z"}`, cookie)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("out of bounds: expected 400, got %d", w.Code)
	}
	w = srv.do("POST", "/compose/cells", `{"row":0,"col":0,"value":"AB"}`, cookie)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("two characters: expected 400, got %d", w.Code)
	}

	// The form carries every cell; empty ones stay unset.
	form := url.Values{"cell-0-0": {"H"}, "cell-2-5": {"Z"}, "cell-3-3": {""}}
	w = srv.do("POST", "/compose/submit", form.Encode(), cookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("submit: expected 303, got %d: %s", w.Code, w.Body.String())
	}

	feed := srv.feedFor(t, cookie)
	if feed.Composing() {
		t.Fatal("modal should be closed after submit")
	}
	feed.Settle()

	list, _ := srv.store.ListSigns(context.Background())
	if len(list) != 1 {
		t.Fatalf("expected 1 sign, got %d", len(list))
	}
	if list[0].Coordinates != "0, 0;2, 5" || list[0].Characters != "H;Z" || list[0].Handle != "alice" {
		t.Fatalf("unexpected sign: %+v", list[0])
	}

	w = srv.do("POST", "/compose/submit", "", cookie)
	if w.Code != http.StatusConflict {
		t.Fatalf("submit without modal: expected 409, got %d", w.Code)
	}
}

func TestSubmitWithBadFieldLeavesEditorUntouched(t *testing.T) {
	srv := newTestServer(t)
	cookie := srv.identify(t, "alice")
	srv.do("POST", "/compose", "", cookie)
	srv.do("POST", "/compose/cells", `{"row":3,"col":3,"value":"Q"}`, cookie)

	form := url.Values{"cell-0-0": {"H"}, "cell-0-1": {"I"}, "cell-3-3": {""}, "cell-1-1": {"AB"}}
	w := srv.do("POST", "/compose/submit", form.Encode(), cookie)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	feed := srv.feedFor(t, cookie)
	if !feed.Composing() {
		t.Fatal("modal should stay open after a rejected submit")
	}
	g, _ := feed.EditorGrid()
	if len(g) != 1 || g.At(CellIndex{Row: 3, Col: 3}) != "Q" {
		t.Fatalf("editor was partly updated: %v", g)
	}
	if list, _ := srv.store.ListSigns(context.Background()); len(list) != 0 {
		t.Fatalf("nothing should be posted, got %d signs", len(list))
	}
}

func TestComposeClearAndClose(t *testing.T) {
	srv := newTestServer(t)
	cookie := srv.identify(t, "alice")
	srv.do("POST", "/compose", "", cookie)
	srv.do("POST", "/compose/cells", `{"row":1,"col":1,"value":"Q"}`, cookie)

	w := srv.do("POST", "/compose/clear", "", cookie, "Accept", "application/json")
	if w.Code != http.StatusNoContent {
		t.Fatalf("clear: expected 204, got %d", w.Code)
	}
	g, _ := srv.feedFor(t, cookie).EditorGrid()
	if len(g) != 0 {
		t.Fatalf("expected empty editor, got %v", g)
	}

	w = srv.do("POST", "/compose/close", "", cookie)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("close: expected 303, got %d", w.Code)
	}
	if srv.feedFor(t, cookie).Composing() {
		t.Fatal("modal should be closed")
	}
}

func TestPhotoRequiresGemini(t *testing.T) {
	srv := newTestServer(t)
	cookie := srv.identify(t, "alice")
	srv.do("POST", "/compose", "", cookie)

	w := srv.do("POST", "/compose/photo", "", cookie)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestSubmitBroadcastsCreatedSign(t *testing.T) {
	srv := newTestServer(t)
	c := srv.sse.Register()
	defer srv.sse.Unregister(c)

	cookie := srv.identify(t, "alice")
	srv.do("POST", "/compose", "", cookie)
	srv.do("POST", "/compose/submit", url.Values{"cell-0-0": {"A"}}.Encode(), cookie)

	select {
	case msg := <-c.ch:
		var evt Event
		json.Unmarshal([]byte(msg), &evt)
		if evt.Type != "sign_created" || evt.Handle != "alice" {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sign_created event")
	}
}

func TestLikeBroadcastsLikedSign(t *testing.T) {
	srv := newTestServer(t)
	rec, _ := srv.store.CreateSign(context.Background(), EncodedSign{Coordinates: "0, 0", Characters: "A"}, "bob")
	cookie := srv.identify(t, "alice")

	c := srv.sse.Register()
	defer srv.sse.Unregister(c)

	w := srv.do("POST", "/signs/"+strconv.Itoa(rec.ID)+"/like", "", cookie, "Accept", "application/json")
	if w.Code != http.StatusOK {
		t.Fatalf("like: expected 200, got %d", w.Code)
	}
	srv.feedFor(t, cookie).Settle()

	select {
	case msg := <-c.ch:
		var evt Event
		json.Unmarshal([]byte(msg), &evt)
		if evt.Type != "sign_liked" || evt.SignID != rec.ID {
			t.Fatalf("unexpected event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sign_liked event")
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t)
	w := srv.do("GET", "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "signwars_like_clicks_total") {
		t.Fatal("expected signwars metrics")
	}
}

func TestStaticAssets(t *testing.T) {
	srv := newTestServer(t)
	w := srv.do("GET", "/static/app.js", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "EventSource") || !strings.Contains(w.Body.String(), `"sign_liked"`) {
		t.Fatal("unexpected script content")
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)

	w := srv.do("GET", "/", "", nil)

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}

	for key, expected := range headers {
		if got := w.Header().Get(key); got != expected {
			t.Errorf("header %s: expected %q, got %q", key, expected, got)
		}
	}

	csp := w.Header().Get("Content-Security-Policy")
	if csp == "" {
		t.Error("Content-Security-Policy header missing")
	}
}

func TestStatusFor(t *testing.T) {
	for err, want := range map[error]int{
		ErrIdentityRequired:   http.StatusForbidden,
		ErrNotComposing:       http.StatusConflict,
		ErrOutOfBounds:        http.StatusBadRequest,
		ErrNotSingleCharacter: http.StatusBadRequest,
		ErrReservedCharacter:  http.StatusBadRequest,
		context.Canceled:      http.StatusInternalServerError,
	} {
		if got := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
