package main

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

//go:embed frontend
var frontendFS embed.FS

const (
	maxUploadSize = 10 << 20 // 10 MB
	sessionCookie = "signwars_session"
)

var allowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Server is the main HTTP server.
type Server struct {
	mux      *http.ServeMux
	sessions *Sessions
	gemini   *GeminiClient
	metrics  *Metrics
	sse      *Broadcaster
	pages    *template.Template
	now      func() time.Time
	submitRL *rateLimiter
	likeRL   *rateLimiter
	uploadRL *rateLimiter
}

// NewServer creates a configured HTTP server. gemini and metrics may be nil.
func NewServer(sessions *Sessions, gemini *GeminiClient, metrics *Metrics, sse *Broadcaster) *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		sessions: sessions,
		gemini:   gemini,
		metrics:  metrics,
		sse:      sse,
		pages:    parsePages(),
		now:      time.Now,
		submitRL: newRateLimiter(5, time.Minute),  // 5 signs/min per IP
		likeRL:   newRateLimiter(60, time.Second), // 60 likes/sec per IP
		uploadRL: newRateLimiter(5, time.Minute),  // 5 photos/min per IP
	}
	sessions.OnSignCreated(func(rec SignRecord) {
		s.sse.Publish(Event{Type: "sign_created", SignID: rec.ID, Handle: rec.Handle})
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	// Board
	s.mux.HandleFunc("GET /{$}", s.handleBoard)
	s.mux.HandleFunc("POST /handle", s.handleSetHandle)
	s.mux.HandleFunc("GET /feed", s.handleFeed)
	s.mux.HandleFunc("POST /signs/{id}/like", s.handleLike)
	s.mux.HandleFunc("GET /events", s.sse.ServeSSE)

	// Compose modal
	s.mux.HandleFunc("POST /compose", s.handleOpenCompose)
	s.mux.HandleFunc("POST /compose/close", s.handleCloseCompose)
	s.mux.HandleFunc("POST /compose/clear", s.handleClear)
	s.mux.HandleFunc("POST /compose/cells", s.handleTypeCell)
	s.mux.HandleFunc("POST /compose/submit", s.handleSubmit)
	s.mux.HandleFunc("POST /compose/photo", s.handlePhoto)

	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics.Handler())
	}

	staticDir, _ := fs.Sub(frontendFS, "frontend/static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticDir))))
}

// Close stops the server's background cleanup.
func (s *Server) Close() {
	s.submitRL.close()
	s.likeRL.close()
	s.uploadRL.close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'")
	s.mux.ServeHTTP(w, r)
}

// feed resolves the request's session, minting a session cookie when the
// browser has none. The cookie has no expiry, so it ends with the browser
// session.
func (s *Server) feed(w http.ResponseWriter, r *http.Request) (*Feed, error) {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil && ValidSessionID(c.Value) {
		id = c.Value
	}
	if id == "" {
		id = NewSessionID()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return s.sessions.Get(r.Context(), id)
}

// --- Board handlers ---

// GET /: identity prompt until a handle is set, then the board.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feed(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !feed.HasHandle() {
		s.render(w, "handle.html", http.StatusOK, promptData{})
		return
	}

	view, err := feed.Load(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := boardData{
		Handle:       feed.Handle(),
		Feed:         newFeedData(view, s.now()),
		PhotoEnabled: s.gemini != nil,
	}
	if rows, err := feed.EditorRows(); err == nil {
		data.Composing = true
		data.Editor = cellRows(rows)
	}
	s.render(w, "board.html", http.StatusOK, data)
}

// POST /handle: capture the session's handle.
func (s *Server) handleSetHandle(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feed(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	typed := r.PostFormValue("handle")
	_, err = s.sessions.Identify(r.Context(), feed, typed)
	switch {
	case errors.Is(err, ErrEmptyHandle):
		s.render(w, "handle.html", http.StatusBadRequest, promptData{
			Typed: typed,
			Error: "Please enter your handle",
		})
		return
	case err != nil && !errors.Is(err, ErrHandleAlreadySet):
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// GET /feed: the feed alone, for live refresh.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feed(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := feed.Load(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, "feed", http.StatusOK, newFeedData(view, s.now()))
}

// POST /signs/{id}/like: like a sign.
func (s *Server) handleLike(w http.ResponseWriter, r *http.Request) {
	if !s.likeRL.allow(clientIP(r)) {
		s.tooManyRequests(w, r)
		return
	}

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		s.badRequest(w, r, "Invalid sign id")
		return
	}

	feed, err := s.feed(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := feed.Like(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.countLike()
	s.sse.Publish(Event{Type: "sign_liked", SignID: id})

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]any{"sign_id": id, "liked": true})
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// --- Compose handlers ---

// POST /compose: open the compose modal.
func (s *Server) handleOpenCompose(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feed(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := feed.OpenCompose(); err != nil {
		s.fail(w, r, err)
		return
	}
	s.done(w, r)
}

// POST /compose/close: close the compose modal, discarding the sign.
func (s *Server) handleCloseCompose(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feed(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	feed.CloseCompose()
	s.done(w, r)
}

// POST /compose/clear: empty the sign being composed.
func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feed(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := feed.Clear(); err != nil {
		s.fail(w, r, err)
		return
	}
	s.done(w, r)
}

// POST /compose/cells: type one character into the sign being composed.
func (s *Server) handleTypeCell(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Row   int    `json:"row"`
		Col   int    `json:"col"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	feed, err := s.feed(w, r)
	if err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	if err := feed.Type(CellIndex{Row: req.Row, Col: req.Col}, req.Value); err != nil {
		jsonError(w, err.Error(), statusFor(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /compose/submit: post the sign being composed. Cell fields sent
// with the form are typed in first.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.submitRL.allow(clientIP(r)) {
		s.tooManyRequests(w, r)
		return
	}

	feed, err := s.feed(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.badRequest(w, r, "Invalid form")
		return
	}
	if err := applyCellFields(feed, r.PostForm); err != nil {
		s.fail(w, r, err)
		return
	}

	if _, err := feed.Submit(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.metrics.countSubmission()
	s.done(w, r)
}

// POST /compose/photo: read a letterboard photo into the sign being composed.
func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	if !s.uploadRL.allow(clientIP(r)) {
		s.tooManyRequests(w, r)
		return
	}

	if s.gemini == nil {
		jsonError(w, "Photo reading is not configured", http.StatusServiceUnavailable)
		return
	}

	feed, err := s.feed(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !feed.Composing() {
		s.fail(w, r, ErrNotComposing)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		jsonError(w, "Photo too large (max 10 MB)", http.StatusRequestEntityTooLarge)
		return
	}

	file, header, err := r.FormFile("photo")
	if err != nil {
		jsonError(w, "Field 'photo' is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if !allowedMIME[mimeType] {
		jsonError(w, "Accepted formats: JPEG or PNG", http.StatusBadRequest)
		return
	}

	imageData, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, "Could not read the photo", http.StatusInternalServerError)
		return
	}

	grid, err := s.gemini.AnalyzeSign(r.Context(), imageData, mimeType)
	if err != nil {
		log.Printf("Gemini analyze error: %v", err)
		jsonError(w, "Could not read the sign", http.StatusInternalServerError)
		return
	}
	if err := feed.Fill(grid); err != nil {
		s.fail(w, r, err)
		return
	}
	s.done(w, r)
}

// --- Helpers ---

// applyCellFields types every "cell-R-C" form field into the editor. A
// single bad field leaves the editor untouched.
func applyCellFields(feed *Feed, form map[string][]string) error {
	cells := make(map[CellIndex]string)
	for name, values := range form {
		rest, ok := strings.CutPrefix(name, "cell-")
		if !ok || len(values) == 0 {
			continue
		}
		idx, err := ParseCellKey(strings.Replace(rest, "-", ",", 1))
		if err != nil {
			return fmt.Errorf("%w: field %q", ErrOutOfBounds, name)
		}
		cells[idx] = values[0]
	}
	if len(cells) == 0 {
		return nil
	}
	return feed.TypeCells(cells)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrIdentityRequired):
		return http.StatusForbidden
	case errors.Is(err, ErrNotComposing):
		return http.StatusConflict
	case errors.Is(err, ErrOutOfBounds),
		errors.Is(err, ErrNotSingleCharacter),
		errors.Is(err, ErrReservedCharacter),
		errors.Is(err, ErrReadOnly),
		errors.Is(err, ErrEmptyHandle):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail answers with err's status. Browsers without a handle are sent back to
// the prompt.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	switch {
	case wantsJSON(r):
		msg := err.Error()
		if code == http.StatusInternalServerError {
			msg = "Something went wrong"
		}
		jsonError(w, msg, code)
	case code == http.StatusForbidden:
		http.Redirect(w, r, "/", http.StatusSeeOther)
	case code == http.StatusInternalServerError:
		http.Error(w, "Something went wrong", code)
	default:
		http.Error(w, err.Error(), code)
	}
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	if wantsJSON(r) {
		jsonError(w, msg, http.StatusBadRequest)
		return
	}
	http.Error(w, msg, http.StatusBadRequest)
}

func (s *Server) tooManyRequests(w http.ResponseWriter, r *http.Request) {
	const msg = "Too many requests, try again later"
	if wantsJSON(r) {
		jsonError(w, msg, http.StatusTooManyRequests)
		return
	}
	http.Error(w, msg, http.StatusTooManyRequests)
}

// done ends a successful action: 204 for scripts, back to the board otherwise.
func (s *Server) done(w http.ResponseWriter, r *http.Request) {
	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
