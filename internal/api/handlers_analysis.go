package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dgallion1/charmem/internal/analysis"
	"github.com/dgallion1/charmem/internal/book"
	"github.com/dgallion1/charmem/internal/chunker"
	"github.com/dgallion1/charmem/internal/index"
	"github.com/dgallion1/charmem/internal/session"
	"github.com/go-chi/chi/v5"
)

var errNoSession = errors.New("session_id is required")

// resolveSession returns the named session, or a new one for an empty id.
func (s *Server) resolveSession(w http.ResponseWriter, id string) (*session.Session, bool) {
	sess, err := s.sessions.Resolve(id)
	if err != nil {
		writeAnalysisError(w, err)
		return nil, false
	}
	return sess, true
}

// requireSession is like resolveSession but an id must be supplied.
func (s *Server) requireSession(w http.ResponseWriter, id string) (*session.Session, bool) {
	if id == "" {
		jsonError(w, errNoSession.Error(), http.StatusBadRequest)
		return nil, false
	}
	return s.resolveSession(w, id)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"created_at": sess.CreatedAt,
	})
}

func (s *Server) handleQueryCharacter(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sess, ok := s.requireSession(w, q.Get("session_id"))
	if !ok {
		return
	}

	name := q.Get("character_name")
	if name == "" {
		jsonError(w, "character_name is required", http.StatusBadRequest)
		return
	}

	progress := book.Progress{CurrentPage: 1}
	if v := q.Get("current_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonError(w, "current_page must be a positive integer", http.StatusBadRequest)
			return
		}
		progress.CurrentPage = n
	}
	if b := sess.Book(); b != nil {
		progress.TotalPages = b.TotalPages()
	}
	fullBook, _ := strconv.ParseBool(q.Get("full_book"))

	summary, err := sess.Analyzer().Summary(r.Context(), name, progress, fullBook)
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type firstMentionRequest struct {
	Characters []string `json:"characters"`
}

type firstMentionResponse struct {
	Character string `json:"character"`
	Page      *int   `json:"page"`
	Raw       string `json:"raw,omitempty"`
	Ambiguous bool   `json:"ambiguous,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleFirstMention(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, chi.URLParam(r, "sessionID"))
	if !ok {
		return
	}

	var req firstMentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Characters) == 0 {
		jsonError(w, "characters is required", http.StatusBadRequest)
		return
	}

	// Nothing indexed yet is a request error, not a per-character one.
	if _, err := sess.Index(); err != nil {
		writeAnalysisError(w, err)
		return
	}

	results := sess.Analyzer().FirstMentions(r.Context(), req.Characters)
	out := make([]firstMentionResponse, 0, len(results))
	for _, res := range results {
		item := firstMentionResponse{
			Character: res.Character,
			Raw:       res.Raw,
			Ambiguous: res.Ambiguous,
		}
		if res.Known {
			page := res.Page
			item.Page = &page
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		out = append(out, item)
	}
	writeJSON(w, http.StatusOK, out)
}

type introducedRequest struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

func (s *Server) handleIntroduced(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, chi.URLParam(r, "sessionID"))
	if !ok {
		return
	}

	var req introducedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	var (
		names []string
		err   error
	)
	switch {
	case req.Text != "":
		names, err = sess.Analyzer().IntroducedNames(r.Context(), req.Text)
	case req.Page > 0:
		names, err = sess.Analyzer().IntroducedOnPage(r.Context(), req.Page)
	default:
		jsonError(w, "page or text is required", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeAnalysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"names": names})
}

// writeAnalysisError maps core failures to HTTP statuses.
func writeAnalysisError(w http.ResponseWriter, err error) {
	var (
		genErr *analysis.GenerationError
		cfgErr *chunker.ConfigError
		embErr *index.EmbeddingError
	)
	switch {
	case errors.Is(err, session.ErrNotFound):
		jsonError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, index.ErrNotInitialized):
		jsonError(w, "no book has been uploaded for this session", http.StatusConflict)
	case errors.Is(err, analysis.ErrInvalidName),
		errors.Is(err, analysis.ErrPageOutOfRange),
		errors.As(err, &cfgErr):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &genErr), errors.As(err, &embErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		jsonError(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}
