package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dgallion1/charmem/internal/analysis"
	"github.com/dgallion1/charmem/internal/book"
	"github.com/dgallion1/charmem/internal/llm"
	"github.com/dgallion1/charmem/internal/session"
	"golang.org/x/net/websocket"
)

const (
	thinkingReply = "Bot is thinking..."
	emptyReply    = "Sorry, I couldn't understand the model's response."
	// chatBacklog bounds messages read ahead while one is being answered.
	chatBacklog = 16
)

// chatMessage is one inbound WebSocket frame.
type chatMessage struct {
	Type        string `json:"type"`
	Content     string `json:"content"`
	CurrentPage int    `json:"current_page"`
	TotalPages  int    `json:"total_pages"`
}

func parseChatMessage(raw string) (chatMessage, error) {
	msg := chatMessage{CurrentPage: 1, TotalPages: 1}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return msg, fmt.Errorf("invalid message: %w", err)
	}
	msg.Content = strings.TrimSpace(msg.Content)
	if msg.CurrentPage < 1 {
		msg.CurrentPage = 1
	}
	return msg, nil
}

func (msg chatMessage) progress() book.Progress {
	return book.Progress{CurrentPage: msg.CurrentPage, TotalPages: msg.TotalPages}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.resolveSession(w, r.URL.Query().Get("session_id"))
	if !ok {
		return
	}
	srv := websocket.Server{Handler: func(conn *websocket.Conn) {
		s.serveChat(conn, sess)
	}}
	srv.ServeHTTP(w, r)
}

// serveChat answers messages one at a time, in arrival order. A reader
// goroutine watches the connection so a disconnect cancels the answer in
// flight.
func (s *Server) serveChat(conn *websocket.Conn, sess *session.Session) {
	defer conn.Close()
	log := s.log.With("session_id", sess.ID)
	log.Info("chat connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incoming := make(chan string, chatBacklog)
	go func() {
		defer cancel()
		defer close(incoming)
		for {
			var raw string
			if err := websocket.Message.Receive(conn, &raw); err != nil {
				return
			}
			select {
			case incoming <- raw:
			case <-ctx.Done():
				return
			}
		}
	}()

	for raw := range incoming {
		msg, err := parseChatMessage(raw)
		if err != nil {
			if s.send(conn, "Error: "+err.Error()) != nil {
				return
			}
			continue
		}
		if s.send(conn, thinkingReply) != nil {
			return
		}
		reply := s.chatReply(ctx, sess, msg)
		if ctx.Err() != nil {
			break
		}
		if s.send(conn, reply) != nil {
			return
		}
	}
	log.Info("chat disconnected")
}

func (s *Server) send(conn *websocket.Conn, text string) error {
	return websocket.Message.Send(conn, text)
}

// chatReply runs one message through the analysis orchestrator and renders
// the result as text.
func (s *Server) chatReply(ctx context.Context, sess *session.Session, msg chatMessage) string {
	sess.Touch()
	a := sess.Analyzer()
	kind := analysis.ParseKind(msg.Type)

	var (
		reply string
		err   error
	)
	switch kind {
	case analysis.KindSummary:
		var sum analysis.Summary
		sum, err = a.Summary(ctx, msg.Content, msg.progress(), false)
		reply = sum.Text
	case analysis.KindFirstMention:
		var fm analysis.FirstMention
		fm, err = a.FirstMention(ctx, msg.Content)
		reply = renderFirstMention(fm)
	case analysis.KindIntroduced:
		var names []string
		names, err = a.IntroducedOnPage(ctx, msg.CurrentPage)
		reply = renderNames(names, msg.CurrentPage)
	default:
		reply, err = a.Answer(ctx, msg.Content, msg.progress())
	}

	switch {
	case errors.Is(err, llm.ErrEmptyResponse):
		return emptyReply
	case err != nil:
		s.log.Error("chat request failed", "session_id", sess.ID, "type", string(kind), "error", err)
		return "Error: " + err.Error()
	}
	return strings.TrimSpace(reply)
}

func renderFirstMention(fm analysis.FirstMention) string {
	if fm.Known {
		return fmt.Sprintf("%s is first mentioned on page %d.", fm.Character, fm.Page)
	}
	return fmt.Sprintf("%s is not mentioned in this book.", fm.Character)
}

func renderNames(names []string, page int) string {
	if len(names) == 0 {
		return fmt.Sprintf("No new characters are introduced on page %d.", page)
	}
	return fmt.Sprintf("New on page %d: %s", page, strings.Join(names, ", "))
}
