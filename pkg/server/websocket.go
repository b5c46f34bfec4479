package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/session"
	"github.com/nstogner/agency/pkg/stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message types exchanged on the research websocket.
const (
	MsgQuery         = "query"
	MsgAnswer        = "answer"
	MsgSession       = "session"
	MsgAgentSwitched = "agent_switched"
	MsgTextDelta     = "text_delta"
	MsgToolAction    = "tool_action"
	MsgQuestion      = "question"
	MsgInfo          = "info"
	MsgReport        = "report"
	MsgDone          = "done"
	MsgError         = "error"
)

// Message is one websocket frame in either direction.
type Message struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	Agent     string `json:"agent,omitempty"`
	Role      string `json:"role,omitempty"`
	Kind      string `json:"kind,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Path      string `json:"path,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}

// handleResearchWebSocket runs one isolated research session per connection.
func (s *Server) handleResearchWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn := &wsSession{
		id:      uuid.New().String(),
		send:    make(chan Message, 64),
		answers: make(chan string, 1),
	}

	var wg sync.WaitGroup
	wg.Add(1)

	// Writer goroutine: the only writer on the connection.
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-conn.send:
				if !ok {
					return
				}
				if err := ws.WriteJSON(msg); err != nil {
					slog.Error("WebSocket write error", "error", err)
					cancel()
					return
				}
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	ctrl, err := s.newController(conn)
	if err != nil {
		conn.emit(ctx, Message{Type: MsgError, Content: err.Error()})
	} else {
		conn.emit(ctx, Message{Type: MsgSession, SessionID: conn.id})
	}

	// Reader loop: receives queries and answers.
	var running sync.WaitGroup
	var busy sync.Mutex
	for ctrl != nil {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("WebSocket read error", "error", err)
			}
			break
		}

		switch msg.Type {
		case MsgQuery:
			query := strings.TrimSpace(msg.Content)
			if query == "" {
				continue
			}
			if !busy.TryLock() {
				conn.emit(ctx, Message{Type: MsgError, Content: "a query is already running"})
				continue
			}
			conn.drainAnswers()
			running.Add(1)
			go func() {
				defer running.Done()
				defer busy.Unlock()
				conn.run(ctx, ctrl, query)
			}()

		case MsgAnswer:
			if !conn.deliver(msg.Content) {
				conn.emit(ctx, Message{Type: MsgError, Content: "no question is waiting for an answer"})
			}

		default:
			conn.emit(ctx, Message{Type: MsgError, Content: "unknown message type: " + msg.Type})
		}
	}

	cancel()
	running.Wait()
	close(conn.send)
	wg.Wait()
}

func (s *Server) newController(conn *wsSession) (*session.Controller, error) {
	if s.opts.NewStreamer == nil {
		return nil, errors.New("research sessions are not configured")
	}
	streamer, err := s.opts.NewStreamer(conn.id)
	if err != nil {
		return nil, err
	}
	var persister session.Persister
	if s.opts.NewPersister != nil {
		persister = &reportingPersister{next: s.opts.NewPersister(conn.id), conn: conn}
	}
	return session.New(streamer, conn, persister, conn, session.Options{
		Roles:                  s.opts.Roles,
		MinReportChars:         s.opts.MinReportChars,
		MaxClarificationRounds: s.opts.MaxClarificationRounds,
	})
}

// wsSession adapts a websocket connection to the session UI and answer
// provider.
type wsSession struct {
	stream.NopObserver

	id      string
	send    chan Message
	answers chan string

	mu      sync.Mutex
	ctx     context.Context
	waiting bool
}

func (c *wsSession) run(ctx context.Context, ctrl *session.Controller, query string) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	result, err := ctrl.Handle(ctx, query)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		ctrl.ReportError(err)
	}
	c.emit(ctx, Message{Type: MsgDone, Completed: result.Completed})
}

// emit queues a message for the writer unless the connection is gone.
func (c *wsSession) emit(ctx context.Context, msg Message) {
	select {
	case c.send <- msg:
	case <-ctx.Done():
	}
}

func (c *wsSession) current() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *wsSession) drainAnswers() {
	for {
		select {
		case <-c.answers:
		default:
			return
		}
	}
}

func (c *wsSession) AgentSwitched(agent string) {
	c.emit(c.current(), Message{Type: MsgAgentSwitched, Agent: agent})
}

func (c *wsSession) Text(agent string, kind domain.RoleKind, text string) {
	c.emit(c.current(), Message{Type: MsgTextDelta, Agent: agent, Role: kind.String(), Content: text})
}

func (c *wsSession) ToolAction(agent string, action domain.ToolAction) {
	c.emit(c.current(), Message{Type: MsgToolAction, Agent: agent, Kind: action.Kind, Content: action.Query})
}

func (c *wsSession) Prompt(string) {}

func (c *wsSession) Info(msg string) {
	c.emit(c.current(), Message{Type: MsgInfo, Content: msg})
}

func (c *wsSession) Error(msg string) {
	c.emit(c.current(), Message{Type: MsgError, Content: msg})
}

// deliver hands an answer to the question being asked. It reports false when
// no question is waiting.
func (c *wsSession) deliver(answer string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.waiting {
		return false
	}
	c.waiting = false
	c.answers <- answer
	return true
}

// Answer sends the question to the client and waits for its answer.
func (c *wsSession) Answer(ctx context.Context, question string) (string, error) {
	c.mu.Lock()
	c.waiting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.waiting = false
		c.mu.Unlock()
	}()

	c.emit(ctx, Message{Type: MsgQuestion, Content: question})
	select {
	case a := <-c.answers:
		return a, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// reportingPersister tells the client where a report was saved.
type reportingPersister struct {
	next session.Persister
	conn *wsSession
}

func (p *reportingPersister) Persist(ctx context.Context, content, title string) (string, error) {
	path, err := p.next.Persist(ctx, content, title)
	if err != nil {
		return "", err
	}
	p.conn.emit(ctx, Message{Type: MsgReport, Path: filepath.Base(path), Content: title})
	return path, nil
}
