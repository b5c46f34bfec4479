package server

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/session"
	"github.com/nstogner/agency/pkg/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRoles = domain.Roles{Entry: "Triage", Clarifier: "Clarifier", Researcher: "Researcher"}

// scriptedStreamer replays one event list per Stream call and records messages.
type scriptedStreamer struct {
	mu       sync.Mutex
	scripts  [][]domain.Event
	messages []string
}

func (s *scriptedStreamer) Stream(ctx context.Context, message string) iter.Seq2[domain.Event, error] {
	s.mu.Lock()
	s.messages = append(s.messages, message)
	var events []domain.Event
	if len(s.scripts) > 0 {
		events, s.scripts = s.scripts[0], s.scripts[1:]
	}
	s.mu.Unlock()
	return func(yield func(domain.Event, error) bool) {
		for _, e := range events {
			if !yield(e, nil) {
				return
			}
		}
	}
}

type fakePersister struct {
	mu    sync.Mutex
	saved []string
}

func (p *fakePersister) Persist(ctx context.Context, content, title string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = append(p.saved, content)
	return "/reports/research_report_" + strings.ReplaceAll(title, " ", "_") + ".pdf", nil
}

func newTestServer(t *testing.T, streamer session.Streamer, persister session.Persister) (*httptest.Server, *sqlite.Store) {
	t.Helper()
	st, err := sqlite.New(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := New(st, st, st, nil, Options{
		Roles:       testRoles,
		NewStreamer: func(string) (session.Streamer, error) { return streamer, nil },
		NewPersister: func(string) session.Persister {
			return persister
		},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func TestDocumentsAPI(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedStreamer{}, &fakePersister{})

	body, _ := json.Marshal(domain.Document{Title: "notes.md", Content: "battery chemistry notes"})
	resp, err := http.Post(ts.URL+"/api/documents", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created domain.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)

	resp, err = http.Post(ts.URL+"/api/documents", "application/json", strings.NewReader(`{"title":""}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/api/documents/search?q=battery")
	require.NoError(t, err)
	var found []domain.Document
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
	resp.Body.Close()
	require.Len(t, found, 1)
	assert.Equal(t, created.ID, found[0].ID)

	resp, err = http.Get(ts.URL + "/api/documents/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportsAPI(t *testing.T) {
	ts, st := newTestServer(t, &scriptedStreamer{}, &fakePersister{})

	resp, err := http.Get(ts.URL + "/api/reports")
	require.NoError(t, err)
	var reports []domain.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reports))
	resp.Body.Close()
	assert.Empty(t, reports)

	path := filepath.Join(t.TempDir(), "r.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.3 test"), 0o644))
	require.NoError(t, st.CreateReport(context.Background(), &domain.Report{ID: "r1", Title: "solar", Path: path}))

	resp, err = http.Get(ts.URL + "/api/reports/r1/pdf")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	resp2, err := http.Get(ts.URL + "/api/reports/nope")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func readUntil(t *testing.T, ws *websocket.Conn, typ string) []Message {
	t.Helper()
	var msgs []Message
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var m Message
		require.NoError(t, ws.ReadJSON(&m))
		msgs = append(msgs, m)
		if m.Type == typ {
			return msgs
		}
	}
}

func TestResearchWebSocket(t *testing.T) {
	report := strings.Repeat("Solar module prices fell sharply. ", 5)
	streamer := &scriptedStreamer{scripts: [][]domain.Event{
		{
			domain.NewAgentSwitched("Triage"),
			domain.NewAgentSwitched("Clarifier"),
			domain.NewStructuredOutput([]string{"Which region?"}, ""),
		},
		{
			domain.NewAgentSwitched("Researcher"),
			domain.NewToolAction("web_search", "solar prices", nil),
			domain.NewTextDelta(report),
		},
	}}
	persister := &fakePersister{}
	ts, _ := newTestServer(t, streamer, persister)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/research"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	msgs := readUntil(t, ws, MsgSession)
	assert.NotEmpty(t, msgs[len(msgs)-1].SessionID)

	require.NoError(t, ws.WriteJSON(Message{Type: MsgQuery, Content: "solar costs"}))
	msgs = readUntil(t, ws, MsgQuestion)
	assert.Equal(t, "Which region?", msgs[len(msgs)-1].Content)

	require.NoError(t, ws.WriteJSON(Message{Type: MsgAnswer, Content: "Europe"}))
	msgs = readUntil(t, ws, MsgDone)

	var types []string
	var text string
	var reportPath string
	for _, m := range msgs {
		types = append(types, m.Type)
		if m.Type == MsgTextDelta {
			assert.Equal(t, "researcher", m.Role)
			text += m.Content
		}
		if m.Type == MsgReport {
			reportPath = m.Path
		}
	}
	assert.Contains(t, types, MsgAgentSwitched)
	assert.Contains(t, types, MsgToolAction)
	assert.Equal(t, report, text)
	assert.Equal(t, "research_report_solar_costs.pdf", reportPath)
	assert.True(t, msgs[len(msgs)-1].Completed)

	streamer.mu.Lock()
	assert.Equal(t, "**Which region?**\nEurope", streamer.messages[1])
	streamer.mu.Unlock()
	persister.mu.Lock()
	assert.Equal(t, []string{report}, persister.saved)
	persister.mu.Unlock()
}

func TestResearchWebSocketRejectsStrayAnswer(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedStreamer{}, &fakePersister{})
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/research"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	readUntil(t, ws, MsgSession)

	require.NoError(t, ws.WriteJSON(Message{Type: MsgAnswer, Content: "one"}))
	msgs := readUntil(t, ws, MsgError)
	assert.Contains(t, msgs[len(msgs)-1].Content, "no question")

	require.NoError(t, ws.WriteJSON(Message{Type: "bogus"}))
	msgs = readUntil(t, ws, MsgError)
	assert.Contains(t, msgs[len(msgs)-1].Content, "unknown message type")
}

func TestAnswerAcceptedOnlyWhileAsking(t *testing.T) {
	conn := &wsSession{send: make(chan Message, 4), answers: make(chan string, 1)}
	assert.False(t, conn.deliver("early"), "nothing asked yet")

	got := make(chan string, 1)
	go func() {
		a, _ := conn.Answer(context.Background(), "Which region?")
		got <- a
	}()

	q := <-conn.send
	assert.Equal(t, MsgQuestion, q.Type)
	assert.True(t, conn.deliver("Europe"))
	assert.Equal(t, "Europe", <-got)
	assert.False(t, conn.deliver("late"), "question already answered")
}
