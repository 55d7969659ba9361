package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/pavelanni/proctor/internal/i18n"
	"github.com/pavelanni/proctor/internal/live"
	"github.com/pavelanni/proctor/internal/llm"
	"github.com/pavelanni/proctor/internal/model"
	"github.com/pavelanni/proctor/internal/proctor"
	"github.com/pavelanni/proctor/internal/store"
	"github.com/pavelanni/proctor/internal/tracker"
	"github.com/pavelanni/proctor/internal/video"
	"github.com/pavelanni/proctor/internal/viva"
)

func TestMain(m *testing.M) {
	if err := appI18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type fakeStyle struct {
	res llm.StyleAnalysis
	err error
}

func (f fakeStyle) AnalyzeWritingStyle(context.Context, map[string]string) (llm.StyleAnalysis, error) {
	return f.res, f.err
}

type fakeQueue struct {
	mu   sync.Mutex
	reqs []viva.Request
}

func (f *fakeQueue) Submit(_ context.Context, req viva.Request) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return true
}

type testEnv struct {
	srv     *httptest.Server
	store   *store.Store
	handler *Handler
	tracker *tracker.Memory
	queue   *fakeQueue
}

func newTestEnv(t *testing.T, style StyleAnalyzer) *testEnv {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	env := &testEnv{
		store:   s,
		tracker: tracker.NewMemory(tracker.DefaultPolicy()),
		queue:   &fakeQueue{},
	}
	svc := proctor.NewService(s, s, env.tracker, video.NewFileSink(t.TempDir()))
	hub := live.NewHub(svc)
	svc.Wire(hub, env.queue)
	t.Cleanup(hub.CloseAll)

	env.handler = New(s, style, env.tracker, hub, model.Config{Lang: "en"})
	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	env.handler.Routes(r)
	env.srv = httptest.NewServer(r)
	t.Cleanup(env.srv.Close)

	for _, u := range []struct {
		name string
		role model.UserRole
	}{
		{"admin", model.UserRoleAdmin},
		{"teacher", model.UserRoleTeacher},
		{"alice", model.UserRoleStudent},
		{"bob", model.UserRoleStudent},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.name+"-pw"), bcrypt.MinCost)
		require.NoError(t, err)
		_, err = s.CreateUser(context.Background(), model.User{
			Username: u.name, DisplayName: u.name, PasswordHash: string(hash), Role: u.role, Active: true,
		})
		require.NoError(t, err)
	}
	return env
}

// login returns the session cookie of a seeded user.
func (e *testEnv) login(t *testing.T, username string) *http.Cookie {
	t.Helper()
	resp, err := http.PostForm(e.srv.URL+"/login", url.Values{"username": {username}, "password": {username + "-pw"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}

func (e *testEnv) do(t *testing.T, cookie *http.Cookie, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = strings.NewReader(string(data))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

var sampleExam = model.Exam{
	Title:    "Physics",
	Duration: 60,
	Questions: []model.ExamQuestion{
		{ID: "q1", Type: model.QuestionMultipleChoice, Question: "Unit of force?", CorrectAnswer: "b",
			Options: []model.QuestionOption{{ID: "a", Text: "Joule"}, {ID: "b", Text: "Newton", IsCorrect: true}}},
		{ID: "q2", Type: model.QuestionEssay, Question: "Explain inertia."},
	},
}

func (e *testEnv) createExam(t *testing.T) model.Exam {
	t.Helper()
	resp, data := e.do(t, e.login(t, "teacher"), http.MethodPost, "/exams", sampleExam)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	return decode[model.Exam](t, data)
}

func (e *testEnv) startSession(t *testing.T, cookie *http.Cookie, examID string) model.ExamSession {
	t.Helper()
	resp, data := e.do(t, cookie, http.MethodPost, "/exams/"+examID+"/start", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	return decode[model.ExamSession](t, data)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, data := env.do(t, nil, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]any](t, data)["status"])

	resp, data = env.do(t, nil, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "proctor_live_connections")
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, err := http.PostForm(env.srv.URL+"/login", url.Values{"username": {"alice"}, "password": {"wrong"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, nil, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	cookie := env.login(t, "alice")
	resp, data := env.do(t, cookie, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[model.User](t, data)
	assert.Equal(t, "alice", me.Username)
	assert.NotContains(t, string(data), "password")

	resp, _ = env.do(t, cookie, http.MethodPost, "/logout", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = env.do(t, cookie, http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginJSON(t *testing.T) {
	env := newTestEnv(t, nil)

	resp, data := env.do(t, nil, http.MethodPost, "/login", map[string]string{"username": "bob", "password": "bob-pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, "bob", decode[model.User](t, data).Username)
	assert.NotEmpty(t, resp.Cookies())

	resp, _ = env.do(t, nil, http.MethodPost, "/login", map[string]string{"password": "bob-pw"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExamAccess(t *testing.T) {
	env := newTestEnv(t, nil)
	alice := env.login(t, "alice")

	resp, _ := env.do(t, alice, http.MethodPost, "/exams", sampleExam)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = env.do(t, env.login(t, "teacher"), http.MethodPost, "/exams", model.Exam{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	exam := env.createExam(t)
	resp, data := env.do(t, alice, http.MethodGet, "/exams/"+exam.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[model.Exam](t, data)
	assert.Equal(t, "Physics", got.Title)
	assert.Empty(t, got.Questions[0].CorrectAnswer)
	assert.False(t, got.Questions[0].Options[1].IsCorrect)

	resp, _ = env.do(t, alice, http.MethodGet, "/exams/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data = env.do(t, alice, http.MethodGet, "/exams", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Exam](t, data), 1)
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, fakeStyle{res: llm.StyleAnalysis{HasStyleChange: true, ConfidenceScore: 0.8, SamplesCompared: 2}})
	exam := env.createExam(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	ctx := context.Background()

	sess := env.startSession(t, alice, exam.ID)
	assert.Equal(t, model.StatusActive, sess.Status)

	resp, data := env.do(t, alice, http.MethodPost, "/exams/"+exam.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, sess.ID, decode[map[string]any](t, data)["session"].(map[string]any)["id"])

	// Other students cannot see or submit the session.
	resp, _ = env.do(t, bob, http.MethodGet, "/sessions/"+sess.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err := env.tracker.AddEventScore(ctx, sess.ID, model.PriorityHigh, 0.9, true)
	require.NoError(t, err)

	answers := map[string]any{"answers": map[string]string{"q1": "b", "q2": "An object keeps its state of motion."}}
	resp, data = env.do(t, alice, http.MethodPost, "/sessions/"+sess.ID+"/submit", answers)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.InDelta(t, 75.0, decode[map[string]any](t, data)["score"], 1e-9)

	resp, _ = env.do(t, alice, http.MethodPost, "/sessions/"+sess.ID+"/submit", answers)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	_, ok, err := env.tracker.Snapshot(ctx, sess.ID)
	require.NoError(t, err)
	assert.False(t, ok, "tracker state evicted on submit")

	env.handler.Wait()
	history, err := env.store.GetEventHistory(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, model.EventWritingStyleDrift, history[0].Type)
	drift := decode[map[string]any](t, history[0].Data)
	assert.InDelta(t, 0.2, drift["similarity_score"], 1e-9)

	resp, data = env.do(t, alice, http.MethodGet, "/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decode[map[string]any](t, data)
	assert.Equal(t, "Physics", results["exam_title"])
	assert.EqualValues(t, 1, results["events_summary"].(map[string]any)["writing_style_drift"])

	resp, data = env.do(t, env.login(t, "teacher"), http.MethodGet, "/exams/"+exam.ID+"/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sessions := decode[[]model.ExamSession](t, data)
	require.Len(t, sessions, 1)
	assert.Equal(t, model.StatusCompleted, sessions[0].Status)
}

func TestSubmitWithoutStyleChange(t *testing.T) {
	env := newTestEnv(t, fakeStyle{err: llm.ErrNoCredentials})
	exam := env.createExam(t)
	alice := env.login(t, "alice")
	sess := env.startSession(t, alice, exam.ID)

	resp, _ := env.do(t, alice, http.MethodPost, "/sessions/"+sess.ID+"/submit", map[string]any{"answers": map[string]string{}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.handler.Wait()

	history, err := env.store.GetEventHistory(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestAnalyticsAndReport(t *testing.T) {
	env := newTestEnv(t, nil)
	exam := env.createExam(t)
	alice := env.login(t, "alice")
	teacher := env.login(t, "teacher")
	sess := env.startSession(t, alice, exam.ID)
	ctx := context.Background()

	for i, typ := range []model.EventType{model.EventClipboardPaste, model.EventClipboardPaste, model.EventClipboardPaste, model.EventMouseMovement} {
		_, err := env.store.AppendEvent(ctx, model.Event{
			SessionID: sess.ID, Type: typ, Data: json.RawMessage(`{}`), Timestamp: int64(1000 * (i + 1)),
		})
		require.NoError(t, err)
	}

	resp, _ := env.do(t, alice, http.MethodGet, "/sessions/"+sess.ID+"/analytics", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, data := env.do(t, teacher, http.MethodGet, "/sessions/"+sess.ID+"/analytics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	a := decode[map[string]any](t, data)
	assert.EqualValues(t, 4, a["total_events"])
	assert.EqualValues(t, 3, a["flagged_events"])
	assert.EqualValues(t, 1, a["suspicious_activity_score"])
	patterns := a["patterns"].([]any)
	require.Len(t, patterns, 1)
	assert.Equal(t, "frequent_paste_operations", patterns[0].(map[string]any)["type"])

	resp, data = env.do(t, teacher, http.MethodGet, "/sessions/"+sess.ID+"/report", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(data), "frequent_paste_operations")
	assert.Contains(t, string(data), "3 flagged events")

	resp, _ = env.do(t, teacher, http.MethodGet, "/sessions/missing/analytics", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSuspicionAndTerminate(t *testing.T) {
	env := newTestEnv(t, nil)
	exam := env.createExam(t)
	alice := env.login(t, "alice")
	teacher := env.login(t, "teacher")
	sess := env.startSession(t, alice, exam.ID)

	resp, _ := env.do(t, teacher, http.MethodGet, "/sessions/"+sess.ID+"/suspicion", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err := env.tracker.AddEventScore(context.Background(), sess.ID, model.PriorityHigh, 0.5, false)
	require.NoError(t, err)
	resp, data := env.do(t, teacher, http.MethodGet, "/sessions/"+sess.ID+"/suspicion", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[tracker.Snapshot](t, data)
	assert.InDelta(t, 1.5, snap.CumulativeScore, 1e-9)
	assert.Equal(t, tracker.StateNoViva, snap.State)

	resp, _ = env.do(t, teacher, http.MethodPost, "/sessions/"+sess.ID+"/terminate", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = env.do(t, teacher, http.MethodPost, "/sessions/"+sess.ID+"/terminate", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.do(t, alice, http.MethodPost, "/sessions/"+sess.ID+"/submit", map[string]any{"answers": map[string]string{}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestVivaSubmission(t *testing.T) {
	env := newTestEnv(t, nil)
	exam := env.createExam(t)
	alice := env.login(t, "alice")
	sess := env.startSession(t, alice, exam.ID)
	ctx := context.Background()

	resp, _ := env.do(t, alice, http.MethodPost, "/sessions/"+sess.ID+"/viva", map[string]any{"answers": map[string]string{}})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	saved, err := env.store.SaveVivaQuestions(ctx, sess.ID, []model.VivaQuestion{
		{Question: "What is inertia?", ExpectedAnswer: "resistance to change in motion", Confidence: 0.9},
	})
	require.NoError(t, err)

	resp, data := env.do(t, alice, http.MethodGet, "/sessions/"+sess.ID+"/viva", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.VivaQuestion](t, data), 1)

	id := saved[0].ID
	answers := map[string]string{jsonID(id): "Resistance to change in motion"}
	resp, data = env.do(t, alice, http.MethodPost, "/sessions/"+sess.ID+"/viva", map[string]any{"answers": answers})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	got := decode[map[string]any](t, data)
	assert.InDelta(t, 9.0, got["score"], 1e-9)
	assert.Equal(t, "Viva completed with score 9.0/10", got["message"])

	sub, err := env.store.LatestVivaSubmission(ctx, sess.ID)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, sub.Score, 1e-9)
}

func jsonID(id int64) string {
	data, _ := json.Marshal(id)
	return string(data)
}

func TestAdminUsers(t *testing.T) {
	env := newTestEnv(t, nil)
	admin := env.login(t, "admin")

	resp, _ := env.do(t, env.login(t, "teacher"), http.MethodGet, "/admin/users", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/admin/users",
		strings.NewReader(url.Values{"username": {"carol"}, "password": {"carol-pw"}}.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(admin)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	created := decode[model.User](t, mustRead(t, resp))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, model.UserRoleStudent, created.Role)

	env.login(t, "carol")

	resp, data := env.do(t, admin, http.MethodPost, "/admin/users/"+jsonID(created.ID)+"/toggle", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[model.User](t, data).Active)

	resp, err = http.PostForm(env.srv.URL+"/login", url.Values{"username": {"carol"}, "password": {"carol-pw"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = env.do(t, admin, http.MethodPost, "/admin/users/999/toggle", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data = env.do(t, admin, http.MethodGet, "/admin/users", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.User](t, data), 5)
}

func mustRead(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return data
}

func TestLiveChannel(t *testing.T) {
	env := newTestEnv(t, nil)
	exam := env.createExam(t)
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")
	sess := env.startSession(t, alice, exam.ID)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/exams/" + exam.ID + "/ws?session_id=" + sess.ID

	header := http.Header{}
	header.Add("Cookie", bob.String())
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	header = http.Header{}
	header.Add("Cookie", alice.String())
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	read := func() map[string]any {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	hello := read()
	assert.Equal(t, "connection_established", hello["type"])
	assert.Equal(t, sess.ID, hello["session_id"])

	for i := range 2 {
		require.NoError(t, conn.WriteJSON(map[string]any{
			"type":  "exam_event",
			"event": map[string]any{"type": "clipboard_paste", "data": map[string]any{"length": 20}, "timestamp": 1000 + i},
		}))
	}

	var acks, notices int
	for acks < 2 || notices < 2 {
		msg := read()
		switch msg["type"] {
		case "exam_event_ack":
			acks++
			assert.Equal(t, true, msg["is_flagged"])
		case "notification":
			notices++
		default:
			t.Fatalf("unexpected message %v", msg)
		}
	}

	require.Eventually(t, func() bool {
		env.queue.mu.Lock()
		defer env.queue.mu.Unlock()
		return len(env.queue.reqs) == 1 && env.queue.reqs[0].SessionID == sess.ID
	}, 2*time.Second, 10*time.Millisecond)

	history, err := env.store.GetEventHistory(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}
