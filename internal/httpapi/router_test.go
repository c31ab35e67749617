package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/aiverse/internal/ai"
	"github.com/suPer8Hu/aiverse/internal/chat"
	"github.com/suPer8Hu/aiverse/internal/config"
	"github.com/suPer8Hu/aiverse/internal/db"
	"github.com/suPer8Hu/aiverse/internal/email"
	"github.com/suPer8Hu/aiverse/internal/httpapi/handlers"
	"github.com/suPer8Hu/aiverse/internal/models"
	"github.com/suPer8Hu/aiverse/internal/store/redisstore"
	"github.com/suPer8Hu/aiverse/internal/users"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeProvider struct {
	mu    sync.Mutex
	reply string
	err   error
}

func (p *fakeProvider) Chat(context.Context, []ai.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reply, p.err
}

func (p *fakeProvider) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

type outbox struct {
	mu   sync.Mutex
	sent []email.Mail
}

func (o *outbox) Send(_ context.Context, m email.Mail) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, m)
	return nil
}

var codeRe = regexp.MustCompile(`\b\d{6}\b`)

func (o *outbox) lastCode() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.sent) == 0 {
		return ""
	}
	return codeRe.FindString(o.sent[len(o.sent)-1].Body)
}

type env struct {
	router   *gin.Engine
	provider *fakeProvider
	mail     *outbox
}

func newEnv(t *testing.T) *env {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	gdb, err := db.Open("sqlite:file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gdb, &models.User{}, &chat.Session{}))
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	mr := miniredis.RunT(t)
	store := redisstore.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	cfg := config.Config{JWTSecret: "router-secret"}
	provider := &fakeProvider{reply: "Hello there, how can I help?"}
	box := &outbox{}

	chatSvc := chat.NewService(chat.NewRepo(gdb), provider, store.Locker(), chat.Options{})
	userSvc := users.NewService(users.NewRepo(gdb), store, box, cfg.JWTSecret)
	h := handlers.NewHandler(cfg, chatSvc, userSvc)

	return &env{router: NewRouter(cfg, h), provider: provider, mail: box}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

// signup registers a user and returns its id and access token.
func (e *env) signup(t *testing.T, addr string) (uint64, string) {
	t.Helper()
	status, _ := e.do(t, http.MethodPost, "/user/send-code", "", gin.H{"email": addr})
	require.Equal(t, http.StatusOK, status)

	status, res := e.do(t, http.MethodPost, "/user/verify-code", "", gin.H{"email": addr, "code": e.mail.lastCode()})
	require.Equal(t, http.StatusOK, status, res.Message)

	status, res = e.do(t, http.MethodPost, "/user/register", "", gin.H{
		"name": "Ada", "email": addr, "password": "secret1", "dob": "1990-12-10",
	})
	require.Equal(t, http.StatusOK, status, res.Message)
	require.Equal(t, "Account Created Successfully", res.Message)

	status, res = e.do(t, http.MethodPost, "/user/login", "", gin.H{"email": addr, "password": "secret1"})
	require.Equal(t, http.StatusOK, status, res.Message)

	var login struct {
		AccessToken string `json:"accessToken"`
		User        struct {
			ID    uint64 `json:"id"`
			Email string `json:"email"`
			DOB   string `json:"dob"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &login))
	require.NotEmpty(t, login.AccessToken)
	require.Equal(t, addr, login.User.Email)
	return login.User.ID, login.AccessToken
}

func TestPing(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestUserFlow(t *testing.T) {
	e := newEnv(t)

	status, res := e.do(t, http.MethodPost, "/user/verify-code", "", gin.H{"email": "ada@example.com", "code": "123456"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid or expired code", res.Message)

	status, res = e.do(t, http.MethodPost, "/user/register", "", gin.H{
		"name": "Ada", "email": "ada@example.com", "password": "123", "dob": "1990-12-10",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Password must be at least 6 characters", res.Message)

	uid, token := e.signup(t, "ada@example.com")

	status, res = e.do(t, http.MethodGet, "/user/me", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, string(res.Data), "secret1")
	assert.NotContains(t, string(res.Data), "password")
	var me models.User
	require.NoError(t, json.Unmarshal(res.Data, &me))
	assert.Equal(t, uid, me.ID)

	status, res = e.do(t, http.MethodPost, "/user/login", "", gin.H{"email": "ada@example.com", "password": "wrong!!"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid email or password", res.Message)

	status, _ = e.do(t, http.MethodPost, "/user/logout", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestChatRequiresToken(t *testing.T) {
	e := newEnv(t)
	status, res := e.do(t, http.MethodPost, "/chat/sessions", "", gin.H{"userId": 1})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 40101, res.Code)

	status, _ = e.do(t, http.MethodGet, "/user/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestChatFlow(t *testing.T) {
	e := newEnv(t)
	uid, token := e.signup(t, "ada@example.com")

	status, res := e.do(t, http.MethodPost, "/chat/sessions", token, gin.H{"userId": uid})
	require.Equal(t, http.StatusCreated, status, res.Message)
	var created chat.Session
	require.NoError(t, json.Unmarshal(res.Data, &created))
	assert.Equal(t, chat.DefaultTitle, created.Title)
	assert.Empty(t, created.Messages)
	chatID := created.SessionID
	require.Len(t, chatID, 26)

	status, res = e.do(t, http.MethodPost, "/chat/message", token, gin.H{"chatId": chatID, "message": "Hello"})
	require.Equal(t, http.StatusOK, status, res.Message)
	var sent struct {
		Response string `json:"response"`
		Title    string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &sent))
	assert.Equal(t, "Hello there, how can I help?", sent.Response)
	assert.NotEqual(t, chat.DefaultTitle, sent.Title)
	assert.LessOrEqual(t, len(strings.Fields(sent.Title)), 4)

	status, res = e.do(t, http.MethodGet, "/chat/history/"+chatID, token, nil)
	require.Equal(t, http.StatusOK, status)
	var history []chat.Message
	require.NoError(t, json.Unmarshal(res.Data, &history))
	require.Len(t, history, 2)
	assert.Equal(t, chat.RoleUser, history[0].Role)
	assert.Equal(t, "Hello", history[0].Content)
	assert.Equal(t, chat.RoleModel, history[1].Role)

	status, res = e.do(t, http.MethodGet, "/chat/sessions/"+strconv.FormatUint(uid, 10), token, nil)
	require.Equal(t, http.StatusOK, status)
	var listed []chat.Session
	require.NoError(t, json.Unmarshal(res.Data, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, chatID, listed[0].SessionID)

	status, res = e.do(t, http.MethodPut, "/chat/sessions/"+chatID+"/title", token, nil)
	require.Equal(t, http.StatusOK, status, res.Message)
	assert.JSONEq(t, `{"title":"`+sent.Title+`"}`, string(res.Data))

	e.provider.fail(errors.New("provider down"))
	status, _ = e.do(t, http.MethodPost, "/chat/message", token, gin.H{"chatId": chatID, "message": "again"})
	assert.Equal(t, http.StatusBadGateway, status)

	status, res = e.do(t, http.MethodGet, "/chat/session/"+chatID, token, nil)
	require.Equal(t, http.StatusOK, status)
	var got chat.Session
	require.NoError(t, json.Unmarshal(res.Data, &got))
	assert.Len(t, got.Messages, 2, "failed send leaves the transcript unchanged")

	status, _ = e.do(t, http.MethodDelete, "/chat/session/"+chatID, token, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = e.do(t, http.MethodDelete, "/chat/session/"+chatID, token, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = e.do(t, http.MethodGet, "/chat/session/"+chatID, token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestChatOwnership(t *testing.T) {
	e := newEnv(t)
	adaID, adaToken := e.signup(t, "ada@example.com")
	_, bobToken := e.signup(t, "bob@example.com")

	status, res := e.do(t, http.MethodPost, "/chat/sessions", adaToken, gin.H{"userId": adaID})
	require.Equal(t, http.StatusCreated, status)
	var created chat.Session
	require.NoError(t, json.Unmarshal(res.Data, &created))

	status, _ = e.do(t, http.MethodGet, "/chat/session/"+created.SessionID, bobToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = e.do(t, http.MethodPost, "/chat/message", bobToken, gin.H{"chatId": created.SessionID, "message": "hi"})
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = e.do(t, http.MethodDelete, "/chat/session/"+created.SessionID, bobToken, nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = e.do(t, http.MethodPost, "/chat/sessions", bobToken, gin.H{"userId": adaID})
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = e.do(t, http.MethodGet, "/chat/sessions/"+strconv.FormatUint(adaID, 10), bobToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestChatValidation(t *testing.T) {
	e := newEnv(t)
	uid, token := e.signup(t, "ada@example.com")

	status, _ := e.do(t, http.MethodPost, "/chat/sessions", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodPost, "/chat/message", token, gin.H{"message": "hi"})
	assert.Equal(t, http.StatusBadRequest, status)

	status, res := e.do(t, http.MethodPost, "/chat/sessions", token, gin.H{"userId": uid})
	require.Equal(t, http.StatusCreated, status)
	var created chat.Session
	require.NoError(t, json.Unmarshal(res.Data, &created))

	status, _ = e.do(t, http.MethodPost, "/chat/message", token, gin.H{"chatId": created.SessionID, "message": "   "})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodGet, "/chat/session/not-a-ulid", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNoRoute(t *testing.T) {
	e := newEnv(t)
	status, res := e.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, 40400, res.Code)

	status, res = e.do(t, http.MethodPatch, "/ping", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Equal(t, 40500, res.Code)
}
