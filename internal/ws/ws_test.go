package ws

import (
	"context"
	"encoding/json"
	"iter"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comic-studio/backend/internal/comic"
	"comic-studio/backend/internal/gemini"
	"comic-studio/backend/internal/images"
	"comic-studio/backend/internal/studio"
	apperrors "comic-studio/backend/pkg/errors"
	"comic-studio/backend/pkg/jwt"
	"comic-studio/backend/pkg/logger"
	"comic-studio/backend/pkg/middleware"
	pkgws "comic-studio/backend/pkg/ws"
)

type fakePanels struct{}

func (fakePanels) GenerateStructuredPanels(context.Context, string, any, string) (json.RawMessage, error) {
	return json.RawMessage(`[{"panel":1,"scene":"park","style":"comic","dialogues":[{"character":"Cat","text":"Hi!"}],"image_generation_prompt":"p1"}]`), nil
}

type fakeChat struct{}

func (fakeChat) GenerateText(context.Context, string, string) (string, error) {
	return "Done!", nil
}

func (fakeChat) GenerateTextStream(context.Context, string, string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("Nice!", nil)
	}
}

type fakeImages struct{}

func (fakeImages) GenerateImage(_ context.Context, prompt string) (string, error) {
	return gemini.EncodeDataURI("image/png", []byte(prompt)), nil
}

type wsEnv struct {
	server   *httptest.Server
	hub      *Hub
	registry *studio.Registry
	tokens   *jwt.Service
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Discard()

	registry := studio.NewRegistry(studio.Deps{
		Comics: comic.NewOrchestrator(fakePanels{}, 0, log),
		Chat:   fakeChat{},
		Images: images.NewFetcher(fakeImages{}, images.Options{Stagger: -1, Logger: log}),
		Logger: log,
	}, time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(registry, log)
	go hub.Run(ctx)

	tokens := jwt.NewService("test-secret", time.Hour)
	upgrader := NewUpgrader([]string{"*"})

	r := gin.New()
	r.Use(apperrors.ErrorHandler())
	r.GET("/ws", middleware.SessionAuth(tokens), func(c *gin.Context) {
		ServeWs(hub, upgrader, c)
	})

	env := &wsEnv{server: httptest.NewServer(r), hub: hub, registry: registry, tokens: tokens}
	t.Cleanup(func() {
		env.server.Close()
		cancel()
		registry.Close()
	})
	return env
}

func (e *wsEnv) dial(t *testing.T) (*websocket.Conn, *studio.Session) {
	t.Helper()
	sess := e.registry.Create()
	token, _, err := e.tokens.GenerateToken(sess.ID())
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, sess
}

func read(t *testing.T, conn *websocket.Conn) pkgws.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg pkgws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips frames until one of type msgType arrives
func readUntil(t *testing.T, conn *websocket.Conn, msgType string, match func(json.RawMessage) bool) pkgws.Message {
	t.Helper()
	for {
		msg := read(t, conn)
		if msg.Type == msgType && (match == nil || match(msg.Content)) {
			return msg
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, msgType string, content any) {
	t.Helper()
	data, err := pkgws.NewMessage(msgType, content)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestSnapshotThenPingPong(t *testing.T) {
	env := newWSEnv(t)
	conn, _ := env.dial(t)

	msg := read(t, conn)
	assert.Equal(t, pkgws.TypeSnapshot, msg.Type)

	var snap SnapshotContent
	require.NoError(t, json.Unmarshal(msg.Content, &snap))
	assert.Equal(t, studio.ComicIdle, snap.Comic.Status)

	send(t, conn, pkgws.TypePing, nil)
	readUntil(t, conn, pkgws.TypePong, nil)
	assert.Eventually(t, func() bool { return env.hub.GetActiveConnections() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScriptProducesComicEvents(t *testing.T) {
	env := newWSEnv(t)
	conn, _ := env.dial(t)
	read(t, conn)

	send(t, conn, pkgws.TypeScript, pkgws.ScriptContent{Script: "Cat: Hi!"})

	msg := readUntil(t, conn, string(studio.EventComicState), func(raw json.RawMessage) bool {
		var state studio.ComicState
		return json.Unmarshal(raw, &state) == nil && state.Status == studio.ComicReady
	})
	var state studio.ComicState
	require.NoError(t, json.Unmarshal(msg.Content, &state))
	assert.Equal(t, 1, state.Generation)
	require.Len(t, state.Panels, 1)
}

func TestEmptyScriptReportsError(t *testing.T) {
	env := newWSEnv(t)
	conn, _ := env.dial(t)
	read(t, conn)

	send(t, conn, pkgws.TypeScript, pkgws.ScriptContent{Script: " "})

	msg := readUntil(t, conn, pkgws.TypeError, nil)
	var content pkgws.ErrorContent
	require.NoError(t, json.Unmarshal(msg.Content, &content))
	assert.Equal(t, "EMPTY_SCRIPT", content.Code)
}

func TestChatMessageIsRelayed(t *testing.T) {
	env := newWSEnv(t)
	conn, _ := env.dial(t)
	read(t, conn)

	send(t, conn, pkgws.TypeChat, pkgws.ChatContent{Content: "hello"})

	readUntil(t, conn, string(studio.EventChatMessage), func(raw json.RawMessage) bool {
		return strings.Contains(string(raw), `"content":"Nice!"`) && strings.Contains(string(raw), `"status":"complete"`)
	})
}

func TestUnknownMessageType(t *testing.T) {
	env := newWSEnv(t)
	conn, _ := env.dial(t)
	read(t, conn)

	send(t, conn, "dance", nil)
	msg := readUntil(t, conn, pkgws.TypeError, nil)
	assert.Contains(t, string(msg.Content), "UNKNOWN_MESSAGE_TYPE")
}

func TestDialRequiresToken(t *testing.T) {
	env := newWSEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
