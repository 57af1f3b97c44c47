package routes

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/travelhub/travelhub/models"
)

type chatView struct {
	ID       uint   `json:"id"`
	Room     string `json:"room"`
	UserID   uint   `json:"user_id"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url"`
	Author   struct {
		Username string `json:"username"`
	} `json:"author"`
}

type historyView struct {
	Room       string     `json:"room"`
	Items      []chatView `json:"items"`
	NextBefore *uint      `json:"next_before"`
}

func TestChatRoomValidation(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")

	for _, room := range []string{"general", "post:", "post:abc", "post:01"} {
		env := decode(t, app.do(http.MethodGet, "/api/v1/chats/"+room+"/messages", nil, ""), http.StatusBadRequest, nil)
		assert.Equal(t, 40050, env.Code, room)
	}

	env := decode(t, app.do(http.MethodPost, "/api/v1/chats/post:99/messages", gin.H{"content": "hi"}, s.Token), http.StatusNotFound, nil)
	assert.Equal(t, 40401, env.Code)
}

func TestChatSendValidation(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")
	path := "/api/v1/chats/lobby/messages"

	env := decode(t, app.do(http.MethodPost, path, gin.H{"content": "   "}, s.Token), http.StatusBadRequest, nil)
	assert.Equal(t, 40054, env.Code)

	env = decode(t, app.do(http.MethodPost, path, gin.H{"content": strings.Repeat("a", 2001)}, s.Token), http.StatusBadRequest, nil)
	assert.Equal(t, 40055, env.Code)

	env = decode(t, app.do(http.MethodPost, path, gin.H{"image_url": "https://elsewhere.example/x.png"}, s.Token), http.StatusBadRequest, nil)
	assert.Equal(t, 40056, env.Code)

	env = decode(t, app.do(http.MethodPost, path, gin.H{"content": "hi"}, ""), http.StatusUnauthorized, nil)
	assert.Equal(t, 40101, env.Code)
}

func TestChatHistoryPaging(t *testing.T) {
	app := newTestApp(t)
	alice := app.register("alice")
	post := app.createPost(alice.Token, "Ramen", models.CategoryRestaurant)
	room := "post:" + itoa(post.ID)

	for i := 1; i <= 5; i++ {
		var msg chatView
		decode(t, app.do(http.MethodPost, "/api/v1/chats/"+room+"/messages", gin.H{"content": fmt.Sprintf("m%d", i)}, alice.Token), http.StatusCreated, &msg)
		assert.Equal(t, room, msg.Room)
		assert.Equal(t, "alice", msg.Author.Username)
	}
	// other rooms do not leak in
	decode(t, app.do(http.MethodPost, "/api/v1/chats/lobby/messages", gin.H{"content": "lobby"}, alice.Token), http.StatusCreated, nil)

	var latest historyView
	decode(t, app.do(http.MethodGet, "/api/v1/chats/"+room+"/messages?limit=2", nil, ""), http.StatusOK, &latest)
	require.Len(t, latest.Items, 2)
	assert.Equal(t, "m4", latest.Items[0].Content)
	assert.Equal(t, "m5", latest.Items[1].Content)
	require.NotNil(t, latest.NextBefore)

	var older historyView
	decode(t, app.do(http.MethodGet, fmt.Sprintf("/api/v1/chats/%s/messages?limit=10&before=%d", room, *latest.NextBefore), nil, ""), http.StatusOK, &older)
	require.Len(t, older.Items, 3)
	assert.Equal(t, "m1", older.Items[0].Content)
	assert.Equal(t, "m3", older.Items[2].Content)
	assert.Nil(t, older.NextBefore)

	env := decode(t, app.do(http.MethodGet, "/api/v1/chats/lobby/messages?limit=0", nil, ""), http.StatusBadRequest, nil)
	assert.Equal(t, 40051, env.Code)
}

func TestChatWebsocketReceivesNewMessages(t *testing.T) {
	app := newTestApp(t)
	alice := app.register("alice")
	srv := httptest.NewServer(app.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chats/lobby/ws?token=" + alice.Token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	readEvent := func() map[string]json.RawMessage {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}
	ready := readEvent()
	assert.JSONEq(t, `"subscribed"`, string(ready["type"]))
	assert.JSONEq(t, `"lobby"`, string(ready["room"]))

	decode(t, app.do(http.MethodPost, "/api/v1/chats/lobby/messages", gin.H{"content": "hello <b>world</b>"}, alice.Token), http.StatusCreated, nil)

	ev := readEvent()
	assert.JSONEq(t, `"message"`, string(ev["type"]))
	var msg chatView
	require.NoError(t, json.Unmarshal(ev["message"], &msg))
	assert.Equal(t, "hello world", msg.Content)
	assert.Equal(t, "alice", msg.Author.Username)
	assert.Equal(t, 1, app.hub.Subscribers("lobby"))
}

func TestChatImageUpload(t *testing.T) {
	app := newTestApp(t)
	s := app.register("alice")

	var obj struct {
		URL string `json:"url"`
	}
	decode(t, app.upload("/api/v1/chats/image", s.Token, pngHeader), http.StatusOK, &obj)
	require.True(t, strings.HasPrefix(obj.URL, "/storage/chat_images/"), obj.URL)

	var msg chatView
	decode(t, app.do(http.MethodPost, "/api/v1/chats/lobby/messages", gin.H{"image_url": obj.URL}, s.Token), http.StatusCreated, &msg)
	assert.Equal(t, obj.URL, msg.ImageURL)
	assert.Empty(t, msg.Content)
}
