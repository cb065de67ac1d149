package api

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

// captured is what the in-memory server saw for the last request.
type captured struct {
	mu            sync.Mutex
	method        string
	path          string
	query         map[string]string
	authorization string
	contentType   string
	body          []byte
	fileName      string
	fileContent   string
}

func (c *captured) snapshot() captured {
	c.mu.Lock()
	defer c.mu.Unlock()
	return captured{
		method:        c.method,
		path:          c.path,
		query:         c.query,
		authorization: c.authorization,
		contentType:   c.contentType,
		body:          c.body,
		fileName:      c.fileName,
		fileContent:   c.fileContent,
	}
}

func newTestClient(t *testing.T, handler func(ctx *fasthttp.RequestCtx)) (*Client, *captured) {
	t.Helper()
	seen := &captured{}
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		seen.mu.Lock()
		seen.method = string(ctx.Method())
		seen.path = string(ctx.Path())
		seen.query = map[string]string{}
		ctx.QueryArgs().VisitAll(func(k, v []byte) { seen.query[string(k)] = string(v) })
		seen.authorization = string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
		seen.contentType = string(ctx.Request.Header.ContentType())
		seen.body = append([]byte(nil), ctx.PostBody()...)
		if fh, err := ctx.FormFile("file"); err == nil {
			seen.fileName = fh.Filename
			if f, err := fh.Open(); err == nil {
				data, _ := io.ReadAll(f)
				seen.fileContent = string(data)
				f.Close()
			}
		}
		seen.mu.Unlock()
		handler(ctx)
	}}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = ln.Close() })

	cfg := config.DefaultConfig()
	cfg.APIURL = "http://chat.test/api/v1/chat/"
	hc := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	c := New(cfg, zerolog.Nop(), WithHTTPClient(hc))
	c.SetToken("tok-123")
	return c, seen
}

func respondJSON(body string) func(ctx *fasthttp.RequestCtx) {
	return func(ctx *fasthttp.RequestCtx) {
		ctx.SetContentType("application/json")
		ctx.SetBodyString(body)
	}
}

func TestRoomsSendsBearerAndDecodes(t *testing.T) {
	c, seen := newTestClient(t, respondJSON(`[
		{"id":"r1","name":"Team","type":"GROUP","members":[{"userId":"u1","username":"ann","fullName":"Ann","role":"ADMIN"}],
		 "lastMessage":{"id":"m1","roomId":"r1","content":"hi","createdAt":"2024-03-01T10:00:00"},"createdAt":"2024-02-01T09:00:00.123"}
	]`))

	rooms, err := c.Rooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, types.RoomGroup, rooms[0].Type)
	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "hi", rooms[0].LastMessage.Content)
	assert.Equal(t, 2024, rooms[0].CreatedAt.Year())

	s := seen.snapshot()
	assert.Equal(t, "GET", s.method)
	assert.Equal(t, "/api/v1/chat/rooms", s.path)
	assert.Equal(t, "Bearer tok-123", s.authorization)
}

func TestMessagesPageQuery(t *testing.T) {
	c, seen := newTestClient(t, respondJSON(`{"content":[{"id":"m2"},{"id":"m1"}],"number":1,"size":50,"totalPages":3,"totalElements":120,"last":false}`))

	page, err := c.Messages(context.Background(), "r1", 1, 50)
	require.NoError(t, err)
	require.Len(t, page.Content, 2)
	assert.Equal(t, "m2", page.Content[0].ID)
	assert.Equal(t, types.MessageText, page.Content[0].MessageType)
	assert.Equal(t, 3, page.TotalPages)

	s := seen.snapshot()
	assert.Equal(t, "/api/v1/chat/rooms/r1/messages", s.path)
	assert.Equal(t, map[string]string{"page": "1", "size": "50"}, s.query)
}

func TestCreateGroupBody(t *testing.T) {
	c, seen := newTestClient(t, respondJSON(`{"id":"r9","name":"Book club","type":"GROUP"}`))

	room, err := c.CreateGroup(context.Background(), "Book club", []string{"u1", "u2"})
	require.NoError(t, err)
	assert.Equal(t, "r9", room.ID)

	s := seen.snapshot()
	assert.Equal(t, "POST", s.method)
	assert.Equal(t, "/api/v1/chat/rooms", s.path)
	assert.Equal(t, "application/json", s.contentType)
	assert.JSONEq(t, `{"name":"Book club","memberIds":["u1","u2"]}`, string(s.body))
}

func TestPrivateRoom(t *testing.T) {
	c, seen := newTestClient(t, respondJSON(`{"id":"p1","type":"PRIVATE"}`))

	room, err := c.PrivateRoom(context.Background(), "u7")
	require.NoError(t, err)
	assert.Equal(t, types.RoomPrivate, room.Type)
	assert.Equal(t, "/api/v1/chat/rooms/private/u7", seen.snapshot().path)
}

func TestUploadMediaMultipart(t *testing.T) {
	c, seen := newTestClient(t, respondJSON(`{"id":"m5","roomId":"r1","messageType":"IMAGE","mediaUrl":"/media/cat.png"}`))

	msg, err := c.UploadMedia(context.Background(), "r1", "cat.png", strings.NewReader("PNGDATA"))
	require.NoError(t, err)
	assert.Equal(t, types.MessageImage, msg.MessageType)
	assert.Equal(t, "/media/cat.png", msg.MediaURL)

	s := seen.snapshot()
	assert.Equal(t, "/api/v1/chat/rooms/r1/media", s.path)
	assert.True(t, strings.HasPrefix(s.contentType, "multipart/form-data; boundary="))
	assert.Equal(t, "cat.png", s.fileName)
	assert.Equal(t, "PNGDATA", s.fileContent)
}

func TestSearchUsersEscapesQuery(t *testing.T) {
	c, seen := newTestClient(t, respondJSON(`[{"id":"u1","username":"ann","fullName":"Ann Lee","online":true}]`))

	users, err := c.SearchUsers(context.Background(), "ann lee&x")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.True(t, users[0].Online)
	assert.Equal(t, "ann lee&x", seen.snapshot().query["q"])
}

func TestOnlineDefaultsToOnline(t *testing.T) {
	c, _ := newTestClient(t, respondJSON(`[{"userId":"u1","username":"ann","fullName":"Ann"}]`))

	entries, err := c.Online(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Online)
}

func TestAddMemberSendsJSONString(t *testing.T) {
	c, seen := newTestClient(t, func(ctx *fasthttp.RequestCtx) { ctx.SetStatusCode(fasthttp.StatusOK) })

	require.NoError(t, c.AddMember(context.Background(), "r1", "u42"))

	s := seen.snapshot()
	assert.Equal(t, "/api/v1/chat/rooms/r1/members", s.path)
	var id string
	require.NoError(t, json.Unmarshal(s.body, &id))
	assert.Equal(t, "u42", id)
}

func TestErrorStatus(t *testing.T) {
	c, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusForbidden)
		ctx.SetBodyString(`{"status":403,"message":"not a member"}`)
	})

	_, err := c.Messages(context.Background(), "r1", 0, 50)
	require.Error(t, err)
	assert.True(t, IsStatus(err, fasthttp.StatusForbidden))
	assert.False(t, IsStatus(err, fasthttp.StatusNotFound))

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "not a member", apiErr.Message)
	assert.Contains(t, err.Error(), "status 403")
}

func TestPlainTextErrorBody(t *testing.T) {
	c, _ := newTestClient(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadGateway)
		ctx.SetBodyString("upstream down")
	})

	err := c.AddMember(context.Background(), "r1", "u1")
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "upstream down", apiErr.Message)
}

func TestCancelledContext(t *testing.T) {
	c, _ := newTestClient(t, respondJSON(`[]`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Rooms(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNoTokenNoAuthorization(t *testing.T) {
	c, seen := newTestClient(t, respondJSON(`[]`))
	c.SetToken("")

	_, err := c.Rooms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, seen.snapshot().authorization)
}
