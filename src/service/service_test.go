package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/orchestra-mcp/chatsync/config"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var me = types.User{ID: "u-me", Username: "me", FullName: "Me Myself"}

// fakeStream is a subscription the test can push bodies into.
type fakeStream struct {
	destination string
	ch          chan []byte
	once        sync.Once
}

func (s *fakeStream) Destination() string     { return s.destination }
func (s *fakeStream) Messages() <-chan []byte { return s.ch }
func (s *fakeStream) Unsubscribe()            { s.once.Do(func() { close(s.ch) }) }

// fakeConn records what the service does with the realtime connection.
type fakeConn struct {
	mu           sync.Mutex
	credential   string
	disconnected bool
	streams      map[string]*fakeStream
	published    map[string][]any
}

func newFakeConn() *fakeConn {
	return &fakeConn{streams: map[string]*fakeStream{}, published: map[string][]any{}}
}

func (c *fakeConn) Connect(credential string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = credential
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

func (c *fakeConn) State() types.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credential != "" && !c.disconnected {
		return types.Connected
	}
	return types.Disconnected
}

func (c *fakeConn) Publish(destination string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[destination] = append(c.published[destination], payload)
	return nil
}

func (c *fakeConn) Subscribe(destination string) types.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeStream{destination: destination, ch: make(chan []byte, 16)}
	c.streams[destination] = s
	return s
}

func (c *fakeConn) push(t *testing.T, destination, body string) {
	t.Helper()
	c.mu.Lock()
	s, ok := c.streams[destination]
	c.mu.Unlock()
	require.True(t, ok, "no subscription for %s", destination)
	s.ch <- []byte(body)
}

func (c *fakeConn) subscribed(destination string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.streams[destination]
	return ok
}

func (c *fakeConn) publishCount(destination string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published[destination])
}

// fakeAPI serves canned REST responses.
type fakeAPI struct {
	mu      sync.Mutex
	token   string
	rooms   []types.Room
	online  []types.PresenceEntry
	upload  types.Message
	added   []string
	failing error
}

func (a *fakeAPI) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

func (a *fakeAPI) Rooms(context.Context) ([]types.Room, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rooms, a.failing
}

func (a *fakeAPI) Messages(_ context.Context, roomID string, page, size int) (*types.MessagePage, error) {
	return &types.MessagePage{Number: page, Size: size}, nil
}

func (a *fakeAPI) CreateGroup(_ context.Context, name string, memberIDs []string) (types.Room, error) {
	if a.failing != nil {
		return types.Room{}, a.failing
	}
	members := make([]types.Member, 0, len(memberIDs))
	for _, id := range memberIDs {
		members = append(members, types.Member{UserID: id})
	}
	return types.Room{ID: "g-new", Name: name, Type: types.RoomGroup, Members: members}, nil
}

func (a *fakeAPI) PrivateRoom(_ context.Context, userID string) (types.Room, error) {
	return types.Room{
		ID:   "p-" + userID,
		Type: types.RoomPrivate,
		Members: []types.Member{
			{UserID: me.ID, FullName: me.FullName},
			{UserID: userID, FullName: "Bob Builder"},
		},
	}, nil
}

func (a *fakeAPI) UploadMedia(_ context.Context, roomID, filename string, content io.Reader) (types.Message, error) {
	if _, err := io.ReadAll(content); err != nil {
		return types.Message{}, err
	}
	return a.upload, nil
}

func (a *fakeAPI) SearchUsers(_ context.Context, query string) ([]types.UserSearchResult, error) {
	return []types.UserSearchResult{{ID: "u-bob", Username: query}}, nil
}

func (a *fakeAPI) Online(context.Context) ([]types.PresenceEntry, error) {
	return a.online, nil
}

func (a *fakeAPI) AddMember(_ context.Context, roomID, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failing != nil {
		return a.failing
	}
	a.added = append(a.added, roomID+"/"+userID)
	return nil
}

func newTestService(t *testing.T) (*Service, *fakeConn, *fakeAPI) {
	t.Helper()
	conn := newFakeConn()
	api := &fakeAPI{rooms: []types.Room{
		{ID: "r1", Name: "Team", Type: types.RoomGroup, Members: []types.Member{{UserID: me.ID}, {UserID: "u-bob"}}},
		{ID: "r2", Name: "Book club", Type: types.RoomGroup, Members: []types.Member{{UserID: me.ID}, {UserID: "u-eve"}}},
	}}
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1_700_000_000_000))

	svc := New(config.DefaultConfig(), conn, api, zerolog.Nop(), WithClock(mock))
	require.NoError(t, svc.Init(types.Session{Token: "tok-1", User: me}))
	t.Cleanup(svc.Destroy)
	return svc, conn, api
}

func ids(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestInitRequiresSession(t *testing.T) {
	svc := New(config.DefaultConfig(), newFakeConn(), &fakeAPI{}, zerolog.Nop())
	assert.ErrorIs(t, svc.Init(types.Session{User: me}), ErrNoSession)
	assert.ErrorIs(t, svc.Init(types.Session{Token: "t"}), ErrNoSession)
}

func TestInitConnectsAndSubscribesPresence(t *testing.T) {
	svc, conn, api := newTestService(t)

	assert.Equal(t, "tok-1", conn.credential)
	assert.Equal(t, "tok-1", api.token)
	assert.Equal(t, me, svc.CurrentUser())
	assert.Equal(t, types.Connected, svc.State())
	assert.True(t, conn.subscribed(types.PresenceTopic))
}

func TestSendIsReconciledByEcho(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.LoadRooms(ctx))
	require.NoError(t, svc.OpenRoom(ctx, "r1"))
	assert.True(t, conn.subscribed(types.TypingTopic("r1")))

	sent, err := svc.SendMessage("hello")
	require.NoError(t, err)
	assert.Equal(t, "temp-1700000000000", sent.ID)
	assert.Equal(t, 1, conn.publishCount(types.SendDestination("r1")))

	conn.push(t, types.RoomTopic("r1"), `{"id":"m1","senderId":"u-me","content":"hello","messageType":"TEXT","createdAt":"2024-03-01T10:00:00"}`)

	assert.Eventually(t, func() bool {
		got := svc.Main().Messages()
		return len(got) == 1 && got[0].ID == "m1"
	}, waitFor, tick)

	room, ok := svc.Store().Room("r1")
	require.True(t, ok)
	require.NotNil(t, room.LastMessage)
	assert.Equal(t, "m1", room.LastMessage.ID)
}

func TestMainViewAndWindowBothReceive(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.LoadRooms(ctx))
	require.NoError(t, svc.OpenRoom(ctx, "r1"))
	w, err := svc.OpenWindow(ctx, "r1")
	require.NoError(t, err)

	conn.push(t, types.RoomTopic("r1"), `{"id":"m7","senderId":"u-bob","content":"hi all"}`)

	assert.Eventually(t, func() bool {
		return len(w.Messages()) == 1 && len(svc.Main().Messages()) == 1
	}, waitFor, tick)
	assert.Equal(t, []string{"m7"}, ids(w.Messages()))
}

func TestStrayRoomIDStaysInTopicRoom(t *testing.T) {
	svc, conn, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.LoadRooms(ctx))
	require.NoError(t, svc.OpenRoom(ctx, "r1"))
	w, err := svc.OpenWindow(ctx, "r2")
	require.NoError(t, err)

	conn.push(t, types.RoomTopic("r1"), `{"id":"mx","roomId":"r2","senderId":"u-bob","content":"wrong room"}`)

	assert.Eventually(t, func() bool {
		return len(svc.Store().Messages("r1")) == 1
	}, waitFor, tick)
	assert.Equal(t, "r1", svc.Store().Messages("r1")[0].RoomID)
	assert.Empty(t, svc.Store().Messages("r2"))
	assert.Empty(t, w.Messages())

	r2, ok := svc.Store().Room("r2")
	require.True(t, ok)
	assert.Nil(t, r2.LastMessage)
}

func TestOpenWindowUnknownRoom(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.OpenWindow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownRoom)
	assert.ErrorIs(t, svc.OpenRoom(context.Background(), ""), ErrUnknownRoom)
}

func TestWindowLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.LoadRooms(ctx))
	_, err := svc.OpenWindow(ctx, "r2")
	require.NoError(t, err)

	minimized, ok := svc.ToggleMinimize("r2")
	assert.True(t, ok)
	assert.True(t, minimized)

	_, err = svc.OpenWindow(ctx, "r2")
	require.NoError(t, err)
	states := svc.Windows().Windows()
	require.Len(t, states, 1)
	assert.False(t, states[0].Minimized)
	assert.Equal(t, "Book club", states[0].DisplayName)

	assert.True(t, svc.CloseWindow("r2"))
	assert.False(t, svc.CloseWindow("r2"))
}

func TestOpenPrivateChatShowsOtherMember(t *testing.T) {
	svc, conn, _ := newTestService(t)

	w, err := svc.OpenPrivateChat(context.Background(), "u-bob")
	require.NoError(t, err)
	assert.Equal(t, "Bob Builder", w.State().DisplayName)
	assert.Equal(t, types.RoomPrivate, w.State().RoomType)
	assert.True(t, conn.subscribed(types.RoomTopic("p-u-bob")))

	rooms := svc.Store().Rooms()
	require.NotEmpty(t, rooms)
	assert.Equal(t, "p-u-bob", rooms[0].ID)
}

func TestCreateGroupRoomPrepends(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.LoadRooms(ctx))

	room, err := svc.CreateGroupRoom(ctx, "Climbing", []string{"u-bob", "u-eve"})
	require.NoError(t, err)
	assert.Equal(t, "g-new", room.ID)

	rooms := svc.Store().Rooms()
	require.Len(t, rooms, 3)
	assert.Equal(t, "g-new", rooms[0].ID)
}

func TestCreateGroupRoomFailure(t *testing.T) {
	svc, _, api := newTestService(t)
	api.failing = errors.New("boom")

	_, err := svc.CreateGroupRoom(context.Background(), "x", nil)
	assert.Error(t, err)
	assert.Empty(t, svc.Store().Rooms())
}

func TestUploadMediaAppliesAndDedupesEcho(t *testing.T) {
	svc, conn, api := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.LoadRooms(ctx))
	require.NoError(t, svc.OpenRoom(ctx, "r1"))
	api.upload = types.Message{ID: "m9", SenderID: me.ID, MessageType: types.MessageImage, MediaURL: "/media/cat.png"}

	msg, err := svc.UploadMedia(ctx, "r1", "cat.png", strings.NewReader("PNG"))
	require.NoError(t, err)
	assert.Equal(t, "r1", msg.RoomID)
	assert.Equal(t, []string{"m9"}, ids(svc.Main().Messages()))

	conn.push(t, types.RoomTopic("r1"), `{"id":"m9","senderId":"u-me","messageType":"IMAGE","mediaUrl":"/media/cat.png"}`)
	conn.push(t, types.RoomTopic("r1"), `{"id":"m10","senderId":"u-bob","content":"nice"}`)

	assert.Eventually(t, func() bool { return len(svc.Main().Messages()) == 2 }, waitFor, tick)
	assert.Equal(t, []string{"m9", "m10"}, ids(svc.Main().Messages()))
}

func TestPresence(t *testing.T) {
	svc, conn, api := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.LoadRooms(ctx))

	api.online = []types.PresenceEntry{{UserID: "u-eve", Online: true}}
	require.NoError(t, svc.SeedOnline(ctx))
	assert.True(t, svc.IsUserOnline("u-eve"))
	assert.True(t, svc.AnyMemberOnline("r2"))
	assert.False(t, svc.AnyMemberOnline("r1"))

	conn.push(t, types.PresenceTopic, `[{"userId":"u-bob","username":"bob","fullName":"Bob"},{"userId":"u-me"}]`)

	assert.Eventually(t, func() bool { return svc.IsUserOnline("u-bob") }, waitFor, tick)
	assert.False(t, svc.IsUserOnline("u-eve"))
	assert.True(t, svc.AnyMemberOnline("r1"))
	assert.False(t, svc.AnyMemberOnline("r2"))
	assert.False(t, svc.AnyMemberOnline("missing"))
}

func TestAddMemberRefreshesRooms(t *testing.T) {
	svc, _, api := newTestService(t)

	require.NoError(t, svc.AddMember(context.Background(), "r1", "u-zed"))
	assert.Equal(t, []string{"r1/u-zed"}, api.added)
	assert.Len(t, svc.Store().Rooms(), 2)

	api.failing = errors.New("forbidden")
	assert.Error(t, svc.AddMember(context.Background(), "r1", "u-zed"))
}

func TestSearchUsers(t *testing.T) {
	svc, _, _ := newTestService(t)
	users, err := svc.SearchUsers(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Username)
}

func TestDestroyTearsDown(t *testing.T) {
	svc, conn, api := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.LoadRooms(ctx))
	require.NoError(t, svc.OpenRoom(ctx, "r1"))
	_, err := svc.OpenWindow(ctx, "r2")
	require.NoError(t, err)

	svc.Destroy()

	assert.True(t, conn.disconnected)
	assert.Empty(t, api.token)
	assert.Equal(t, types.User{}, svc.CurrentUser())
	assert.Empty(t, svc.Windows().Windows())
	assert.Empty(t, svc.Main().Room())
	assert.Zero(t, svc.Registry().Count())
}
