package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"

	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/valyala/fasthttp"
)

// Rooms lists the rooms the signed-in user belongs to.
func (c *Client) Rooms(ctx context.Context) ([]types.Room, error) {
	var rooms []types.Room
	if err := c.do(ctx, request{method: fasthttp.MethodGet, path: "/rooms"}, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// Messages fetches one page of a room's history, newest first.
func (c *Client) Messages(ctx context.Context, roomID string, page, size int) (*types.MessagePage, error) {
	var out types.MessagePage
	r := request{
		method: fasthttp.MethodGet,
		path:   "/rooms/" + url.PathEscape(roomID) + "/messages",
		query:  pageQuery(page, size),
	}
	if err := c.do(ctx, r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateGroup creates a group room with the given members.
func (c *Client) CreateGroup(ctx context.Context, name string, memberIDs []string) (types.Room, error) {
	body := struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"memberIds"`
	}{Name: name, MemberIDs: memberIDs}

	r, err := jsonRequest(fasthttp.MethodPost, "/rooms", body)
	if err != nil {
		return types.Room{}, err
	}
	var room types.Room
	if err := c.do(ctx, r, &room); err != nil {
		return types.Room{}, err
	}
	return room, nil
}

// PrivateRoom returns the private room with userID, creating it if needed.
func (c *Client) PrivateRoom(ctx context.Context, userID string) (types.Room, error) {
	r, err := jsonRequest(fasthttp.MethodPost, "/rooms/private/"+url.PathEscape(userID), struct{}{})
	if err != nil {
		return types.Room{}, err
	}
	var room types.Room
	if err := c.do(ctx, r, &room); err != nil {
		return types.Room{}, err
	}
	return room, nil
}

// UploadMedia uploads a file into a room. The resulting message is also
// broadcast on the room topic.
func (c *Client) UploadMedia(ctx context.Context, roomID, filename string, content io.Reader) (types.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return types.Message{}, fmt.Errorf("api: upload %s: %w", filename, err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return types.Message{}, fmt.Errorf("api: upload %s: %w", filename, err)
	}
	if err := w.Close(); err != nil {
		return types.Message{}, fmt.Errorf("api: upload %s: %w", filename, err)
	}

	r := request{
		method:      fasthttp.MethodPost,
		path:        "/rooms/" + url.PathEscape(roomID) + "/media",
		contentType: w.FormDataContentType(),
		body:        buf.Bytes(),
	}
	var msg types.Message
	if err := c.do(ctx, r, &msg); err != nil {
		return types.Message{}, err
	}
	return msg, nil
}

// SearchUsers finds users matching query.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]types.UserSearchResult, error) {
	var users []types.UserSearchResult
	r := request{method: fasthttp.MethodGet, path: "/users/search", query: url.Values{"q": {query}}}
	if err := c.do(ctx, r, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// Online lists the users currently online.
func (c *Client) Online(ctx context.Context) ([]types.PresenceEntry, error) {
	var entries []types.PresenceEntry
	if err := c.do(ctx, request{method: fasthttp.MethodGet, path: "/online"}, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// AddMember adds userID to a room. The body is the user id as a JSON
// string.
func (c *Client) AddMember(ctx context.Context, roomID, userID string) error {
	body, err := json.Marshal(userID)
	if err != nil {
		return fmt.Errorf("api: encode member id: %w", err)
	}
	r := request{
		method:      fasthttp.MethodPost,
		path:        "/rooms/" + url.PathEscape(roomID) + "/members",
		contentType: "application/json",
		body:        body,
	}
	return c.do(ctx, r, nil)
}
