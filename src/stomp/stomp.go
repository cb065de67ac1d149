// Package stomp encodes and decodes STOMP frames carried one per WebSocket
// text message, and implements heart-beat negotiation.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// Header names used by the chat protocol.
const (
	HeaderDestination   = "destination"
	HeaderID            = "id"
	HeaderSubscription  = "subscription"
	HeaderAuthorization = "Authorization"
	HeaderHeartBeat     = "heart-beat"
	HeaderAcceptVersion = "accept-version"
	HeaderContentType   = "content-type"
	HeaderContentLength = "content-length"
	HeaderMessage       = "message"
	HeaderHost          = "host"
)

// AcceptVersions is advertised on CONNECT.
const AcceptVersions = "1.2,1.1,1.0"

// Frame is a single STOMP frame.
type Frame = frame.Frame

// Heartbeat is the payload of a heart-beat message.
var Heartbeat = []byte("\n")

// Encode serializes f into the bytes of one WebSocket message.
func Encode(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("stomp: encode %s: %w", f.Command, err)
	}
	return buf.Bytes(), nil
}

// Decode parses the frame contained in one WebSocket message. A message
// holding only heart-beat EOLs yields a nil frame and no error.
func Decode(data []byte) (*Frame, error) {
	if len(bytes.Trim(data, "\r\n")) == 0 {
		return nil, nil
	}
	r := frame.NewReader(bytes.NewReader(data))
	for {
		f, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("stomp: decode: truncated frame: %w", err)
			}
			return nil, fmt.Errorf("stomp: decode: %w", err)
		}
		if f != nil {
			return f, nil
		}
	}
}

// Connect builds the CONNECT frame. The bearer token travels in the
// Authorization header.
func Connect(host, token string, outgoing, incoming time.Duration) *Frame {
	f := frame.New(frame.CONNECT,
		HeaderAcceptVersion, AcceptVersions,
		HeaderHeartBeat, FormatHeartBeat(outgoing, incoming),
	)
	if host != "" {
		f.Header.Add(HeaderHost, host)
	}
	if token != "" {
		f.Header.Add(HeaderAuthorization, "Bearer "+token)
	}
	return f
}

// Subscribe builds a SUBSCRIBE frame for destination under subscription id.
func Subscribe(id, destination string) *Frame {
	return frame.New(frame.SUBSCRIBE, HeaderID, id, HeaderDestination, destination)
}

// Unsubscribe builds an UNSUBSCRIBE frame for subscription id.
func Unsubscribe(id string) *Frame {
	return frame.New(frame.UNSUBSCRIBE, HeaderID, id)
}

// Send builds a SEND frame carrying a JSON body.
func Send(destination string, body []byte) *Frame {
	f := frame.New(frame.SEND,
		HeaderDestination, destination,
		HeaderContentType, "application/json",
		HeaderContentLength, strconv.Itoa(len(body)),
	)
	f.Body = body
	return f
}

// Disconnect builds a DISCONNECT frame.
func Disconnect() *Frame {
	return frame.New(frame.DISCONNECT)
}

// FormatHeartBeat renders a heart-beat header value in milliseconds.
func FormatHeartBeat(outgoing, incoming time.Duration) string {
	return strconv.FormatInt(outgoing.Milliseconds(), 10) + "," + strconv.FormatInt(incoming.Milliseconds(), 10)
}

// ParseHeartBeat parses a heart-beat header value. An empty value means
// the peer does not do heart-beating.
func ParseHeartBeat(value string) (outgoing, incoming time.Duration, err error) {
	if value == "" {
		return 0, 0, nil
	}
	sx, sy, ok := strings.Cut(value, ",")
	if !ok {
		return 0, 0, fmt.Errorf("stomp: malformed heart-beat %q", value)
	}
	x, err := strconv.ParseInt(strings.TrimSpace(sx), 10, 64)
	if err != nil || x < 0 {
		return 0, 0, fmt.Errorf("stomp: malformed heart-beat %q", value)
	}
	y, err := strconv.ParseInt(strings.TrimSpace(sy), 10, 64)
	if err != nil || y < 0 {
		return 0, 0, fmt.Errorf("stomp: malformed heart-beat %q", value)
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond, nil
}

// Negotiate derives the effective heart-beat intervals from the client's
// wishes and the server's CONNECTED header. A zero result disables that
// direction.
func Negotiate(clientOutgoing, clientIncoming time.Duration, serverHeader string) (send, expect time.Duration, err error) {
	serverOutgoing, serverIncoming, err := ParseHeartBeat(serverHeader)
	if err != nil {
		return 0, 0, err
	}
	if clientOutgoing > 0 && serverIncoming > 0 {
		send = max(clientOutgoing, serverIncoming)
	}
	if clientIncoming > 0 && serverOutgoing > 0 {
		expect = max(clientIncoming, serverOutgoing)
	}
	return send, expect, nil
}
