package reconcile

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/orchestra-mcp/chatsync/src/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const self = "u-self"

func text(id, sender, content string) types.Message {
	return types.Message{ID: id, RoomID: "r1", SenderID: sender, Content: content, MessageType: types.MessageText}
}

func ids(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestIDGeneratorStrictlyIncreasing(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1_700_000_000_000))
	g := NewIDGenerator(mock)

	a := g.Next()
	b := g.Next()
	mock.Add(5 * time.Millisecond)
	c := g.Next()

	assert.Equal(t, "temp-1700000000000", a)
	assert.Equal(t, "temp-1700000000001", b)
	assert.Equal(t, "temp-1700000000005", c)
	assert.True(t, IsProvisional(a))
	assert.False(t, IsProvisional("42"))
}

func TestApplyDiscardsDuplicateID(t *testing.T) {
	tl := NewTimeline()
	require.Equal(t, Appended, tl.Apply(text("1", "u-other", "hi"), self))

	assert.Equal(t, Duplicate, tl.Apply(text("1", "u-other", "hi"), self))
	assert.Equal(t, 1, tl.Len())
}

func TestOwnEchoReplacesProvisionalInItsSlot(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(text("temp-1", self, "hello"))
	tl.Apply(text("9", "u-other", "unrelated"), self)

	out := tl.Apply(text("10", self, "hello"), self)

	assert.Equal(t, Replaced, out)
	assert.Equal(t, []string{"10", "9"}, ids(tl.Messages()))
	assert.Empty(t, tl.Provisional())
}

func TestOwnEchoesMatchProvisionalsFIFO(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(text("temp-1", self, "a"))
	tl.AddProvisional(text("temp-2", self, "b"))

	tl.Apply(text("s1", self, "a"), self)
	assert.Equal(t, []string{"s1", "temp-2"}, ids(tl.Messages()))

	tl.Apply(text("s2", self, "b"), self)
	msgs := tl.Messages()
	assert.Equal(t, []string{"s1", "s2"}, ids(msgs))
	assert.Equal(t, "a", msgs[0].Content)
	assert.Equal(t, "b", msgs[1].Content)
}

func TestOwnEchoOutOfOrderStillConverges(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(text("temp-1", self, "a"))
	tl.AddProvisional(text("temp-2", self, "b"))

	tl.Apply(text("s2", self, "b"), self)
	tl.Apply(text("s1", self, "a"), self)

	assert.Len(t, tl.Messages(), 2)
	assert.Empty(t, tl.Provisional())
}

func TestOtherSenderMatchingContentReplaces(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(text("temp-1", self, "same"))

	out := tl.Apply(text("s1", "u-other", "same"), self)

	assert.Equal(t, Replaced, out)
	assert.Equal(t, []string{"s1"}, ids(tl.Messages()))
}

func TestOtherSenderDifferentTypeAppends(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(text("temp-1", self, "same"))
	img := text("s1", "u-other", "same")
	img.MessageType = types.MessageImage

	assert.Equal(t, Appended, tl.Apply(img, self))
	assert.Equal(t, []string{"temp-1", "s1"}, ids(tl.Messages()))
}

func TestUnechoedProvisionalPersists(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(text("temp-1", self, "lost"))
	tl.Apply(text("s1", "u-other", "hi"), self)
	tl.Apply(text("s2", "u-other", "there"), self)

	assert.Equal(t, []string{"temp-1", "s1", "s2"}, ids(tl.Messages()))
	require.Len(t, tl.Provisional(), 1)
	assert.Equal(t, "lost", tl.Provisional()[0].Content)
}

func TestEmptySelfNeverCountsAsOwn(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(text("temp-1", "", "x"))

	assert.Equal(t, Appended, tl.Apply(text("s1", "", "y"), ""))
}

func TestResetAndPrepend(t *testing.T) {
	tl := NewTimeline()
	tl.AddProvisional(text("temp-1", self, "pending"))

	tl.Reset([]types.Message{text("3", "u", "c"), text("4", "u", "d"), text("4", "u", "d")})
	assert.Equal(t, []string{"3", "4"}, ids(tl.Messages()))

	n := tl.Prepend([]types.Message{text("1", "u", "a"), text("2", "u", "b"), text("3", "u", "c")})
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"1", "2", "3", "4"}, ids(tl.Messages()))

	last, ok := tl.Last()
	require.True(t, ok)
	assert.Equal(t, "4", last.ID)
}

func TestMessagesReturnsCopy(t *testing.T) {
	tl := NewTimeline()
	tl.Apply(text("1", "u", "a"), self)

	msgs := tl.Messages()
	msgs[0].Content = "mutated"

	assert.Equal(t, "a", tl.Messages()[0].Content)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "replaced", Replaced.String())
	assert.Equal(t, "appended", Appended.String())
	assert.Equal(t, "Outcome(9)", Outcome(9).String())
}
