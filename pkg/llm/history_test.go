package llm

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatHistorySlidingWindow(t *testing.T) {
	h := NewChatHistory(4)
	for i := 0; i < 3; i++ {
		h.Add(NewUserMessage(fmt.Sprintf("q%d", i)), NewAssistantMessage(fmt.Sprintf("a%d", i)))
	}

	msgs := h.GetMessages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "q1", msgs[0].GetTextContent())
	assert.Equal(t, "a2", msgs[3].GetTextContent())
}

func TestChatHistoryTrimSkipsLeadingAssistant(t *testing.T) {
	h := NewChatHistory(2)
	h.Add(NewUserMessage("q0"), NewAssistantMessage("a0"), NewAssistantMessage("a0-more"), NewUserMessage("q1"))

	msgs := h.GetMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "q1", msgs[0].GetTextContent())
}

func TestChatHistoryUnbounded(t *testing.T) {
	h := NewChatHistory(0)
	for i := 0; i < 50; i++ {
		h.Add(NewUserMessage("x"))
	}
	assert.Equal(t, 50, h.Len())

	h.Clear()
	assert.Equal(t, 0, h.Len())
}

func TestChatHistoryReplaceCopies(t *testing.T) {
	src := []Message{NewUserMessage("a"), NewAssistantMessage("b")}
	h := NewChatHistory(10)
	h.Replace(src)

	src[0] = NewUserMessage("mutated")
	got := h.GetMessages()
	assert.Equal(t, "a", got[0].GetTextContent())

	got[1] = NewUserMessage("mutated")
	assert.Equal(t, "b", h.GetMessages()[1].GetTextContent())
}

func TestImageSourceJSON(t *testing.T) {
	msg := Message{Role: RoleUser}
	msg.AddContentBlock(NewTextBlock("look"))
	msg.AddContentBlock(NewImageBlock([]byte{1, 2, 3}, "image/png"))
	msg.AddContentBlock(NewImageBlockFromURL("https://example.com/cat.png", "image/png"))

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var back Message
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Images(), 2)
	assert.Equal(t, []byte{1, 2, 3}, back.Content[1].Source.Data)
	assert.Equal(t, "https://example.com/cat.png", back.Content[2].Source.URL)
	assert.Equal(t, "look", back.GetTextContent())
}

func TestImageSourceDataURL(t *testing.T) {
	inline := NewImageBlock([]byte("hi"), "image/png")
	u, err := inline.Source.DataURL()
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,aGk=", u)

	remote := NewImageBlockFromURL("https://x/y.png", "image/png")
	u, err = remote.Source.DataURL()
	require.NoError(t, err)
	assert.Equal(t, "https://x/y.png", u)

	missing := NewImageBlockFromFile("/does/not/exist.png", "image/png")
	_, err = missing.Source.DataURL()
	assert.Error(t, err)
}
