package models

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatHistory_TrimsOldestFirst(t *testing.T) {
	history := NewChatHistory(4)

	for i := 1; i <= 6; i++ {
		require.NoError(t, history.Add(RoleUser, fmt.Sprintf("message %d", i)))
	}

	messages := history.Messages()
	require.Len(t, messages, 4)
	assert.Equal(t, "message 3", messages[0].Content)
	assert.Equal(t, "message 6", messages[3].Content)
}

func TestChatHistory_UnboundedWhenNonPositive(t *testing.T) {
	history := NewChatHistory(0)
	for i := 0; i < 50; i++ {
		require.NoError(t, history.Add(RoleAssistant, "reply"))
	}
	assert.Equal(t, 50, history.Len())
}

func TestChatHistory_MessagesReturnsCopy(t *testing.T) {
	history := NewChatHistory(10)
	require.NoError(t, history.Add(RoleUser, "original"))

	messages := history.Messages()
	messages[0].Content = "mutated"

	assert.Equal(t, "original", history.Messages()[0].Content)
}

func TestChatHistory_Clear(t *testing.T) {
	history := NewChatHistory(10)
	require.NoError(t, history.Add(RoleUser, "hello"))
	history.Clear()
	assert.Equal(t, 0, history.Len())
}

func TestNewChatMessage_RejectsUnknownRole(t *testing.T) {
	_, err := NewChatMessage("moderator", "hello")
	require.Error(t, err)
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestChunkID_Format(t *testing.T) {
	assert.Equal(t, "doc-1_chunk_0000", ChunkID("doc-1", 0))
	assert.Equal(t, "doc-1_chunk_0042", ChunkID("doc-1", 42))
}

func TestChunkValidate(t *testing.T) {
	valid := Chunk{ID: "d_chunk_0000", DocumentID: "d", Content: "text"}
	assert.NoError(t, valid.Validate())

	missing := Chunk{ID: "d_chunk_0000", DocumentID: "d"}
	assert.Error(t, missing.Validate())

	negative := Chunk{ID: "d_chunk_0000", DocumentID: "d", Content: "text", Ordinal: -1}
	assert.Error(t, negative.Validate())
}
