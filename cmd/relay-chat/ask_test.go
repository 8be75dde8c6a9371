package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/chat"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

func TestStreamPrinterWritesOnlyNewText(t *testing.T) {
	var buf bytes.Buffer
	p := &streamPrinter{w: &buf}

	s, id := chat.AppendUserAndPlaceholder(chat.State{}, "q", models.RouteFast, "m")
	p.onState(s)
	s = chat.AppendChunk(s, chat.ByID(id), "Hel")
	p.onState(s)
	s = chat.AppendChunk(s, chat.ByID(id), "lo")
	p.onState(s)
	p.onState(s)
	s = chat.UpdateMessage(s, id, func(m models.Message) models.Message {
		m.Text = "Hel"
		return m
	})
	p.onState(s)

	assert.Equal(t, "Hello", buf.String())
}
