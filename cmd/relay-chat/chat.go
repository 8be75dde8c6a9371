package main

import (
	"context"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/tui"
)

func runChat(ctx context.Context, opts *options) error {
	// the screen owns the terminal; keep log lines off it
	sess, err := newSession(ctx, opts, io.Discard)
	if err != nil {
		return err
	}

	ch := tui.NewChannels()
	sess.store.Subscribe(ch.OnStateChange)
	orch := sess.orchestrator(ch.OnEvent)

	p := tea.NewProgram(tui.New(orch, sess.store, sess.route, ch), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	orch.Stop()
	return err
}
