package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/chat"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/orchestrator"
)

func runAsk(ctx context.Context, opts *options, args []string, in io.Reader, out, errOut io.Writer) error {
	prompt := strings.Join(args, " ")
	if strings.TrimSpace(prompt) == "" {
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(data)
	}

	sess, err := newSession(ctx, opts, errOut)
	if err != nil {
		return err
	}

	printer := &streamPrinter{w: out}
	sess.store.Subscribe(printer.onState)
	orch := sess.orchestrator(func(e orchestrator.Event) {
		if e.Text != "" {
			fmt.Fprintln(errOut, e.Text)
		}
	})

	_, err = orch.Submit(ctx, sess.route, prompt)
	fmt.Fprintln(out)

	var exhausted *orchestrator.PlanExhaustedError
	if errors.As(err, &exhausted) {
		return errors.New(exhausted.UserMessage())
	}
	return err
}

// streamPrinter writes the growing reply of the first assistant message.
// Text removed by the final cleanup is not taken back.
type streamPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	printed int
}

func (p *streamPrinter) onState(s chat.State) {
	var text string
	for _, m := range s.Messages {
		if m.Role == models.RoleAssistant {
			text = m.Text
			break
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(text) > p.printed {
		_, _ = io.WriteString(p.w, text[p.printed:])
		p.printed = len(text)
	}
}
