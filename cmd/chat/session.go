package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"mai-chat/internal/conversation"
	"mai-chat/internal/domain"
	"mai-chat/internal/integrations/backend"
)

type extractor interface {
	Extract(ctx context.Context, filename, contentType string, data []byte) (domain.ExtractedContent, error)
}

// session is the REPL around one conversation. Submits run synchronously, so
// the prompt is only shown again once the controller is back to Idle.
type session struct {
	controller *conversation.Controller
	extract    extractor
	in         io.Reader
	out        io.Writer
	readFile   func(string) ([]byte, error)
}

func newSession(c *conversation.Controller, ex extractor, in io.Reader, out io.Writer) *session {
	return &session{controller: c, extract: ex, in: in, out: out, readFile: os.ReadFile}
}

func (s *session) run(ctx context.Context) error {
	unsubscribe := s.controller.Subscribe(s.onEvent)
	defer unsubscribe()

	fmt.Fprintln(s.out, "MAI chat. /file <path> shares a file, /history prints the conversation, /quit exits.")
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for {
		s.prompt()
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return nil
		}
		if quit := s.handleLine(ctx, scanner.Text()); quit {
			return nil
		}
	}
}

func (s *session) prompt() {
	if s.controller.State() == conversation.StateDispatching {
		fmt.Fprint(s.out, "... ")
		return
	}
	fmt.Fprint(s.out, "> ")
}

func (s *session) handleLine(ctx context.Context, line string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "/quit":
		return true
	case trimmed == "/history":
		s.printHistory()
	case strings.HasPrefix(trimmed, "/file"):
		s.shareFile(ctx, strings.TrimSpace(strings.TrimPrefix(trimmed, "/file")))
	default:
		outcome, _ := s.controller.SubmitText(ctx, line)
		if outcome == conversation.OutcomeIgnoredBusy {
			fmt.Fprintln(s.out, "still waiting for the previous reply")
		}
	}
	return false
}

func (s *session) shareFile(ctx context.Context, path string) {
	if path == "" {
		fmt.Fprintln(s.out, "usage: /file <path>")
		return
	}
	data, err := s.readFile(path)
	if err != nil {
		fmt.Fprintf(s.out, "cannot read %s: %v\n", path, err)
		return
	}
	content, err := s.extract.Extract(ctx, filepath.Base(path), contentTypeFor(path), data)
	if err != nil {
		s.printExtractError(err)
		return
	}
	if strings.TrimSpace(content.Text) == "" {
		fmt.Fprintln(s.out, "no text found in that file")
		return
	}
	_, _ = s.controller.SubmitExtractedContent(ctx, content.Text)
}

// printExtractError shows local policy rejections as they are and routes
// everything else through the same classifier as chat failures.
func (s *session) printExtractError(err error) {
	switch {
	case errors.Is(err, backend.ErrUnsupportedType), errors.Is(err, backend.ErrFileTooLarge):
		fmt.Fprintf(s.out, "could not share file: %v\n", errors.Unwrap(err))
	default:
		fmt.Fprintf(s.out, "could not extract text: %s\n", conversation.Classify(err).UserMessage)
	}
}

func (s *session) printHistory() {
	turns := s.controller.Snapshot()
	if len(turns) == 0 {
		fmt.Fprintln(s.out, "(no messages yet)")
		return
	}
	for _, t := range turns {
		fmt.Fprintf(s.out, "[%s] %s\n", t.Role, t.Content)
	}
}

func (s *session) onEvent(ev conversation.Event) {
	switch ev.Type {
	case conversation.EventTurnAppended:
		if ev.Turn.Role == domain.RoleAssistant {
			fmt.Fprintf(s.out, "MAI: %s\n", ev.Turn.Content)
		}
	case conversation.EventErrorSurfaced:
		if ev.Err != nil {
			fmt.Fprintf(s.out, "! %s\n", ev.Err.UserMessage)
		}
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return domain.ContentTypePDF
	case ".txt", ".md", ".text":
		return domain.ContentTypeText
	default:
		return "application/octet-stream"
	}
}
