package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/stewardai/steward"
)

// Console is a stdin/stdout frontend for local development. One line is one
// turn; replies print to stdout. It shares a single temp directory across
// turns so confirmation tokens can outlive the turn that minted them.
type Console struct {
	in      io.Reader
	out     io.Writer
	userID  string
	tempDir string
}

// NewConsole creates a console frontend on stdin/stdout.
func NewConsole() *Console {
	return &Console{in: os.Stdin, out: os.Stdout, userID: "console"}
}

// Poll starts reading lines. The channel closes on EOF or when ctx is done.
func (c *Console) Poll(ctx context.Context) (<-chan steward.TurnRequest, error) {
	dir, err := os.MkdirTemp("", "steward-console-")
	if err != nil {
		return nil, fmt.Errorf("console temp dir: %w", err)
	}
	c.tempDir = dir

	out := make(chan steward.TurnRequest)
	go func() {
		defer close(out)
		defer os.RemoveAll(dir)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			req := steward.TurnRequest{
				UserID:  c.userID,
				Text:    text,
				Channel: "console",
				TempDir: c.tempDir,
			}
			select {
			case out <- req:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Send prints the reply. Generated files are listed by path; the shared temp
// directory keeps them readable after the turn.
func (c *Console) Send(_ context.Context, _ string, _ string, reply steward.TurnReply) error {
	if reply.Text != "" {
		fmt.Fprintln(c.out, reply.Text)
	}
	for _, f := range reply.Files {
		fmt.Fprintf(c.out, "[file] %s (%s)\n", f.Path, f.MimeType)
	}
	return nil
}

var _ steward.Frontend = (*Console)(nil)
