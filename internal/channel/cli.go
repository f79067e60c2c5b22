package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"vigil/internal/domain"
)

// CLI implements domain.Feed for an interactive terminal session. It is
// mostly useful for trying out the agent without any platform credentials.
type CLI struct {
	bus    domain.MessageBus
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	seq    int
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start reads lines from the terminal and publishes them as observed
// messages. It blocks until EOF, /quit, or context cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound(domain.PlatformCLI, func(msg domain.Outbound) {
		_, _ = fmt.Fprintln(c.out)
		_, _ = fmt.Fprintln(c.out, "--- vigil ---")
		_, _ = fmt.Fprintln(c.out, msg.Content)
		_, _ = fmt.Fprintln(c.out, "-------------")
		_, _ = fmt.Fprint(c.out, "You> ")
	})

	_, _ = fmt.Fprintln(c.out, "vigil CLI feed. Type a message and press Enter. /quit exits.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("cli feed quitting on user request")
			return nil
		}

		c.seq++
		c.bus.Publish(domain.Message{
			ID:        strconv.Itoa(c.seq),
			Platform:  domain.PlatformCLI,
			ChannelID: "direct",
			Sender:    "user",
			Content:   line,
			Timestamp: time.Now(),
		})
	}
}

func (c *CLI) Stop() error { return nil }
