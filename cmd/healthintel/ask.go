package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"healthintel.local/gateway/internal/client"
	"healthintel.local/gateway/internal/config"
)

const pollMessage = "Is the analysis ready?"

type askOptions struct {
	sessionID string
	action    string
	wait      bool
	poll      time.Duration
	raw       bool
}

func newAskCmd() *cobra.Command {
	opts := askOptions{}
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message to a running analysis server",
		Example: `  healthintel ask --action start
  healthintel ask --session demo "Market analysis of California hospitals over the last year"
  healthintel ask --session demo --wait "status?"`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.CLIFromYAMLAndEnv()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return runAsk(cmd.Context(), cmd.OutOrStdout(), cfg, opts, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session id (random when empty)")
	cmd.Flags().StringVar(&opts.action, "action", "chat", "start | chat | profile | analyze | reset")
	cmd.Flags().BoolVar(&opts.wait, "wait", false, "poll until a running analysis completes")
	cmd.Flags().DurationVar(&opts.poll, "poll", 3*time.Second, "poll interval for --wait")
	cmd.Flags().BoolVar(&opts.raw, "raw", false, "print markdown without rendering")
	return cmd
}

func runAsk(ctx context.Context, out io.Writer, cfg config.CLIConfig, opts askOptions, message string) error {
	c, err := client.New(client.Config{ServerURL: cfg.ServerURL, Transport: cfg.Transport, Timeout: cfg.Timeout})
	if err != nil {
		return err
	}
	defer c.Close()

	sessionID := strings.TrimSpace(opts.sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
		fmt.Fprintf(out, "session: %s\n", sessionID)
	}

	resp, err := c.Send(ctx, client.Request{SessionID: sessionID, Action: opts.action, UserMessage: message})
	if err != nil {
		return err
	}
	if err := render(out, resp.Text(), cfg.Style, opts.raw); err != nil {
		return err
	}

	if opts.wait && resp.Analyzing {
		resp, err = c.WaitForResult(ctx, sessionID, pollMessage, opts.poll)
		if err != nil {
			return err
		}
		return render(out, resp.Text(), cfg.Style, opts.raw)
	}
	return nil
}

func render(out io.Writer, markdown, style string, raw bool) error {
	if raw || strings.TrimSpace(markdown) == "" {
		_, err := fmt.Fprintln(out, markdown)
		return err
	}

	styleOpt := glamour.WithAutoStyle()
	if style != "" && style != config.DefaultCLIStyle {
		styleOpt = glamour.WithStylePath(style)
	}
	renderer, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(100))
	if err != nil {
		return fmt.Errorf("init markdown renderer: %w", err)
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = fmt.Fprint(out, rendered)
	return err
}
