package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/trickstertwo/xproxy"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	Content       string
	FireAndForget bool
	Envelope      bool
	Timeout       time.Duration
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <action>",
		Short: "Send one request and print the reply",
		Long: `Send one request and print the reply content.

Example:
  xproxy send ping
  xproxy send echo --content '{"hello":"world"}' --envelope`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Content, "content", "", "request content as JSON")
	cmd.Flags().BoolVar(&opts.FireAndForget, "fire-and-forget", false, "do not wait for a reply")
	cmd.Flags().BoolVar(&opts.Envelope, "envelope", false, "print the whole reply envelope")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "overrides the configured timeout")

	return cmd
}

func runSend(cmd *cobra.Command, opts *SendOptions, action string) error {
	var content any
	if opts.Content != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(opts.Content), &raw); err != nil {
			return WrapExitError(ExitCommandError, "invalid --content JSON", err)
		}
		content = raw
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	logger := newLogger(cfg.Log)

	ch, err := openChannels(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "open channels", err)
	}
	defer ch.Close(context.Background())

	proxy, err := newProxy(cfg, ch, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "build proxy", err)
	}
	defer proxy.Close(context.Background())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pl := xproxy.Payload{Action: action, Content: content, FireAndForget: opts.FireAndForget}
	if opts.FireAndForget {
		if _, err := proxy.SendMessage(ctx, pl); err != nil {
			return WrapExitError(ExitCommandError, "send", err)
		}
		return nil
	}

	if err := proxy.StartListening(ctx); err != nil {
		return WrapExitError(ExitCommandError, "listen for replies", err)
	}
	env, err := proxy.Request(ctx, pl)
	if err != nil {
		var rerr *xproxy.RemoteError
		if errors.As(err, &rerr) {
			return WrapExitError(ExitFailure, "remote error", rerr)
		}
		return WrapExitError(ExitFailure, "request", err)
	}

	out := cmd.OutOrStdout()
	if opts.Envelope {
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	if len(env.Message.Content) > 0 {
		_, err = fmt.Fprintln(out, string(env.Message.Content))
	}
	return err
}
