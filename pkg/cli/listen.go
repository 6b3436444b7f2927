package cli

import (
	"context"
	"time"

	"github.com/myxstack/xmcp/pkg/usecase/listener"
	"github.com/urfave/cli/v3"
)

func listenCommand() *cli.Command {
	var (
		cfg             config
		ownerID         string
		interval        time.Duration
		throttleBackoff time.Duration
		lookback        time.Duration
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "x-bearer-token",
			Usage:       "X API bearer token",
			Sources:     cli.EnvVars("X_BEARER_TOKEN"),
			Destination: &cfg.xBearerToken,
		},
		&cli.StringFlag{
			Name:        "timeline-url",
			Usage:       "Base URL of the timeline service",
			Value:       "http://127.0.0.1:8080",
			Sources:     cli.EnvVars("TIMELINE_API_URL"),
			Destination: &cfg.timelineURL,
		},
		&cli.StringFlag{
			Name:        "owner",
			Usage:       "Timeline user that owns recorded items",
			Value:       "default",
			Sources:     cli.EnvVars("XMCP_TIMELINE_OWNER"),
			Destination: &ownerID,
		},
		durationFlag("interval", "Polling interval", "XMCP_LISTEN_INTERVAL", 60*time.Second, &interval),
		durationFlag("throttle-backoff", "Backoff after a throttled fetch", "XMCP_THROTTLE_BACKOFF", 15*time.Minute, &throttleBackoff),
		durationFlag("lookback", "Initial lookback window when no cursor exists", "XMCP_LOOKBACK", 10*time.Minute, &lookback),
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, progressFlags(&cfg, "listen")...)
	flags = append(flags, reasonerFlags(&cfg)...)

	return &cli.Command{
		Name:  "listen",
		Usage: "Poll X mentions and process them through the reasoning model",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.loggerContext(ctx)

			feed, err := cfg.newFeed()
			if err != nil {
				return err
			}
			reasoner, err := cfg.newReasoner(ctx)
			if err != nil {
				return err
			}
			api, err := cfg.newTimelineAPI()
			if err != nil {
				return err
			}
			cursor, ledger, err := cfg.newProgress()
			if err != nil {
				return err
			}
			tools, closeTools := cfg.newToolRegistry(ctx)
			defer closeTools()

			loop, err := listener.New(listener.NewInput{
				Feed:     feed,
				Reasoner: reasoner,
				Recorder: api,
				Tools:    tools,
				Cursor:   cursor,
				Ledger:   ledger,
				Config: listener.Config{
					Interval:        interval,
					ThrottleBackoff: throttleBackoff,
					Lookback:        lookback,
					OwnerID:         ownerID,
					MCPServerURL:    cfg.mcpServerURL,
				},
			})
			if err != nil {
				return err
			}
			return loop.Run(ctx)
		},
	}
}
