package cli

import (
	"context"
	"time"

	"github.com/myxstack/xmcp/pkg/model"
	"github.com/myxstack/xmcp/pkg/usecase/dispatch"
	"github.com/urfave/cli/v3"
)

func dispatchCommand() *cli.Command {
	var (
		cfg      config
		agentID  string
		interval time.Duration
		lookback time.Duration
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "agent-id",
			Usage:       "Agent identity whose inbox is polled",
			Value:       string(model.AgentOrchestrator),
			Sources:     cli.EnvVars("MCP_DISPATCH_AGENT_ID"),
			Destination: &agentID,
		},
		&cli.StringFlag{
			Name:        "timeline-url",
			Usage:       "Base URL of the timeline service",
			Value:       "http://127.0.0.1:8080",
			Sources:     cli.EnvVars("TIMELINE_API_URL"),
			Destination: &cfg.timelineURL,
		},
		durationFlag("interval", "Polling interval", "XMCP_DISPATCH_INTERVAL", 5*time.Second, &interval),
		durationFlag("lookback", "Initial lookback window when no cursor exists", "XMCP_LOOKBACK", 10*time.Minute, &lookback),
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, progressFlags(&cfg, "dispatch")...)
	flags = append(flags, reasonerFlags(&cfg)...)

	return &cli.Command{
		Name:  "dispatch",
		Usage: "Poll timeline action messages and execute them with MCP tools",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.loggerContext(ctx)

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

			loop, err := dispatch.New(dispatch.NewInput{
				Hub:      api,
				Reasoner: reasoner,
				Tools:    tools,
				Cursor:   cursor,
				Ledger:   ledger,
				Config: dispatch.Config{
					AgentID:  model.AgentID(agentID),
					Interval: interval,
					Lookback: lookback,
				},
			})
			if err != nil {
				return err
			}
			return loop.Run(ctx)
		},
	}
}
