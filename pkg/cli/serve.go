package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/myxstack/xmcp/pkg/model"
	"github.com/myxstack/xmcp/pkg/server"
	"github.com/myxstack/xmcp/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg         config
		addr        string
		actionAgent string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       ":8080",
			Sources:     cli.EnvVars("XMCP_TIMELINE_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "action-agent",
			Usage:       "Agent that receives timeline action messages",
			Value:       string(model.AgentOrchestrator),
			Sources:     cli.EnvVars("TIMELINE_ACTION_AGENT"),
			Destination: &actionAgent,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the timeline and agent-to-agent HTTP API",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.loggerContext(ctx)

			timeline, err := cfg.newTimeline()
			if err != nil {
				return err
			}
			hub, err := cfg.newHub()
			if err != nil {
				return err
			}

			srv := server.New(server.Config{
				Timeline:    timeline,
				Hub:         hub,
				ActionAgent: model.AgentID(actionAgent),
			})

			logging.From(ctx).Info("timeline service listening", "addr", addr)
			if err := srv.Listen(addr); err != nil {
				return goerr.Wrap(err, "timeline service stopped")
			}
			return nil
		},
	}
}
