package cli

import (
	"context"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/myxstack/xmcp/pkg/service/mcp"
	"github.com/myxstack/xmcp/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func mcpCommand() *cli.Command {
	var (
		cfg   config
		addr  string
		stdio bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address for the streamable HTTP transport",
			Value:       ":8000",
			Sources:     cli.EnvVars("XMCP_MCP_ADDR"),
			Destination: &addr,
		},
		&cli.BoolFlag{
			Name:        "stdio",
			Usage:       "Serve over stdio instead of HTTP",
			Destination: &stdio,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)

	return &cli.Command{
		Name:  "mcp",
		Usage: "Run the MCP server exposing timeline and agent tools",
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

			srv := mcp.NewServer(timeline, hub)

			if stdio {
				return srv.Run(ctx, &mcpsdk.StdioTransport{})
			}

			// The SDK hands back an http.Handler, so the MCP endpoint is
			// served with the standard HTTP server.
			mux := http.NewServeMux()
			mux.Handle("/mcp", srv.Handler())
			mux.Handle("/mcp/", srv.Handler())

			logging.From(ctx).Info("MCP server listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				return goerr.Wrap(err, "MCP server stopped")
			}
			return nil
		},
	}
}
