package cli

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	// Local development keeps credentials in .env; absence is fine.
	_ = godotenv.Load()

	cmd := &cli.Command{
		Name:  "xmcp",
		Usage: "X mention agent with MCP tool dispatch",
		Commands: []*cli.Command{
			serveCommand(),
			listenCommand(),
			dispatchCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
