package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/myxstack/xmcp/pkg/adapter"
	"github.com/myxstack/xmcp/pkg/repository"
	"github.com/myxstack/xmcp/pkg/service/mcp"
	"github.com/myxstack/xmcp/pkg/tool"
	"github.com/myxstack/xmcp/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values collected from flags and environment
type config struct {
	logLevel string

	// Stores
	timelinePath string
	hubPath      string

	// Progress files (per-loop)
	cursorPath string
	ledgerPath string

	// Services
	timelineURL  string
	mcpServerURL string
	mcpConfig    string

	// Reasoner
	geminiAPIKey string
	geminiModel  string

	// Feed
	xBearerToken string
}

// globalFlags returns flags shared by every command
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("XMCP_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
	}
}

// storeFlags returns flags for the JSON document stores
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "timeline-store",
			Usage:       "Path to the timeline JSON store",
			Value:       "~/.xmcp/timeline_store.json",
			Sources:     cli.EnvVars("XMCP_TIMELINE_STORE_PATH"),
			Destination: &cfg.timelinePath,
		},
		&cli.StringFlag{
			Name:        "a2a-store",
			Usage:       "Path to the agent-to-agent JSON store",
			Value:       "~/.xmcp/a2a_store.json",
			Sources:     cli.EnvVars("XMCP_A2A_STORE_PATH"),
			Destination: &cfg.hubPath,
		},
	}
}

// progressFlags returns flags for the cursor and ledger files of a loop
func progressFlags(cfg *config, name string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "cursor",
			Usage:       "Path to the durable cursor file",
			Value:       "~/.xmcp/" + name + "_cursor.txt",
			Sources:     cli.EnvVars("XMCP_" + strings.ToUpper(name) + "_CURSOR_PATH"),
			Destination: &cfg.cursorPath,
		},
		&cli.StringFlag{
			Name:        "ledger",
			Usage:       "Path to the processed-ID ledger file",
			Value:       "~/.xmcp/" + name + "_ledger.txt",
			Sources:     cli.EnvVars("XMCP_" + strings.ToUpper(name) + "_LEDGER_PATH"),
			Destination: &cfg.ledgerPath,
		},
	}
}

// reasonerFlags returns flags for the hosted reasoning call
func reasonerFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Reasoning model identifier",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("XMCP_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "mcp-server-url",
			Usage:       "MCP server URL providing tools to the model",
			Value:       "http://127.0.0.1:8000/mcp",
			Sources:     cli.EnvVars("MCP_SERVER_URL"),
			Destination: &cfg.mcpServerURL,
		},
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "Optional YAML file listing additional MCP servers",
			Sources:     cli.EnvVars("XMCP_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
	}
}

// loggerContext builds the command logger and attaches it to the context
func (cfg *config) loggerContext(ctx context.Context) context.Context {
	logger := logging.New(cfg.logLevel, os.Stdout)
	logging.SetDefault(logger)
	return logging.With(ctx, logger)
}

// expandPath resolves a leading ~ against the user's home directory
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// newTimeline creates the timeline store instance
func (cfg *config) newTimeline() (repository.Timeline, error) {
	store, err := repository.NewTimeline(expandPath(cfg.timelinePath))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create timeline store")
	}
	return store, nil
}

// newHub creates the agent hub store instance
func (cfg *config) newHub() (repository.Hub, error) {
	store, err := repository.NewHub(expandPath(cfg.hubPath))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create hub store")
	}
	return store, nil
}

// newProgress creates the cursor and ledger instances for a loop
func (cfg *config) newProgress() (*repository.Cursor, *repository.Ledger, error) {
	cursor, err := repository.NewCursor(expandPath(cfg.cursorPath))
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to open cursor")
	}
	ledger, err := repository.NewLedger(expandPath(cfg.ledgerPath))
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to open ledger")
	}
	return cursor, ledger, nil
}

// newReasoner creates the Gemini reasoning adapter
func (cfg *config) newReasoner(ctx context.Context) (adapter.Reasoner, error) {
	if cfg.geminiAPIKey == "" {
		return nil, goerr.New("gemini-api-key is required")
	}
	client, err := adapter.NewGemini(ctx, cfg.geminiAPIKey, adapter.WithModel(cfg.geminiModel))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create reasoner")
	}
	return client, nil
}

// newFeed creates the X API client
func (cfg *config) newFeed() (adapter.Feed, error) {
	if cfg.xBearerToken == "" {
		return nil, goerr.New("x-bearer-token is required")
	}
	feed, err := adapter.NewX(cfg.xBearerToken)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create feed client")
	}
	return feed, nil
}

// newTimelineAPI creates the timeline service client
func (cfg *config) newTimelineAPI() (*adapter.TimelineAPI, error) {
	api, err := adapter.NewTimelineAPI(cfg.timelineURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create timeline API client")
	}
	return api, nil
}

// newToolRegistry connects the configured MCP servers and wraps their tools
// in a registry. An empty registry is returned when nothing is configured
// or reachable; the loops then run tool-less. The returned func closes all
// provider sessions and must be called when the loop exits.
func (cfg *config) newToolRegistry(ctx context.Context) (*tool.Registry, func()) {
	logger := logging.From(ctx)
	var tools []tool.Tool
	var providers []*mcp.Provider

	if provider, err := mcp.ConnectURL(ctx, cfg.mcpServerURL); err != nil {
		logger.Warn("failed to connect to MCP server", "url", cfg.mcpServerURL, "error", err)
	} else if provider != nil {
		tools = append(tools, provider)
		providers = append(providers, provider)
	}

	if provider, err := mcp.LoadAndConnect(ctx, cfg.mcpConfig); err != nil {
		logger.Warn("failed to load MCP config", "path", cfg.mcpConfig, "error", err)
	} else if provider != nil {
		tools = append(tools, provider)
		providers = append(providers, provider)
	}

	closeAll := func() {
		for _, p := range providers {
			if err := p.Close(); err != nil {
				logger.Warn("failed to close MCP sessions", "error", err)
			}
		}
	}
	return tool.New(tools...), closeAll
}

// durationFlag is a small helper for interval-style flags
func durationFlag(name, usage, env string, value time.Duration, dst *time.Duration) cli.Flag {
	return &cli.DurationFlag{
		Name:        name,
		Usage:       usage,
		Value:       value,
		Sources:     cli.EnvVars(env),
		Destination: dst,
	}
}
