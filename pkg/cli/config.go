package cli

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/adapter"
	"github.com/m-mizutani/pika/pkg/agent/specialist"
	"github.com/m-mizutani/pika/pkg/credential"
	"github.com/m-mizutani/pika/pkg/metrics"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/oracle"
	"github.com/m-mizutani/pika/pkg/report"
	"github.com/m-mizutani/pika/pkg/repository"
	"github.com/m-mizutani/pika/pkg/routing"
	"github.com/m-mizutani/pika/pkg/service/gateway"
	"github.com/m-mizutani/pika/pkg/tracing"
	"github.com/m-mizutani/pika/pkg/usecase/investigation"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
)

const memoryRetryInterval = 250 * time.Millisecond

// config holds configuration values
type config struct {
	// Gateway
	gatewayURL  string
	mcpConfig   string
	toolTimeout time.Duration

	// Credentials
	accessToken  string
	tokenFile    string
	tokenExpiry  time.Duration
	discoveryURL string
	clientID     string
	clientSecret string
	scopes       []string

	// Identity
	actorID string

	// Memory
	memoryBackend     string
	project           string
	database          string
	memoryDelay       time.Duration
	memoryRetryWindow time.Duration

	// LLM
	llm             string
	geminiProject   string
	geminiLocation  string
	geminiModel     string
	embeddingModel  string
	anthropicAPIKey string
	claudeModel     string

	// Budgets
	maxToolCalls         int64
	agentTimeout         time.Duration
	investigationTimeout time.Duration

	// Report
	reportDir    string
	reportBucket string
	reportPrefix string

	// Routing
	routingPolicy string

	// Observability
	logLevel     string
	metricsAddr  string
	otlpEndpoint string
	otlpInsecure bool
}

// gatewayFlags returns flags of the tool gateway and its credentials
func gatewayFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gateway-url",
			Usage:       "Streamable HTTP endpoint of the MCP tool gateway",
			Sources:     cli.EnvVars("PIKA_GATEWAY_URL"),
			Destination: &cfg.gatewayURL,
		},
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "YAML file listing MCP servers (used instead of --gateway-url)",
			Sources:     cli.EnvVars("PIKA_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
		&cli.DurationFlag{
			Name:        "tool-timeout",
			Usage:       "Timeout of one tool invocation",
			Value:       gateway.DefaultCallTimeout,
			Sources:     cli.EnvVars("PIKA_TOOL_TIMEOUT"),
			Destination: &cfg.toolTimeout,
		},
		&cli.StringFlag{
			Name:        "access-token",
			Usage:       "Bearer token for the tool gateway",
			Sources:     cli.EnvVars("PIKA_ACCESS_TOKEN"),
			Destination: &cfg.accessToken,
		},
		&cli.StringFlag{
			Name:        "token-file",
			Usage:       "File holding the bearer token; re-read when the gateway rejects it",
			Sources:     cli.EnvVars("PIKA_TOKEN_FILE"),
			Destination: &cfg.tokenFile,
		},
		&cli.DurationFlag{
			Name:        "token-expiry",
			Usage:       "Validity of the bearer token from startup (0 means unchecked)",
			Sources:     cli.EnvVars("PIKA_TOKEN_EXPIRY"),
			Destination: &cfg.tokenExpiry,
		},
		&cli.StringFlag{
			Name:        "discovery-url",
			Usage:       "OpenID discovery URL used to obtain tokens with client credentials",
			Sources:     cli.EnvVars("PIKA_DISCOVERY_URL"),
			Destination: &cfg.discoveryURL,
		},
		&cli.StringFlag{
			Name:        "client-id",
			Usage:       "OAuth2 client ID",
			Sources:     cli.EnvVars("PIKA_CLIENT_ID"),
			Destination: &cfg.clientID,
		},
		&cli.StringFlag{
			Name:        "client-secret",
			Usage:       "OAuth2 client secret",
			Sources:     cli.EnvVars("PIKA_CLIENT_SECRET"),
			Destination: &cfg.clientSecret,
		},
		&cli.StringSliceFlag{
			Name:        "scope",
			Usage:       "OAuth2 scope (repeatable)",
			Sources:     cli.EnvVars("PIKA_SCOPES"),
			Destination: &cfg.scopes,
		},
	}
}

// identityFlags returns the flag naming the requesting actor
func identityFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "actor-id",
			Aliases:     []string{"u"},
			Usage:       "Identity whose memory and preferences are used",
			Sources:     cli.EnvVars("PIKA_ACTOR_ID"),
			Destination: &cfg.actorID,
		},
	}
}

// memoryFlags returns flags of the memory store
func memoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "memory-backend",
			Usage:       "Memory store backend: firestore or memory",
			Value:       "firestore",
			Sources:     cli.EnvVars("PIKA_MEMORY_BACKEND"),
			Destination: &cfg.memoryBackend,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.DurationFlag{
			Name:        "memory-delay",
			Usage:       "Propagation delay of the in-process memory store",
			Sources:     cli.EnvVars("PIKA_MEMORY_DELAY"),
			Destination: &cfg.memoryDelay,
		},
		&cli.DurationFlag{
			Name:        "memory-retry-window",
			Usage:       "How long an empty memory retrieval is retried (0 disables)",
			Sources:     cli.EnvVars("PIKA_MEMORY_RETRY_WINDOW"),
			Destination: &cfg.memoryRetryWindow,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "llm",
			Usage:       "Reasoning model provider of the specialists: gemini or claude",
			Value:       "gemini",
			Sources:     cli.EnvVars("PIKA_LLM"),
			Destination: &cfg.llm,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model for reasoning",
			Value:       adapter.DefaultGenerativeModel,
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Gemini model for memory embeddings",
			Value:       adapter.DefaultEmbeddingModel,
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model for reasoning",
			Value:       adapter.DefaultClaudeModel,
			Sources:     cli.EnvVars("PIKA_CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
	}
}

// budgetFlags returns flags bounding tool calls and time
func budgetFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-tool-calls",
			Usage:       "Tool-call budget of one specialist",
			Value:       specialist.DefaultMaxToolCalls,
			Sources:     cli.EnvVars("PIKA_MAX_TOOL_CALLS"),
			Destination: &cfg.maxToolCalls,
		},
		&cli.DurationFlag{
			Name:        "agent-timeout",
			Usage:       "Wall-clock budget of one specialist",
			Value:       specialist.DefaultTimeout,
			Sources:     cli.EnvVars("PIKA_AGENT_TIMEOUT"),
			Destination: &cfg.agentTimeout,
		},
		&cli.DurationFlag{
			Name:        "investigation-timeout",
			Usage:       "Wall-clock budget of the delegation phase",
			Value:       investigation.DefaultTimeout,
			Sources:     cli.EnvVars("PIKA_INVESTIGATION_TIMEOUT"),
			Destination: &cfg.investigationTimeout,
		},
	}
}

// reportFlags returns flags of the report store
func reportFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "report-dir",
			Usage:       "Directory for report files",
			Value:       "reports",
			Sources:     cli.EnvVars("PIKA_REPORT_DIR"),
			Destination: &cfg.reportDir,
		},
		&cli.StringFlag{
			Name:        "report-bucket",
			Usage:       "Cloud Storage bucket for reports (overrides --report-dir)",
			Sources:     cli.EnvVars("PIKA_REPORT_BUCKET"),
			Destination: &cfg.reportBucket,
		},
		&cli.StringFlag{
			Name:        "report-prefix",
			Usage:       "Object prefix in the report bucket",
			Value:       "reports",
			Sources:     cli.EnvVars("PIKA_REPORT_PREFIX"),
			Destination: &cfg.reportPrefix,
		},
	}
}

// routingFlags returns the routing policy flag
func routingFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "routing-policy",
			Usage:       "Directory of Rego files defining data.route.domains",
			Sources:     cli.EnvVars("PIKA_ROUTING_POLICY"),
			Destination: &cfg.routingPolicy,
		},
	}
}

// observabilityFlags returns flags of logging, metrics and tracing
func observabilityFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "Log level: debug, info, warn or error",
			Value:       "info",
			Sources:     cli.EnvVars("PIKA_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "metrics-addr",
			Usage:       "Address serving Prometheus metrics, e.g. :9090 (empty disables)",
			Sources:     cli.EnvVars("PIKA_METRICS_ADDR"),
			Destination: &cfg.metricsAddr,
		},
		&cli.StringFlag{
			Name:        "otlp-endpoint",
			Usage:       "OTLP gRPC endpoint for traces (empty disables)",
			Sources:     cli.EnvVars("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Destination: &cfg.otlpEndpoint,
		},
		&cli.BoolFlag{
			Name:        "otlp-insecure",
			Usage:       "Disable TLS for the OTLP endpoint",
			Sources:     cli.EnvVars("PIKA_OTLP_INSECURE"),
			Destination: &cfg.otlpInsecure,
		},
	}
}

// investigateFlags returns every flag needed to run an investigation
func investigateFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, gatewayFlags(cfg)...)
	flags = append(flags, identityFlags(cfg)...)
	flags = append(flags, memoryFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, budgetFlags(cfg)...)
	flags = append(flags, reportFlags(cfg)...)
	flags = append(flags, routingFlags(cfg)...)
	flags = append(flags, observabilityFlags(cfg)...)
	return flags
}

// newLogger validates the log level and creates the logger
func (cfg *config) newLogger(w io.Writer) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.logLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(level, w), nil
}

// requireActor returns the actor ID or an error when it is missing
func (cfg *config) requireActor() (model.ActorID, error) {
	actor := strings.TrimSpace(cfg.actorID)
	if actor == "" {
		return "", goerr.New("actor-id is required")
	}
	return model.ActorID(actor), nil
}

// newCredential creates the token provider: client credentials when a discovery URL is
// set, otherwise a static token
func (cfg *config) newCredential(ctx context.Context) (credential.Provider, error) {
	if cfg.discoveryURL != "" {
		cc, err := credential.NewClientCredentials(ctx, credential.ClientCredentialsInput{
			DiscoveryURL: cfg.discoveryURL,
			ClientID:     cfg.clientID,
			ClientSecret: cfg.clientSecret,
			Scopes:       cfg.scopes,
		})
		if err != nil {
			return nil, goerr.Wrap(err, "failed to set up client credentials")
		}
		return cc, nil
	}

	var opts []credential.StaticOption
	if cfg.tokenExpiry > 0 {
		opts = append(opts, credential.WithExpiry(time.Now().Add(cfg.tokenExpiry)))
	}
	if cfg.tokenFile != "" {
		opts = append(opts, credential.WithTokenFile(cfg.tokenFile, cfg.tokenExpiry))
	}
	static, err := credential.NewStatic(cfg.accessToken, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "access-token, token-file or discovery-url is required")
	}
	return static, nil
}

// newGateway connects to the MCP servers. The returned transport refreshes the
// credential when the gateway rejects it; it is nil when only stdio servers are
// configured, since those need no credential.
func (cfg *config) newGateway(ctx context.Context) (*gateway.Client, *credential.Transport, error) {
	servers, err := cfg.gatewayServers()
	if err != nil {
		return nil, nil, err
	}

	opts := []gateway.Option{gateway.WithCallTimeout(cfg.toolTimeout)}
	var transport *credential.Transport
	if servers.UsesAuth() {
		provider, err := cfg.newCredential(ctx)
		if err != nil {
			return nil, nil, err
		}
		transport = credential.NewTransport(nil, provider)
		opts = append(opts, gateway.WithAuth(transport))
	}
	client := gateway.New(opts...)

	if err := gateway.ConnectAll(ctx, client, servers); err != nil {
		_ = client.Close()
		return nil, nil, goerr.Wrap(err, "failed to connect to tool gateway")
	}
	return client, transport, nil
}

func (cfg *config) gatewayServers() (*gateway.Config, error) {
	switch {
	case cfg.mcpConfig != "":
		return gateway.LoadConfig(cfg.mcpConfig)
	case cfg.gatewayURL != "":
		return &gateway.Config{Servers: []gateway.ServerConfig{{Name: "gateway", Transport: "http", URL: cfg.gatewayURL}}}, nil
	default:
		return nil, goerr.New("gateway-url or mcp-config is required")
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (*adapter.GeminiClient, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	return adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.geminiModel),
		adapter.WithEmbeddingModel(cfg.embeddingModel),
	)
}

// newOracle creates the reasoning model shared by the specialists
func (cfg *config) newOracle(ctx context.Context) (oracle.Oracle, error) {
	switch cfg.llm {
	case "gemini":
		g, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		return oracle.NewGemini(g), nil

	case "claude":
		c, err := adapter.NewClaude(cfg.anthropicAPIKey, adapter.WithClaudeModel(cfg.claudeModel))
		if err != nil {
			return nil, goerr.Wrap(err, "anthropic-api-key is required for --llm claude")
		}
		return oracle.NewClaude(c), nil

	default:
		return nil, goerr.New("unsupported llm", goerr.V("llm", cfg.llm))
	}
}

// newMemory creates the memory store. closeFn releases backend connections.
func (cfg *config) newMemory(ctx context.Context) (mem repository.Memory, closeFn func(), err error) {
	switch cfg.memoryBackend {
	case "memory":
		mem = repository.NewInMemory(repository.WithPropagationDelay(cfg.memoryDelay))
		closeFn = func() {}

	case "firestore":
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required for the firestore memory backend")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required")
		}

		var opts []repository.FirestoreOption
		if cfg.geminiProject != "" {
			g, err := cfg.newGemini(ctx)
			if err != nil {
				return nil, nil, err
			}
			opts = append(opts, repository.WithEmbedder(g))
		}

		fs, err := repository.NewFirestore(ctx, cfg.project, cfg.database, opts...)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create repository")
		}
		mem = fs
		closeFn = func() {
			if err := fs.Close(); err != nil {
				logging.From(ctx).Warn("failed to close firestore", "error", err)
			}
		}

	default:
		return nil, nil, goerr.New("unsupported memory backend", goerr.V("backend", cfg.memoryBackend))
	}

	if cfg.memoryRetryWindow < 0 {
		return nil, nil, goerr.New("memory-retry-window must not be negative")
	}
	return repository.WithRetry(mem, cfg.memoryRetryWindow, memoryRetryInterval), closeFn, nil
}

// newReportStore creates the bucket store when a bucket is set, else the file store
func (cfg *config) newReportStore(ctx context.Context) (report.Store, error) {
	if cfg.reportBucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.reportBucket)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return report.NewBucketStore(storage, cfg.reportPrefix), nil
	}
	return report.NewFileStore(cfg.reportDir)
}

// newRouter creates the keyword router, wrapped by the Rego policy when configured
func (cfg *config) newRouter(ctx context.Context) (routing.Router, error) {
	keyword := routing.NewKeyword()
	if cfg.routingPolicy == "" {
		return keyword, nil
	}
	return routing.NewPolicy(ctx, cfg.routingPolicy, keyword)
}

// newAgents creates one specialist per domain sharing gateway and oracle
func (cfg *config) newAgents(gw *gateway.Client, o oracle.Oracle, m *metrics.Metrics) ([]investigation.Specialist, error) {
	var agents []investigation.Specialist
	for _, d := range model.AllDomains() {
		a, err := specialist.New(d, gw, o,
			specialist.WithMaxToolCalls(int(cfg.maxToolCalls)),
			specialist.WithTimeout(cfg.agentTimeout),
			specialist.WithMetrics(m),
		)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// newMetrics creates metrics registered on a fresh registry and serves them when an
// address is configured
func (cfg *config) newMetrics(ctx context.Context) *metrics.Metrics {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.metricsAddr, reg); err != nil {
				logging.From(ctx).Error("metrics server stopped", "error", err)
			}
		}()
	}
	return m
}

// newTracing installs the OTLP tracer provider when an endpoint is configured
func (cfg *config) newTracing(ctx context.Context) (*tracing.Provider, error) {
	return tracing.Setup(ctx, tracing.Config{
		Endpoint: cfg.otlpEndpoint,
		Insecure: cfg.otlpInsecure,
		Version:  version,
	})
}
