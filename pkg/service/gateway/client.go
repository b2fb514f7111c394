package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/pika/pkg/credential"
	"github.com/m-mizutani/pika/pkg/model"
	"github.com/m-mizutani/pika/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// DefaultCallTimeout bounds a single tool invocation
	DefaultCallTimeout = 30 * time.Second

	// DefaultConnectTimeout bounds transport setup and the MCP handshake
	DefaultConnectTimeout = 30 * time.Second

	clientName    = "pika"
	clientVersion = "0.1.0"
)

// Client discovers and invokes tools on one or more MCP servers. It is safe for
// concurrent use; each server session multiplexes concurrent calls.
type Client struct {
	mu      sync.RWMutex
	servers map[string]*server
	catalog map[string]*catalogEntry

	auth        *credential.Transport
	callTimeout time.Duration
}

type server struct {
	cfg     ServerConfig
	session *mcp.ClientSession
}

type catalogEntry struct {
	server string
	tool   *model.ToolDescriptor
	schema *jsonschema.Resolved
}

// ServerConfig represents configuration for a single MCP server
type ServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "http", "sse" or "stdio"
	URL       string            `yaml:"url"`
	Command   []string          `yaml:"command"`
	Env       map[string]string `yaml:"env"`
	// Domain tags every tool of this server unless the tool declares its own
	Domain string `yaml:"domain"`
}

func (s ServerConfig) usesAuth() bool {
	return s.Transport != "stdio"
}

// Option configures Client
type Option func(*Client)

// WithCallTimeout sets the per-invocation timeout
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

// WithAuth attaches bearer tokens to http and sse transports
func WithAuth(t *credential.Transport) Option {
	return func(c *Client) {
		c.auth = t
	}
}

// New creates a gateway client without any connected server
func New(opts ...Option) *Client {
	c := &Client{
		servers:     make(map[string]*server),
		catalog:     make(map[string]*catalogEntry),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect connects to an MCP server and loads its tool declarations
func (c *Client) Connect(ctx context.Context, cfg ServerConfig) error {
	c.mu.RLock()
	_, exists := c.servers[cfg.Name]
	c.mu.RUnlock()
	if exists {
		return goerr.New("server already connected", goerr.V("name", cfg.Name))
	}

	if cfg.Domain != "" {
		if _, err := model.ParseDomain(cfg.Domain); err != nil {
			return goerr.Wrap(err, "invalid server domain", goerr.V("server", cfg.Name))
		}
	}

	transport, err := c.newTransport(cfg)
	if err != nil {
		return goerr.Wrap(err, "failed to create transport", goerr.V("server", cfg.Name))
	}

	connectCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()

	mcpClient := mcp.NewClient(&mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}, nil)

	session, err := mcpClient.Connect(connectCtx, transport, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to connect to MCP server", goerr.V("server", cfg.Name))
	}

	srv := &server{cfg: cfg, session: session}
	tools, err := c.listServerTools(connectCtx, srv)
	if err != nil {
		_ = session.Close()
		return goerr.Wrap(err, "failed to list tools", goerr.V("server", cfg.Name))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers[cfg.Name] = srv
	c.register(cfg.Name, tools)

	logging.From(ctx).Debug("connected to MCP server",
		"server", cfg.Name,
		"transport", cfg.Transport,
		"tools", len(tools))
	return nil
}

func (c *Client) newTransport(cfg ServerConfig) (mcp.Transport, error) {
	switch cfg.Transport {
	case "stdio":
		if len(cfg.Command) == 0 {
			return nil, goerr.New("command is required for stdio transport")
		}
		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		return &mcp.CommandTransport{Command: cmd}, nil

	case "http", "":
		if cfg.URL == "" {
			return nil, goerr.New("url is required for http transport")
		}
		return &mcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: c.httpClient(),
		}, nil

	case "sse":
		if cfg.URL == "" {
			return nil, goerr.New("url is required for sse transport")
		}
		return &mcp.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: c.httpClient(),
		}, nil

	default:
		return nil, goerr.New("unsupported transport",
			goerr.V("transport", cfg.Transport),
			goerr.V("supported", []string{"http", "sse", "stdio"}))
	}
}

func (c *Client) httpClient() *http.Client {
	if c.auth == nil {
		return http.DefaultClient
	}
	return c.auth.Client()
}

// listServerTools pages through the server's tool list and converts it to descriptors
func (c *Client) listServerTools(ctx context.Context, srv *server) ([]*catalogEntry, error) {
	var entries []*catalogEntry
	params := &mcp.ListToolsParams{}
	for {
		res, err := srv.session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			entry, ok := c.toEntry(ctx, srv, t)
			if ok {
				entries = append(entries, entry)
			}
		}
		if res.NextCursor == "" {
			break
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
	return entries, nil
}

func (c *Client) toEntry(ctx context.Context, srv *server, t *mcp.Tool) (*catalogEntry, bool) {
	logger := logging.From(ctx)

	domain, ok := resolveDomain(t, srv.cfg.Domain)
	if !ok {
		logger.Warn("skip tool without domain", "server", srv.cfg.Name, "tool", t.Name)
		return nil, false
	}

	desc := &model.ToolDescriptor{
		Name:        t.Name,
		Description: t.Description,
		Domain:      domain,
		Server:      srv.cfg.Name,
	}

	entry := &catalogEntry{server: srv.cfg.Name, tool: desc}
	if t.InputSchema != nil {
		schema, err := toSchema(t.InputSchema)
		if err != nil {
			logger.Warn("ignore invalid input schema", "tool", t.Name, "error", err)
			return entry, true
		}
		desc.InputSchema = schema
		resolved, err := schema.Resolve(nil)
		if err != nil {
			logger.Warn("input schema cannot be resolved, arguments are not validated", "tool", t.Name, "error", err)
			return entry, true
		}
		entry.schema = resolved
	}
	return entry, true
}

// toSchema converts the wire representation of an input schema into jsonschema.Schema
func toSchema(raw any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema")
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal input schema")
	}
	return &schema, nil
}

// register replaces the catalog entries of one server. Caller holds c.mu.
func (c *Client) register(serverName string, entries []*catalogEntry) {
	for name, e := range c.catalog {
		if e.server == serverName {
			delete(c.catalog, name)
		}
	}
	for _, e := range entries {
		if prev, ok := c.catalog[e.tool.Name]; ok && prev.server != serverName {
			logging.Default().Warn("duplicated tool name, keeping first server",
				"tool", e.tool.Name, "kept", prev.server, "ignored", serverName)
			continue
		}
		c.catalog[e.tool.Name] = e
	}
}

// ListTools asks every connected server for its tools. The result is not cached; the
// declarations are only remembered so unknown names can be rejected by InvokeTool.
func (c *Client) ListTools(ctx context.Context) ([]*model.ToolDescriptor, error) {
	c.mu.RLock()
	servers := make([]*server, 0, len(c.servers))
	for _, s := range c.servers {
		servers = append(servers, s)
	}
	c.mu.RUnlock()

	var (
		tools  []*model.ToolDescriptor
		failed []string
		errs   []error
	)
	for _, srv := range servers {
		listCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		entries, err := c.listServerTools(listCtx, srv)
		cancel()
		if err != nil {
			failed = append(failed, srv.cfg.Name)
			errs = append(errs, err)
			logging.From(ctx).Warn("failed to list tools", "server", srv.cfg.Name, "error", err)
			continue
		}

		c.mu.Lock()
		c.register(srv.cfg.Name, entries)
		c.mu.Unlock()

		for _, e := range entries {
			tools = append(tools, e.tool)
		}
	}

	if len(servers) > 0 && len(failed) == len(servers) {
		return nil, goerr.Wrap(errs[0], "failed to list tools from every server", goerr.V("servers", failed))
	}

	sort.Slice(tools, func(i, j int) bool {
		if tools[i].Domain != tools[j].Domain {
			return tools[i].Domain.Rank() < tools[j].Domain.Rank()
		}
		return tools[i].Name < tools[j].Name
	})
	return tools, nil
}

// InvokeTool calls one tool. Every failure is returned as *model.ToolError.
func (c *Client) InvokeTool(ctx context.Context, name string, args map[string]any) (*model.ToolResult, error) {
	c.mu.RLock()
	entry, ok := c.catalog[name]
	var srv *server
	if ok {
		srv = c.servers[entry.server]
	}
	c.mu.RUnlock()

	if !ok || srv == nil {
		return nil, &model.ToolError{
			Kind:    model.ToolErrorNotFound,
			Tool:    name,
			Message: "tool is not declared by any connected server",
		}
	}

	if args == nil {
		args = map[string]any{}
	}
	if entry.schema != nil {
		if err := entry.schema.Validate(args); err != nil {
			return nil, &model.ToolError{
				Kind:    model.ToolErrorInvalidArguments,
				Tool:    name,
				Message: err.Error(),
				Cause:   err,
			}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	res, err := srv.session.CallTool(callCtx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return nil, classify(callCtx, srv.cfg, name, err)
	}

	content := contentText(res)
	if res.IsError {
		return nil, &model.ToolError{
			Kind:    model.ToolErrorBackend,
			Tool:    name,
			Message: content,
		}
	}

	return &model.ToolResult{Tool: name, Content: content}, nil
}

func contentText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	if len(parts) == 0 && res.StructuredContent != nil {
		if data, err := json.Marshal(res.StructuredContent); err == nil {
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, "\n")
}

// Servers returns the names of connected servers
func (c *Client) Servers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close closes all MCP sessions
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for name, srv := range c.servers {
		if err := srv.session.Close(); err != nil && firstErr == nil {
			firstErr = goerr.Wrap(err, "failed to close session", goerr.V("server", name))
		}
	}
	c.servers = make(map[string]*server)
	c.catalog = make(map[string]*catalogEntry)
	return firstErr
}
