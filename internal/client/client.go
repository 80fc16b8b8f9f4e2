// Package client ties the routing core together: it routes a command against
// the current topology, sends it, follows redirects and keeps the topology
// fresh.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/redcon"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/redirect"
	"github.com/10yihang/clusterrouter/internal/cluster/refresh"
	"github.com/10yihang/clusterrouter/internal/cluster/router"
	"github.com/10yihang/clusterrouter/internal/cluster/state"
	"github.com/10yihang/clusterrouter/internal/config"
	"github.com/10yihang/clusterrouter/internal/metrics"
	"github.com/10yihang/clusterrouter/internal/transport"
	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

// ErrNoSeeds is returned by New when neither the options nor the state file
// name a node to introspect.
var ErrNoSeeds = errors.New("no seed nodes configured")

type Options struct {
	Seeds []cluster.Node
	// Transport defaults to a transport.Pool built from Pool.
	Transport cluster.Transport
	Pool      transport.Options

	MaxRedirects    int
	RefreshInterval time.Duration
	RefreshTimeout  time.Duration
	RefreshDebounce time.Duration

	ReadPolicy router.ReadPolicy
	Fallback   router.FallbackPolicy

	// StateFile keeps the last topology on disk. Its nodes are added to
	// Seeds on the next start.
	StateFile string

	Log *slog.Logger
}

// ReplyError is a server error reply that is not a redirect.
type ReplyError struct {
	Msg string
}

func (e *ReplyError) Error() string { return e.Msg }

// Prefix returns the error code, e.g. "ERR" or "WRONGTYPE".
func (e *ReplyError) Prefix() string {
	prefix, _, _ := strings.Cut(e.Msg, " ")
	return prefix
}

type Client struct {
	opts Options
	log  *slog.Logger

	store     *cluster.Store
	router    *router.ClusterRouter
	refresher *refresh.Refresher
	scheduler *refresh.Scheduler
	handler   *redirect.Handler
	transport cluster.Transport

	pool  *transport.Pool
	state *state.Manager

	closeOnce sync.Once
	closeErr  error
}

func New(opts Options) (*Client, error) {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	seeds := append([]cluster.Node(nil), opts.Seeds...)
	if opts.StateFile != "" {
		seeds = appendSavedSeeds(seeds, opts.StateFile, opts.Log)
	}
	if len(seeds) == 0 {
		return nil, ErrNoSeeds
	}

	c := &Client{
		opts:      opts,
		log:       opts.Log,
		store:     cluster.NewStore(),
		transport: opts.Transport,
	}

	if opts.StateFile != "" {
		mgr, err := state.NewManager(opts.StateFile, c.store.Current, opts.Log)
		if err != nil {
			return nil, err
		}
		c.state = mgr
	}

	if c.transport == nil {
		if opts.Pool.Log == nil {
			opts.Pool.Log = opts.Log
		}
		c.pool = transport.NewPool(opts.Pool)
		c.transport = c.pool
	}

	c.router = router.NewClusterRouter(c.store, router.Options{
		ReadPolicy: opts.ReadPolicy,
		Fallback:   opts.Fallback,
	})
	c.refresher = refresh.New(c.transport, c.store, refresh.Options{
		Seeds:     seeds,
		Timeout:   opts.RefreshTimeout,
		Log:       opts.Log,
		OnPublish: c.onPublish,
	})
	c.scheduler = refresh.NewScheduler(c.refresher, refresh.SchedulerOptions{
		Interval: opts.RefreshInterval,
		Debounce: opts.RefreshDebounce,
		Log:      opts.Log,
	})
	c.handler = redirect.NewHandler(c.transport, redirect.Options{
		MaxRedirects: opts.MaxRedirects,
		Trigger:      c.scheduler,
		Log:          opts.Log,
	})

	return c, nil
}

func appendSavedSeeds(seeds []cluster.Node, path string, log *slog.Logger) []cluster.Node {
	view, ok, err := state.ReadFile(path)
	if err != nil {
		log.Warn("ignoring topology state file", "path", path, "error", err)
		return seeds
	}
	if !ok {
		return seeds
	}

	seen := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		seen[s.Addr()] = struct{}{}
	}
	for _, addr := range view.Seeds() {
		if _, dup := seen[addr]; dup {
			continue
		}
		n, err := cluster.ParseNode(addr)
		if err != nil {
			log.Warn("skipping saved seed", "addr", addr, "error", err)
			continue
		}
		seen[addr] = struct{}{}
		seeds = append(seeds, n)
	}
	log.Debug("loaded saved topology", "path", path, "version", view.Version, "seeds", len(seeds))
	return seeds
}

func (c *Client) onPublish(*cluster.Snapshot) {
	if c.state != nil {
		c.state.MarkDirty()
	}
}

// Start loads the initial topology. Periodic refreshes are already running.
func (c *Client) Start(ctx context.Context) error {
	snap, err := c.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("initial topology refresh: %w", err)
	}
	c.log.Info("cluster topology loaded",
		"version", snap.Version, "shards", len(snap.ShardIDs()), "nodes", len(snap.Nodes()))
	return nil
}

// Do runs one command given as its name and arguments.
func (c *Client) Do(ctx context.Context, args ...string) (redcon.RESP, error) {
	return c.DoCommand(ctx, cluster.NewCommand(args...))
}

// DoCommand routes cmd, sends it and follows redirects. A server error reply
// is returned together with a *ReplyError.
func (c *Client) DoCommand(ctx context.Context, cmd cluster.Command) (redcon.RESP, error) {
	start := time.Now()
	reply, err := c.do(ctx, cmd)
	if err == nil && reply.Type == redcon.Error {
		err = &ReplyError{Msg: reply.String()}
	}
	metrics.RecordCommand(cmd.Name(), time.Since(start), err == nil)
	return reply, err
}

func (c *Client) do(ctx context.Context, cmd cluster.Command) (redcon.RESP, error) {
	if c.store.Current() == nil {
		if _, err := c.refresher.Refresh(ctx); err != nil {
			return redcon.RESP{}, fmt.Errorf("load topology: %w", err)
		}
	}

	target, err := c.router.Route(cmd)
	if err != nil {
		return redcon.RESP{}, err
	}
	reply, err := c.send(ctx, target, cmd)
	if err == nil || !retryable(ctx, err) {
		return reply, err
	}

	c.log.Warn("command failed, refreshing topology",
		"cmd", cmd.Name(), "node", target.Node.Addr(), "error", err)
	if _, rerr := c.refresher.Refresh(ctx); rerr != nil {
		return redcon.RESP{}, fmt.Errorf("%w (refresh: %w)", err, rerr)
	}

	target, rerr := c.router.Route(cmd)
	if rerr != nil {
		return redcon.RESP{}, rerr
	}
	return c.send(ctx, target, cmd)
}

func (c *Client) send(ctx context.Context, target router.Target, cmd cluster.Command) (redcon.RESP, error) {
	if target.Replica {
		return c.handler.DoReadOnly(ctx, target.Node, cmd)
	}
	return c.handler.Do(ctx, target.Node, cmd)
}

// retryable reports whether err looks like a node that went away.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, cerrors.ErrTooManyRedirects),
		errors.Is(err, cerrors.ErrClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Route resolves cmd against the current topology without sending it.
func (c *Client) Route(cmd cluster.Command) (router.Target, error) {
	return c.router.Route(cmd)
}

// HandleReply classifies a reply node sent for cmd.
func (c *Client) HandleReply(reply redcon.RESP, cmd cluster.Command, node cluster.Node) redirect.Decision {
	return c.handler.HandleReply(reply, cmd, node)
}

// CurrentTopology returns the published snapshot, nil before the first
// successful refresh.
func (c *Client) CurrentTopology() *cluster.Snapshot {
	return c.store.Current()
}

// Store exposes the topology store for read-only consumers such as the
// metrics exporter.
func (c *Client) Store() *cluster.Store {
	return c.store
}

// Refresh reloads the topology and waits for the result.
func (c *Client) Refresh(ctx context.Context) (*cluster.Snapshot, error) {
	return c.refresher.Refresh(ctx)
}

// Close stops background refreshes, flushes the state file and closes the
// connection pool it created.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		errs = append(errs, c.scheduler.Close())
		if c.state != nil {
			errs = append(errs, c.state.Close())
		}
		if c.pool != nil {
			errs = append(errs, c.pool.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// OptionsFromConfig translates a validated config into client options.
func OptionsFromConfig(cfg config.Config, log *slog.Logger) (Options, error) {
	seeds, err := cfg.SeedNodes()
	if err != nil {
		return Options{}, err
	}
	readPolicy, err := router.ParseReadPolicy(cfg.Routing.ReadPolicy)
	if err != nil {
		return Options{}, err
	}
	fallback, err := router.ParseFallbackPolicy(cfg.Routing.Fallback)
	if err != nil {
		return Options{}, err
	}

	return Options{
		Seeds: seeds,
		Pool: transport.Options{
			DialTimeout:  cfg.Transport.DialTimeout,
			ReadTimeout:  cfg.Transport.ReadTimeout,
			WriteTimeout: cfg.Transport.WriteTimeout,
			PoolSize:     cfg.Transport.PoolSize,
			Log:          log,
		},
		MaxRedirects:    cfg.Routing.MaxRedirects,
		RefreshInterval: cfg.Refresh.Interval,
		RefreshTimeout:  cfg.Refresh.Timeout,
		RefreshDebounce: cfg.Refresh.Debounce,
		ReadPolicy:      readPolicy,
		Fallback:        fallback,
		StateFile:       cfg.StateFile,
		Log:             log,
	}, nil
}
