package redirect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tidwall/redcon"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/metrics"
	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

// DefaultMaxRedirects is the hop budget used when Options leaves it unset.
const DefaultMaxRedirects = 5

type Action int

const (
	// Done means the reply is final for the caller.
	Done Action = iota
	// Follow means the command must be re-sent to Decision.Target.
	Follow
)

// Decision is the outcome of inspecting one reply.
type Decision struct {
	Action Action
	Target cluster.Node
	// Asking is set for ASK: the retry must be preceded by ASKING on the same
	// connection.
	Asking bool
	// Refresh is set for MOVED: the topology is stale.
	Refresh  bool
	Redirect Redirect
}

// RefreshTrigger requests a topology refresh without waiting for it.
type RefreshTrigger interface {
	Trigger(ctx context.Context)
}

type Options struct {
	MaxRedirects int
	Trigger      RefreshTrigger
	Log          *slog.Logger
}

// Handler drives redirect chains. It holds no per-command state, so one
// Handler serves any number of concurrent commands.
type Handler struct {
	sender cluster.Sender
	opts   Options
}

func NewHandler(sender cluster.Sender, opts Options) *Handler {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = DefaultMaxRedirects
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Handler{sender: sender, opts: opts}
}

// HandleReply decides what to do with the reply attempted returned for cmd.
func (h *Handler) HandleReply(reply redcon.RESP, cmd cluster.Command, attempted cluster.Node) Decision {
	if reply.Type != redcon.Error {
		return Decision{Action: Done}
	}
	r, ok := Parse(reply.String())
	if !ok {
		return Decision{Action: Done}
	}
	if r.Node.Host == "" {
		r.Node.Host = attempted.Host
	}

	d := Decision{Action: Follow, Target: r.Node, Redirect: r}
	switch r.Kind {
	case KindMoved:
		d.Refresh = true
	case KindAsk:
		d.Asking = true
	}
	return d
}

// Do sends cmd to node and follows redirects until a final reply arrives.
// Error replies that are not redirects are returned as replies; err is only
// set for transport failures, cancellation and an exhausted hop budget.
func (h *Handler) Do(ctx context.Context, node cluster.Node, cmd cluster.Command) (redcon.RESP, error) {
	return h.do(ctx, node, cmd, nil)
}

// DoReadOnly is Do for a replica: the first attempt is preceded by READONLY
// on the same connection.
func (h *Handler) DoReadOnly(ctx context.Context, node cluster.Node, cmd cluster.Command) (redcon.RESP, error) {
	return h.do(ctx, node, cmd, []cluster.Command{readOnlyCmd})
}

var (
	askingCmd   = cluster.NewCommand("ASKING")
	readOnlyCmd = cluster.NewCommand("READONLY")
)

func (h *Handler) do(ctx context.Context, node cluster.Node, cmd cluster.Command, prefix []cluster.Command) (redcon.RESP, error) {
	var hops int
	for {
		if err := ctx.Err(); err != nil {
			return redcon.RESP{}, err
		}

		reply, err := h.send(ctx, node, cmd, prefix)
		if err != nil {
			return redcon.RESP{}, err
		}

		d := h.HandleReply(reply, cmd, node)
		if d.Action == Done {
			return reply, nil
		}
		if hops >= h.opts.MaxRedirects {
			metrics.RecordRedirectsExhausted()
			h.opts.Log.Warn("redirect limit reached",
				"cmd", cmd.Name(), "hops", hops, "last", d.Redirect.String())
			return redcon.RESP{}, fmt.Errorf("%w: %d hops, last %s",
				cerrors.ErrTooManyRedirects, hops, d.Redirect)
		}
		if err := ctx.Err(); err != nil {
			return redcon.RESP{}, err
		}

		hops++
		metrics.RecordRedirect(d.Redirect.Kind.String())
		h.opts.Log.Debug("following redirect",
			"cmd", cmd.Name(), "from", node.Addr(), "redirect", d.Redirect.String())

		if d.Refresh && h.opts.Trigger != nil {
			h.opts.Trigger.Trigger(ctx)
		}
		node, prefix = d.Target, nil
		if d.Asking {
			prefix = []cluster.Command{askingCmd}
		}
	}
}

// send pipelines prefix and cmd on one connection. A failed prefix command
// is returned in place of the command reply.
func (h *Handler) send(ctx context.Context, node cluster.Node, cmd cluster.Command, prefix []cluster.Command) (redcon.RESP, error) {
	cmds := append(prefix[:len(prefix):len(prefix)], cmd)
	replies, err := h.sender.Send(ctx, node, cmds...)
	if err != nil {
		return redcon.RESP{}, err
	}
	if len(replies) != len(cmds) {
		return redcon.RESP{}, fmt.Errorf("%w: %d replies for %d commands", cerrors.ErrProtocol, len(replies), len(cmds))
	}
	for _, r := range replies[:len(prefix)] {
		if r.Type == redcon.Error {
			return r, nil
		}
	}
	return replies[len(prefix)], nil
}
