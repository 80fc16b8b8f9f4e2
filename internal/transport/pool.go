// Package transport sends RESP commands to cluster nodes over pooled TCP
// connections.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/tidwall/redcon"

	"github.com/10yihang/clusterrouter/internal/cluster"
	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
	DefaultPoolSize     = 8
)

type Options struct {
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PoolSize is the number of idle connections kept per node.
	PoolSize int
	Log      *slog.Logger
}

// Pool implements cluster.Transport. Connections are checked out for one
// round trip and returned unless the round trip failed.
type Pool struct {
	opts   Options
	dialer net.Dialer

	mu     sync.Mutex
	idle   map[string][]*conn
	closed bool
}

var _ cluster.Transport = (*Pool)(nil)

func NewPool(opts Options) *Pool {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Pool{
		opts:   opts,
		dialer: net.Dialer{Timeout: opts.DialTimeout},
		idle:   make(map[string][]*conn),
	}
}

// Send pipelines cmds to node on one connection.
func (p *Pool) Send(ctx context.Context, node cluster.Node, cmds ...cluster.Command) ([]redcon.RESP, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	c, err := p.get(ctx, node)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", node.Addr(), err)
	}

	replies, err := c.roundTrip(ctx, cmds, p.opts.WriteTimeout, p.opts.ReadTimeout)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%s: %w", node.Addr(), err)
	}
	p.put(node, c)
	return replies, nil
}

// ClusterSlots reads the slot layout from node.
func (p *Pool) ClusterSlots(ctx context.Context, node cluster.Node) ([]cluster.SlotRangeInfo, error) {
	replies, err := p.Send(ctx, node, cluster.NewCommand("CLUSTER", "SLOTS"))
	if err != nil {
		return nil, err
	}
	reply := replies[0]
	if reply.Type == redcon.Error {
		return nil, fmt.Errorf("cluster slots on %s: %s", node.Addr(), reply.String())
	}

	ranges, err := ParseClusterSlots(reply)
	if err != nil {
		return nil, fmt.Errorf("cluster slots on %s: %w", node.Addr(), err)
	}
	// An empty host means "the address you reached me on".
	for i := range ranges {
		fillHost(&ranges[i].Master, node.Host)
		for j := range ranges[i].Replicas {
			fillHost(&ranges[i].Replicas[j], node.Host)
		}
	}
	return ranges, nil
}

func fillHost(n *cluster.Node, host string) {
	if n.Host == "" {
		n.Host = host
	}
}

func (p *Pool) get(ctx context.Context, node cluster.Node) (*conn, error) {
	addr := node.Addr()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, cerrors.ErrClosed
	}
	if idle := p.idle[addr]; len(idle) > 0 {
		c := idle[len(idle)-1]
		p.idle[addr] = idle[:len(idle)-1]
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	nc, err := p.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	p.opts.Log.Debug("connected", "node", addr)
	return newConn(nc), nil
}

func (p *Pool) put(node cluster.Node, c *conn) {
	addr := node.Addr()

	p.mu.Lock()
	if p.closed || len(p.idle[addr]) >= p.opts.PoolSize {
		p.mu.Unlock()
		_ = c.Close()
		return
	}
	p.idle[addr] = append(p.idle[addr], c)
	p.mu.Unlock()
}

// Idle returns the number of idle connections kept for node.
func (p *Pool) Idle(node cluster.Node) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[node.Addr()])
}

// Forget closes the idle connections of node.
func (p *Pool) Forget(node cluster.Node) {
	p.mu.Lock()
	idle := p.idle[node.Addr()]
	delete(p.idle, node.Addr())
	p.mu.Unlock()

	for _, c := range idle {
		_ = c.Close()
	}
}

// Close closes idle connections; connections in use are closed when they
// come back. Send fails with ErrClosed afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = make(map[string][]*conn)
	p.mu.Unlock()

	for _, conns := range idle {
		for _, c := range conns {
			_ = c.Close()
		}
	}
	return nil
}
