package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/tidwall/redcon"

	"github.com/10yihang/clusterrouter/internal/cluster"
	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
	"github.com/10yihang/clusterrouter/pkg/protocolbuf"
)

const (
	readChunk = 4096
	// maxReplySize caps a single buffered reply.
	maxReplySize = 512 * 1024 * 1024
)

// conn is one client connection. It is used by one Send at a time.
type conn struct {
	nc  net.Conn
	buf []byte
	off int

	mu     sync.Mutex
	gen    uint64
	active bool
}

func newConn(nc net.Conn) *conn {
	return &conn{nc: nc, buf: make([]byte, 0, readChunk)}
}

func (c *conn) Close() error {
	return c.nc.Close()
}

// watch arms the cancellation interrupt for one round trip. Once finish has
// returned, interrupt no longer touches the connection, so a cancellation that
// fires late cannot break the next round trip on a pooled conn.
func (c *conn) watch() (interrupt, finish func()) {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.active = true
	c.mu.Unlock()

	interrupt = func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.active && c.gen == gen {
			_ = c.nc.SetDeadline(time.Now())
		}
	}
	finish = func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
	}
	return interrupt, finish
}

// roundTrip writes cmds as one pipeline and reads one reply per command.
func (c *conn) roundTrip(ctx context.Context, cmds []cluster.Command, writeTimeout, readTimeout time.Duration) ([]redcon.RESP, error) {
	interrupt, finish := c.watch()
	stop := context.AfterFunc(ctx, interrupt)
	defer func() {
		stop()
		finish()
	}()

	bufp := protocolbuf.GetBuffer()
	b := *bufp
	for _, cmd := range cmds {
		b = appendCommand(b, cmd)
	}
	*bufp = b
	defer protocolbuf.PutBuffer(bufp)

	if err := c.nc.SetWriteDeadline(deadline(ctx, writeTimeout)); err != nil {
		return nil, err
	}
	if _, err := c.nc.Write(b); err != nil {
		return nil, ctxErr(ctx, err)
	}

	if err := c.nc.SetReadDeadline(deadline(ctx, readTimeout)); err != nil {
		return nil, err
	}
	replies := make([]redcon.RESP, 0, len(cmds))
	for range cmds {
		resp, err := c.readReply()
		if err != nil {
			return nil, ctxErr(ctx, err)
		}
		replies = append(replies, resp)
	}
	return replies, nil
}

func appendCommand(b []byte, cmd cluster.Command) []byte {
	b = redcon.AppendArray(b, len(cmd.Args))
	for _, arg := range cmd.Args {
		b = redcon.AppendBulk(b, arg)
	}
	return b
}

// readReply returns the next complete reply. The reply owns its memory.
func (c *conn) readReply() (redcon.RESP, error) {
	for {
		if pending := c.buf[c.off:]; len(pending) > 0 {
			switch pending[0] {
			case redcon.Integer, redcon.String, redcon.Bulk, redcon.Array, redcon.Error:
			default:
				return redcon.RESP{}, fmt.Errorf("%w: unexpected reply prefix %q", cerrors.ErrProtocol, pending[0])
			}
			if n, _ := redcon.ReadNextRESP(pending); n > 0 {
				raw := bytes.Clone(pending[:n])
				c.off += n
				if c.off == len(c.buf) {
					c.buf, c.off = c.buf[:0], 0
				}
				_, resp := redcon.ReadNextRESP(raw)
				return resp, nil
			}
			if len(pending) > maxReplySize {
				return redcon.RESP{}, fmt.Errorf("%w: reply larger than %d bytes", cerrors.ErrProtocol, maxReplySize)
			}
		}

		if c.off > 0 {
			n := copy(c.buf, c.buf[c.off:])
			c.buf, c.off = c.buf[:n], 0
		}
		if cap(c.buf)-len(c.buf) < readChunk/2 {
			c.buf = slices.Grow(c.buf, readChunk)
		}
		n, err := c.nc.Read(c.buf[len(c.buf):cap(c.buf)])
		c.buf = c.buf[:len(c.buf)+n]
		if err != nil {
			return redcon.RESP{}, err
		}
	}
}

// deadline is the earlier of ctx's deadline and now+timeout. A zero timeout
// leaves only ctx's deadline.
func deadline(ctx context.Context, timeout time.Duration) time.Time {
	ctxDeadline, ok := ctx.Deadline()
	if timeout <= 0 {
		if ok {
			return ctxDeadline
		}
		return time.Time{}
	}
	d := time.Now().Add(timeout)
	if ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}

// ctxErr prefers the context error over the deadline error it caused.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
