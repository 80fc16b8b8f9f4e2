// Package redirect follows MOVED and ASK replies until a command lands on the
// node that owns its slot.
package redirect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/hash"
)

type Kind int

const (
	// KindMoved means the slot moved permanently; the topology is stale.
	KindMoved Kind = iota
	// KindAsk means the slot is migrating; only this command goes elsewhere.
	KindAsk
)

func (k Kind) String() string {
	if k == KindAsk {
		return "ask"
	}
	return "moved"
}

// Redirect is a parsed MOVED or ASK error reply.
type Redirect struct {
	Kind Kind
	Slot uint16
	Node cluster.Node
}

func (r Redirect) String() string {
	return fmt.Sprintf("%s %d %s", strings.ToUpper(r.Kind.String()), r.Slot, r.Node.Addr())
}

// Parse parses "MOVED <slot> <host:port>" or "ASK <slot> <host:port>".
// The host may be empty when the server does not know its own endpoint.
func Parse(msg string) (Redirect, bool) {
	fields := strings.Fields(msg)
	if len(fields) != 3 {
		return Redirect{}, false
	}

	var r Redirect
	switch fields[0] {
	case "MOVED":
		r.Kind = KindMoved
	case "ASK":
		r.Kind = KindAsk
	default:
		return Redirect{}, false
	}

	slot, err := strconv.ParseUint(fields[1], 10, 16)
	if err != nil || slot > hash.MaxSlot {
		return Redirect{}, false
	}
	r.Slot = uint16(slot)

	node, err := cluster.ParseNode(fields[2])
	if err != nil {
		return Redirect{}, false
	}
	r.Node = node
	return r, true
}
