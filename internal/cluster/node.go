package cluster

import (
	"fmt"
	"net"
	"strconv"
)

type NodeRole int

const (
	NodeRoleMaster NodeRole = iota
	NodeRoleReplica
)

func (r NodeRole) String() string {
	if r == NodeRoleMaster {
		return "master"
	}
	return "replica"
}

// Node describes one cluster node. Identity is the host:port address, which is
// the only identity MOVED and ASK replies carry; ID is informational.
type Node struct {
	ID   string
	Host string
	Port int
}

func NewNode(host string, port int) Node {
	return Node{Host: host, Port: port}
}

// ParseNode parses a "host:port" address, including bracketed IPv6 hosts.
func ParseNode(addr string) (Node, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Node{}, fmt.Errorf("invalid node address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Node{}, fmt.Errorf("invalid node port %q", portStr)
	}
	return Node{Host: host, Port: port}, nil
}

func (n Node) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

func (n Node) IsZero() bool {
	return n.Host == "" && n.Port == 0
}

// Equal reports whether n and o are the same node.
func (n Node) Equal(o Node) bool {
	return n.Host == o.Host && n.Port == o.Port
}

func (n Node) String() string {
	if n.ID == "" {
		return n.Addr()
	}
	return fmt.Sprintf("%s(%s)", n.Addr(), shortID(n.ID))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
