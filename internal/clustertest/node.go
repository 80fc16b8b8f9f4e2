package clustertest

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/redcon"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/hash"
	"github.com/10yihang/clusterrouter/pkg/bytes"
)

// Override inspects a command before the node does. Returning true means it
// wrote the reply itself.
type Override func(conn redcon.Conn, args [][]byte) bool

// Node is one fake cluster node.
type Node struct {
	c      *Cluster
	id     string
	host   string
	port   int
	master *Node

	srv      *redcon.Server
	ln       net.Listener
	stopOnce sync.Once

	mu       sync.Mutex
	data     map[string]string
	calls    map[string]int
	override Override
}

// connState is per-connection state kept in redcon.Conn.Context.
type connState struct {
	// asking is valid for exactly one command.
	asking   bool
	readOnly bool
}

func getConnState(conn redcon.Conn) *connState {
	if ctx := conn.Context(); ctx != nil {
		if state, ok := ctx.(*connState); ok {
			return state
		}
	}
	state := &connState{}
	conn.SetContext(state)
	return state
}

func (n *Node) ID() string { return n.id }

func (n *Node) Addr() string {
	return net.JoinHostPort(n.host, strconv.Itoa(n.port))
}

// Node returns the description a client would build for n.
func (n *Node) Node() cluster.Node {
	return cluster.Node{ID: n.id, Host: n.host, Port: n.port}
}

// Stop closes the listener and every accepted connection. The listener is
// closed directly too: srv.Close fails when Serve has not started yet.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		_ = n.srv.Close()
		_ = n.ln.Close()
	})
}

// SetOverride installs fn; nil removes it.
func (n *Node) SetOverride(fn Override) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.override = fn
}

// Calls returns how many times the node received the named command.
func (n *Node) Calls(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[strings.ToUpper(name)]
}

// Get reads a key directly from the node's memory.
func (n *Node) Get(key string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.data[key]
	return v, ok
}

func (n *Node) put(key, value string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.data[key] = value
}

func (n *Node) take(key string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	v, ok := n.data[key]
	delete(n.data, key)
	return v, ok
}

func (n *Node) takeSlot(slot uint16) map[string]string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make(map[string]string)
	for k, v := range n.data {
		if hash.KeySlot(k) == slot {
			out[k] = v
			delete(n.data, k)
		}
	}
	return out
}

func (n *Node) handle(conn redcon.Conn, cmd redcon.Command) {
	if len(cmd.Args) == 0 {
		conn.WriteError("ERR empty command")
		return
	}
	name := strings.ToUpper(bytes.BytesToString(cmd.Args[0]))

	n.mu.Lock()
	n.calls[name]++
	override := n.override
	n.mu.Unlock()

	state := getConnState(conn)
	if override != nil && override(conn, cmd.Args) {
		state.asking = false
		return
	}

	switch name {
	case "PING":
		conn.WriteString("PONG")
		return
	case "ASKING":
		state.asking = true
		conn.WriteString("OK")
		return
	case "READONLY":
		state.readOnly = true
		conn.WriteString("OK")
		return
	case "READWRITE":
		state.readOnly = false
		conn.WriteString("OK")
		return
	case "CLUSTER":
		n.cmdCluster(conn, cmd.Args[1:])
		return
	}

	defer func() { state.asking = false }()

	c := cluster.Command{Args: cmd.Args}
	if keys := c.Keys(); len(keys) > 0 && !n.checkSlot(conn, state, c, keys) {
		return
	}
	n.exec(conn, name, cmd.Args[1:])
}

// checkSlot writes CROSSSLOT, MOVED or ASK and returns false when n must not
// serve keys.
func (n *Node) checkSlot(conn redcon.Conn, state *connState, cmd cluster.Command, keys [][]byte) bool {
	slot := hash.KeySlotBytes(keys[0])
	for _, k := range keys[1:] {
		if hash.KeySlotBytes(k) != slot {
			conn.WriteError("CROSSSLOT Keys in request don't hash to the same slot")
			return false
		}
	}

	n.c.mu.RLock()
	owner := n.c.owners[slot]
	importing := n.c.importing[slot]
	n.c.mu.RUnlock()

	switch {
	case owner == nil:
		conn.WriteError("CLUSTERDOWN Hash slot not served")
		return false
	case owner == n:
		if importing != nil && !n.hasAll(keys) {
			conn.WriteError("ASK " + strconv.Itoa(int(slot)) + " " + importing.Addr())
			return false
		}
		return true
	case importing == n && state.asking:
		return true
	case n.master == owner && state.readOnly && cmd.ReadOnly():
		return true
	default:
		conn.WriteError("MOVED " + strconv.Itoa(int(slot)) + " " + owner.Addr())
		return false
	}
}

func (n *Node) hasAll(keys [][]byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range keys {
		if _, ok := n.data[string(k)]; !ok {
			return false
		}
	}
	return true
}

func (n *Node) cmdCluster(conn redcon.Conn, args [][]byte) {
	if len(args) == 0 {
		conn.WriteError("ERR wrong number of arguments for 'cluster' command")
		return
	}
	switch strings.ToUpper(string(args[0])) {
	case "SLOTS":
		n.clusterSlots(conn)
	case "MYID":
		conn.WriteBulkString(n.id)
	case "KEYSLOT":
		if len(args) != 2 {
			conn.WriteError("ERR wrong number of arguments for 'cluster|keyslot' command")
			return
		}
		conn.WriteInt(int(hash.KeySlotBytes(args[1])))
	default:
		conn.WriteError("ERR unknown subcommand '" + string(args[0]) + "'")
	}
}

func (n *Node) clusterSlots(conn redcon.Conn) {
	n.c.mu.RLock()
	defer n.c.mu.RUnlock()

	ranges := n.c.rangesLocked()
	conn.WriteArray(len(ranges))
	for _, r := range ranges {
		replicas := n.c.replicasLocked(r.owner)
		conn.WriteArray(3 + len(replicas))
		conn.WriteInt(int(r.start))
		conn.WriteInt(int(r.end))
		writeNode(conn, r.owner)
		for _, rep := range replicas {
			writeNode(conn, rep)
		}
	}
}

func writeNode(conn redcon.Conn, n *Node) {
	conn.WriteArray(3)
	conn.WriteBulkString(n.host)
	conn.WriteInt(n.port)
	conn.WriteBulkString(n.id)
}

func (n *Node) exec(conn redcon.Conn, name string, args [][]byte) {
	switch name {
	case "ECHO":
		if len(args) != 1 {
			conn.WriteError("ERR wrong number of arguments for 'echo' command")
			return
		}
		conn.WriteBulk(args[0])
	case "GET":
		if len(args) != 1 {
			conn.WriteError("ERR wrong number of arguments for 'get' command")
			return
		}
		if v, ok := n.Get(string(args[0])); ok {
			conn.WriteBulkString(v)
		} else {
			conn.WriteNull()
		}
	case "SET":
		if len(args) < 2 {
			conn.WriteError("ERR wrong number of arguments for 'set' command")
			return
		}
		n.write(string(args[0]), string(args[1]))
		conn.WriteString("OK")
	case "MGET":
		conn.WriteArray(len(args))
		for _, k := range args {
			if v, ok := n.Get(string(k)); ok {
				conn.WriteBulkString(v)
			} else {
				conn.WriteNull()
			}
		}
	case "MSET":
		if len(args) == 0 || len(args)%2 != 0 {
			conn.WriteError("ERR wrong number of arguments for 'mset' command")
			return
		}
		for i := 0; i < len(args); i += 2 {
			n.write(string(args[i]), string(args[i+1]))
		}
		conn.WriteString("OK")
	case "DEL", "EXISTS":
		count := 0
		for _, k := range args {
			if _, ok := n.Get(string(k)); ok {
				count++
				if name == "DEL" {
					n.remove(string(k))
				}
			}
		}
		conn.WriteInt(count)
	case "INCR":
		if len(args) != 1 {
			conn.WriteError("ERR wrong number of arguments for 'incr' command")
			return
		}
		v, _ := n.Get(string(args[0]))
		cur := 0
		if v != "" {
			var err error
			if cur, err = strconv.Atoi(v); err != nil {
				conn.WriteError("ERR value is not an integer or out of range")
				return
			}
		}
		cur++
		n.write(string(args[0]), strconv.Itoa(cur))
		conn.WriteInt(cur)
	case "DBSIZE":
		n.mu.Lock()
		size := len(n.data)
		n.mu.Unlock()
		conn.WriteInt(size)
	default:
		conn.WriteError("ERR unknown command '" + strings.ToLower(name) + "'")
	}
}

// write stores on n and its replicas.
func (n *Node) write(key, value string) {
	n.put(key, value)
	for _, r := range n.c.Replicas(n) {
		r.put(key, value)
	}
}

func (n *Node) remove(key string) {
	n.take(key)
	for _, r := range n.c.Replicas(n) {
		r.take(key)
	}
}
