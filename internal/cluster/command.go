package cluster

import (
	"strconv"
	"strings"

	"github.com/10yihang/clusterrouter/pkg/bytes"
)

// Command is one request: the command name followed by its arguments.
type Command struct {
	Args [][]byte
}

func NewCommand(args ...string) Command {
	cmd := Command{Args: make([][]byte, len(args))}
	for i, a := range args {
		cmd.Args[i] = []byte(a)
	}
	return cmd
}

// Name returns the upper-cased command name.
func (c Command) Name() string {
	if len(c.Args) == 0 {
		return ""
	}
	return strings.ToUpper(bytes.BytesToString(c.Args[0]))
}

// Keys returns the key arguments. Unknown commands are assumed to take their
// key as the first argument.
func (c Command) Keys() [][]byte {
	if len(c.Args) < 2 {
		return nil
	}
	args := c.Args[1:]
	spec, ok := commandTable[c.Name()]
	if !ok {
		return args[:1]
	}
	if spec.keys == nil {
		return nil
	}
	return spec.keys(args)
}

// ReadOnly reports whether the command may be served by a replica.
func (c Command) ReadOnly() bool {
	return commandTable[c.Name()].readOnly
}

func (c Command) String() string {
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = string(a)
	}
	return strings.Join(parts, " ")
}

type keyExtractor func(args [][]byte) [][]byte

type commandSpec struct {
	keys     keyExtractor
	readOnly bool
}

var (
	keyless   = commandSpec{}
	firstKey  = commandSpec{keys: extractFirstKey}
	firstRead = commandSpec{keys: extractFirstKey, readOnly: true}
	allKeys   = commandSpec{keys: extractAllKeys}
	allRead   = commandSpec{keys: extractAllKeys, readOnly: true}
	twoKeys   = commandSpec{keys: extractTwoKeys}
	pairKeys  = commandSpec{keys: extractMSetKeys}
	evalKeys  = commandSpec{keys: extractEvalKeys}
)

var commandTable = map[string]commandSpec{
	// Connection and server commands
	"PING": keyless, "ECHO": keyless, "INFO": keyless, "TIME": keyless,
	"CLUSTER": keyless, "COMMAND": keyless, "CONFIG": keyless, "CLIENT": keyless,
	"ASKING": keyless, "READONLY": keyless, "READWRITE": keyless,
	"DBSIZE": keyless, "FLUSHDB": keyless, "FLUSHALL": keyless,
	"KEYS": keyless, "SCAN": keyless, "RANDOMKEY": keyless,

	// String commands
	"GET": firstRead, "STRLEN": firstRead, "GETRANGE": firstRead,
	"SET": firstKey, "SETNX": firstKey, "SETEX": firstKey, "PSETEX": firstKey,
	"GETSET": firstKey, "GETDEL": firstKey, "GETEX": firstKey, "APPEND": firstKey,
	"INCR": firstKey, "INCRBY": firstKey, "INCRBYFLOAT": firstKey,
	"DECR": firstKey, "DECRBY": firstKey, "SETRANGE": firstKey,
	"MGET": allRead, "MSET": pairKeys, "MSETNX": pairKeys,

	// Key commands
	"DEL": allKeys, "UNLINK": allKeys, "TOUCH": allRead, "EXISTS": allRead,
	"TYPE": firstRead, "RENAME": twoKeys, "RENAMENX": twoKeys, "COPY": twoKeys,
	"DUMP": firstRead, "RESTORE": firstKey,

	// TTL commands
	"EXPIRE": firstKey, "EXPIREAT": firstKey, "PEXPIRE": firstKey, "PEXPIREAT": firstKey,
	"PERSIST": firstKey, "TTL": firstRead, "PTTL": firstRead,

	// Collections
	"HGET": firstRead, "HGETALL": firstRead, "HMGET": firstRead, "HLEN": firstRead,
	"HSET": firstKey, "HDEL": firstKey, "HINCRBY": firstKey,
	"LPUSH": firstKey, "RPUSH": firstKey, "LPOP": firstKey, "RPOP": firstKey,
	"LRANGE": firstRead, "LLEN": firstRead, "LINDEX": firstRead,
	"SADD": firstKey, "SREM": firstKey, "SMEMBERS": firstRead, "SISMEMBER": firstRead,
	"SCARD": firstRead, "SMOVE": twoKeys, "SINTER": allRead, "SUNION": allRead,
	"ZADD": firstKey, "ZREM": firstKey, "ZRANGE": firstRead, "ZSCORE": firstRead,
	"ZCARD": firstRead, "ZINCRBY": firstKey,

	// Scripting
	"EVAL": evalKeys, "EVALSHA": evalKeys,
}

func extractFirstKey(args [][]byte) [][]byte {
	return args[:1]
}

func extractAllKeys(args [][]byte) [][]byte {
	return args
}

func extractTwoKeys(args [][]byte) [][]byte {
	if len(args) < 2 {
		return args
	}
	return args[:2]
}

func extractMSetKeys(args [][]byte) [][]byte {
	if len(args) < 2 {
		return nil
	}
	keys := make([][]byte, 0, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		keys = append(keys, args[i])
	}
	return keys
}

// EVAL script numkeys key [key ...] arg [arg ...]
func extractEvalKeys(args [][]byte) [][]byte {
	if len(args) < 2 {
		return nil
	}
	n, err := strconv.Atoi(bytes.BytesToString(args[1]))
	if err != nil || n <= 0 {
		return nil
	}
	if n > len(args)-2 {
		n = len(args) - 2
	}
	return args[2 : 2+n]
}
