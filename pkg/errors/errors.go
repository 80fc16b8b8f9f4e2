// Package errors defines sentinel errors used across the cluster router.
package errors

import "errors"

// Sentinel errors for topology validation. A refresh that produces one of
// these is discarded and the previous snapshot stays in force.
var (
	// ErrEmptyAssignment indicates the slot assignment list was empty.
	ErrEmptyAssignment = errors.New("empty slot assignment")

	// ErrIncompleteCoverage indicates at least one slot has no owner.
	ErrIncompleteCoverage = errors.New("incomplete slot coverage")

	// ErrOverlappingAssignment indicates a slot was claimed by two ranges.
	ErrOverlappingAssignment = errors.New("overlapping slot assignment")

	// ErrInvalidSlotRange indicates a range with low > high or a slot past the slot space.
	ErrInvalidSlotRange = errors.New("invalid slot range")

	// ErrNoMasterSpecified indicates a shard description without a master.
	ErrNoMasterSpecified = errors.New("shard has no master")

	// ErrUnknownShard indicates the slot table references an undescribed shard.
	ErrUnknownShard = errors.New("slot table references unknown shard")
)

// Sentinel errors for routing.
var (
	// ErrCrossSlot indicates keys belong to different shards.
	ErrCrossSlot = errors.New("CROSSSLOT Keys in request don't hash to the same slot")

	// ErrNoTopology indicates no topology snapshot has been published yet.
	ErrNoTopology = errors.New("CLUSTERDOWN no cluster topology loaded")

	// ErrNoReplica indicates a replica read was requested from a shard without replicas.
	ErrNoReplica = errors.New("shard has no replicas")

	// ErrNoKeys indicates a key-based route was requested without keys.
	ErrNoKeys = errors.New("no keys to route")
)

// Sentinel errors for redirects and refresh.
var (
	// ErrTooManyRedirects indicates the redirect hop budget was spent.
	ErrTooManyRedirects = errors.New("too many cluster redirects")

	// ErrNoReachableSeed indicates cluster introspection failed on every seed.
	ErrNoReachableSeed = errors.New("no reachable seed node")

	// ErrStaleSnapshot indicates a publish older than the current snapshot.
	ErrStaleSnapshot = errors.New("stale topology snapshot")
)

// Sentinel errors for connection/protocol.
var (
	// ErrClosed indicates the resource has been closed.
	ErrClosed = errors.New("resource is closed")

	// ErrProtocol indicates a malformed or unexpected reply.
	ErrProtocol = errors.New("protocol error")
)
