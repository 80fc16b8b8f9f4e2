package transport

import (
	"fmt"

	"github.com/tidwall/redcon"

	"github.com/10yihang/clusterrouter/internal/cluster"
	"github.com/10yihang/clusterrouter/internal/cluster/hash"
	cerrors "github.com/10yihang/clusterrouter/pkg/errors"
)

// ParseClusterSlots decodes a CLUSTER SLOTS reply:
//
//	[[start, end, [host, port, id, ...], [replica...]...], ...]
func ParseClusterSlots(resp redcon.RESP) ([]cluster.SlotRangeInfo, error) {
	if resp.Type != redcon.Array {
		return nil, fmt.Errorf("%w: cluster slots: expected array", cerrors.ErrProtocol)
	}

	ranges := make([]cluster.SlotRangeInfo, 0, resp.Count)
	var err error
	i := 0
	resp.ForEach(func(entry redcon.RESP) bool {
		var r cluster.SlotRangeInfo
		r, err = parseSlotRange(entry)
		if err != nil {
			err = fmt.Errorf("cluster slots[%d]: %w", i, err)
			return false
		}
		ranges = append(ranges, r)
		i++
		return true
	})
	if err != nil {
		return nil, err
	}
	return ranges, nil
}

func parseSlotRange(entry redcon.RESP) (cluster.SlotRangeInfo, error) {
	var r cluster.SlotRangeInfo
	if entry.Type != redcon.Array {
		return r, fmt.Errorf("%w: expected array", cerrors.ErrProtocol)
	}
	if entry.Count < 3 {
		return r, fmt.Errorf("%w: expected start/end/master", cerrors.ErrProtocol)
	}

	var (
		err error
		idx int
	)
	entry.ForEach(func(item redcon.RESP) bool {
		switch idx {
		case 0, 1:
			if item.Type != redcon.Integer {
				err = fmt.Errorf("%w: slot bound not integer", cerrors.ErrProtocol)
				return false
			}
			v := item.Int()
			if v < 0 || v > hash.MaxSlot {
				err = fmt.Errorf("%w: slot %d out of range", cerrors.ErrInvalidSlotRange, v)
				return false
			}
			if idx == 0 {
				r.Start = uint16(v)
			} else {
				r.End = uint16(v)
			}
		default:
			var n cluster.Node
			n, err = parseSlotNode(item)
			if err != nil {
				return false
			}
			if idx == 2 {
				r.Master = n
			} else {
				r.Replicas = append(r.Replicas, n)
			}
		}
		idx++
		return true
	})
	if err != nil {
		return r, err
	}
	if r.Start > r.End {
		return r, fmt.Errorf("%w: start %d greater than end %d", cerrors.ErrInvalidSlotRange, r.Start, r.End)
	}
	return r, nil
}

// parseSlotNode reads [host, port] with an optional node id and any
// trailing metadata.
func parseSlotNode(item redcon.RESP) (cluster.Node, error) {
	var n cluster.Node
	if item.Type != redcon.Array || item.Count < 2 {
		return n, fmt.Errorf("%w: node entry must be [host, port, ...]", cerrors.ErrProtocol)
	}

	var (
		err error
		idx int
	)
	item.ForEach(func(field redcon.RESP) bool {
		switch idx {
		case 0:
			n.Host = field.String()
		case 1:
			if field.Type != redcon.Integer {
				err = fmt.Errorf("%w: node port not integer", cerrors.ErrProtocol)
				return false
			}
			port := field.Int()
			if port <= 0 || port > 65535 {
				err = fmt.Errorf("%w: node port %d out of range", cerrors.ErrProtocol, port)
				return false
			}
			n.Port = int(port)
		case 2:
			n.ID = field.String()
		default:
			return false
		}
		idx++
		return true
	})
	return n, err
}
