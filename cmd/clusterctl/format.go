package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/tidwall/redcon"

	"github.com/10yihang/clusterrouter/internal/cluster/router"
	"github.com/10yihang/clusterrouter/internal/cluster/state"
)

// formatReply renders a reply the way redis-cli prints it.
func formatReply(r redcon.RESP) string {
	var b strings.Builder
	writeReply(&b, r, "")
	return strings.TrimSuffix(b.String(), "\n")
}

func writeReply(b *strings.Builder, r redcon.RESP, indent string) {
	switch r.Type {
	case redcon.Integer:
		fmt.Fprintf(b, "(integer) %d\n", r.Int())
	case redcon.Error:
		fmt.Fprintf(b, "(error) %s\n", r.String())
	case redcon.Bulk:
		if r.Data == nil {
			b.WriteString("(nil)\n")
			return
		}
		fmt.Fprintf(b, "%q\n", r.String())
	case redcon.Array:
		var items []redcon.RESP
		r.ForEach(func(item redcon.RESP) bool {
			items = append(items, item)
			return true
		})
		if len(items) == 0 {
			b.WriteString("(empty array)\n")
			return
		}
		width := len(strconv.Itoa(len(items)))
		for i, item := range items {
			prefix := fmt.Sprintf("%*d) ", width, i+1)
			if i > 0 {
				b.WriteString(indent)
			}
			b.WriteString(prefix)
			writeReply(b, item, indent+strings.Repeat(" ", len(prefix)))
		}
	default:
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
}

func formatTarget(t router.Target) string {
	var b strings.Builder
	if t.Keyless {
		b.WriteString("keyless")
	} else {
		fmt.Fprintf(&b, "slot %d", t.Slot)
	}
	fmt.Fprintf(&b, " -> %s (shard %s", t.Node.Addr(), t.Shard)
	if t.Replica {
		b.WriteString(", replica")
	}
	b.WriteString(")")
	return b.String()
}

func writeView(w io.Writer, v state.View) error {
	fmt.Fprintf(w, "topology version %d, %d shards", v.Version, len(v.Shards))
	if v.Seed != "" {
		fmt.Fprintf(w, ", read from %s", v.Seed)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MASTER\tREPLICAS\tSLOTS\tRANGES")
	for _, sh := range v.Shards {
		replicas := make([]string, len(sh.Replicas))
		for i, r := range sh.Replicas {
			replicas[i] = r.Addr
		}
		if len(replicas) == 0 {
			replicas = []string{"-"}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n",
			sh.Master.Addr, strings.Join(replicas, ","), sh.Slots, formatRanges(sh.Ranges))
	}
	return tw.Flush()
}

func formatRanges(ranges []state.RangeInfo) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		if r.Start == r.End {
			parts[i] = strconv.Itoa(int(r.Start))
		} else {
			parts[i] = fmt.Sprintf("%d-%d", r.Start, r.End)
		}
	}
	return strings.Join(parts, ",")
}

func writeViewJSON(w io.Writer, v state.View) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
