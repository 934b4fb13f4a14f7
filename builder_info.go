package kjoin

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
)

func printInfo(w io.Writer, b *JoinBuilder) {
	data := [][]string{
		{"kjoin.Name", b.config.Name},
		{"kjoin.Runtime", b.runtime.Name()},
		{"kjoin.Sources", strings.Join(b.runtime.Sources(), `, `)},
		{"kjoin.Designated", b.runtime.Designated()},
		{``, ``},
		{"kjoin.WorkerPool.NumOfWorkers", fmt.Sprint(b.config.WorkerPool.NumOfWorkers)},
		{"kjoin.WorkerPool.WorkerBufferSize", fmt.Sprint(b.config.WorkerPool.WorkerBufferSize)},
		{"kjoin.WorkerPool.EvictInterval", b.config.WorkerPool.EvictInterval.String()},
		{``, ``},
		{"kjoin.MaxPending (Per Worker And Side)", fmt.Sprint(b.config.MaxPending)},
		{"kjoin.MaxPendingAge", b.config.MaxPendingAge.String()},
		{``, ``},
		{"kjoin.Http.Enabled", fmt.Sprint(b.config.Http.Enabled)},
		{"kjoin.Http.Host", b.config.Http.Host},
	}

	sinks := b.runtime.Sinks()
	if len(sinks) > 0 {
		data = append(data, []string{``, ``})
		for _, s := range sinks {
			data = append(data, []string{fmt.Sprintf("kjoin.Sink.%s", s.Type), s.Name})
		}
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Config", "Value"})

	for _, v := range data {
		table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT})
		table.Append(v)
	}
	table.Render()
}
