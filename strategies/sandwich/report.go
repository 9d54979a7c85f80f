package sandwich

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/michaelpento.lv/sandwichbot/types"
	bmath "github.com/michaelpento.lv/sandwichbot/utils/math"
)

// RenderStats writes a two-column summary of s.
func RenderStats(w io.Writer, s types.SandwichStats) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	rows := [][]string{
		{"Uptime", s.Uptime.Truncate(time.Second).String()},
		{"Opportunities detected", strconv.FormatUint(s.OpportunitiesDetected, 10)},
		{"Opportunities analyzed", strconv.FormatUint(s.OpportunitiesAnalyzed, 10)},
		{"Bundles submitted", strconv.FormatUint(s.BundlesSubmitted, 10)},
		{"Bundles included", strconv.FormatUint(s.BundlesIncluded, 10)},
		{"Bundles aborted", strconv.FormatUint(s.BundlesAborted, 10)},
		{"Successes", strconv.FormatUint(s.Successes, 10)},
		{"Failures", strconv.FormatUint(s.Failures, 10)},
		{"Success rate", fmt.Sprintf("%.2f%%", s.SuccessRate*100)},
		{"Total profit (ETH)", bmath.ToEther(s.TotalProfit).String()},
		{"Total gas (ETH)", bmath.ToEther(s.TotalGasCost).String()},
		{"Net profit (ETH)", bmath.ToEther(s.NetProfit).String()},
		{"Avg profit (ETH)", bmath.ToEther(s.AvgProfit).String()},
	}
	for _, row := range rows {
		table.Append(row)
	}
	table.Render()
}

// RenderResults writes one row per execution result.
func RenderResults(w io.Writer, results []types.SandwichExecutionResult) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Completed", "Opportunity", "Outcome", "Target", "Included", "Net (ETH)", "Gas (ETH)", "Latency"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, r := range results {
		outcome := "success"
		if !r.Success {
			outcome = r.Error
		}
		if r.Exposed {
			outcome += " (exposed)"
		}
		included := "-"
		if r.InclusionBlock > 0 {
			included = strconv.FormatUint(r.InclusionBlock, 10)
		}
		table.Append([]string{
			r.CompletedAt.UTC().Format(time.RFC3339),
			r.OpportunityID,
			outcome,
			strconv.FormatUint(r.TargetBlock, 10),
			included,
			bmath.ToEther(r.NetProfit).String(),
			bmath.ToEther(r.GasCost).String(),
			r.Latency.Truncate(time.Millisecond).String(),
		})
	}
	table.Render()
}
