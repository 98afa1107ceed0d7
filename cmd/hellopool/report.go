package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"hellopool/internal/client"
	"hellopool/internal/metrics"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	failColor   = color.New(color.FgRed, color.Bold)
)

// printReport は負荷生成の結果を表示する
func printReport(w io.Writer, cfg client.Config, snap *metrics.Snapshot) {
	headerColor.Fprintln(w, "=== Load Report ===")
	fmt.Fprintf(w, "Target:       %s\n", cfg.Target)
	fmt.Fprintf(w, "Concurrency:  %d\n", cfg.Concurrency)
	fmt.Fprintf(w, "Elapsed:      %v\n", snap.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Requests:     %d\n", snap.TotalRequests)
	okColor.Fprintf(w, "Success:      %d\n", snap.SuccessRequests)

	failed := okColor
	if snap.FailedRequests > 0 {
		failed = failColor
	}
	failed.Fprintf(w, "Failed:       %d (%.2f%%)\n", snap.FailedRequests, snap.ErrorRate*100)

	fmt.Fprintf(w, "RPS:          %.2f\n", snap.OverallRPS)
	fmt.Fprintf(w, "Avg latency:  %v\n", snap.AverageLatency.Round(time.Microsecond))
	fmt.Fprintf(w, "P99 latency:  %v\n", snap.P99Latency.Round(time.Microsecond))
}
