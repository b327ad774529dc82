package main

import (
	"io"
	"pflatency/pkg/stats"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Process prints the final report with thousands separators.
func Process(w io.Writer, r stats.Report) {
	p := message.NewPrinter(language.English)
	if r.NoData {
		p.Fprintf(w, "\nNo packets received => no stats\n")
		return
	}
	p.Fprintf(w, "\nPackets received: %d\n", r.Received)
	p.Fprintf(w, "Max delay: %.2f usec\n", r.MaxUsec)
	p.Fprintf(w, "Min delay: %.2f usec\n", r.MinUsec)
	p.Fprintf(w, "Avg delay: %.2f usec\n", r.AvgUsec)
}
