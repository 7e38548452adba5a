package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sguter90/aranetmaestro/pkg/models"
	"golang.org/x/term"
)

const timeLayout = "2006-01-02 15:04:05"

func printHeader(title string) {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println(title)
	fmt.Println(strings.Repeat("=", 80))
}

func printFooter() {
	fmt.Println("\n" + strings.Repeat("=", 80) + "\n")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReading writes the measurements a reading carries, one per line
func printReading(w io.Writer, r models.CurrentReading) {
	if r.CO2 > 0 {
		fmt.Fprintf(w, "    CO2:         %d ppm\n", r.CO2)
	}
	fmt.Fprintf(w, "    Temperature: %.2f °C\n", r.Temperature)
	if r.Pressure > 0 {
		fmt.Fprintf(w, "    Pressure:    %.1f hPa\n", r.Pressure)
	}
	fmt.Fprintf(w, "    Humidity:    %d %%\n", r.Humidity)
	if r.Radon != nil {
		fmt.Fprintf(w, "    Radon:       %d Bq/m3\n", *r.Radon)
	}
	if r.RadonAvg24h != nil {
		fmt.Fprintf(w, "    Radon 24h:   %d Bq/m3\n", *r.RadonAvg24h)
	}
	if r.RadiationRate != nil {
		fmt.Fprintf(w, "    Dose rate:   %.3f µSv/h\n", *r.RadiationRate)
	}
	if r.RadiationTotal != nil {
		fmt.Fprintf(w, "    Total dose:  %.4f mSv\n", *r.RadiationTotal)
	}
	fmt.Fprintf(w, "    Battery:     %d %%\n", r.Battery)
	fmt.Fprintf(w, "    Status:      %s\n", r.Status)
	fmt.Fprintf(w, "    Interval:    %ds (measured %ds ago)\n", r.Interval, r.Age)
}

// isTerminal reports whether f is attached to a terminal
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// progressPrinter renders a single updating progress line on a terminal
// and stays silent otherwise.
type progressPrinter struct {
	out     *os.File
	enabled bool
	last    int
}

func newProgressPrinter(out *os.File) *progressPrinter {
	return &progressPrinter{out: out, enabled: isTerminal(out), last: -1}
}

func (p *progressPrinter) update(label string, fraction float32) {
	if !p.enabled {
		return
	}
	percent := int(fraction * 100)
	if percent == p.last {
		return
	}
	p.last = percent

	width := 30
	if w, _, err := term.GetSize(int(p.out.Fd())); err == nil && w > 60 {
		width = 40
	}
	filled := width * percent / 100
	fmt.Fprintf(p.out, "\r%-14s [%s%s] %3d%%", label, strings.Repeat("#", filled), strings.Repeat(" ", width-filled), percent)
}

func (p *progressPrinter) done() {
	if p.enabled && p.last >= 0 {
		fmt.Fprintln(p.out)
	}
}
