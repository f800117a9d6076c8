// Copyright 2024 PerFlow Authors
// Licensed under the Apache License, Version 2.0

// Package visualize emits a DOT graph description of a
// PerformanceTree and invokes an external `dot` renderer to produce
// a PDF.
package visualize

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"

	"github.com/perflow/perfprof/internal/tree"
)

// ColorScheme selects how node fill colors are derived from sample
// share.
type ColorScheme int

const (
	// Grayscale shades from white (cold) to black (hot).
	Grayscale ColorScheme = iota
	// Heatmap runs blue -> cyan -> green -> yellow -> red.
	Heatmap
	// Rainbow sweeps hue from red (hot) to purple (cold).
	Rainbow
)

// Options configures GenerateDOT/GeneratePDF.
type Options struct {
	Scheme   ColorScheme
	MaxDepth int // 0 means unlimited
}

// GenerateDOT writes t as a GraphViz DOT graph to w. Node sample
// counts use self samples when t's count mode is Exclusive, total
// samples otherwise.
func GenerateDOT(w io.Writer, t *tree.Tree, opts Options) error {
	useSelfSamples := t.CountMode() == tree.Exclusive
	maxSamples := t.TotalSamples()

	bw := newErrWriter(w)
	bw.printf("digraph PerformanceTree {\n")
	bw.printf("  rankdir=TB;\n")
	bw.printf("  node [shape=box, style=filled];\n")
	bw.printf("  edge [arrowhead=vee];\n\n")

	ids := make(map[*tree.TreeNode]int)
	nextID := 0
	var walk func(n *tree.TreeNode, depth int)
	walk = func(n *tree.TreeNode, depth int) {
		if opts.MaxDepth > 0 && depth > opts.MaxDepth {
			return
		}
		id, ok := ids[n]
		if !ok {
			id = nextID
			nextID++
			ids[n] = id
		}

		samples := n.Total()
		if useSelfSamples {
			samples = n.Self()
		}
		label := nodeLabel(n, samples, maxSamples)
		color := nodeColor(samples, maxSamples, opts.Scheme)
		bw.printf("  node%d [label=\"%s\", fillcolor=\"%s\"];\n", id, label, color)

		for _, c := range n.Children() {
			if opts.MaxDepth > 0 && depth+1 > opts.MaxDepth {
				break
			}
			childID, ok := ids[c]
			if !ok {
				childID = nextID
				nextID++
				ids[c] = childID
			}
			bw.printf("  node%d -> node%d", id, childID)
			if cc := n.CallCount(c); cc > 0 {
				bw.printf(" [label=\"%d\"]", cc)
			}
			bw.printf(";\n")
		}
		for _, c := range n.Children() {
			walk(c, depth+1)
		}
	}
	walk(t.Root(), 0)

	bw.printf("}\n")
	return bw.err
}

func nodeLabel(n *tree.TreeNode, samples, maxSamples uint64) string {
	label := n.Frame.FunctionName
	if label == "" {
		label = fmt.Sprintf("0x%x", n.Frame.RawAddress)
	}
	var pct float64
	if maxSamples > 0 {
		pct = float64(samples) * 100.0 / float64(maxSamples)
	}
	label += fmt.Sprintf("\\n[%d samples, %.1f%%]", samples, pct)
	return strings.ReplaceAll(label, `"`, `\"`)
}

func nodeColor(samples, maxSamples uint64, scheme ColorScheme) string {
	if maxSamples == 0 {
		return "white"
	}
	ratio := float64(samples) / float64(maxSamples)

	switch scheme {
	case Grayscale:
		gray := int((1.0 - ratio) * 255)
		return fmt.Sprintf("#%02x%02x%02x", gray, gray, gray)
	case Heatmap:
		r, g, b := heatmapRGB(ratio)
		return fmt.Sprintf("#%02x%02x%02x", r, g, b)
	case Rainbow:
		h := (1.0 - ratio) * 270.0
		r, g, b := hsvToRGB(h, 1.0, 1.0)
		return fmt.Sprintf("#%02x%02x%02x", r, g, b)
	default:
		return "white"
	}
}

func heatmapRGB(ratio float64) (r, g, b int) {
	switch {
	case ratio < 0.25:
		return 0, int(ratio * 4 * 255), 255
	case ratio < 0.5:
		return 0, 255, int((0.5 - ratio) * 4 * 255)
	case ratio < 0.75:
		return int((ratio - 0.5) * 4 * 255), 255, 0
	default:
		return 255, int((1.0 - ratio) * 4 * 255), 0
	}
}

func hsvToRGB(h, s, v float64) (r, g, b int) {
	c := v * s
	x := c * (1.0 - math.Abs(math.Mod(h/60.0, 2.0)-1.0))
	m := v - c

	var r1, g1, b1 float64
	switch {
	case h < 60:
		r1, g1, b1 = c, x, 0
	case h < 120:
		r1, g1, b1 = x, c, 0
	case h < 180:
		r1, g1, b1 = 0, c, x
	case h < 240:
		r1, g1, b1 = 0, x, c
	case h < 300:
		r1, g1, b1 = x, 0, c
	default:
		r1, g1, b1 = c, 0, x
	}
	return int((r1 + m) * 255), int((g1 + m) * 255), int((b1 + m) * 255)
}

// GeneratePDF writes t's DOT form to outputPDF+".dot", then invokes
// the external `dot` renderer to produce outputPDF, removing the
// intermediate DOT file afterward.
func GeneratePDF(t *tree.Tree, outputPDF string, opts Options) error {
	dotPath := outputPDF + ".dot"
	f, err := os.Create(dotPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", dotPath, err)
	}
	if err := GenerateDOT(f, t, opts); err != nil {
		f.Close()
		return fmt.Errorf("generate dot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dotPath, err)
	}
	defer os.Remove(dotPath)

	cmd := exec.Command("dot", "-Tpdf", dotPath, "-o", outputPDF)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("dot -Tpdf: %w (%s)", err, out)
	}
	return nil
}

// errWriter accumulates the first write error instead of threading it
// through every printf call, mirroring the "check once at the end"
// pattern common in the corpus's encoders.
type errWriter struct {
	w   io.Writer
	err error
}

func newErrWriter(w io.Writer) *errWriter { return &errWriter{w: w} }

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
