package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

// Format selects how a report is rendered.
type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// ParseFormat parses a format name. An empty name is FormatTable.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "table", "text":
		return FormatTable, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown report format %q", name)
	}
}

// Options tune Render.
type Options struct {
	Format Format

	// Color enables styling of the terminal table.
	Color bool

	// Width bounds the terminal table. Zero leaves it unbounded.
	Width int
}

// Render writes r to w.
func Render(w io.Writer, r *Report, opts Options) error {
	switch opts.Format {
	case FormatTable, "":
		return renderTable(w, r, opts)
	case FormatMarkdown:
		return renderMarkdown(w, r)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	default:
		return fmt.Errorf("unknown report format %q", opts.Format)
	}
}

func (r *Report) headers() []string {
	h := make([]string, 0, len(r.Points)+1+len(r.Fields))
	h = append(h, r.Points...)
	h = append(h, "runs")
	return append(h, r.Fields...)
}

func (r *Report) rows() [][]string {
	rows := make([][]string, len(r.Groups))
	for i, g := range r.Groups {
		row := make([]string, 0, len(g.Point)+1+len(r.Fields))
		row = append(row, g.Point...)
		row = append(row, strconv.Itoa(g.Runs))
		for _, f := range r.Fields {
			row = append(row, cell(g.Fields[f]))
		}
		rows[i] = row
	}
	return rows
}

// cell renders "mean ± stddev", or the mean alone when there is no spread.
func cell(s Stats) string {
	if s.Count == 0 {
		return ""
	}
	if s.StdDev == 0 {
		return num(s.Mean)
	}
	return num(s.Mean) + " ± " + num(s.StdDev)
}

func num(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strconv.FormatFloat(v, 'g', 5, 64)
}

func renderTable(w io.Writer, r *Report, opts Options) error {
	re := lipgloss.NewRenderer(w)
	if !opts.Color {
		re.SetColorProfile(termenv.Ascii)
	}
	titleStyle := re.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle := re.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := re.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(re.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers(r.headers()...).
		Rows(r.rows()...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	if opts.Width > 0 {
		t = t.Width(opts.Width)
	}

	if r.Name != "" {
		if _, err := fmt.Fprintln(w, titleStyle.Render(r.Name)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func renderMarkdown(w io.Writer, r *Report) error {
	var b strings.Builder
	title := "Results"
	if r.Name != "" {
		title = r.Name
	}
	fmt.Fprintf(&b, "# Report: %s\n\n", title)

	if len(r.Meta) > 0 {
		b.WriteString("## Environment\n\n")
		for _, m := range r.Meta {
			fmt.Fprintf(&b, "- **%s:** %s\n", m.Key, m.Value)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Results\n\n")
	headers := r.headers()
	b.WriteString("| " + strings.Join(headers, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat("---|", len(headers)) + "\n")
	for _, row := range r.rows() {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderBars prints the mean of field for every point as a horizontal bar
// scaled to width characters.
func RenderBars(w io.Writer, r *Report, field string, width int) error {
	known := false
	for _, f := range r.Fields {
		known = known || f == field
	}
	if !known {
		return fmt.Errorf("no numeric field %q", field)
	}
	if width <= 0 {
		width = 50
	}

	labels := make([]string, len(r.Groups))
	labelWidth := 0
	maxMean := 0.0
	for i, g := range r.Groups {
		parts := make([]string, len(g.Point))
		for j, v := range g.Point {
			parts[j] = r.Points[j] + "=" + v
		}
		labels[i] = strings.Join(parts, " ")
		labelWidth = max(labelWidth, len(labels[i]))
		if s, ok := g.Fields[field]; ok && s.Mean > maxMean {
			maxMean = s.Mean
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s (mean)\n%s\n", field, strings.Repeat("-", labelWidth+width+12))
	for i, g := range r.Groups {
		s, ok := g.Fields[field]
		if !ok {
			fmt.Fprintf(&b, "%-*s  %s\n", labelWidth, labels[i], "n/a")
			continue
		}
		bar := 0
		if maxMean > 0 && s.Mean > 0 {
			bar = int(s.Mean / maxMean * float64(width))
		}
		fmt.Fprintf(&b, "%-*s  %s %s\n", labelWidth, labels[i], strings.Repeat("█", bar), num(s.Mean))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
