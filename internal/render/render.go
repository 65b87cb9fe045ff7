package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/firefart/dmarcanalyzer/internal/analyzer"
	"github.com/firefart/dmarcanalyzer/internal/dmarc"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/muesli/termenv"
)

var recordHeaders = []string{
	"Source IP", "Count", "Header From", "SPF Domain", "SPF Result",
	"DKIM Domain", "DKIM Result", "DKIM Selector", "DMARC Result",
}

var sourceHeaders = []string{"Source Host", "Country", "ASN"}

// columns holding a pass/fail result
var resultColumns = map[int]bool{4: true, 6: true, 8: true}

const separatorWidth = 80

// Printer writes analysis results as text tables.
type Printer struct {
	w      io.Writer
	color  bool
	pass   lipgloss.Style
	fail   lipgloss.Style
	other  lipgloss.Style
	cell   lipgloss.Style
	header lipgloss.Style
}

// New creates a Printer writing to w. Without color no escape sequences
// are written.
func New(w io.Writer, color bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if !color {
		r.SetColorProfile(termenv.Ascii)
	} else if r.ColorProfile() == termenv.Ascii {
		r.SetColorProfile(termenv.ANSI)
	}
	cell := r.NewStyle().Padding(0, 1)
	header := cell
	if color {
		header = cell.Bold(true)
	}
	return &Printer{
		w:      w,
		color:  color,
		pass:   cell.Foreground(lipgloss.Color("2")),
		fail:   cell.Foreground(lipgloss.Color("1")),
		other:  cell.Foreground(lipgloss.Color("3")),
		cell:   cell,
		header: header,
	}
}

// resultStyle colors a result: pass green, fail red, everything else
// yellow.
func (p *Printer) resultStyle(result string) lipgloss.Style {
	if !p.color {
		return p.cell
	}
	switch strings.ToLower(result) {
	case dmarc.ResultPass:
		return p.pass
	case dmarc.ResultFail:
		return p.fail
	default:
		return p.other
	}
}

func (p *Printer) section(title string) {
	sep := strings.Repeat("=", separatorWidth)
	fmt.Fprintf(p.w, "\n%s\n%s\n%s\n", sep, title, sep)
}

// Report prints the record overview of a run: a headline, the displayed
// records and the footers.
func (p *Printer) Report(res *analyzer.Result) {
	fmt.Fprintf(p.w, "Analysis result: %d records (%d messages from %d reports)\n",
		len(res.Consolidated), res.Volume(), res.Documents)

	if res.ShowAll {
		p.section("All records")
		fmt.Fprintln(p.w, p.RecordTable(res.Displayed, res.Sources))
		return
	}

	if len(res.Displayed) == 0 {
		fmt.Fprintln(p.w, "\nNo records with errors.")
		return
	}

	p.section("Records with errors")
	fmt.Fprintln(p.w, p.RecordTable(res.Displayed, res.Sources))
	fmt.Fprintf(p.w, "\n%d records with errors.\n", len(res.Displayed))
	if res.CleanCount > 0 {
		fmt.Fprintf(p.w, "%d clean records omitted.\n", res.CleanCount)
	}
}

// RecordTable renders records as a grid. Source columns are added when
// sources is not nil.
func (p *Printer) RecordTable(records []dmarc.EvaluatedRecord, sources map[string]analyzer.SourceInfo) string {
	if len(records) == 0 {
		return ""
	}
	headers := recordHeaders
	if sources != nil {
		headers = append(append([]string{}, recordHeaders...), sourceHeaders...)
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		row := []string{
			r.SourceIP,
			strconv.Itoa(r.Count),
			r.HeaderFrom,
			r.SPFDomain,
			r.SPFResult,
			r.DKIMDomain,
			r.DKIMResult,
			r.DKIMSelector,
			r.DMARCResult,
		}
		if sources != nil {
			info := sources[r.SourceIP]
			asn := ""
			if info.ASN != 0 {
				asn = fmt.Sprintf("AS%d %s", info.ASN, info.ASOrg)
			}
			row = append(row, info.Hosts(), info.Country, strings.TrimSpace(asn))
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderRow(true).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header
			}
			if resultColumns[col] && row >= 0 && row < len(rows) {
				return p.resultStyle(rows[row][col])
			}
			return p.cell
		})
	return t.Render()
}

// Details prints the statistics block, the per domain breakdown and the
// external domains.
func (p *Printer) Details(s dmarc.Summary, caveats []dmarc.Caveat) {
	p.section("Detailed analysis")

	fmt.Fprintln(p.w, "Statistics:")
	fmt.Fprintf(p.w, "  - Total records: %d\n", s.Total)
	p.stat("SPF failed", s.SPFFailed, s.Total)
	p.stat("DKIM failed", s.DKIMFailed, s.Total)
	p.stat("DMARC failed", s.DMARCFailed, s.Total)

	if len(s.Domains) > 0 {
		fmt.Fprintln(p.w, "\nPer domain analysis:")
		for _, d := range s.Domains {
			if rate, ok := d.FailRate(); ok {
				fmt.Fprintf(p.w, "  - %s: %d of %d failed (%.1f%%)\n", d.Domain, d.Failed, d.Total, rate)
			} else {
				fmt.Fprintf(p.w, "  - %s: %d of %d failed\n", d.Domain, d.Failed, d.Total)
			}
		}
	}

	if len(s.External) > 0 {
		fmt.Fprintln(p.w, "\nExternal domains:")
		fmt.Fprintln(p.w, p.ExternalTable(s.External))
	}

	if len(caveats) > 0 {
		fmt.Fprintln(p.w, "\nAlignment notes (public suffix list disagrees with the two label rule):")
		for _, c := range caveats {
			fmt.Fprintf(p.w, "  - %s %s vs header_from %s: aligned=%t, psl aligned=%t\n",
				c.Mechanism, c.Domain, c.HeaderFrom, c.Heuristic, c.PublicSuffix)
		}
	}
}

func (p *Printer) stat(label string, failed, total int) {
	if pct, ok := dmarc.Percent(failed, total); ok {
		fmt.Fprintf(p.w, "  - %s: %d (%.1f%%)\n", label, failed, pct)
		return
	}
	fmt.Fprintf(p.w, "  - %s: %d\n", label, failed)
}

// ExternalTable renders the grouped external domain statistics.
func (p *Printer) ExternalTable(domains []dmarc.ExternalDomain) string {
	rows := make([][]string, 0, len(domains))
	for _, d := range domains {
		name := d.Domain
		if d.Grouped() {
			name = fmt.Sprintf("%s (%d)", d.Domain, d.Members)
		}
		s := d.Stats
		rows = append(rows, []string{
			name,
			strconv.Itoa(s.SPFPass),
			strconv.Itoa(s.SPFSoftfail),
			strconv.Itoa(s.SPFFail),
			strconv.Itoa(s.SPFNone),
			strconv.Itoa(s.SPFOther),
			strconv.Itoa(s.DKIMPass),
			strconv.Itoa(s.DKIMFail),
			strconv.Itoa(s.DKIMOther),
			strconv.Itoa(d.Total()),
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Domain", "SPF Pass", "SPF Softfail", "SPF Fail", "SPF None", "SPF Other",
			"DKIM Pass", "DKIM Fail", "DKIM Other", "Total").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.header
			}
			return p.cell
		})
	return t.Render()
}
