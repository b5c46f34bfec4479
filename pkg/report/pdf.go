// Package report renders finished research as PDF documents.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"
	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/store"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	documentTitle = "Deep Research Report"
	maxTitleRunes = 50
	lineHeight    = 5.5
	bodySize      = 11
)

// PDFWriter persists research text as a PDF file.
type PDFWriter struct {
	dir       string
	reports   store.ReportStore
	sessionID string
	now       func() time.Time
	md        goldmark.Markdown
}

// New creates a writer that saves under dir and, when reports is non-nil,
// records each file in the report index.
func New(dir string, reports store.ReportStore) *PDFWriter {
	return &PDFWriter{
		dir:     dir,
		reports: reports,
		now:     time.Now,
		md:      goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough, extension.Linkify)),
	}
}

// ForSession returns a copy of the writer that tags recorded reports with the
// given session ID.
func (w *PDFWriter) ForSession(id string) *PDFWriter {
	c := *w
	c.sessionID = id
	return &c
}

// Persist renders content (markdown) and returns the path of the written file.
func (w *PDFWriter) Persist(ctx context.Context, content, title string) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating reports directory: %w", err)
	}
	now := w.now()
	path := filepath.Join(w.dir, Filename(title, now))

	pdf, _ := w.render(content, title, now)
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("writing pdf: %w", err)
	}

	if w.reports != nil {
		rec := &domain.Report{
			ID:        uuid.New().String(),
			SessionID: w.sessionID,
			Title:     title,
			Path:      path,
			Chars:     len(content),
			CreatedAt: now.UTC(),
		}
		if err := w.reports.CreateReport(ctx, rec); err != nil {
			// The file exists; an unindexed report is still a report.
			slog.Warn("Recording report", "path", path, "error", err)
		}
	}
	slog.Info("Report saved", "path", path, "chars", len(content))
	return path, nil
}

// Filename builds research_report_<safe title>_<YYYYMMDD_HHMMSS>.pdf.
func Filename(title string, at time.Time) string {
	return fmt.Sprintf("research_report_%s_%s.pdf", safeTitle(title), at.Format("20060102_150405"))
}

// safeTitle keeps letters, digits, spaces, dashes and underscores from the
// first characters of title, then turns spaces into underscores.
func safeTitle(title string) string {
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		runes = runes[:maxTitleRunes]
	}
	var b strings.Builder
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(b.String()), " ", "_")
}

// render lays out the document and returns it with the references it cited.
func (w *PDFWriter) render(content, title string, at time.Time) (*fpdf.Fpdf, []Reference) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(documentTitle, true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	r := &renderer{
		pdf:    pdf,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
		refs:   newReferences(),
		source: []byte(content),
	}
	r.header(title, at)
	doc := w.md.Parser().Parse(text.NewReader(r.source))
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		r.block(n, 0)
	}
	r.referenceList()
	return pdf, r.refs.list
}

// run is a span of inline text sharing one style.
type run struct {
	text  string
	style string // fpdf style: "", "B", "I", "BI"
	mono  bool
}

type renderer struct {
	pdf    *fpdf.Fpdf
	tr     func(string) string
	refs   *references
	source []byte
}

func (r *renderer) header(title string, at time.Time) {
	p := r.pdf
	p.SetFont("Helvetica", "B", 20)
	p.SetTextColor(30, 41, 59)
	p.MultiCell(0, 10, r.tr(documentTitle), "", "L", false)
	p.SetFont("Helvetica", "", 10)
	p.SetTextColor(71, 85, 105)
	p.MultiCell(0, lineHeight, r.tr("Query: "+title), "", "L", false)
	p.MultiCell(0, lineHeight, r.tr("Generated on "+at.Format("January 2, 2006 at 03:04 PM")), "", "L", false)
	x, y := p.GetX(), p.GetY()+2
	pageW, _ := p.GetPageSize()
	_, _, right, _ := p.GetMargins()
	p.SetDrawColor(203, 213, 225)
	p.Line(x, y, pageW-right, y)
	p.Ln(6)
	p.SetTextColor(0, 0, 0)
}

func (r *renderer) block(n ast.Node, indent float64) {
	p := r.pdf
	switch n := n.(type) {
	case *ast.Heading:
		size := map[int]float64{1: 17, 2: 15, 3: 13}[n.Level]
		if size == 0 {
			size = 12
		}
		p.Ln(2)
		p.SetFont("Helvetica", "B", size)
		p.SetTextColor(30, 41, 59)
		p.MultiCell(0, size*0.5, r.tr(plain(r.inline(n))), "", "L", false)
		p.SetTextColor(0, 0, 0)
		p.Ln(2)

	case *ast.Paragraph, *ast.TextBlock:
		r.writeRuns(r.inline(n), "")
		p.Ln(lineHeight)
		if _, ok := n.(*ast.Paragraph); ok {
			p.Ln(2)
		}

	case *ast.List:
		r.list(n, indent)
		p.Ln(1)

	case *ast.Blockquote:
		left, _, _, _ := p.GetMargins()
		p.SetLeftMargin(left + 6)
		p.SetX(left + 6)
		p.SetTextColor(71, 85, 105)
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if para, ok := c.(*ast.Paragraph); ok {
				r.writeRuns(r.inline(para), "I")
				p.Ln(lineHeight + 2)
				continue
			}
			r.block(c, indent)
		}
		p.SetTextColor(0, 0, 0)
		p.SetLeftMargin(left)
		p.SetX(left)

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		var b strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(r.source))
		}
		p.SetFont("Courier", "", 9)
		p.SetFillColor(241, 245, 249)
		p.MultiCell(0, 4.5, r.tr(strings.TrimRight(b.String(), "\n")), "", "L", true)
		p.Ln(3)

	case *east.Table:
		r.table(n)

	case *ast.ThematicBreak:
		pageW, _ := p.GetPageSize()
		left, _, right, _ := p.GetMargins()
		y := p.GetY() + 2
		p.SetDrawColor(203, 213, 225)
		p.Line(left, y, pageW-right, y)
		p.Ln(6)

	case *ast.HTMLBlock:
		// Raw HTML is not rendered.

	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			r.block(c, indent)
		}
	}
}

func (r *renderer) list(n *ast.List, indent float64) {
	p := r.pdf
	left, _, _, _ := p.GetMargins()
	num := n.Start
	if num == 0 {
		num = 1
	}
	for item := n.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "-"
		if n.IsOrdered() {
			marker = fmt.Sprintf("%d.", num)
			num++
		}
		p.SetFont("Helvetica", "", bodySize)
		p.SetX(left + indent)
		p.CellFormat(6, lineHeight, r.tr(marker), "", 0, "L", false, 0, "")

		p.SetLeftMargin(left + indent + 6)
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if sub, ok := c.(*ast.List); ok {
				p.SetLeftMargin(left)
				r.list(sub, indent+6)
				p.SetLeftMargin(left + indent + 6)
				continue
			}
			r.block(c, indent+6)
		}
		p.SetLeftMargin(left)
		p.SetX(left)
	}
}

func (r *renderer) table(n *east.Table) {
	p := r.pdf
	pageW, pageH := p.GetPageSize()
	left, _, right, bottom := p.GetMargins()

	var rows [][]string
	var header int
	for row := n.FirstChild(); row != nil; row = row.NextSibling() {
		if _, ok := row.(*east.TableHeader); ok {
			header++
		}
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, r.tr(plain(r.inline(cell))))
		}
		rows = append(rows, cells)
	}
	cols := 0
	for _, row := range rows {
		cols = max(cols, len(row))
	}
	if cols == 0 {
		return
	}
	colW := (pageW - left - right) / float64(cols)
	const cellLine = 5.0

	p.SetDrawColor(203, 213, 225)
	for i, row := range rows {
		style := ""
		if i < header {
			style = "B"
			p.SetFillColor(241, 245, 249)
		}
		p.SetFont("Helvetica", style, 9)

		lines := 1
		for _, cell := range row {
			lines = max(lines, len(p.SplitText(cell, colW-2)))
		}
		h := float64(lines)*cellLine + 2
		if p.GetY()+h > pageH-bottom {
			p.AddPage()
		}

		y := p.GetY()
		for c := 0; c < cols; c++ {
			x := left + float64(c)*colW
			fill := "D"
			if i < header {
				fill = "FD"
			}
			p.Rect(x, y, colW, h, fill)
			if c < len(row) {
				p.SetXY(x+1, y+1)
				p.MultiCell(colW-2, cellLine, row[c], "", "L", false)
			}
		}
		p.SetXY(left, y+h)
	}
	p.Ln(4)
}

// inline flattens the inline children of n into styled runs. Links and bare
// URLs become numbered reference markers.
func (r *renderer) inline(n ast.Node) []run {
	var runs []run
	var walk func(n ast.Node, style string)
	walk = func(n ast.Node, style string) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch c := c.(type) {
			case *ast.Text:
				t := string(c.Segment.Value(r.source))
				if c.HardLineBreak() {
					t += "\n"
				} else if c.SoftLineBreak() {
					t += " "
				}
				runs = append(runs, run{text: t, style: style})
			case *ast.String:
				runs = append(runs, run{text: string(c.Value), style: style})
			case *ast.CodeSpan:
				runs = append(runs, run{text: plain(r.inline(c)), mono: true})
			case *ast.Emphasis:
				s := "I"
				if c.Level >= 2 {
					s = "B"
				}
				if style != "" && style != s {
					s = "BI"
				}
				walk(c, s)
			case *ast.Link:
				dest := string(c.Destination)
				if strings.HasPrefix(dest, "#") {
					walk(c, style)
					continue
				}
				num := r.refs.cite(dest, plain(r.inline(c)))
				runs = append(runs, run{text: fmt.Sprintf("[%d]", num), style: style})
			case *ast.AutoLink:
				num := r.refs.cite(string(c.URL(r.source)), "")
				runs = append(runs, run{text: fmt.Sprintf("[%d]", num), style: style})
			case *ast.RawHTML:
				// Dropped.
			default:
				walk(c, style)
			}
		}
	}
	walk(n, "")
	return runs
}

func (r *renderer) writeRuns(runs []run, base string) {
	p := r.pdf
	for _, rn := range runs {
		style := rn.style
		if base != "" && !strings.Contains(style, base) {
			style = base + style
		}
		if rn.mono {
			p.SetFont("Courier", "", bodySize-1)
		} else {
			p.SetFont("Helvetica", normalizeStyle(style), bodySize)
		}
		p.Write(lineHeight, r.tr(rn.text))
	}
}

// normalizeStyle orders style letters the way fpdf expects.
func normalizeStyle(s string) string {
	out := ""
	if strings.Contains(s, "B") {
		out += "B"
	}
	if strings.Contains(s, "I") {
		out += "I"
	}
	return out
}

func plain(runs []run) string {
	var b strings.Builder
	for _, rn := range runs {
		b.WriteString(rn.text)
	}
	return strings.TrimSpace(b.String())
}

func (r *renderer) referenceList() {
	if len(r.refs.list) == 0 {
		return
	}
	p := r.pdf
	p.Ln(4)
	p.SetFont("Helvetica", "B", 15)
	p.SetTextColor(30, 41, 59)
	p.MultiCell(0, 8, "References", "", "L", false)
	p.Ln(1)
	for _, ref := range r.refs.list {
		p.SetFont("Helvetica", "B", 10)
		p.SetTextColor(0, 0, 0)
		p.Write(lineHeight, r.tr(fmt.Sprintf("[%d] %s", ref.Number, ref.Title)))
		p.Ln(lineHeight)
		p.SetFont("Helvetica", "", 9)
		p.SetTextColor(37, 99, 235)
		p.WriteLinkString(lineHeight, r.tr(ref.URL), ref.URL)
		p.Ln(lineHeight + 1)
	}
	p.SetTextColor(0, 0, 0)
}
