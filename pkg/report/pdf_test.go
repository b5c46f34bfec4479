package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nstogner/agency/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `# Solar Costs

Module prices fell sharply, see [IEA report](https://www.iea.org/solar) and
https://example.com/data for details. The **IEA** again: [IEA](https://www.iea.org/solar).

- first point with *emphasis*
- second point
  1. nested
  2. ordered

> Quoted finding.

| Year | Price |
|------|-------|
| 2020 | 0.20  |
| 2024 | 0.11  |

` + "```\ncode block\n```\n"

type recordingReports struct {
	created []*domain.Report
}

func (r *recordingReports) CreateReport(ctx context.Context, rep *domain.Report) error {
	r.created = append(r.created, rep)
	return nil
}

func (r *recordingReports) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	return nil, nil
}

func (r *recordingReports) ListReports(ctx context.Context) ([]domain.Report, error) {
	return nil, nil
}

func TestFilename(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, "research_report_best_e-bikes_2025_20250304_050607.pdf", Filename("best e-bikes 2025?", at))
	assert.Equal(t, "research_report__20250304_050607.pdf", Filename("???", at))

	long := "aaaaaaaaaa aaaaaaaaaa aaaaaaaaaa aaaaaaaaaa aaaaaaaaaa bbbbb"
	assert.Equal(t, "research_report_aaaaaaaaaa_aaaaaaaaaa_aaaaaaaaaa_aaaaaaaaaa_aaaaaa_20250304_050607.pdf", Filename(long, at))
}

func TestRenderReferences(t *testing.T) {
	w := New(t.TempDir(), nil)
	_, refs := w.render(sample, "solar", time.Now())

	require.Len(t, refs, 2)
	assert.Equal(t, Reference{Number: 1, Title: "IEA report", URL: "https://www.iea.org/solar"}, refs[0])
	assert.Equal(t, Reference{Number: 2, Title: "example.com", URL: "https://example.com/data"}, refs[1])
}

func TestRenderSkipsAnchors(t *testing.T) {
	w := New(t.TempDir(), nil)
	_, refs := w.render("See [below](#methods).", "q", time.Now())
	assert.Empty(t, refs)
}

func TestPersist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	reports := &recordingReports{}
	w := New(dir, reports).ForSession("sess-1")
	w.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	path, err := w.Persist(context.Background(), sample, "solar costs")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "research_report_solar_costs_20250102_030405.pdf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

	require.Len(t, reports.created, 1)
	rec := reports.created[0]
	assert.Equal(t, "sess-1", rec.SessionID)
	assert.Equal(t, path, rec.Path)
	assert.Equal(t, len(sample), rec.Chars)
	assert.NotEmpty(t, rec.ID)
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", domainOf("https://www.example.com/x"))
	assert.Equal(t, "example.com", domainOf("www.example.com"))
}
