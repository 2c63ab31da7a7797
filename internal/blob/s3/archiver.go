package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/motunrayo-ayo/bit-oracle/internal/domain"
)

var (
	_ domain.ReportArchiver = (*ReportArchiver)(nil)
	_ domain.ReportStore    = (*ReportArchiver)(nil)
)

// multipartWriter is implemented by Writer; large reports are uploaded in
// parts when the BlobWriter supports it.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ReportArchiver implements domain.ReportArchiver by writing each settlement
// report as a JSONL object: one "market" header line followed by one
// "position" line per entry. It also serves the objects back as a
// domain.ReportStore.
type ReportArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
}

// NewReportArchiver creates a ReportArchiver. audit may be nil.
func NewReportArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *ReportArchiver {
	return &ReportArchiver{writer: writer, reader: reader, audit: audit}
}

// reportLine is one JSONL record. Exactly one of Market or Entry is set.
type reportLine struct {
	Kind        string                 `json:"kind"`
	Market      *domain.Market         `json:"market,omitempty"`
	WinningSide domain.Side            `json:"winning_side,omitempty"`
	Entry       *domain.SettlementLine `json:"entry,omitempty"`
	GeneratedAt string                 `json:"generated_at,omitempty"`
}

// Archive uploads report to reports/markets/{id}.jsonl, replacing any
// earlier upload for the same market.
func (a *ReportArchiver) Archive(ctx context.Context, report domain.SettlementReport) (string, error) {
	buf, err := encodeReport(report)
	if err != nil {
		return "", fmt.Errorf("s3blob: encode report %d: %w", report.Market.ID, err)
	}

	path := ReportPath(report.Market.ID)
	if mw, ok := a.writer.(multipartWriter); ok && int64(len(buf)) > minPartSize {
		err = mw.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: upload report %d: %w", report.Market.ID, err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.settlement_report", map[string]any{
			"path":      path,
			"market_id": report.Market.ID.String(),
			"entries":   len(report.Entries),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return path, nil
}

// Exists reports whether a report for id has been uploaded.
func (a *ReportArchiver) Exists(ctx context.Context, id domain.MarketID) (bool, error) {
	return a.reader.Exists(ctx, ReportPath(id))
}

// Open streams the archived report of id. The caller closes it.
func (a *ReportArchiver) Open(ctx context.Context, id domain.MarketID) (io.ReadCloser, error) {
	return a.reader.Get(ctx, ReportPath(id))
}

// List returns every archived report object.
func (a *ReportArchiver) List(ctx context.Context) ([]domain.BlobInfo, error) {
	return a.reader.List(ctx, reportPrefix)
}

const reportPrefix = "reports/markets/"

// ReportPath is the object key of a market's settlement report.
//
//	reports/markets/12.jsonl
func ReportPath(id domain.MarketID) string {
	return fmt.Sprintf("%s%d.jsonl", reportPrefix, id)
}

func encodeReport(report domain.SettlementReport) ([]byte, error) {
	lines := make([]reportLine, 0, len(report.Entries)+1)
	m := report.Market
	lines = append(lines, reportLine{
		Kind:        "market",
		Market:      &m,
		WinningSide: report.WinningSide,
		GeneratedAt: report.GeneratedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
	for i := range report.Entries {
		lines = append(lines, reportLine{Kind: "position", Entry: &report.Entries[i]})
	}
	return marshalJSONL(lines)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
