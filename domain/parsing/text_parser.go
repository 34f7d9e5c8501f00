package parsing

import (
	"context"
	"encoding/csv"
	"strings"
)

// PlainTextParser handles already-text formats natively, bypassing the HTTP
// extraction service entirely — grounded on the teacher's PlainTextMIMETypes
// fast path (pkg/kreuzberg.ShouldUseKreuzberg), generalized from a
// bypass-decision table into a standalone zero-dependency Parser.
type PlainTextParser struct{}

// NewPlainTextParser constructs a PlainTextParser.
func NewPlainTextParser() *PlainTextParser {
	return &PlainTextParser{}
}

// Parse treats blob as UTF-8 text. CSV files are additionally decoded into a
// table fragment so field-extraction can reason about columns as well as
// raw text.
func (p *PlainTextParser) Parse(ctx context.Context, blob []byte, kind Kind, opts Options) (*Output, error) {
	text := string(blob)
	out := &Output{
		Text:       text,
		Confidence: 1.0,
	}

	if kind == KindCSV {
		rows, err := csv.NewReader(strings.NewReader(text)).ReadAll()
		if err == nil && len(rows) > 0 {
			out.Tables = [][][]string{rows}
		}
	}

	return out, nil
}

var _ Parser = (*PlainTextParser)(nil)
