package parsing

import (
	"context"

	"github.com/clarityinspect/ingestcore/pkg/kreuzberg"
)

// kindExtension maps a declared Kind to the file extension used in a
// synthetic filename, so the multipart part sent to the Kreuzberg client
// carries a recognizable extension.
var kindExtension = map[Kind]string{
	KindPDF:  ".pdf",
	KindDOC:  ".doc",
	KindDOCX: ".docx",
	KindXLS:  ".xls",
	KindXLSX: ".xlsx",
	KindTIFF: ".tiff",
	KindBMP:  ".bmp",
	KindJPEG: ".jpg",
	KindPNG:  ".png",
}

// HTTPExtractionParser wraps the Kreuzberg document-extraction service
// client, generalizing it from a NestJS-side content-type dispatcher into
// the Parser capability contract: one Parse call per blob.
type HTTPExtractionParser struct {
	client   *kreuzberg.Client
	forceOCR bool
}

// NewHTTPExtractionParser builds a parser bound to client. When forceOCR is
// true (the ImageParser registration), every request forces the OCR path
// regardless of caller options.
func NewHTTPExtractionParser(client *kreuzberg.Client, forceOCR bool) *HTTPExtractionParser {
	return &HTTPExtractionParser{client: client, forceOCR: forceOCR}
}

// Parse streams blob to the extraction service and adapts its response into
// the Parser Registry's Output shape.
func (p *HTTPExtractionParser) Parse(ctx context.Context, blob []byte, kind Kind, opts Options) (*Output, error) {
	if !p.client.IsEnabled() {
		return nil, &Error{Message: "document extraction service is not enabled"}
	}

	filename := "document" + kindExtension[kind]
	extractOpts := &kreuzberg.ExtractOptions{
		TimeoutMs:     opts.Timeout,
		ExtractTables: true,
		OCRLanguage:   opts.OCRLanguage,
		ForceOCR:      p.forceOCR || opts.ForceOCR,
	}

	result, err := p.client.ExtractText(ctx, blob, filename, "", extractOpts)
	if err != nil {
		if kzErr, ok := err.(*kreuzberg.Error); ok && kzErr.StatusCode == 408 {
			return nil, &Error{Timeout: true, Message: kzErr.Message, Cause: err}
		}
		return nil, &Error{Message: "extraction service call failed", Cause: err}
	}

	confidence := 0.9
	if p.forceOCR || extractOpts.ForceOCR {
		// OCR output is inherently noisier than a native text layer.
		confidence = 0.6
	}
	if result.Content == "" {
		confidence = 0.0
	}

	out := &Output{
		Text:       result.Content,
		Confidence: confidence,
	}
	if len(result.Tables) > 0 {
		out.Tables = make([][][]string, len(result.Tables))
		for i, t := range result.Tables {
			out.Tables[i] = t.Data
		}
	}
	return out, nil
}

// ensure compile-time satisfaction of the Parser contract.
var _ Parser = (*HTTPExtractionParser)(nil)
