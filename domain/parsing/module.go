// Package parsing implements the Parser Registry (C1): it maps a declared
// document kind to a parser capability and runs extraction, producing raw
// text plus structured fragments and a confidence score.
package parsing

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/clarityinspect/ingestcore/pkg/kreuzberg"
)

// Module provides the Registry wired with every concrete Parser this
// repository ships: HTTPExtractionParser for binary office/PDF formats, an
// OCR-forced variant of the same client for images, and PlainTextParser for
// already-text formats.
var Module = fx.Module("parsing",
	fx.Provide(NewRegistryFromClient),
)

// NewRegistryFromClient builds and populates the Registry per the
// precedence documented in §4.1: images go through the OCR-forced HTTP
// extraction path, PDFs/office formats go through the plain HTTP extraction
// path (falling back to OCR via the registry itself when text is sparse),
// and already-text kinds bypass the HTTP service entirely.
func NewRegistryFromClient(client *kreuzberg.Client, log *slog.Logger) *Registry {
	registry := NewRegistry(log)

	docParser := NewHTTPExtractionParser(client, false)
	ocrParser := NewHTTPExtractionParser(client, true)
	textParser := NewPlainTextParser()

	for _, kind := range []Kind{KindPDF, KindDOC, KindDOCX, KindXLS, KindXLSX} {
		registry.Register(kind, docParser)
	}
	for _, kind := range []Kind{KindJPEG, KindPNG, KindTIFF, KindBMP} {
		registry.Register(kind, ocrParser)
	}
	for _, kind := range []Kind{KindCSV, KindTXT} {
		registry.Register(kind, textParser)
	}

	registry.SetOCRFallback(ocrParser)

	return registry
}
