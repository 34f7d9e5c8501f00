package parsing

import (
	"context"
	"log/slog"
	"time"

	"github.com/clarityinspect/ingestcore/pkg/logger"
)

// minOCRFallbackChars is the raw-text length below which a PDF/image-heavy
// document triggers a second, OCR-forced parse pass whose output is merged
// with the first (§4.1 Fallback).
const minOCRFallbackChars = 64

// defaultParseTimeout bounds a single Parse call; exceeding it cancels the
// parser's context and the pipeline reports a transient, retryable error.
const defaultParseTimeout = 5 * time.Minute

// Parser is the single-operation capability contract every document-kind
// handler implements. Implementations must not mutate blob and must stream
// large inputs rather than buffering ahead of time where possible.
type Parser interface {
	Parse(ctx context.Context, blob []byte, kind Kind, opts Options) (*Output, error)
}

// Registry maps a declared Kind to the Parser capability that handles it,
// and owns the OCR-fallback chaining policy for image-heavy PDFs.
type Registry struct {
	log     *slog.Logger
	parsers map[Kind]Parser
	// ocrFallback is consulted for kinds (pdf, doc, docx) whose first-pass
	// text might be too sparse to trust; a nil entry disables fallback.
	ocrFallback Parser
}

// NewRegistry constructs an empty Registry. Call Register for each supported
// kind before use.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		log:     log.With(logger.Scope("parsing.registry")),
		parsers: make(map[Kind]Parser),
	}
}

// Register binds kind to parser, overwriting any existing binding. Used to
// declare precedence explicitly: the last Register call for a kind wins.
func (r *Registry) Register(kind Kind, parser Parser) {
	r.parsers[kind] = parser
}

// SetOCRFallback installs the parser invoked a second time, with OCR forced
// on, when a first-pass text-bearing kind returns suspiciously little text.
func (r *Registry) SetOCRFallback(parser Parser) {
	r.ocrFallback = parser
}

// textBearingKinds are eligible for the OCR-fallback chain: their primary
// parser might return near-empty text for an image-heavy scan.
var textBearingKinds = map[Kind]bool{
	KindPDF:  true,
	KindDOC:  true,
	KindDOCX: true,
}

// Parse dispatches to the registered parser for kind, applying the default
// timeout and the OCR-fallback merge policy. An unrecognized kind returns
// Error{Unsupported: true} without invoking any parser.
func (r *Registry) Parse(ctx context.Context, blob []byte, kind Kind, opts Options) (*Output, error) {
	parser, ok := r.parsers[kind]
	if !ok {
		return nil, errUnsupported(kind)
	}

	timeout := defaultParseTimeout
	if opts.Timeout > 0 {
		timeout = time.Duration(opts.Timeout) * time.Millisecond
	}
	parseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := parser.Parse(parseCtx, blob, kind, opts)
	if err != nil {
		if parseCtx.Err() == context.DeadlineExceeded {
			return nil, &Error{Timeout: true, Message: "parser timed out", Cause: err}
		}
		return nil, err
	}

	if textBearingKinds[kind] && r.ocrFallback != nil && !opts.ForceOCR && len(out.Text) < minOCRFallbackChars {
		r.log.Info("raw text below OCR fallback threshold, re-parsing with OCR forced",
			slog.String("kind", string(kind)),
			slog.Int("text_length", len(out.Text)),
		)
		ocrOpts := opts
		ocrOpts.ForceOCR = true
		ocrOut, ocrErr := r.ocrFallback.Parse(parseCtx, blob, kind, ocrOpts)
		if ocrErr != nil {
			r.log.Warn("OCR fallback parse failed, keeping first-pass output", logger.Error(ocrErr))
			return out, nil
		}
		return mergeOutputs(out, ocrOut), nil
	}

	return out, nil
}

// mergeOutputs combines two parses of the same blob, preferring the
// higher-confidence fragment per named field and keeping the longer of the
// two raw texts.
func mergeOutputs(primary, secondary *Output) *Output {
	merged := &Output{
		Text:       primary.Text,
		Fragments:  primary.Fragments,
		Tables:     primary.Tables,
		Confidence: primary.Confidence,
		Structured: make(map[string][]byte, len(primary.Structured)+len(secondary.Structured)),
	}
	if len(secondary.Text) > len(primary.Text) {
		merged.Text = secondary.Text
	}
	if secondary.Confidence > merged.Confidence {
		merged.Confidence = secondary.Confidence
	}
	if len(secondary.Fragments) > len(merged.Fragments) {
		merged.Fragments = secondary.Fragments
	}
	if len(secondary.Tables) > len(merged.Tables) {
		merged.Tables = secondary.Tables
	}
	for k, v := range primary.Structured {
		merged.Structured[k] = v
	}
	for k, v := range secondary.Structured {
		// Prefer whichever pass declared higher overall confidence for
		// fields both passes populated.
		if _, exists := merged.Structured[k]; !exists || secondary.Confidence > primary.Confidence {
			merged.Structured[k] = v
		}
	}
	return merged
}
