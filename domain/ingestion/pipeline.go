package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/uptrace/bun"

	"github.com/clarityinspect/ingestcore/domain/parsing"
	"github.com/clarityinspect/ingestcore/internal/database"
	"github.com/clarityinspect/ingestcore/internal/jobs"
	"github.com/clarityinspect/ingestcore/internal/storage"
	"github.com/clarityinspect/ingestcore/pkg/logger"
)

// Stage progress percentages per §4.2.
const (
	stageIdentifyPct     = 5
	stageParsePct        = 30
	stageFieldExtractPct = 70
	stagePersistPct      = 100
)

const (
	stageNameIdentify     = "identify"
	stageNameParse        = "parse"
	stageNameFieldExtract = "field_extract"
	stageNamePersist      = "persist"
)

// Per-stage timeouts (§5): Parse is bounded inside the Parser Registry
// itself (default 5m); Persist is bounded here by persistTimeout.
// fieldExtractTimeout is not applied to any call (see Stage 3 in Run).
const (
	fieldExtractTimeout = 60 * time.Second
	persistTimeout      = 30 * time.Second
)

// Pipeline runs the four-stage Extraction Pipeline (C2) for one job at a
// time. It holds no per-job state; everything needed to process a job
// arrives as arguments.
type Pipeline struct {
	registry *parsing.Registry
	storage  *storage.Service
	store    *jobs.Store
	db       *bun.DB
	log      *slog.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(registry *parsing.Registry, storageSvc *storage.Service, store *jobs.Store, db *bun.DB, log *slog.Logger) *Pipeline {
	return &Pipeline{
		registry: registry,
		storage:  storageSvc,
		store:    store,
		db:       db,
		log:      log.With(logger.Scope("ingestion.pipeline")),
	}
}

// kindToParsingKind maps a Job's declared kind string to the Parser
// Registry's typed Kind, validating it against the declared-kind closed set
// (§6 Job submission).
func kindToParsingKind(declared string) (parsing.Kind, bool) {
	switch parsing.Kind(declared) {
	case parsing.KindPDF, parsing.KindDOC, parsing.KindDOCX, parsing.KindXLS, parsing.KindXLSX,
		parsing.KindCSV, parsing.KindJPEG, parsing.KindPNG, parsing.KindTIFF, parsing.KindBMP:
		return parsing.Kind(declared), true
	case "jpg":
		return parsing.KindJPEG, true
	}
	return "", false
}

// kindMatchesSniff reports whether the content-sniffed MIME type (the same
// http.DetectContentType call the teacher's upload handler uses) is
// compatible with a job's declared kind. OOXML containers (docx/xlsx) are
// zip archives and legacy Office formats (doc/xls) are OLE2 compound files,
// so both sniff to a shared container signature rather than a
// format-specific one; those are matched by family, not by exact MIME type.
// http.DetectContentType has no TIFF signature, so TIFF sniffs to
// application/octet-stream and is accepted as such.
func kindMatchesSniff(kind parsing.Kind, sniffed string) bool {
	mt, _, err := mime.ParseMediaType(sniffed)
	if err != nil || mt == "" {
		mt = sniffed
	}
	switch kind {
	case parsing.KindPDF:
		return mt == "application/pdf"
	case parsing.KindJPEG:
		return mt == "image/jpeg"
	case parsing.KindPNG:
		return mt == "image/png"
	case parsing.KindTIFF:
		return mt == "image/tiff" || mt == "application/octet-stream"
	case parsing.KindBMP:
		return mt == "image/bmp"
	case parsing.KindDOCX, parsing.KindXLSX:
		return mt == "application/zip"
	case parsing.KindDOC, parsing.KindXLS:
		return mt == "application/x-ole-storage" || mt == "application/octet-stream"
	case parsing.KindCSV, parsing.KindTXT:
		return strings.HasPrefix(mt, "text/plain") || mt == "application/octet-stream"
	}
	return false
}

// Run executes the four pipeline stages for job, reporting progress via
// report after each stage completes. It returns nil on success; any
// non-nil error is a *jobs.HandlerError classifying retry eligibility.
func (p *Pipeline) Run(ctx context.Context, job *jobs.Job, report func(percent int, stage string)) error {
	// Stage 1: Identify. The declared kind must both be one of the closed
	// set of supported kinds and agree with what the blob's own bytes sniff
	// to; either failure is permanent (§4.2 stage 1, §7 Validation).
	kind, ok := kindToParsingKind(job.Kind)
	if !ok {
		return jobs.NewPermanent("UNSUPPORTED_KIND", fmt.Sprintf("unrecognized declared kind %q", job.Kind))
	}

	blob, err := p.fetchBlob(ctx, job)
	if err != nil {
		return jobs.NewRetryable("BLOB_FETCH_FAILED", err.Error())
	}

	if sniffed := http.DetectContentType(blob); !kindMatchesSniff(kind, sniffed) {
		return jobs.NewPermanent("KIND_MISMATCH",
			fmt.Sprintf("declared kind %q does not match detected content %q", job.Kind, sniffed))
	}
	report(stageIdentifyPct, stageNameIdentify)

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	// Stage 2: Parse.
	parserOut, err := p.registry.Parse(ctx, blob, kind, parsing.Options{})
	if err != nil {
		return classifyParseError(err)
	}
	report(stageParsePct, stageNameParse)

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	// Stage 3: Field-extract. The pattern rules are pure CPU-bound regex
	// matching, so fieldExtractTimeout in practice only documents the
	// stage's budget rather than gating a blocking call.
	record := p.fieldExtract(parserOut)
	report(stageFieldExtractPct, stageNameFieldExtract)

	if err := checkCancelled(ctx); err != nil {
		return err
	}

	// Stage 4: Persist. Stages 3-4 together form one transactional
	// boundary: either the full canonical record is written, or nothing is.
	resultJSON, err := json.Marshal(record)
	if err != nil {
		return jobs.NewPermanent("MARSHAL_FAILED", err.Error())
	}

	if err := p.persistWithRetry(ctx, job.ID, resultJSON); err != nil {
		return jobs.NewRetryable("PERSIST_FAILED", err.Error())
	}
	report(stagePersistPct, stageNamePersist)

	return nil
}

// fetchBlob streams the job's immutable blob from storage and buffers it for
// the parser. Re-processing a job always reads the same bytes (invariant 7).
func (p *Pipeline) fetchBlob(ctx context.Context, job *jobs.Job) ([]byte, error) {
	reader, err := p.storage.Download(ctx, job.BlobLocator)
	if err != nil {
		return nil, fmt.Errorf("download blob: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// fieldExtract applies the deterministic pattern rules to the parser's raw
// text, producing the canonical Record. An empty findings list is legal.
func (p *Pipeline) fieldExtract(out *parsing.Output) *Record {
	return &Record{
		Property:        ExtractProperty(out.Text),
		Inspector:       ExtractInspector(out.Text),
		Findings:        ExtractFindings(out.Text),
		RawTextLength:   len(out.Text),
		ParseConfidence: out.Confidence,
	}
}

// persistWithRetry writes the canonical record and marks the job completed
// inside a single transaction, retrying on write contention with jitter per
// §4.2's failure semantics ("Persist contention -> retryable with jitter").
func (p *Pipeline) persistWithRetry(ctx context.Context, jobID string, resultJSON []byte) error {
	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	backoff, err := retry.NewExponential(50 * time.Millisecond)
	if err != nil {
		return fmt.Errorf("build backoff: %w", err)
	}
	backoff = retry.WithMaxRetries(3, backoff)
	backoff = retry.WithJitterPercent(20, backoff)

	return retry.Do(persistCtx, backoff, func(ctx context.Context) error {
		tx, err := database.BeginSafeTx(ctx, p.db)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("begin tx: %w", err))
		}
		defer tx.Rollback()

		if err := p.store.Complete(ctx, tx.Tx, jobID, resultJSON); err != nil {
			if err == jobs.ErrStale {
				// Job is no longer active (cancelled, lease expired and
				// reclaimed elsewhere) — not a contention error, don't retry.
				return jobs.ErrStale
			}
			return retry.RetryableError(fmt.Errorf("persist record: %w", err))
		}

		if err := tx.Commit(); err != nil {
			return retry.RetryableError(fmt.Errorf("commit tx: %w", err))
		}
		return nil
	})
}

// checkCancelled returns a terminal HandlerError when ctx has been
// cancelled, the cooperative-cancellation checkpoint between stages (§4.4).
func checkCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return jobs.NewPermanent("CANCELLED", "job was cancelled")
	}
	return nil
}

// classifyParseError maps a parsing.Error into the retry decision the pool
// expects: an unsupported kind is permanent; timeouts and every other
// parser failure are retryable.
func classifyParseError(err error) error {
	var perr *parsing.Error
	if pe, ok := err.(*parsing.Error); ok {
		perr = pe
	}
	if perr != nil {
		if perr.Unsupported {
			return jobs.NewPermanent("UNSUPPORTED_KIND", perr.Message)
		}
		if perr.Timeout {
			return jobs.NewRetryable("PARSE_TIMEOUT", perr.Message)
		}
	}
	return jobs.NewRetryable("PARSE_FAILED", err.Error())
}
