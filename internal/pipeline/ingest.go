package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/charmem/internal/book"
	"github.com/dgallion1/charmem/internal/chunker"
	"github.com/dgallion1/charmem/internal/embed"
	"github.com/dgallion1/charmem/internal/index"
	"github.com/dgallion1/charmem/internal/parser"
)

// Publisher receives a fully built book and index.
type Publisher interface {
	Publish(b *book.Book, idx *index.Index)
}

// Result is the outcome of one ingestion.
type Result struct {
	Success bool   `json:"success"`
	Pages   int    `json:"pages"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Ingester turns an uploaded file into a published book and index.
type Ingester struct {
	embedder   embed.Embedder
	chunkCfg   chunker.Config
	batchSize  int
	parserOpts parser.Options
	log        *slog.Logger
}

func NewIngester(e embed.Embedder, chunkCfg chunker.Config, batchSize int, parserOpts parser.Options, log *slog.Logger) *Ingester {
	if log == nil {
		log = slog.Default()
	}
	return &Ingester{
		embedder:   e,
		chunkCfg:   chunkCfg,
		batchSize:  batchSize,
		parserOpts: parserOpts,
		log:        log,
	}
}

// Ingest runs the full pipeline synchronously. The target only sees the
// new book once its index is completely built; on failure it keeps
// whatever it had before.
func (in *Ingester) Ingest(ctx context.Context, target Publisher, filename string, data []byte) Result {
	return in.run(ctx, target, filename, data, nil)
}

// Process runs a queued job.
func (in *Ingester) Process(ctx context.Context, job *Job) {
	res := in.run(ctx, job.target, job.Filename, job.FileData(), job)
	job.SetResult(res)
	if res.Success {
		job.SetStatus(StatusCompleted, "done")
	}
}

func (in *Ingester) run(ctx context.Context, target Publisher, filename string, data []byte, job *Job) Result {
	log := in.log.With("filename", filename)
	if job != nil {
		log = log.With("job_id", job.ID, "session_id", job.SessionID)
	}
	setStatus := func(s JobStatus) {
		if job != nil {
			job.SetStatus(s, string(s))
		}
	}
	fail := func(phase string, err error) Result {
		log.Error("ingest failed", "phase", phase, "error", err)
		msg := fmt.Sprintf("%s: %s", phase, err)
		if job != nil {
			job.AddError(msg)
			job.SetStatus(StatusFailed, phase)
		}
		return Result{Error: msg}
	}

	// Phase 1: Parse
	setStatus(StatusParsing)
	p, err := parser.ForFile(filename, in.parserOpts)
	if err != nil {
		return fail("parse", err)
	}
	b, err := p.Parse(bytes.NewReader(data), filename)
	if err != nil {
		return fail("parse", err)
	}
	hash := ContentHashHex(data)
	b.ID = hash[:16]
	if job != nil {
		job.SetBookInfo(b.Title, hash)
	}

	// Phase 2: Chunk
	setStatus(StatusChunking)
	chunks, err := chunker.Chunk(b.ID, b.NonBlank(), in.chunkCfg)
	if err != nil {
		return fail("chunk", err)
	}
	if job != nil {
		job.SetTotals(b.TotalPages(), len(chunks))
	}
	log.Info("chunked book", "pages", b.TotalPages(), "chunks", len(chunks))

	// Phase 3: Embed and build off to the side.
	setStatus(StatusEmbedding)
	var e embed.Embedder = in.embedder
	if job != nil {
		e = &progressEmbedder{next: in.embedder, job: job}
	}
	idx, err := index.Build(ctx, b.ID, chunks, e, in.batchSize)
	if err != nil {
		return fail("index", err)
	}

	target.Publish(b, idx)
	log.Info("book published", "doc_id", b.ID, "entries", idx.Len())

	msg := "Document processed successfully"
	if len(chunks) == 0 {
		msg = "Document contains no extractable text"
	}
	return Result{Success: true, Pages: b.TotalPages(), Message: msg}
}

// progressEmbedder reports embedded chunk counts to a job.
type progressEmbedder struct {
	next embed.Embedder
	job  *Job
}

func (p *progressEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.next.EmbedMany(ctx, texts)
	if err == nil {
		p.job.AddEmbedded(len(vecs))
	}
	return vecs, err
}

func (p *progressEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return p.next.EmbedOne(ctx, text)
}
