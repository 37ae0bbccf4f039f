// Package analysis answers character questions about the book a session has
// indexed. Each call retrieves context, builds one prompt, makes one
// generation call and parses the reply. Reading progress is passed on every
// call and never stored.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/charmem/internal/book"
	"github.com/dgallion1/charmem/internal/index"
	"github.com/dgallion1/charmem/internal/llm"
	"github.com/dgallion1/charmem/internal/retrieve"
	"github.com/dgallion1/charmem/internal/retry"
)

// Kind names an analysis request type.
type Kind string

const (
	KindSummary      Kind = "summary"
	KindFirstMention Kind = "first_mention"
	KindIntroduced   Kind = "introduced"
	KindMessage      Kind = "message"
)

// ParseKind maps a wire type to a Kind. Unknown types are plain messages.
func ParseKind(s string) Kind {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindSummary, KindFirstMention, KindIntroduced:
		return k
	case "new_characters":
		return KindIntroduced
	default:
		return KindMessage
	}
}

// GenerationError is a generation port failure during one analysis call.
type GenerationError struct {
	Op    Kind
	Cause error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Op, e.Cause)
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// ErrPageOutOfRange is returned when a page label is not in the book.
var ErrPageOutOfRange = errors.New("page out of range")

// Source exposes the session's current document.
type Source interface {
	Index() (*index.Index, error)
	Book() *book.Book
}

// Options tunes retrieval and sampling.
type Options struct {
	K                  int     // Chunks retrieved per query.
	SummaryTemperature float64 // Free-text answers.
	ParseTemperature   float64 // Replies with a fixed micro-format.
}

// DefaultOptions mirrors the service defaults.
func DefaultOptions() Options {
	return Options{K: 50, SummaryTemperature: 0.7, ParseTemperature: 0.1}
}

// Orchestrator composes scoped retrieval with generation.
type Orchestrator struct {
	src  Source
	ret  *retrieve.Retriever
	gen  llm.Generator
	opts Options
	log  *slog.Logger
}

func New(src Source, ret *retrieve.Retriever, gen llm.Generator, opts Options, log *slog.Logger) *Orchestrator {
	if opts.K <= 0 {
		opts.K = DefaultOptions().K
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{src: src, ret: ret, gen: gen, opts: opts, log: log}
}

// Summary is a character overview limited to the reader's progress.
type Summary struct {
	Character string `json:"character"`
	Text      string `json:"analysis"`
	NotMet    bool   `json:"not_met"`
	Passages  int    `json:"passages"`
}

// Summary describes character using passages up to progress, or the whole
// book when fullBook is set. With no passages in scope the sentinel is
// returned without calling the model. The model's reply is passed through.
func (o *Orchestrator) Summary(ctx context.Context, character string, progress book.Progress, fullBook bool) (Summary, error) {
	name, err := NormalizeName(character)
	if err != nil {
		return Summary{Character: character}, err
	}
	res := Summary{Character: name}

	rc, err := o.retrieve(ctx, retrieve.Request{Query: name, K: o.opts.K, Progress: &progress, FullBook: fullBook})
	if err != nil {
		return res, err
	}
	res.Passages = len(rc.Passages)
	if rc.Empty() {
		res.Text, res.NotMet = NotMetSentinel, true
		return res, nil
	}

	text, err := o.complete(ctx, KindSummary, summaryPrompt(name, rc.Text), o.opts.SummaryTemperature)
	if err != nil {
		return res, err
	}
	res.Text = text
	res.NotMet = strings.TrimSpace(text) == NotMetSentinel
	return res, nil
}

// FirstMention asks on which page character first appears. It always
// searches the whole book.
func (o *Orchestrator) FirstMention(ctx context.Context, character string) (FirstMention, error) {
	name, err := NormalizeName(character)
	if err != nil {
		return FirstMention{Character: character}, err
	}

	rc, err := o.retrieve(ctx, retrieve.Request{Query: name, K: o.opts.K, FullBook: true})
	if err != nil {
		return FirstMention{Character: name}, err
	}
	if rc.Empty() {
		return FirstMention{Character: name}, nil
	}

	raw, err := o.complete(ctx, KindFirstMention, firstMentionPrompt(name, rc.Text), o.opts.ParseTemperature)
	if err != nil {
		return FirstMention{Character: name}, err
	}

	fm := ParseFirstMention(raw)
	fm.Character = name
	if total := o.src.Book().TotalPages(); fm.Known && total > 0 && fm.Page > total {
		fm.Page, fm.Known, fm.Ambiguous = 0, false, true
	}
	if fm.Ambiguous {
		o.log.Warn("unparseable first mention reply", "character", name, "raw", retry.Truncate(raw, 200))
	}
	return fm, nil
}

// FirstMentionResult pairs one character's answer with its failure, if any.
type FirstMentionResult struct {
	FirstMention
	Err error `json:"-"`
}

// FirstMentions runs FirstMention for each character. A failure on one
// character is recorded and the rest still run; only cancellation stops
// the batch early.
func (o *Orchestrator) FirstMentions(ctx context.Context, characters []string) []FirstMentionResult {
	out := make([]FirstMentionResult, 0, len(characters))
	for _, c := range characters {
		if err := ctx.Err(); err != nil {
			out = append(out, FirstMentionResult{FirstMention: FirstMention{Character: c}, Err: err})
			continue
		}
		fm, err := o.FirstMention(ctx, c)
		if err != nil {
			o.log.Warn("first mention failed", "character", c, "error", err)
		}
		out = append(out, FirstMentionResult{FirstMention: fm, Err: err})
	}
	return out
}

// IntroducedNames lists characters newly introduced in pageText. An empty
// slice means none were introduced.
func (o *Orchestrator) IntroducedNames(ctx context.Context, pageText string) ([]string, error) {
	if strings.TrimSpace(pageText) == "" {
		return []string{}, nil
	}
	raw, err := o.complete(ctx, KindIntroduced, introducedPrompt(pageText), o.opts.ParseTemperature)
	if errors.Is(err, llm.ErrEmptyResponse) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := []string{}
	for _, n := range ParseNames(raw) {
		valid, err := NormalizeName(n)
		if err != nil {
			o.log.Warn("dropping introduced name", "name", retry.Truncate(n, 100))
			continue
		}
		names = append(names, valid)
	}
	return names, nil
}

// IntroducedOnPage runs IntroducedNames on the page with the given 1-based
// label of the session's book.
func (o *Orchestrator) IntroducedOnPage(ctx context.Context, label int) ([]string, error) {
	b := o.src.Book()
	if b == nil {
		return nil, index.ErrNotInitialized
	}
	p, ok := b.Page(label)
	if !ok {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, label, b.TotalPages())
	}
	return o.IntroducedNames(ctx, p.Text)
}

// Answer replies to a free-form question using context up to progress.
func (o *Orchestrator) Answer(ctx context.Context, question string, progress book.Progress) (string, error) {
	rc, err := o.retrieve(ctx, retrieve.Request{Query: question, K: o.opts.K, Progress: &progress})
	if err != nil {
		return "", err
	}
	total := progress.TotalPages
	if b := o.src.Book(); b != nil && b.TotalPages() > 0 {
		total = b.TotalPages()
	}
	return o.complete(ctx, KindMessage, answerPrompt(progress.CurrentPage, total, rc.Text, question), o.opts.SummaryTemperature)
}

func (o *Orchestrator) retrieve(ctx context.Context, req retrieve.Request) (retrieve.Context, error) {
	idx, err := o.src.Index()
	if err != nil {
		return retrieve.Context{}, err
	}
	return o.ret.Retrieve(ctx, idx, req)
}

func (o *Orchestrator) complete(ctx context.Context, op Kind, prompt string, temperature float64) (string, error) {
	text, err := o.gen.Complete(llm.WithOp(ctx, string(op)), prompt, temperature)
	if err != nil {
		return "", &GenerationError{Op: op, Cause: err}
	}
	return text, nil
}
