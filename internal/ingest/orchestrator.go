// Package ingest drives a run through discovery, filtering, fetching,
// chunking, embedding, indexing and the final snapshot.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"scuolakb/internal/catalog"
	"scuolakb/internal/config"
	"scuolakb/internal/document"
	"scuolakb/internal/index"
	"scuolakb/internal/ledger"
	"scuolakb/internal/middleware"
	"scuolakb/internal/snapshot"
	"scuolakb/internal/source"
)

const (
	DefaultMaxDocsPerRun    = 100
	DefaultMinDocumentChars = 100
)

var ErrUnknownSource = errors.New("unknown source")

type Sources interface {
	Discover(ctx context.Context, src source.Source) ([]document.Record, error)
	Fetch(ctx context.Context, rec document.Record) source.Result
}

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Chunker interface {
	Chunk(text string) []string
}

// Recorder persists the outcome of a run.
type Recorder interface {
	Record(ctx context.Context, r *Report) error
}

type Config struct {
	Sources          []source.Source
	MaxDocsPerRun    int
	MinDocumentChars int
	SnapshotPath     string
	DiscoveryPath    string
	FetchedPath      string
}

type Dependencies struct {
	Sources  Sources
	Embedder Embedder
	Chunker  Chunker
	Ledger   *ledger.Ledger
	// Corpus holds every indexed chunk with its vector; it feeds the snapshot
	// and vector reuse.
	Corpus *index.Memory
	// Index is where queries are served from. It may be Corpus itself.
	Index     index.Index
	Publisher Publisher
	Recorder  Recorder
}

type RunOptions struct {
	// Sources restricts discovery to the named sources.
	Sources []string
	// MaxDocs overrides the per-run cap when positive.
	MaxDocs int
	// Reingest lists urls whose ledger entries are dropped before filtering.
	Reingest []string
}

type Orchestrator struct {
	mu        sync.Mutex
	cfg       Config
	sources   Sources
	embedder  Embedder
	chunker   Chunker
	ledger    *ledger.Ledger
	corpus    *index.Memory
	index     index.Index
	publisher Publisher
	recorder  Recorder
	now       func() time.Time
}

func NewOrchestrator(cfg Config, d Dependencies) *Orchestrator {
	if cfg.MaxDocsPerRun <= 0 {
		cfg.MaxDocsPerRun = DefaultMaxDocsPerRun
	}
	if cfg.MinDocumentChars <= 0 {
		cfg.MinDocumentChars = DefaultMinDocumentChars
	}
	if d.Ledger == nil {
		d.Ledger = ledger.New(nil)
	}
	if d.Corpus == nil {
		d.Corpus = index.NewMemory()
	}
	if d.Index == nil {
		d.Index = d.Corpus
	}
	return &Orchestrator{
		cfg:       cfg,
		sources:   d.Sources,
		embedder:  d.Embedder,
		chunker:   d.Chunker,
		ledger:    d.Ledger,
		corpus:    d.Corpus,
		index:     d.Index,
		publisher: d.Publisher,
		recorder:  d.Recorder,
		now:       time.Now,
	}
}

// Run executes one ingestion run. Concurrent calls are serialized. The
// returned error is non-nil only for failures that stopped the run; per
// document failures are in the report (see Report.Err).
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	selected, err := o.selectSources(opts.Sources)
	if err != nil {
		return nil, err
	}

	rep := &Report{RunID: uuid.New().String(), StartedAt: o.now().UTC(), Failures: []Failure{}}
	ctx = middleware.WithRunID(ctx, rep.RunID)
	slog.InfoContext(ctx, "ingestion run started", "sources", len(selected))

	if !o.corpus.Ready() {
		if _, err := o.rehydrate(ctx); err != nil {
			return nil, fmt.Errorf("rehydrate corpus: %w", err)
		}
	}

	records := o.discover(ctx, selected, rep)
	if err := catalog.SaveDiscovery(o.cfg.DiscoveryPath, records); err != nil {
		return rep, err
	}

	records = o.withReingest(records, opts.Reingest)
	pending := o.filter(records, opts.MaxDocs, rep)

	var fetched []document.Fetched
	for i, rec := range pending {
		if ctx.Err() != nil {
			rep.Cancelled = true
			slog.WarnContext(ctx, "ingestion run cancelled", "remaining", len(pending)-i)
			break
		}
		// an item in flight completes; its requests carry their own timeouts
		if f := o.ingest(context.WithoutCancel(ctx), rec, rep); f != nil {
			fetched = append(fetched, *f)
		}
	}

	// Persist whatever was done, even when ctx is already cancelled.
	err = o.finish(context.WithoutCancel(ctx), rep, fetched)
	return rep, err
}

func (o *Orchestrator) selectSources(names []string) ([]source.Source, error) {
	if len(names) == 0 {
		return o.cfg.Sources, nil
	}
	byName := make(map[string]source.Source, len(o.cfg.Sources))
	for _, s := range o.cfg.Sources {
		byName[s.SourceName()] = s
	}
	out := make([]source.Source, 0, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, n)
		}
		out = append(out, s)
	}
	return out, nil
}

func (o *Orchestrator) discover(ctx context.Context, sources []source.Source, rep *Report) []document.Record {
	var all []document.Record
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		recs, err := o.sources.Discover(ctx, src)
		if err != nil {
			if errors.Is(err, source.ErrSkipped) {
				slog.InfoContext(ctx, "source skipped", "source", src.SourceName(), "reason", err)
				continue
			}
			slog.ErrorContext(ctx, "source discovery failed", "source", src.SourceName(), "error", err)
			rep.fail(Failure{Source: src.SourceName(), Stage: StageDiscover, Kind: KindSourceError, Error: err.Error()})
			continue
		}
		slog.InfoContext(ctx, "source discovered", "source", src.SourceName(), "records", len(recs))
		all = append(all, recs...)
	}

	all = catalog.DedupByURL(all)
	catalog.SortNewestFirst(all)
	rep.Discovered = len(all)
	return all
}

// withReingest drops the ledger entries of the given urls and marks their
// records for a fresh download. Urls that were not discovered in this run
// are added as records of their own.
func (o *Orchestrator) withReingest(records []document.Record, urls []string) []document.Record {
	if len(urls) == 0 {
		return records
	}
	wanted := make(map[string]string, len(urls))
	for _, u := range urls {
		wanted[document.NormalizeURL(u)] = u
	}
	for i := range records {
		key := document.NormalizeURL(records[i].URL)
		if _, ok := wanted[key]; ok {
			o.ledger.Forget(records[i].ID)
			records[i].Refresh = true
			delete(wanted, key)
		}
	}
	var extra []document.Record
	for _, u := range urls {
		if _, ok := wanted[document.NormalizeURL(u)]; !ok {
			continue
		}
		delete(wanted, document.NormalizeURL(u))
		rec := document.Record{ID: document.DocumentID(u), URL: u, Source: "manual", Type: document.TypeHTMLPage, Refresh: true}
		if strings.HasSuffix(strings.ToLower(rec.URL), ".pdf") {
			rec.Type = document.TypePDF
		}
		o.ledger.Forget(rec.ID)
		extra = append(extra, rec)
	}
	return append(extra, records...)
}

// filter keeps unseen records, newest first, up to maxDocs. One-shot records
// are never deferred: their source will not list them again.
func (o *Orchestrator) filter(records []document.Record, maxDocs int, rep *Report) []document.Record {
	if maxDocs <= 0 {
		maxDocs = o.cfg.MaxDocsPerRun
	}
	var pending []document.Record
	capped := 0
	for _, rec := range records {
		if o.ledger.Seen(rec.ID) {
			continue
		}
		rep.New++
		if !rec.OneShot {
			if capped == maxDocs {
				rep.Deferred++
				continue
			}
			capped++
		}
		pending = append(pending, rec)
	}
	return pending
}

// ingest takes one record through fetch to index. It returns the fetched
// record to persist, or nil when the fetch itself failed.
func (o *Orchestrator) ingest(ctx context.Context, rec document.Record, rep *Report) *document.Fetched {
	fail := func(stage, kind string, err error) {
		slog.WarnContext(ctx, "document failed", "document_id", rec.ID, "url", rec.URL, "stage", stage, "error", err)
		rep.fail(Failure{DocumentID: rec.ID, URL: rec.URL, Source: rec.Source, Stage: stage, Kind: kind, Error: err.Error()})
	}

	res := o.sources.Fetch(ctx, rec)
	if res.Err != nil {
		if source.IsFetchError(res.Err) {
			fail(StageFetch, KindFetchError, res.Err)
			return nil
		}
		// extraction will fail the same way next time
		fail(StageExtract, KindExtractionError, res.Err)
		f := document.NewFetched(rec, res.Document, res.Err)
		if err := o.purge(ctx, rec.ID); err != nil {
			// left unseen so the stale chunks are purged on retry
			slog.ErrorContext(ctx, "failed to purge document", "document_id", rec.ID, "error", err)
			return &f
		}
		o.ledger.Mark(rec.ID)
		return &f
	}
	rep.Fetched++

	doc := res.Document
	f := document.NewFetched(rec, doc, nil)
	if utf8.RuneCountInString(strings.TrimSpace(doc.Text)) < o.cfg.MinDocumentChars {
		slog.InfoContext(ctx, "document skipped: text too short", "document_id", doc.ID, "chars", utf8.RuneCountInString(doc.Text))
		if err := o.skip(ctx, doc.ID, rep); err != nil {
			fail(StageIndex, KindIndexError, err)
		}
		return &f
	}

	chunks := o.chunker.Chunk(doc.Text)
	if len(chunks) == 0 {
		slog.InfoContext(ctx, "document skipped: no chunks", "document_id", doc.ID)
		if err := o.skip(ctx, doc.ID, rep); err != nil {
			fail(StageIndex, KindIndexError, err)
		}
		return &f
	}

	items, err := o.embed(ctx, doc, chunks)
	if err != nil {
		fail(StageEmbed, KindEmbedError, err)
		return &f
	}

	if err := index.Replace(ctx, o.index, doc.ID, items); err != nil {
		fail(StageIndex, KindIndexError, err)
		return &f
	}
	if o.index != index.Index(o.corpus) {
		if err := o.corpus.ReplaceDocument(ctx, doc.ID, items); err != nil {
			fail(StageIndex, KindIndexError, err)
			return &f
		}
	}

	o.ledger.Mark(doc.ID)
	rep.Indexed++
	rep.Chunks += len(items)
	slog.InfoContext(ctx, "document indexed", "document_id", doc.ID, "chunks", len(items))
	o.publish(ctx, config.TopicDocumentIndexed, DocumentIndexed{
		RunID:      rep.RunID,
		DocumentID: doc.ID,
		URL:        doc.URL,
		Title:      doc.Title,
		Source:     doc.SourceName,
		Chunks:     len(items),
	})
	return &f
}

// skip settles a document that yields nothing to index. Chunks from an
// earlier version are dropped first; if that fails the document stays
// unseen and is retried.
func (o *Orchestrator) skip(ctx context.Context, docID string, rep *Report) error {
	if err := o.purge(ctx, docID); err != nil {
		return err
	}
	rep.Skipped++
	o.ledger.Mark(docID)
	return nil
}

// purge removes every chunk of the document from the index and the corpus.
func (o *Orchestrator) purge(ctx context.Context, docID string) error {
	if err := o.index.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("purge document %s: %w", docID, err)
	}
	if o.index != index.Index(o.corpus) {
		return o.corpus.DeleteDocument(ctx, docID)
	}
	return nil
}

// embed builds the index items of a document. Chunks whose id and text are
// already in the corpus keep their stored vector.
func (o *Orchestrator) embed(ctx context.Context, doc document.Document, chunks []string) ([]index.Item, error) {
	items := make([]index.Item, len(chunks))
	var missing []int
	for i, c := range chunks {
		id := document.ChunkID(doc.ID, i)
		items[i] = index.Item{ID: id, Text: c, Metadata: document.NewChunkMetadata(doc, i, len(chunks))}
		if prev, ok := o.corpus.Get(id); ok && prev.Text == c && len(prev.Vector) > 0 {
			items[i].Vector = prev.Vector
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return items, nil
	}

	texts := make([]string, len(missing))
	for j, i := range missing {
		texts[j] = items[i].Text
	}
	vecs, err := o.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vecs), len(texts))
	}
	for j, i := range missing {
		items[i].Vector = vecs[j]
	}
	return items, nil
}

func (o *Orchestrator) finish(ctx context.Context, rep *Report, fetched []document.Fetched) error {
	var errs []error

	o.corpus.MarkReady()
	if err := snapshot.Save(o.cfg.SnapshotPath, snapshot.Build(o.corpus.Items(), o.now())); err != nil {
		errs = append(errs, err)
	}
	if err := o.ledger.Save(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := o.saveFetched(fetched); err != nil {
		errs = append(errs, err)
	}

	rep.FinishedAt = o.now().UTC()
	if o.recorder != nil {
		if err := o.recorder.Record(ctx, rep); err != nil {
			slog.ErrorContext(ctx, "failed to record run", "error", err)
		}
	}
	o.publish(ctx, config.TopicRunCompleted, rep)

	slog.InfoContext(ctx, "ingestion run finished",
		"discovered", rep.Discovered, "new", rep.New, "deferred", rep.Deferred,
		"fetched", rep.Fetched, "indexed", rep.Indexed, "failed", rep.Failed,
		"skipped", rep.Skipped, "chunks", rep.Chunks, "duration", rep.FinishedAt.Sub(rep.StartedAt))
	return errors.Join(errs...)
}

func (o *Orchestrator) saveFetched(fetched []document.Fetched) error {
	if len(fetched) == 0 {
		return nil
	}
	prev, err := catalog.LoadFetched(o.cfg.FetchedPath)
	if err != nil {
		return err
	}
	return catalog.SaveFetched(o.cfg.FetchedPath, catalog.MergeFetched(prev, fetched))
}

// Rehydrate loads the snapshot into the corpus and brings the serving index
// in line with it. It returns the number of chunks loaded.
func (o *Orchestrator) Rehydrate(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rehydrate(ctx)
}

func (o *Orchestrator) rehydrate(ctx context.Context) (int, error) {
	f, err := snapshot.Load(o.cfg.SnapshotPath)
	if errors.Is(err, snapshot.ErrNotFound) {
		slog.InfoContext(ctx, "no snapshot found, starting empty", "path", o.cfg.SnapshotPath)
		o.corpus.MarkReady()
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	items := f.Items()
	if err := o.corpus.Upsert(ctx, items); err != nil {
		return 0, fmt.Errorf("load snapshot into corpus: %w", err)
	}
	o.corpus.MarkReady()

	if o.index != index.Index(o.corpus) {
		n, err := o.index.Count(ctx)
		if err != nil {
			return 0, fmt.Errorf("count index: %w", err)
		}
		if n != len(items) {
			slog.InfoContext(ctx, "index out of sync with snapshot, reloading", "index", n, "snapshot", len(items))
			if err := index.UpsertBatched(ctx, o.index, items); err != nil {
				return 0, fmt.Errorf("reload index: %w", err)
			}
		}
	}
	slog.InfoContext(ctx, "snapshot loaded", "chunks", len(items), "documents", f.Stats.Documents)
	return len(items), nil
}

// Corpus exposes the in-memory corpus for read-only callers.
func (o *Orchestrator) Corpus() *index.Memory {
	return o.corpus
}
