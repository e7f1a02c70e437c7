package jobs

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docintel/internal/archive"
	"github.com/sells-group/docintel/internal/config"
	"github.com/sells-group/docintel/internal/extract"
	"github.com/sells-group/docintel/internal/model"
	"github.com/sells-group/docintel/internal/monitoring"
	"github.com/sells-group/docintel/internal/ocr"
	"github.com/sells-group/docintel/internal/resilience"
	"github.com/sells-group/docintel/internal/store"
)

// Worker pulls jobs off the queue and runs each document through OCR,
// extraction, persistence, drift recording, and archival.
type Worker struct {
	queue        Queue
	store        store.Store
	engine       ocr.Engine
	archive      *archive.Client
	recorder     *monitoring.DriftRecorder
	cfg          config.WorkerConfig
	ocrRetry     resilience.RetryConfig
	extractRetry resilience.RetryConfig
	breakers     *resilience.ServiceBreakers

	providerFor func(name string) (extract.Provider, error)

	mu        sync.Mutex
	providers map[string]extract.Provider
	gold      map[string]model.Invoice
}

// NewWorker wires a worker. Archive and drift recorder are optional;
// set them with WithArchive and WithRecorder before Run.
func NewWorker(q Queue, st store.Store, engine ocr.Engine, extractCfg config.ExtractConfig, cfg config.WorkerConfig) *Worker {
	return &Worker{
		queue:        q,
		store:        st,
		engine:       engine,
		cfg:          cfg,
		ocrRetry:     resilience.OCRRetry(),
		extractRetry: resilience.ExtractionRetry(),
		breakers:     resilience.NewServiceBreakers(resilience.ProviderBreaker()),
		providerFor: func(name string) (extract.Provider, error) {
			if name == "" {
				return extract.New(extractCfg)
			}
			return extract.ForName(extractCfg, name)
		},
		providers: make(map[string]extract.Provider),
	}
}

func (w *Worker) WithArchive(c *archive.Client) *Worker {
	w.archive = c
	return w
}

func (w *Worker) WithRecorder(r *monitoring.DriftRecorder) *Worker {
	w.recorder = r
	return w
}

// Run blocks until ctx is cancelled, processing jobs on
// cfg.Concurrency goroutines.
func (w *Worker) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "worker"))

	if err := w.loadGold(ctx); err != nil {
		log.Warn("gold dataset unavailable, drift recording disabled", zap.Error(err))
	}

	conc := w.cfg.Concurrency
	if conc < 1 {
		conc = 4
	}
	poll := time.Duration(w.cfg.PollSecs) * time.Second
	if poll <= 0 {
		poll = 2 * time.Second
	}

	log.Info("worker started", zap.Int("concurrency", conc), zap.Duration("poll", poll))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < conc; i++ {
		g.Go(func() error {
			for {
				job, err := w.queue.Dequeue(ctx, poll)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					log.Warn("dequeue failed", zap.Error(err))
					select {
					case <-ctx.Done():
						return nil
					case <-time.After(poll):
					}
					continue
				}
				if job == nil {
					continue
				}
				w.process(ctx, job)
			}
		})
	}
	return g.Wait()
}

// loadGold indexes the gold dataset by document id so incoming files
// can be matched on their name stem.
func (w *Worker) loadGold(ctx context.Context) error {
	records, err := w.store.ListGoldInvoices(ctx)
	if err != nil {
		return err
	}
	gold := make(map[string]model.Invoice, len(records))
	for _, rec := range records {
		gold[rec.DocumentID] = rec.Invoice
	}
	w.mu.Lock()
	w.gold = gold
	w.mu.Unlock()
	zap.L().Info("gold dataset loaded", zap.Int("records", len(records)))
	return nil
}

func (w *Worker) goldFor(filename string) (model.Invoice, bool) {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	w.mu.Lock()
	defer w.mu.Unlock()
	inv, ok := w.gold[stem]
	return inv, ok
}

func (w *Worker) provider(name string) (extract.Provider, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.providers[name]; ok {
		return p, nil
	}
	p, err := w.providerFor(name)
	if err != nil {
		return nil, err
	}
	w.providers[name] = p
	return p, nil
}

func (w *Worker) process(ctx context.Context, job *Job) {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("document_id", job.DocumentID),
		zap.String("provider", job.Provider),
	)

	if err := w.queue.SetStatus(ctx, job, StatusProcessing, ""); err != nil {
		log.Warn("set status failed", zap.Error(err))
	}
	if err := w.store.UpdateDocumentStatus(ctx, job.DocumentID, model.DocumentStatusProcessing, ""); err != nil {
		w.fail(ctx, job, "load", err)
		return
	}

	doc, err := w.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		w.fail(ctx, job, "load", err)
		return
	}

	text := doc.OCRText
	if text == "" {
		text, err = w.runOCR(ctx, doc)
		if err != nil {
			w.fail(ctx, job, "ocr", err)
			return
		}
	}

	provider, err := w.provider(job.Provider)
	if err != nil {
		w.fail(ctx, job, "extract", err)
		return
	}
	if !provider.Available() {
		w.fail(ctx, job, "extract", eris.Errorf("jobs: provider %q is not configured", provider.Name()))
		return
	}

	start := time.Now()
	inv, err := w.runExtract(ctx, provider, text)
	latency := time.Since(start)
	if err != nil {
		w.fail(ctx, job, "extract", err)
		return
	}

	if _, err := w.store.CreateExtraction(ctx, doc.ID, provider.Name(), inv, latency.Milliseconds()); err != nil {
		w.fail(ctx, job, "persist", err)
		return
	}
	monitoring.ExtractionLatency.WithLabelValues(provider.Name()).Observe(latency.Seconds())

	if w.recorder != nil {
		if gold, ok := w.goldFor(doc.Filename); ok {
			w.recorder.Observe(ctx, doc.ID, provider.Name(), inv, gold.Fields())
		}
	}

	if w.archive.Available() {
		key, err := w.archive.Upload(ctx, doc.ID, doc.StoragePath, doc.ContentType)
		if err != nil {
			log.Warn("archive upload failed", zap.Error(err))
		} else if err := w.store.SetDocumentArchiveKey(ctx, doc.ID, key); err != nil {
			log.Warn("record archive key failed", zap.Error(err))
		}
	}

	if err := w.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentStatusCompleted, ""); err != nil {
		log.Warn("mark completed failed", zap.Error(err))
	}
	if err := w.queue.SetStatus(ctx, job, StatusCompleted, ""); err != nil {
		log.Warn("set status failed", zap.Error(err))
	}
	monitoring.DocumentsProcessed.WithLabelValues(provider.Name(), "completed").Inc()
	log.Info("document processed", zap.Duration("latency", latency))
}

func (w *Worker) runOCR(ctx context.Context, doc *model.Document) (string, error) {
	text, err := resilience.ExecuteVal(ctx, w.breakers.Get("ocr"), func(ctx context.Context) (string, error) {
		return resilience.DoVal(ctx, w.ocrRetry, func(ctx context.Context) (string, error) {
			return w.engine.ExtractText(ctx, doc.StoragePath)
		})
	})
	if err != nil {
		return "", err
	}
	if err := w.store.SetDocumentText(ctx, doc.ID, text); err != nil {
		return "", err
	}
	return text, nil
}

func (w *Worker) runExtract(ctx context.Context, provider extract.Provider, text string) (*model.Invoice, error) {
	return resilience.ExecuteVal(ctx, w.breakers.Get(provider.Name()), func(ctx context.Context) (*model.Invoice, error) {
		return resilience.DoVal(ctx, w.extractRetry, func(ctx context.Context) (*model.Invoice, error) {
			return provider.Extract(ctx, text)
		})
	})
}

// fail marks the document and job failed and parks the job in the dead
// letter queue for later retry.
func (w *Worker) fail(ctx context.Context, job *Job, stage string, cause error) {
	log := zap.L().With(
		zap.String("job_id", job.ID),
		zap.String("document_id", job.DocumentID),
		zap.String("stage", stage),
	)
	log.Error("job failed", zap.Error(cause))

	if err := w.store.UpdateDocumentStatus(ctx, job.DocumentID, model.DocumentStatusFailed, cause.Error()); err != nil {
		log.Warn("mark failed failed", zap.Error(err))
	}
	if err := w.queue.SetStatus(ctx, job, StatusFailed, cause.Error()); err != nil {
		log.Warn("set status failed", zap.Error(err))
	}

	maxRetries := w.cfg.MaxAttempts
	if maxRetries <= 0 {
		maxRetries = 3
	}
	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		JobID:        job.ID,
		DocumentID:   job.DocumentID,
		Provider:     job.Provider,
		Error:        cause.Error(),
		ErrorType:    resilience.ClassifyError(cause),
		FailedStage:  stage,
		RetryCount:   job.Attempts,
		MaxRetries:   maxRetries,
		NextRetryAt:  now.Add(time.Duration(job.Attempts) * 5 * time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := w.store.EnqueueDLQ(ctx, entry); err != nil {
		log.Warn("dlq enqueue failed", zap.Error(err))
	}
	monitoring.DocumentsProcessed.WithLabelValues(job.Provider, "failed").Inc()
}

// Requeue pulls retryable entries out of the dead letter queue and puts
// them back on the job queue. Returns how many were requeued.
func (w *Worker) Requeue(ctx context.Context, filter resilience.DLQFilter) (int, error) {
	entries, err := w.store.DequeueDLQ(ctx, filter)
	if err != nil {
		return 0, eris.Wrap(err, "jobs: requeue")
	}
	requeued := 0
	for _, entry := range entries {
		job := NewJob(entry.DocumentID, entry.Provider)
		job.Attempts = entry.RetryCount + 1
		if err := w.queue.Enqueue(ctx, job); err != nil {
			return requeued, eris.Wrapf(err, "jobs: requeue document %s", entry.DocumentID)
		}
		if err := w.store.IncrementDLQRetry(ctx, entry.ID, time.Now().UTC().Add(time.Duration(entry.RetryCount+2)*5*time.Minute), entry.Error); err != nil {
			zap.L().Warn("dlq retry bump failed", zap.String("entry_id", entry.ID), zap.Error(err))
		}
		requeued++
	}
	return requeued, nil
}
