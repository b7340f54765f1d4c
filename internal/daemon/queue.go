package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/downloader"
	"github.com/elsanchez/smart-cache/internal/repository"
)

// ErrNotTracked indica que el asset no tiene registro en el manager
var ErrNotTracked = errors.New("download not tracked")

const (
	// maxConcurrent es el límite de transferencias simultáneas
	maxConcurrent = 1

	// cleanupTimeout acota el borrado tras un cancel
	cleanupTimeout = 10 * time.Second
)

// entry es el estado privado de un asset rastreado
type entry struct {
	record domain.DownloadRecord
	seq    uint64

	// Solo mientras hay una goroutine de transferencia viva
	active bool
	cancel context.CancelFunc
	done   chan struct{}

	// committed indica que el último intento guardó el asset completo
	committed bool
}

// Option configura el QueueManager
type Option func(*QueueManager)

// WithOnChange registra un observador de cambios de estado. Se invoca sin
// locks tomados, desde la goroutine que produjo el cambio.
func WithOnChange(fn func(domain.DownloadRecord)) Option {
	return func(q *QueueManager) {
		q.onChange = fn
	}
}

// QueueManager es el registro de descargas: encola, ejecuta de a una y
// recupera transferencias interrumpidas al iniciar
type QueueManager struct {
	store    repository.ChunkStore
	executor downloader.Executor
	onChange func(domain.DownloadRecord)

	mu       sync.Mutex
	entries  map[string]*entry
	draining map[string]struct{} // ids con un cancel esperando a su transferencia
	running  int
	nextSeq  uint64

	kick   chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewQueueManager crea un nuevo gestor de cola
func NewQueueManager(store repository.ChunkStore, executor downloader.Executor, opts ...Option) *QueueManager {
	ctx, cancel := context.WithCancel(context.Background())

	q := &QueueManager{
		store:    store,
		executor: executor,
		entries:  make(map[string]*entry),
		draining: make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Init recupera los parciales persistidos como pausados e inicia el scheduler.
// No reanuda nada automáticamente.
func (q *QueueManager) Init(ctx context.Context) error {
	if err := q.recover(ctx); err != nil {
		return err
	}

	q.wg.Add(1)
	go q.scheduleLoop()

	log.Info().Str("op", "daemon/queue").Int("recovered", len(q.Records())).Msg("Queue manager started")
	return nil
}

// Stop aborta las transferencias activas (quedan pausadas) y espera a que terminen
func (q *QueueManager) Stop() {
	log.Info().Str("op", "daemon/queue").Msg("Queue manager stopping...")
	q.cancel()
	q.wg.Wait()
	log.Info().Str("op", "daemon/queue").Msg("Queue manager stopped")
}

func (q *QueueManager) recover(ctx context.Context) error {
	partials, err := q.store.ListPartial(ctx)
	if err != nil {
		return fmt.Errorf("list partial downloads: %w", err)
	}

	for _, p := range partials {
		_, err := q.store.GetCompleted(ctx, p.ID)
		switch {
		case err == nil:
			// Crash entre commit y borrado del parcial: gana el completo
			log.Warn().Str("op", "daemon/recover").Str("asset", p.ID).Msg("Removing stale partial of completed asset")
			if err := q.store.DeletePartial(ctx, p.ID); err != nil {
				return fmt.Errorf("delete stale partial %s: %w", p.ID, err)
			}
			continue
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("get completed asset %s: %w", p.ID, err)
		}

		asset := p.Asset
		if asset.ID == "" {
			asset.ID = p.ID
		}

		q.mu.Lock()
		q.nextSeq++
		q.entries[p.ID] = &entry{
			seq: q.nextSeq,
			record: domain.DownloadRecord{
				Asset:           asset,
				Status:          domain.StatusPaused,
				ProgressPercent: p.Percent(),
				LoadedBytes:     p.LoadedBytes,
				TotalBytes:      p.TotalBytes,
				UpdatedAt:       p.Timestamp,
			},
		}
		q.mu.Unlock()

		log.Debug().Str("op", "daemon/recover").Str("asset", p.ID).Int("percent", p.Percent()).Msg("Recovered paused download")
	}

	return nil
}

// Start encola el asset. No hace nada si ya está en cola, descargando o
// guardado como completo; un registro pausado o con error vuelve a la cola.
func (q *QueueManager) Start(ctx context.Context, asset domain.Asset) error {
	if asset.ID == "" {
		return fmt.Errorf("start download: asset id is required")
	}

	q.mu.Lock()
	if e, ok := q.entries[asset.ID]; ok {
		rec, changed := q.requeueLocked(e, asset)
		q.mu.Unlock()
		if changed {
			q.notify(rec)
			q.signal()
		}
		return nil
	}
	q.mu.Unlock()

	if _, err := q.store.GetCompleted(ctx, asset.ID); err == nil {
		log.Debug().Str("op", "daemon/queue").Str("asset", asset.ID).Msg("Asset already available offline")
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("get completed asset: %w", err)
	}

	q.mu.Lock()
	var rec domain.DownloadRecord
	changed := true
	if e, ok := q.entries[asset.ID]; ok {
		// Otro Start ganó la carrera mientras se consultaba el store
		rec, changed = q.requeueLocked(e, asset)
	} else {
		q.nextSeq++
		e := &entry{
			seq: q.nextSeq,
			record: domain.DownloadRecord{
				Asset:     asset,
				Status:    domain.StatusPending,
				UpdatedAt: time.Now(),
			},
		}
		q.entries[asset.ID] = e
		rec = e.record
	}
	q.mu.Unlock()

	if changed {
		q.notify(rec)
		q.signal()
	}
	return nil
}

// requeueLocked pasa a pending un registro pausado o con error
func (q *QueueManager) requeueLocked(e *entry, asset domain.Asset) (domain.DownloadRecord, bool) {
	if !e.record.Status.IsResumable() {
		return e.record, false
	}

	if asset.Title != "" {
		e.record.Asset = asset
	}
	q.nextSeq++
	e.seq = q.nextSeq
	e.record.Status = domain.StatusPending
	e.record.ErrorMessage = ""
	e.record.UpdatedAt = time.Now()
	return e.record, true
}

// Resume vuelve a encolar un registro pausado o con error
func (q *QueueManager) Resume(ctx context.Context, id string) error {
	q.mu.Lock()
	e, ok := q.entries[id]
	var asset domain.Asset
	if ok {
		asset = e.record.Asset
	}
	q.mu.Unlock()

	if !ok {
		return ErrNotTracked
	}
	return q.Start(ctx, asset)
}

// Pause aborta la transferencia en curso; el executor guarda un último checkpoint
func (q *QueueManager) Pause(id string) error {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return ErrNotTracked
	}
	if e.record.Status != domain.StatusDownloading {
		q.mu.Unlock()
		return nil
	}

	if e.cancel != nil {
		e.cancel()
	}
	e.record.Status = domain.StatusPaused
	e.record.UpdatedAt = time.Now()
	rec := e.record
	q.mu.Unlock()

	log.Info().Str("op", "daemon/queue").Str("asset", id).Int("percent", rec.ProgressPercent).Msg("Download paused")
	q.notify(rec)
	return nil
}

// Cancel aborta, espera a que la transferencia termine y borra todo rastro.
// Si el intento llegó a guardar el asset completo, también se borra.
func (q *QueueManager) Cancel(ctx context.Context, id string) error {
	q.mu.Lock()
	e, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return ErrNotTracked
	}

	delete(q.entries, id)
	var done chan struct{}
	if e.active {
		done = e.done
		e.cancel()
	}
	wasCommitted := e.committed
	q.draining[id] = struct{}{}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		delete(q.draining, id)
		q.mu.Unlock()
		q.signal()
	}()

	if done != nil {
		// Sin el ctx del llamador: el checkpoint final llega después y
		// sobreviviría al borrado. El executor ya fue cancelado.
		<-done

		q.mu.Lock()
		wasCommitted = e.committed
		q.mu.Unlock()
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := q.store.DeletePartial(cleanupCtx, id); err != nil {
		return fmt.Errorf("delete partial download: %w", err)
	}
	if wasCommitted {
		if err := q.store.DeleteCompleted(cleanupCtx, id); err != nil {
			return fmt.Errorf("delete completed asset: %w", err)
		}
	}

	log.Info().Str("op", "daemon/queue").Str("asset", id).Msg("Download cancelled")
	return nil
}

// Remove cancela si está rastreado y borra el asset completo
func (q *QueueManager) Remove(ctx context.Context, id string) error {
	if err := q.Cancel(ctx, id); err != nil && !errors.Is(err, ErrNotTracked) {
		return err
	}
	if err := q.store.DeleteCompleted(ctx, id); err != nil {
		return fmt.Errorf("delete completed asset: %w", err)
	}

	log.Info().Str("op", "daemon/queue").Str("asset", id).Msg("Download removed")
	return nil
}

func (q *QueueManager) signal() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *QueueManager) notify(recs ...domain.DownloadRecord) {
	if q.onChange == nil {
		return
	}
	for _, rec := range recs {
		q.onChange(rec)
	}
}

// scheduleLoop es el único consumidor de kick
func (q *QueueManager) scheduleLoop() {
	defer q.wg.Done()

	q.schedule()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.kick:
			q.schedule()
		}
	}
}

// schedule lanza el pending más antiguo mientras haya hueco
func (q *QueueManager) schedule() {
	var launched []domain.DownloadRecord

	q.mu.Lock()
	for q.running < maxConcurrent && q.ctx.Err() == nil {
		e := q.nextPendingLocked()
		if e == nil {
			break
		}
		q.launchLocked(e)
		launched = append(launched, e.record)
	}
	q.mu.Unlock()

	q.notify(launched...)
}

func (q *QueueManager) nextPendingLocked() *entry {
	var next *entry
	for id, e := range q.entries {
		if e.record.Status != domain.StatusPending || e.active {
			continue
		}
		if _, busy := q.draining[id]; busy {
			continue
		}
		if next == nil || e.seq < next.seq {
			next = e
		}
	}
	return next
}

func (q *QueueManager) launchLocked(e *entry) {
	ctx, cancel := context.WithCancel(q.ctx)

	e.active = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.committed = false
	e.record.Status = domain.StatusDownloading
	e.record.ErrorMessage = ""
	e.record.UpdatedAt = time.Now()
	q.running++

	log.Info().Str("op", "daemon/queue").Str("asset", e.record.Asset.ID).Msg("Download started")

	q.wg.Add(1)
	go q.transfer(ctx, e, e.record.Asset)
}

// transfer ejecuta un intento y aplica el resultado al registro
func (q *QueueManager) transfer(ctx context.Context, e *entry, asset domain.Asset) {
	defer q.wg.Done()

	resume, err := q.store.GetPartial(ctx, asset.ID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		resume, err = nil, nil
	case err != nil:
		err = &downloader.TransferError{Kind: downloader.KindStorage, Op: "load partial", Err: err}
	}

	if err == nil {
		err = q.executor.Execute(ctx, asset, resume, func(p downloader.Progress) {
			q.progress(e, p)
		})
	}

	q.finish(e, err)
}

func (q *QueueManager) progress(e *entry, p downloader.Progress) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e.record.Status != domain.StatusDownloading {
		return
	}
	e.record.ProgressPercent = p.Percent
	e.record.LoadedBytes = p.LoadedBytes
	e.record.TotalBytes = p.TotalBytes
	e.record.UpdatedAt = time.Now()
}

func (q *QueueManager) finish(e *entry, err error) {
	q.mu.Lock()
	id := e.record.Asset.ID
	e.cancel()
	e.active = false
	e.cancel = nil
	q.running--
	tracked := q.entries[id] == e

	var changed []domain.DownloadRecord
	switch {
	case err == nil:
		e.committed = true
		if tracked {
			// completed es transitorio: el registro sale del set rastreado
			delete(q.entries, id)
			e.record.Status = domain.StatusCompleted
			e.record.ProgressPercent = 100
			e.record.UpdatedAt = time.Now()
			changed = append(changed, e.record)
		}
		log.Info().Str("op", "daemon/queue").Str("asset", id).Msg("Download completed")

	case errors.Is(err, downloader.ErrAborted):
		if tracked && e.record.Status == domain.StatusDownloading {
			e.record.Status = domain.StatusPaused
			e.record.UpdatedAt = time.Now()
			changed = append(changed, e.record)
		}

	default:
		if tracked && e.record.Status == domain.StatusDownloading {
			e.record.Status = domain.StatusError
			e.record.ErrorMessage = err.Error()
			e.record.UpdatedAt = time.Now()
			changed = append(changed, e.record)
		}
		log.Error().Str("op", "daemon/queue").Str("asset", id).Err(err).Msg("Download failed")
	}

	close(e.done)
	q.mu.Unlock()

	q.notify(changed...)
	q.signal()
}
