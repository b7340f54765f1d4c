package downloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/juju/ratelimit"
	"github.com/rs/zerolog/log"

	"github.com/elsanchez/smart-cache/internal/domain"
	"github.com/elsanchez/smart-cache/internal/repository"
	"github.com/elsanchez/smart-cache/internal/signer"
)

const (
	DefaultCheckpointInterval = 2 * time.Second
	DefaultReadBuffer         = 32 * 1024

	// finalWriteTimeout acota el último checkpoint tras una pausa o un fallo
	finalWriteTimeout = 5 * time.Second
)

// errTotalChanged se usa internamente cuando el tamaño remoto cambió entre intentos
var errTotalChanged = errors.New("remote size changed")

// ExecutorConfig ajusta checkpoints, buffer y límite de ancho de banda
type ExecutorConfig struct {
	CheckpointInterval time.Duration
	ReadBuffer         int
	RateLimit          int64 // bytes/s, 0 = sin límite
	Now                func() time.Time
}

// HTTPExecutor descarga assets por HTTP con reanudación por Range
type HTTPExecutor struct {
	client HTTPDoer
	signer signer.Signer
	store  repository.ChunkStore
	cfg    ExecutorConfig
	bucket *ratelimit.Bucket
}

var _ Executor = (*HTTPExecutor)(nil)

// NewHTTPExecutor crea el executor; client nil usa NewHTTPClient con valores por defecto
func NewHTTPExecutor(store repository.ChunkStore, s signer.Signer, client HTTPDoer, cfg ExecutorConfig) *HTTPExecutor {
	if client == nil {
		// Sin proxy explícito la construcción no falla
		client, _ = NewHTTPClient(HTTPClientConfig{})
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultReadBuffer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &HTTPExecutor{client: client, signer: s, store: store, cfg: cfg}
	if cfg.RateLimit > 0 {
		// Un único bucket: solo hay una transferencia activa a la vez
		e.bucket = ratelimit.NewBucketWithRate(float64(cfg.RateLimit), cfg.RateLimit)
	}
	return e
}

// transfer es el estado de un intento. persisted describe lo que ya está en
// el store; pending son los bytes recibidos desde el último checkpoint.
type transfer struct {
	e          *HTTPExecutor
	asset      domain.Asset
	attempt    string
	etag       string
	total      int64
	loaded     int64
	persisted  []domain.Chunk
	durable    int64
	pending    []byte
	onProgress ProgressFunc
	// wrote indica que existe (o existió en este intento) un registro parcial
	wrote bool
}

func (e *HTTPExecutor) Execute(ctx context.Context, asset domain.Asset, resume *domain.PartialDownloadState, onProgress ProgressFunc) error {
	t := &transfer{
		e:          e,
		asset:      asset,
		attempt:    uuid.NewString(),
		onProgress: onProgress,
	}

	if resume != nil {
		t.wrote = true
		if err := resume.Validate(); err != nil {
			log.Warn().Str("op", "downloader/execute").Str("asset", asset.ID).Err(err).
				Msg("Discarding invalid partial state")
		} else if resume.LoadedBytes > 0 {
			t.etag = resume.ETag
			t.total = resume.TotalBytes
			t.loaded = resume.LoadedBytes
			t.durable = resume.LoadedBytes
			for _, c := range resume.Chunks {
				t.persisted = append(t.persisted, domain.Chunk{Offset: c.Offset, Size: c.Size})
			}
		}
	}

	logger := log.With().Str("op", "downloader/execute").Str("asset", asset.ID).Str("attempt", t.attempt).Logger()
	logger.Info().Int64("offset", t.loaded).Int64("total", t.total).Msg("Transfer started")

	err := t.run(ctx)
	switch {
	case err == nil:
		logger.Info().Int64("bytes", t.loaded).Msg("Transfer completed")
		return nil
	case ctx.Err() != nil:
		t.finalCheckpoint(ctx, domain.StatusPaused)
		logger.Info().Int64("loaded", t.loaded).Msg("Transfer paused")
		return ErrAborted
	case IsNetwork(err):
		if t.wrote || t.loaded > 0 {
			t.finalCheckpoint(ctx, domain.StatusError)
		}
		logger.Error().Err(err).Msg("Transfer failed")
		return err
	default:
		logger.Error().Err(err).Msg("Transfer failed")
		return err
	}
}

func (t *transfer) run(ctx context.Context) error {
	signed, err := t.e.signer.SignURL(ctx, t.asset.ID, signer.PurposeDownload)
	if err != nil {
		if errors.Is(err, signer.ErrForbidden) {
			return newError(KindAuthorization, "sign url", err)
		}
		return newError(KindNetwork, "sign url", err)
	}

	resp, err := t.open(ctx, signed.URL)
	if errors.Is(err, errTotalChanged) {
		log.Warn().Str("op", "downloader/execute").Str("asset", t.asset.ID).
			Msg("Remote size changed since last checkpoint, restarting from zero")
		t.reset()
		resp, err = t.open(ctx, signed.URL)
	}
	if err != nil {
		return err
	}
	if resp == nil {
		// Ya estaba todo descargado
		return t.commit(ctx)
	}
	defer resp.Body.Close()

	if err := t.stream(ctx, resp.Body); err != nil {
		return err
	}

	if t.total > 0 && t.loaded < t.total {
		return newError(KindNetwork, "read body", fmt.Errorf("got %d of %d bytes: %w", t.loaded, t.total, io.ErrUnexpectedEOF))
	}
	if t.total == 0 {
		t.total = t.loaded
	}

	return t.commit(ctx)
}

// open hace el GET y valida la respuesta. Retorna resp nil cuando el
// servidor indica que no queda nada por descargar.
func (t *transfer) open(ctx context.Context, rawURL string) (*http.Response, error) {
	offset := t.loaded

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, newError(KindNetwork, "create request", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		if t.etag != "" && !strings.HasPrefix(t.etag, "W/") {
			req.Header.Set("If-Range", t.etag)
		}
	}

	resp, err := t.e.client.Do(req)
	if err != nil {
		return nil, newError(KindNetwork, "request", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			log.Warn().Str("op", "downloader/execute").Str("asset", t.asset.ID).Int64("offset", offset).
				Msg("Server ignored range, restarting from zero")
			t.reset()
		}
		t.total = max(resp.ContentLength, 0)
		t.etag = resp.Header.Get("ETag")
		return resp, nil

	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, size, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			resp.Body.Close()
			return nil, newError(KindNetwork, "parse content-range", err)
		}
		if start != offset {
			resp.Body.Close()
			return nil, newError(KindNetwork, "resume", fmt.Errorf("server resumed at %d, expected %d", start, offset))
		}
		if size > 0 && t.total > 0 && size != t.total {
			resp.Body.Close()
			return nil, errTotalChanged
		}
		if size > 0 {
			t.total = size
		}
		if etag := resp.Header.Get("ETag"); etag != "" {
			t.etag = etag
		}
		return resp, nil

	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 && offset == t.total:
		resp.Body.Close()
		return nil, nil

	default:
		resp.Body.Close()
		return nil, newError(KindNetwork, "request", fmt.Errorf("unexpected status: %s", resp.Status))
	}
}

func (t *transfer) stream(ctx context.Context, body io.Reader) error {
	if t.e.bucket != nil {
		body = ratelimit.Reader(body, t.e.bucket)
	}

	buf := make([]byte, t.e.cfg.ReadBuffer)
	lastCheckpoint := t.e.cfg.Now()

	for {
		// El transporte puede seguir entregando datos en buffer tras cancelar
		if err := ctx.Err(); err != nil {
			return newError(KindNetwork, "read body", err)
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			t.pending = append(t.pending, buf[:n]...)
			t.loaded += int64(n)
			t.emit()

			if now := t.e.cfg.Now(); ctx.Err() == nil && now.Sub(lastCheckpoint) >= t.e.cfg.CheckpointInterval {
				if err := t.checkpoint(ctx, domain.StatusDownloading); err != nil {
					return err
				}
				lastCheckpoint = now
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return newError(KindNetwork, "read body", rerr)
		}
	}
}

func (t *transfer) emit() {
	if t.onProgress == nil {
		return
	}
	t.onProgress(Progress{
		LoadedBytes: t.loaded,
		TotalBytes:  t.total,
		Percent:     domain.ProgressPercent(t.loaded, t.total),
	})
}

// reset descarta el progreso; el próximo checkpoint reemplaza los chunks guardados
func (t *transfer) reset() {
	t.persisted = nil
	t.durable = 0
	t.loaded = 0
	t.total = 0
	t.pending = t.pending[:0]
	t.etag = ""
}

func (t *transfer) state(status domain.DownloadStatus) *domain.PartialDownloadState {
	chunks := make([]domain.Chunk, 0, len(t.persisted)+1)
	chunks = append(chunks, t.persisted...)
	if len(t.pending) > 0 {
		chunks = append(chunks, domain.Chunk{Offset: t.durable, Size: int64(len(t.pending)), Data: t.pending})
	}

	return &domain.PartialDownloadState{
		ID:          t.asset.ID,
		Asset:       t.asset,
		Chunks:      chunks,
		LoadedBytes: t.loaded,
		TotalBytes:  t.total,
		Status:      status,
		ETag:        t.etag,
		AttemptID:   t.attempt,
		Timestamp:   t.e.cfg.Now(),
	}
}

func (t *transfer) checkpoint(ctx context.Context, status domain.DownloadStatus) error {
	if err := t.e.store.PutPartial(ctx, t.state(status)); err != nil {
		return newError(KindStorage, "checkpoint", err)
	}

	t.wrote = true
	if len(t.pending) > 0 {
		t.persisted = append(t.persisted, domain.Chunk{Offset: t.durable, Size: int64(len(t.pending))})
		t.durable = t.loaded
		t.pending = t.pending[:0]
	}

	log.Debug().Str("op", "downloader/checkpoint").Str("asset", t.asset.ID).
		Int64("loaded", t.loaded).Int64("total", t.total).Str("status", status.String()).Msg("Checkpoint saved")
	return nil
}

// finalCheckpoint guarda el progreso con un contexto propio, ya que el del
// intento suele estar cancelado a esta altura
func (t *transfer) finalCheckpoint(parent context.Context, status domain.DownloadStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), finalWriteTimeout)
	defer cancel()

	if err := t.checkpoint(ctx, status); err != nil {
		log.Error().Str("op", "downloader/checkpoint").Str("asset", t.asset.ID).Err(err).
			Msg("Final checkpoint failed")
	}
}

// commit arma el blob final (chunks guardados + bytes pendientes) y borra el parcial
func (t *transfer) commit(ctx context.Context) error {
	readers := make([]io.Reader, 0, 2)
	if len(t.persisted) > 0 {
		rc, err := t.e.store.ReadPartial(ctx, t.asset.ID)
		if err != nil {
			return newError(KindStorage, "read partial", err)
		}
		defer rc.Close()
		readers = append(readers, rc)
	}
	readers = append(readers, bytes.NewReader(t.pending))

	completed, err := t.e.store.PutCompleted(ctx, t.asset, io.MultiReader(readers...))
	if err != nil {
		if ctx.Err() != nil {
			return newError(KindNetwork, "commit", ctx.Err())
		}
		return newError(KindStorage, "commit", err)
	}

	if completed.Size != t.loaded {
		// El store devolvió menos (o más) bytes de los registrados
		if derr := t.e.store.DeleteCompleted(context.WithoutCancel(ctx), t.asset.ID); derr != nil {
			log.Error().Str("op", "downloader/commit").Str("asset", t.asset.ID).Err(derr).Msg("Failed to drop inconsistent blob")
		}
		return newError(KindStorage, "commit",
			fmt.Errorf("assembled %d bytes, expected %d: %w", completed.Size, t.loaded, repository.ErrInconsistentState))
	}

	if err := t.e.store.DeletePartial(context.WithoutCancel(ctx), t.asset.ID); err != nil {
		// La recuperación al arrancar prefiere el completo y limpia el parcial
		log.Warn().Str("op", "downloader/commit").Str("asset", t.asset.ID).Err(err).Msg("Failed to delete partial state")
	}

	return nil
}

// parseContentRange interpreta "bytes start-end/size"; size -1 si es "*"
func parseContentRange(header string) (start, size int64, err error) {
	value, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content-range %q", header)
	}

	rangePart, sizePart, ok := strings.Cut(value, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content-range %q", header)
	}

	startPart, _, ok := strings.Cut(rangePart, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content-range %q", header)
	}

	start, err = strconv.ParseInt(strings.TrimSpace(startPart), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid content-range start: %w", err)
	}

	if sizePart == "*" {
		return start, -1, nil
	}
	size, err = strconv.ParseInt(strings.TrimSpace(sizePart), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid content-range size: %w", err)
	}
	return start, size, nil
}
