package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/kaonic/k1serial/internal/api/middleware"
	"github.com/kaonic/k1serial/internal/ingest"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
)

// SerialIngester persists authenticated uploads.
type SerialIngester interface {
	Ingest(ctx context.Context, up ingest.Upload) (*ingest.Result, error)
}

// UploadQueue keeps uploads whose ingestion failed in storage.
type UploadQueue interface {
	Enqueue(ctx context.Context, up ingest.Upload, cause error) (*models.OfflineQueueEntry, error)
}

// SerialsHandler handles the signed upload routes.
type SerialsHandler struct {
	ingester SerialIngester
	queue    UploadQueue
	logger   zerolog.Logger
}

// NewSerialsHandler creates a new SerialsHandler. A nil queue disables
// deferred delivery.
func NewSerialsHandler(ingester SerialIngester, queue UploadQueue, logger zerolog.Logger) *SerialsHandler {
	return &SerialsHandler{
		ingester: ingester,
		queue:    queue,
		logger:   logger.With().Str("component", "serials_handler").Logger(),
	}
}

// RegisterRoutes registers the upload routes on a group guarded by the
// signed upload middleware.
func (h *SerialsHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/add_serials", h.AddSerials)
	r.POST("/add_batch_serials", h.AddBatchSerials)
	r.POST("/add_chunk_serials", h.AddChunkSerials)
}

type uploadResponse struct {
	Message string `json:"message"`
	*ingest.Result
}

// AddSerials ingests a plain upload.
//
//	@Summary		Upload serials
//	@Tags			Uploads
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			X-Factory-ID	header		string	true	"Factory name"
//	@Param			X-Timestamp	header		string	true	"Unix seconds"
//	@Param			X-Signature	header		string	true	"Base64 signature over timestamp and payload hash"
//	@Param			file			formData	file	true	"CSV with device_id,wwyy rows"
//	@Success		200		{object}	uploadResponse
//	@Failure		400		{object}	map[string]string
//	@Failure		403		{object}	map[string]string
//	@Failure		500		{object}	map[string]interface{}	"Stored in the offline queue"
//	@Router			/add_serials [post]
func (h *SerialsHandler) AddSerials(c *gin.Context) {
	up, ok := h.upload(c)
	if !ok {
		return
	}
	h.ingest(c, up)
}

// AddBatchSerials ingests an upload and records its batch.
//
//	@Summary		Upload a batch of serials
//	@Tags			Uploads
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			X-Factory-ID	header		string	true	"Factory name"
//	@Param			X-Timestamp	header		string	true	"Unix seconds"
//	@Param			X-Signature	header		string	true	"Base64 signature over timestamp and payload hash"
//	@Param			file			formData	file	true	"CSV with device_id,wwyy rows"
//	@Param			X-Batch-ID	header		string	true	"Batch id"
//	@Param			X-Test-Run-Count	header		int	false	"Test runs"
//	@Success		200		{object}	uploadResponse
//	@Failure		400		{object}	map[string]string
//	@Failure		403		{object}	map[string]string
//	@Failure		500		{object}	map[string]interface{}	"Stored in the offline queue"
//	@Router			/add_batch_serials [post]
func (h *SerialsHandler) AddBatchSerials(c *gin.Context) {
	up, ok := h.upload(c)
	if !ok {
		return
	}

	batchID := strings.TrimSpace(c.GetHeader(middleware.HeaderBatchID))
	if batchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing " + middleware.HeaderBatchID + " header"})
		return
	}
	runs := 0
	if v := strings.TrimSpace(c.GetHeader(middleware.HeaderTestRunCount)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + middleware.HeaderTestRunCount + " header"})
			return
		}
		runs = n
	}

	up.Batch = &ingest.BatchInfo{ID: batchID, TestRunCount: runs}
	h.ingest(c, up)
}

// AddChunkSerials ingests one chunk of a chunked upload.
//
//	@Summary		Upload one chunk of a batch
//	@Tags			Uploads
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			X-Factory-ID	header		string	true	"Factory name"
//	@Param			X-Timestamp	header		string	true	"Unix seconds"
//	@Param			X-Signature	header		string	true	"Base64 signature over timestamp and payload hash"
//	@Param			file			formData	file	true	"CSV with device_id,wwyy rows"
//	@Param			X-Batch-ID	header		string	true	"Batch id"
//	@Param			X-Chunk-Index	header		int	true	"Zero-based chunk index"
//	@Param			X-Total-Chunks	header		int	true	"Number of chunks"
//	@Success		200		{object}	uploadResponse
//	@Failure		400		{object}	map[string]string
//	@Failure		403		{object}	map[string]string
//	@Failure		500		{object}	map[string]interface{}	"Stored in the offline queue"
//	@Router			/add_chunk_serials [post]
func (h *SerialsHandler) AddChunkSerials(c *gin.Context) {
	up, ok := h.upload(c)
	if !ok {
		return
	}

	batchID := strings.TrimSpace(c.GetHeader(middleware.HeaderBatchID))
	index, errIndex := strconv.Atoi(strings.TrimSpace(c.GetHeader(middleware.HeaderChunkIndex)))
	total, errTotal := strconv.Atoi(strings.TrimSpace(c.GetHeader(middleware.HeaderTotalChunks)))
	if batchID == "" || errIndex != nil || errTotal != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s, %s and %s headers are required",
			middleware.HeaderBatchID, middleware.HeaderChunkIndex, middleware.HeaderTotalChunks)})
		return
	}

	up.Chunk = &ingest.ChunkInfo{BatchID: batchID, Index: index, TotalChunks: total}
	h.ingest(c, up)
}

func (h *SerialsHandler) upload(c *gin.Context) (ingest.Upload, bool) {
	signed := middleware.GetSignedUpload(c)
	if signed == nil || signed.Identity == nil {
		c.JSON(http.StatusForbidden, gin.H{"error": models.ErrUnauthorized.Error()})
		return ingest.Upload{}, false
	}
	return ingest.Upload{
		Provenance:  signed.Identity.Tenant,
		Payload:     signed.Payload,
		PayloadHash: signed.PayloadHash,
		FileName:    signed.FileName,
	}, true
}

func (h *SerialsHandler) ingest(c *gin.Context, up ingest.Upload) {
	ctx := c.Request.Context()

	res, err := h.ingester.Ingest(ctx, up)
	if err != nil {
		if !errors.Is(err, models.ErrStorageFailure) {
			middleware.AbortWithError(c, err)
			return
		}

		h.logger.Error().Err(err).Str("provenance", up.Provenance).Str("payload_hash", up.PayloadHash).Msg("ingestion failed")
		queued := false
		if h.queue != nil {
			if entry, qerr := h.queue.Enqueue(ctx, up, err); qerr != nil {
				h.logger.Error().Err(qerr).Str("provenance", up.Provenance).Msg("failed to queue upload")
			} else {
				queued = true
				h.logger.Warn().Str("entry_id", entry.ID.String()).Str("provenance", up.Provenance).Msg("upload queued for retry")
			}
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "queued": queued})
		return
	}

	c.JSON(http.StatusOK, uploadResponse{
		Message: fmt.Sprintf("%d serial numbers added successfully.", res.Added),
		Result:  res,
	})
}
