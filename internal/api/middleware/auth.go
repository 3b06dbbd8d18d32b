// Package middleware provides HTTP middleware for the k1serial API.
package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kaonic/k1serial/internal/auth"
	"github.com/kaonic/k1serial/internal/crypto"
	"github.com/kaonic/k1serial/internal/models"
	"github.com/rs/zerolog"
)

// Headers carried by signed factory uploads.
const (
	HeaderFactoryID    = "X-Factory-ID"
	HeaderTimestamp    = "X-Timestamp"
	HeaderSignature    = "X-Signature"
	HeaderBatchID      = "X-Batch-ID"
	HeaderTestRunCount = "X-Test-Run-Count"
	HeaderChunkIndex   = "X-Chunk-Index"
	HeaderTotalChunks  = "X-Total-Chunks"
)

// UploadFormField is the multipart field holding the CSV payload.
const UploadFormField = "file"

// ContextKey is the type for context keys used by this package.
type ContextKey string

const (
	// SignedUploadContextKey is the context key for the authenticated upload.
	SignedUploadContextKey ContextKey = "signed_upload"
	// AdminActorContextKey is the context key for the admin actor label.
	AdminActorContextKey ContextKey = "admin_actor"
)

// RequestAuthenticator authenticates signed factory requests.
type RequestAuthenticator interface {
	Precheck(req auth.Request) error
	Authenticate(ctx context.Context, req auth.Request) (*auth.Result, error)
}

// SignedUpload is an uploaded payload whose signature has been verified.
type SignedUpload struct {
	Identity    *auth.Result
	Payload     []byte
	PayloadHash string
	FileName    string
}

// SignedUploadMiddleware authenticates a multipart upload. The payload hash is
// computed over the exact file bytes before anything parses them.
func SignedUploadMiddleware(authn RequestAuthenticator, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "signature_middleware").Logger()

	return func(c *gin.Context) {
		req := auth.Request{
			TenantID:  c.GetHeader(HeaderFactoryID),
			Timestamp: c.GetHeader(HeaderTimestamp),
			Signature: c.GetHeader(HeaderSignature),
		}
		if err := authn.Precheck(req); err != nil {
			AbortWithError(c, err)
			return
		}

		payload, fileName, err := readUploadedFile(c)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
				return
			}
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("no file uploaded")
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
			return
		}

		req.PayloadHash = crypto.ComputeFileHash(payload)
		identity, err := authn.Authenticate(c.Request.Context(), req)
		if err != nil {
			if models.HTTPStatus(err) == http.StatusInternalServerError {
				log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("authentication failed")
			}
			AbortWithError(c, err)
			return
		}

		c.Set(string(SignedUploadContextKey), &SignedUpload{
			Identity:    identity,
			Payload:     payload,
			PayloadHash: req.PayloadHash,
			FileName:    fileName,
		})
		c.Next()
	}
}

func readUploadedFile(c *gin.Context) ([]byte, string, error) {
	fh, err := c.FormFile(UploadFormField)
	if err != nil {
		return nil, "", err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	return data, fh.Filename, nil
}

// GetSignedUpload returns the authenticated upload, or nil outside the middleware.
func GetSignedUpload(c *gin.Context) *SignedUpload {
	v, ok := c.Get(string(SignedUploadContextKey))
	if !ok {
		return nil
	}
	up, _ := v.(*SignedUpload)
	return up
}

// AdminTokenMiddleware requires a bearer token matching the configured admin hash.
func AdminTokenMiddleware(validator *auth.AdminTokenValidator, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "admin_middleware").Logger()

	return func(c *gin.Context) {
		if !validator.Enabled() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin access not configured"})
			return
		}

		token := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			log.Debug().Str("path", c.Request.URL.Path).Msg("missing admin token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		if !validator.Validate(token) {
			log.Warn().Str("path", c.Request.URL.Path).Str("client_ip", c.ClientIP()).Msg("invalid admin token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}

		c.Set(string(AdminActorContextKey), "admin")
		c.Next()
	}
}

// AdminActor returns the default actor label of an admin request.
func AdminActor(c *gin.Context) string {
	if v := c.GetString(string(AdminActorContextKey)); v != "" {
		return v
	}
	return "admin"
}

// AbortWithError answers with the status and terse message of an error kind.
func AbortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(models.HTTPStatus(err), gin.H{"error": models.PublicMessage(err)})
}
