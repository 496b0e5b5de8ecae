package relay

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"gembalance-go/internal/credential"
	"gembalance-go/internal/gberrors"
	"gembalance-go/internal/logging"
	upgem "gembalance-go/internal/upstream/gemini"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Handler proxies generation requests: it borrows a credential from the
// pool, drives the upstream client, and reports failures back to obtain a
// replacement.
type Handler struct {
	pool   *credential.Pool
	client *upgem.Client
	models []string
}

// NewHandler builds the proxy handler.
func NewHandler(pool *credential.Pool, client *upgem.Client, models []string) *Handler {
	return &Handler{pool: pool, client: client, models: models}
}

// Register mounts the proxy routes on the given router group.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/models", h.listModels)
	// The upstream dialect encodes the operation in the final path segment:
	// /models/gemini-2.0-flash:generateContent
	r.POST("/models/:modelAction", h.dispatch)
}

func (h *Handler) listModels(c *gin.Context) {
	models := make([]gin.H, 0, len(h.models))
	for _, m := range h.models {
		models = append(models, gin.H{"name": "models/" + m})
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

func (h *Handler) dispatch(c *gin.Context) {
	model, op, ok := strings.Cut(c.Param("modelAction"), ":")
	if !ok {
		respondError(c, http.StatusNotFound, "unknown operation")
		return
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, "read request body: "+err.Error())
		return
	}
	if model == "" {
		model = gjson.GetBytes(payload, "model").String()
	}
	if model == "" {
		respondError(c, http.StatusBadRequest, "model name missing")
		return
	}
	// The model travels in the URL path for this dialect; a copy embedded in
	// the payload would shadow the path on the upstream side.
	payload, _ = sjson.DeleteBytes(payload, "model")
	c.Set("model", model)

	switch op {
	case "generateContent":
		h.generate(c, payload, model)
	case "streamGenerateContent":
		h.stream(c, payload, model)
	default:
		respondError(c, http.StatusNotFound, "unknown operation "+op)
	}
}

func (h *Handler) generate(c *gin.Context, payload []byte, model string) {
	ctx := c.Request.Context()

	key, err := h.pool.GetNextWorking(ctx)
	if err != nil {
		respondPoolError(c, err)
		return
	}

	var lastErr error
	// One logical request burns through at most MaxFailures credentials.
	for attempt := 0; attempt < h.pool.MaxFailures(); attempt++ {
		body, err := h.client.Generate(ctx, payload, model, key)
		if err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", body)
			return
		}
		lastErr = err
		logging.WithReq(c, log.Fields{
			"key":     logging.RedactKey(key),
			"attempt": attempt,
		}).WithError(err).Warn("upstream call failed, rotating credential")

		key, err = h.pool.ReportFailure(ctx, key)
		if err != nil {
			respondPoolError(c, err)
			return
		}
	}
	respondUpstreamError(c, lastErr)
}

func (h *Handler) stream(c *gin.Context, payload []byte, model string) {
	ctx := c.Request.Context()

	key, err := h.pool.GetNextWorking(ctx)
	if err != nil {
		respondPoolError(c, err)
		return
	}

	var lastErr error
	for attempt := 0; attempt < h.pool.MaxFailures(); attempt++ {
		st, err := h.client.StreamGenerate(ctx, payload, model, key)
		if err == nil {
			if h.pump(c, st) {
				return
			}
			if st.Err() == nil {
				// Zero-line stream that closed normally.
				c.Status(http.StatusOK)
				return
			}
			// Nothing was delivered; the stream failed at or right after
			// connect and is safe to retry with another credential.
			err = st.Err()
		}
		lastErr = err
		logging.WithReq(c, log.Fields{
			"key":     logging.RedactKey(key),
			"attempt": attempt,
		}).WithError(err).Warn("stream failed before output, rotating credential")

		key, err = h.pool.ReportFailure(ctx, key)
		if err != nil {
			respondPoolError(c, err)
			return
		}
	}
	respondUpstreamError(c, lastErr)
}

// pump forwards stream lines to the client. It reports whether any output
// reached the caller; once it has, the response is committed and a later
// failure can only be logged, never replayed.
func (h *Handler) pump(c *gin.Context, st *upgem.Stream) bool {
	defer st.Close()

	writer := c.Writer
	delivered := false
	for st.Next() {
		if !delivered {
			c.Status(http.StatusOK)
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			delivered = true
		}
		if _, err := writer.WriteString(st.Text() + "\n"); err != nil {
			// Client went away; abandoning mid-stream is the caller's
			// choice and does not count against the credential.
			logging.WithReq(c, nil).WithError(err).Debug("client disconnected mid-stream")
			return true
		}
		writer.Flush()
	}

	err := st.Err()
	if err == nil {
		return delivered
	}
	if !gberrors.IsRetryableForCaller(err) {
		logging.WithReq(c, nil).WithError(err).Warn("stream interrupted after partial output")
		return true
	}
	return delivered
}

func respondPoolError(c *gin.Context, err error) {
	if errors.Is(err, gberrors.ErrPoolExhausted) {
		respondError(c, http.StatusServiceUnavailable, "no usable upstream credential")
		return
	}
	logging.WithReq(c, nil).WithError(err).Error("credential pool failure")
	respondError(c, http.StatusInternalServerError, "credential pool failure")
}

func respondUpstreamError(c *gin.Context, err error) {
	var ue *gberrors.UpstreamError
	if errors.As(err, &ue) {
		c.Data(ue.Status, "application/json; charset=utf-8", []byte(ue.Body))
		return
	}
	msg := "upstream request failed"
	if err != nil {
		msg = err.Error()
	}
	respondError(c, http.StatusBadGateway, msg)
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    status,
			"message": message,
			"status":  http.StatusText(status),
		},
	})
}
