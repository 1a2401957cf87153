package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/opencc/proxy/internal/apierrors"
	"github.com/opencc/proxy/internal/convctx"
	"github.com/opencc/proxy/internal/convert"
	"github.com/opencc/proxy/internal/logging"
	"github.com/opencc/proxy/internal/metrics"
	"github.com/opencc/proxy/internal/protocola"
	"github.com/opencc/proxy/internal/protocolb"
	"github.com/opencc/proxy/internal/provider"
	"github.com/opencc/proxy/internal/streamconv"
)

// modeHeader lets a client address a specific configuration mode; absent,
// the server default applies.
const modeHeader = "X-OpenCC-Mode"

func (s *Server) handleMessages(c *gin.Context) {
	start := time.Now()
	cctx := convctx.Context{
		RequestID:    requestID(c),
		StartEpochMs: start.UnixMilli(),
		UserAgent:    c.Request.UserAgent(),
		IP:           c.ClientIP(),
	}

	var req protocola.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.finish(c, cctx, start, false, 0,
			apierrors.Wrap(apierrors.KindInvalidRequest, "request body is not a valid JSON request", err))
		return
	}
	cctx.OriginalModel = req.Model

	mode := c.GetHeader(modeHeader)
	if mode == "" {
		mode = s.cfg.DefaultMode
	}

	prov, err := s.factory.Get(c.Request.Context(), mode)
	if err != nil {
		s.finish(c, cctx, start, req.Stream, 0, err)
		return
	}

	if native, ok := prov.(provider.Passthrough); ok && prov.Handle().Protocol == provider.ProtocolANative {
		s.serveNative(c, cctx, start, native, &req)
		return
	}

	breq, err := convert.RequestToProtocolB(&req, convert.RequestOptions{
		ModelTable:     s.cfg.ModelTable,
		SupportsVision: prov.Capabilities().SupportsVision,
	})
	if err != nil {
		s.finish(c, cctx, start, req.Stream, 0, err)
		return
	}

	if req.Stream {
		tokens, err := s.serveStream(c, cctx, prov, breq)
		s.finish(c, cctx, start, true, tokens, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()

	bresp, err := prov.SendRequest(ctx, breq)
	if err != nil {
		s.finish(c, cctx, start, false, 0, err)
		return
	}

	aresp, err := convert.ResponseToProtocolA(bresp, cctx.OriginalModel)
	if err != nil {
		s.finish(c, cctx, start, false, 0, err)
		return
	}

	c.JSON(http.StatusOK, aresp)
	s.finish(c, cctx, start, false, aresp.Usage.OutputTokens, nil)
}

// serveStream opens the upstream stream, sends SSE headers only once the
// upstream has answered, and drives the streaming state machine. It
// returns the observed output-token total for the completion log. Errors
// before the first downstream write surface as a unary JSON error via
// finish; errors after it are written as an error event here.
func (s *Server) serveStream(c *gin.Context, cctx convctx.Context, prov provider.Provider, breq *protocolb.Request) (int, error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.StreamTimeout)
	defer cancel()

	body, err := prov.SendStreamRequest(ctx, breq)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	writeSSEHeaders(c)
	if err := streamconv.WriteConnectedPing(c.Writer); err != nil {
		return 0, nil
	}
	c.Writer.Flush()

	proc := streamconv.NewProcessor(cctx.OriginalModel)
	err = streamconv.RunProcessor(ctx, body, c.Writer, c.Writer, proc)
	if errors.Is(err, streamconv.ErrClientDisconnected) {
		// The upstream reader is cancelled with the request context; the
		// request still logs as completed with the tokens seen so far.
		return proc.OutputTokens(), nil
	}
	if err != nil {
		_ = streamconv.WriteStreamError(c.Writer, apierrors.ToBody(apierrors.Wrap(apierrors.KindStream, "stream failed", err)))
		c.Writer.Flush()
		return proc.OutputTokens(), err
	}
	return proc.OutputTokens(), nil
}

func (s *Server) finish(c *gin.Context, cctx convctx.Context, start time.Time, streamed bool, tokens int, err error) {
	status := http.StatusOK
	if err != nil {
		status = apierrors.StatusFor(err)
		if !c.Writer.Written() {
			c.JSON(status, apierrors.ToBody(err))
		}
	}

	logging.RequestDone(cctx.RequestID, start, err)
	if s.recorder != nil {
		s.recorder.RequestDone(c.Request.Context(), metrics.Sample{
			RequestID:    cctx.RequestID,
			Mode:         c.GetHeader(modeHeader),
			Status:       status,
			Streamed:     streamed,
			Elapsed:      time.Since(start),
			OutputTokens: tokens,
		})
	}
}

func writeSSEHeaders(c *gin.Context) {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
}

// serveNative relays a request to a Protocol-A-speaking upstream with both
// converters skipped. The input contract still applies at the edge.
func (s *Server) serveNative(c *gin.Context, cctx convctx.Context, start time.Time, native provider.Passthrough, req *protocola.Request) {
	if err := convert.ValidateRequest(req); err != nil {
		s.finish(c, cctx, start, req.Stream, 0, err)
		return
	}

	if !req.Stream {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
		defer cancel()

		resp, err := native.SendNative(ctx, req)
		if err != nil {
			s.finish(c, cctx, start, false, 0, err)
			return
		}
		c.JSON(http.StatusOK, resp)
		s.finish(c, cctx, start, false, resp.Usage.OutputTokens, nil)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.StreamTimeout)
	defer cancel()

	body, err := native.SendNativeStream(ctx, req)
	if err != nil {
		s.finish(c, cctx, start, true, 0, err)
		return
	}
	defer body.Close()

	writeSSEHeaders(c)
	if err := streamconv.WriteConnectedPing(c.Writer); err != nil {
		s.finish(c, cctx, start, true, 0, nil)
		return
	}
	c.Writer.Flush()

	err = relay(ctx, body, c.Writer, c.Writer)
	if errors.Is(err, streamconv.ErrClientDisconnected) {
		err = nil
	}
	if err != nil {
		_ = streamconv.WriteStreamError(c.Writer, apierrors.ToBody(err))
		c.Writer.Flush()
	}
	s.finish(c, cctx, start, true, 0, err)
}

// relay copies upstream SSE bytes downstream verbatim, flushing per chunk
// and honoring cancellation between chunks.
func relay(ctx context.Context, upstream io.Reader, w io.Writer, flush streamconv.Flusher) error {
	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return streamconv.ErrClientDisconnected
		}
		n, readErr := upstream.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if flush != nil {
				flush.Flush()
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
}
