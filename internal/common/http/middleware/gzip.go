package middleware

import (
	"io"
	"strings"

	appErr "proofjudge/pkg/errors"
	"proofjudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzip"
)

// GzipRequestMiddleware transparently inflates request bodies sent with Content-Encoding: gzip.
// maxBytes caps the inflated size; zero means no cap.
func GzipRequestMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !strings.EqualFold(strings.TrimSpace(c.GetHeader("Content-Encoding")), "gzip") || c.Request.Body == nil {
			c.Next()
			return
		}
		zr, err := gzip.NewReader(c.Request.Body)
		if err != nil {
			response.AbortWithError(c, appErr.Wrapf(err, appErr.InvalidFormat, "invalid gzip body"))
			return
		}
		var body io.Reader = zr
		if maxBytes > 0 {
			body = io.LimitReader(zr, maxBytes)
		}
		c.Request.Body = readCloser{Reader: body, closers: []io.Closer{zr, c.Request.Body}}
		c.Request.Header.Del("Content-Encoding")
		c.Request.Header.Del("Content-Length")
		c.Request.ContentLength = -1
		c.Next()
	}
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r readCloser) Close() error {
	var first error
	for _, closer := range r.closers {
		if err := closer.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
