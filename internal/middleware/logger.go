package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Logger 使用 zap 记录每个请求的访问日志
func Logger(logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("latency", time.Since(start)),
					zap.String("remote", r.RemoteAddr),
				}
				if id := middleware.GetReqID(r.Context()); id != "" {
					fields = append(fields, zap.String("request_id", id))
				}
				switch {
				case status >= http.StatusInternalServerError:
					logger.Error("request", fields...)
				case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
					logger.Debug("request", fields...)
				default:
					logger.Info("request", fields...)
				}
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
