package relay

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/osdodo/lansync/pkg/transport"
)

func NewRouter(h *Hub) *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, writer, request)
			slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
		})
	})

	r.Methods(http.MethodGet).Path(transport.SyncPath).HandlerFunc(h.ServeWS)
	r.Methods(http.MethodGet).Path("/text").HandlerFunc(h.getText)
	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(func(writer http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(writer, "ok")
	})
	return r
}

func (h *Hub) getText(writer http.ResponseWriter, _ *http.Request) {
	writer.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(writer, h.Text()); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
