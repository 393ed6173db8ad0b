package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rzbill/docflow/internal/runtime"
	"github.com/rzbill/docflow/internal/server/http/controllers"
	"github.com/rzbill/docflow/pkg/log"
)

// Server is the admin REST surface of one replica.
type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger log.Logger
}

// New builds the server. status may be nil.
func New(rt *runtime.Runtime, status controllers.ReplicaStatus, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	mux := http.NewServeMux()
	controllers.NewControllerRegistry(rt, status, logger).RegisterAllRoutes(mux)
	s := &Server{
		rt:     rt,
		logger: logger.WithComponent("http"),
		srv: &http.Server{
			Handler:           cors(mux),
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          log.ToStdLogger(logger, log.WarnLevel),
		},
	}
	return s
}

// Handler exposes the routed handler.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("http listening", log.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Addr returns the bound address once listening.
func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
