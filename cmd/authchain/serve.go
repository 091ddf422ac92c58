package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jonwraymond/authchain/auth"
	"github.com/jonwraymond/authchain/config"
	"github.com/jonwraymond/authchain/health"
	"github.com/jonwraymond/authchain/observe"
)

type serveFlags struct {
	addr     string
	certFile string
	keyFile  string
	clientCA string
}

func serveCmd() *cobra.Command {
	var f serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /whoami behind the chain with health probes",
		Long: `Serve an HTTP endpoint that runs every request through the chain.
Basic auth, bearer tokens, the configured token cookie and assertion headers
are accepted. With --tls-cert and --tls-key client certificates are
requested too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := loadRuntime(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.Background()) }()

			srv, err := newServer(rt, f)
			if err != nil {
				return err
			}
			return run(ctx, srv, f, rt.Logger)
		},
	}

	cmd.Flags().StringVar(&f.addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&f.certFile, "tls-cert", "", "Server certificate PEM")
	cmd.Flags().StringVar(&f.keyFile, "tls-key", "", "Server key PEM")
	cmd.Flags().StringVar(&f.clientCA, "client-ca", "", "PEM bundle used to verify client certificates")

	return cmd
}

// newRouter mounts the probes and /metrics unauthenticated and /whoami
// behind the chain.
func newRouter(rt *config.Runtime) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(rt.Logger))
	r.Use(middleware.Recoverer)

	health.RegisterHandlers(r, rt.Health())
	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.Metrics)
	}
	r.With(rt.Middleware()).Get("/whoami", whoami)
	return r
}

// requestLogger logs one line per request once the response is written.
func requestLogger(logger observe.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info(r.Context(), "request",
				observe.Field{Key: "request_id", Value: middleware.GetReqID(r.Context())},
				observe.Field{Key: "method", Value: r.Method},
				observe.Field{Key: "path", Value: r.URL.Path},
				observe.Field{Key: "status", Value: ww.Status()},
				observe.Field{Key: "bytes", Value: ww.BytesWritten()},
				observe.Field{Key: "duration", Value: time.Since(start).String()},
			)
		})
	}
}

func newServer(rt *config.Runtime, f serveFlags) (*http.Server, error) {
	srv := &http.Server{
		Addr:              f.addr,
		Handler:           newRouter(rt),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if f.clientCA != "" && f.certFile == "" {
		return nil, errors.New("--client-ca requires --tls-cert and --tls-key")
	}
	if f.certFile != "" {
		tlsCfg := &tls.Config{
			MinVersion: tls.VersionTLS12,
			ClientAuth: tls.RequestClientCert,
		}
		if f.clientCA != "" {
			data, err := os.ReadFile(f.clientCA)
			if err != nil {
				return nil, fmt.Errorf("read client CA: %w", err)
			}
			cas, err := config.ParseCertificates(data)
			if err != nil {
				return nil, fmt.Errorf("client CA: %w", err)
			}
			pool := x509.NewCertPool()
			for _, c := range cas {
				pool.AddCert(c)
			}
			tlsCfg.ClientCAs = pool
			tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
		}
		srv.TLSConfig = tlsCfg
	}
	return srv, nil
}

func run(ctx context.Context, srv *http.Server, f serveFlags, logger observe.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "listening", observe.Field{Key: "addr", Value: srv.Addr})
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS(f.certFile, f.keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func whoami(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	if sess == nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(newSessionView(sess))
}
