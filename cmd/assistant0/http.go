package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"goa.design/clue/log"

	transport "github.com/assistant0/assistant0/transport/http"
)

// handleHTTPServer starts the HTTP server on addr and shuts it down when ctx
// is canceled.
func handleHTTPServer(ctx context.Context, addr string, server *transport.Server, wg *sync.WaitGroup, errc chan error) {
	srv := &http.Server{Addr: addr, Handler: server.Handler(ctx), ReadHeaderTimeout: time.Second * 60}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf(ctx, "HTTP server listening on %q", addr)
			errc <- srv.ListenAndServe()
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down HTTP server at %q", addr)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf(ctx, "failed to shutdown: %v", err)
		}
	}()
}
