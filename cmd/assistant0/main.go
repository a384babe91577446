// Command assistant0 serves the Assistant0 chat API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"goa.design/clue/log"
)

func main() {
	cfg, cfgErr := loadConfig()

	// Setup logger.
	format := log.FormatJSON
	switch cfg.LogFormat {
	case "text":
		format = log.FormatText
	case "terminal":
		format = log.FormatTerminal
	case "":
		if log.IsTerminal() {
			format = log.FormatTerminal
		}
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if cfg.Debug {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}
	if cfgErr != nil {
		log.Fatalf(ctx, cfgErr, "invalid configuration")
	}
	log.Print(ctx,
		log.KV{K: "http-addr", V: cfg.HTTPAddr},
		log.KV{K: "model-provider", V: cfg.ModelProvider},
		log.KV{K: "model", V: cfg.Model},
		log.KV{K: "ciba-mode", V: cfg.CIBAMode},
	)

	svc, err := newService(ctx, cfg)
	if err != nil {
		log.Fatalf(ctx, err, "failed to initialize service")
	}

	// Create channel used by both the signal handler and server goroutines
	// to notify the main goroutine when to stop the server.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	if svc.worker != nil {
		if err := svc.worker.Start(); err != nil {
			log.Fatalf(ctx, err, "failed to start approval worker")
		}
		log.Printf(ctx, "approval worker started")
	}
	handleHTTPServer(ctx, cfg.HTTPAddr, svc.server, &wg, errc)

	// Wait for signal.
	log.Printf(ctx, "exiting (%v)", <-errc)

	// Send cancellation signal to the goroutines.
	cancel()

	wg.Wait()
	if svc.worker != nil {
		svc.worker.Stop()
	}
	svc.close(context.Background())
	log.Printf(ctx, "exited")
}
