// Command devbackend serves an in-memory job service for local runs of
// podcastctl and podcastd.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joseph-ayodele/podcast-tracker/internal/common"
	"github.com/joseph-ayodele/podcast-tracker/internal/devserver"
	"github.com/joseph-ayodele/podcast-tracker/internal/entity"
	"github.com/joseph-ayodele/podcast-tracker/internal/push"
)

func main() {
	cfg := common.LoadConfig()
	var (
		addr     = flag.String("addr", cfg.Dev.Addr, "listen address")
		public   = flag.String("public-url", "", "externally reachable base URL (default: request host)")
		user     = flag.String("user", "dev-user", "subject of the printed access token")
		ttl      = flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed access token")
		auto     = flag.Bool("auto-advance", true, "advance a job one status per fetch")
		jobLimit = flag.Int("job-limit", cfg.Dev.JobLimit, "jobs each user may create (0: default)")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	opts := []devserver.Option{
		devserver.WithAutoAdvance(*auto),
		devserver.WithJobLimit(*jobLimit),
	}
	if cfg.Push.NATSURL != "" {
		nc, err := push.Connect(cfg.Push.NATSURL, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer nc.Close()
		pub := push.NewPublisher(nc, cfg.Push.Subject)
		opts = append(opts, devserver.WithPublisher(func(j entity.Job) {
			if err := pub.Publish(j); err != nil {
				logger.Warn("dev.publish_failed", "job_id", j.ID, "error", err)
			}
		}))
	}

	dev := devserver.New(cfg.Dev.JWTSecret, logger, opts...)
	dev.PublicURL = *public

	token, err := dev.IssueToken(*user, *ttl)
	if err != nil {
		logger.Error("failed to issue token", "error", err)
		os.Exit(1)
	}
	fmt.Printf("export ACCESS_TOKEN=%s\n", token)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           dev.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Info("dev backend listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}
