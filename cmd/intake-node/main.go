package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/zmlAEQ/mpc-intake/internal/api"
	"github.com/zmlAEQ/mpc-intake/internal/delivery"
	"github.com/zmlAEQ/mpc-intake/internal/host"
	"github.com/zmlAEQ/mpc-intake/internal/intake"
	"github.com/zmlAEQ/mpc-intake/internal/keymgr"
	"github.com/zmlAEQ/mpc-intake/internal/monitoring"
	"github.com/zmlAEQ/mpc-intake/pkg/bus"
	"github.com/zmlAEQ/mpc-intake/pkg/lifecycle"
	"github.com/zmlAEQ/mpc-intake/pkg/logger"
)

func main() {
	var (
		apiAddr       string
		monAddr       string
		upstream      string
		keystorePath  string
		resumeTTL     time.Duration
		refundWebhook string
	)
	flag.StringVar(&apiAddr, "api", "127.0.0.1:4700", "Intake API listen address")
	flag.StringVar(&monAddr, "monitoring", "127.0.0.1:4720", "Monitoring listen address")
	flag.StringVar(&upstream, "upstream", "", "Optional upstream base URL for proxying non-critical requests")
	flag.StringVar(&keystorePath, "keystore", "intake_domains.dat", "Path to the domain key descriptor store")
	flag.DurationVar(&resumeTTL, "resume-ttl", 30*time.Second, "Deadline before a pending request times out")
	flag.StringVar(&refundWebhook, "refund-webhook", "", "Optional webhook URL notified of scheduled refunds")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	keys, err := keymgr.NewStore(keystorePath)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	b := bus.New(256)
	env := host.NewLocalEnv(clock.New(), resumeTTL)
	if refundWebhook != "" {
		env.SetTransferSink(host.WebhookSink{URL: refundWebhook})
	}

	svc := intake.New(
		intake.NewValidator(keys),
		intake.NewFeeCollector(env),
		intake.NewRegistry(),
		env,
		b,
	)
	// Host timeouts surface as Failure(Timeout) through the normal finalize path.
	env.SetExpireFunc(func(tok host.Token) {
		_ = svc.Finalize(ctx, tok, intake.FailureOutcome(intake.FailureTimeout))
	})

	del := delivery.New(b.Subscribe())
	apiSvc := api.New(apiAddr, svc, keys, upstream)
	apiSvc.SetOutcomeSource(del)

	m := lifecycle.New()
	m.Add(env)
	m.Add(svc)
	m.Add(del)
	m.Add(apiSvc)
	m.Add(monitoring.New(monAddr))

	if err := m.StartAll(ctx); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
	<-ctx.Done()
	_ = m.StopAll(context.Background())
	logger.Sync()
}
