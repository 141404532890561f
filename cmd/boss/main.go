// Command boss runs the task-coordinator daemon: it loads configuration,
// opens the store, wires the classify -> converse -> process pipeline,
// and serves the webhook front door, scheduler, and outbox worker pool
// until told to shut down.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/basket/boss/internal/adapters"
	"github.com/basket/boss/internal/adapters/calendar"
	"github.com/basket/boss/internal/adapters/llm"
	"github.com/basket/boss/internal/adapters/sheet"
	"github.com/basket/boss/internal/adapters/transport"
	"github.com/basket/boss/internal/adapters/webhooktarget"
	"github.com/basket/boss/internal/bus"
	"github.com/basket/boss/internal/classifier"
	"github.com/basket/boss/internal/config"
	"github.com/basket/boss/internal/conversation"
	"github.com/basket/boss/internal/cryptutil"
	"github.com/basket/boss/internal/dispatch"
	"github.com/basket/boss/internal/outbox"
	"github.com/basket/boss/internal/scheduler"
	"github.com/basket/boss/internal/session"
	"github.com/basket/boss/internal/store"
	"github.com/basket/boss/internal/taskproc"
	"github.com/basket/boss/internal/telemetry"
	"github.com/basket/boss/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "boss: config:", err)
		os.Exit(1)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, "boss: logger:", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	if warning := cfg.PlaintextModeWarning(); warning != "" {
		logger.Warn(warning)
	}
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eventBus := bus.New()

	st, err := store.Open(cfg.DBURL, eventBus)
	if err != nil {
		fatal(logger, "store open", err)
	}
	defer st.Close()
	logger.Info("startup phase", "phase", "schema_migrated")

	box, err := cryptutil.New(cfg.EncryptionKey)
	if err != nil {
		fatal(logger, "cryptutil", err)
	}

	sessions := session.Open(ctx, cfg.CacheURL)
	defer sessions.Close()
	logger.Info("startup phase", "phase", "session_store_ready", "durable", sessions.Durable())

	llmAdapter := llm.New(ctx, llm.Config{
		Provider: cfg.LLMProvider,
		Model:    cfg.LLMModel,
		APIKey:   cfg.LLMAPIKey,
	})
	cl := classifier.New(llmAdapter)

	var sheetAdapter adapters.Adapter
	var sheetConcrete *sheet.Sheet
	if cfg.SheetBaseURL != "" {
		sheetConcrete = sheet.New(cfg.SheetBaseURL, cfg.SheetAPIKey)
		sheetAdapter = adapters.WithCircuitBreaker(sheetConcrete)
	}

	resolver := taskproc.NewAssigneeResolver(st, sheetAdapter, cfg.StaticAssignees)
	processor := taskproc.NewProcessor(st, resolver)

	machine := conversation.New(st)

	telegramAdapter, err := transport.New(cfg.TransportToken)
	if err != nil {
		fatal(logger, "telegram adapter init", err)
	}

	commands := buildCommands(st, sessions, box)
	d := dispatch.New(st, machine, cl, sessions, commands).WithProcessor(processor)

	decoders := map[string]webhook.TransportDecoder{
		"telegram": webhook.TelegramDecoder,
	}
	webhookSrv := webhook.New(cfg, st, webhook.Deps{
		Dispatcher: d,
		Box:        box,
		Decoders:   decoders,
		Logger:     logger,
	})
	webhookSrv.Start()
	logger.Info("startup phase", "phase", "webhook_front_door_started", "addr", cfg.BindAddr)

	deliverers := map[string]outbox.Deliverer{
		"telegram":      telegramDeliverer(telegramAdapter, bossChatID(cfg.BossUserID, logger)),
		"webhooktarget": webhookTargetDeliverer(webhooktarget.New(), cfg.WebhookSecret, cfg.WebhookSecret),
	}
	if sheetConcrete != nil {
		deliverers["sheet"] = sheetDeliverer(sheetConcrete)
	}
	if cfg.CalendarBaseURL != "" {
		calendarAdapter := calendar.New(cfg.CalendarBaseURL, cfg.CalendarAPIKey)
		deliverers["calendar"] = calendarDeliverer(calendarAdapter)
	}

	outboxQueue := outbox.New(st, deliverers, eventBus, outbox.Config{})
	outboxQueue.Start(ctx)
	logger.Info("startup phase", "phase", "outbox_workers_started")

	sched := scheduler.New(st, logger, time.Minute)
	if err := scheduler.RegisterDefaultJobs(sched, st, cfg.Location); err != nil {
		fatal(logger, "scheduler job registration", err)
	}
	sched.Start(ctx)
	logger.Info("startup phase", "phase", "scheduler_started")

	logger.Info("boss is up", "bind_addr", cfg.BindAddr, "home_dir", cfg.HomeDir)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Graceful shutdown per spec.md §5: stop accepting new webhooks, drain
	// the live background-handoff set and outbox workers (bounded to 30s
	// each), stop the scheduler, then close the store.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := webhookSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("webhook shutdown", "error", err)
	}
	outboxQueue.Drain(30 * time.Second)
	sched.Stop()

	logger.Info("shutdown complete")
}

func fatal(logger *slog.Logger, phase string, err error) {
	logger.Error("boss: fatal startup error", "phase", phase, "error", err)
	os.Exit(1)
}

// bossChatID parses BOSS_USER_ID as a Telegram numeric chat id. A
// non-numeric value (e.g. during local development against a mock
// transport) degrades to 0 rather than failing startup; the telegram
// deliverer will then fail deliveries loudly via its own dead-lettering.
func bossChatID(raw string, logger *slog.Logger) int64 {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Warn("BOSS_USER_ID is not numeric; telegram deliveries will dead-letter", "value", raw)
		return 0
	}
	return id
}

// buildCommands wires the slash-command table dispatch.Dispatcher
// consults before falling through to the classify/converse path
// (spec.md §4.11 branch 1).
func buildCommands(st *store.Store, sessions *session.Store, box *cryptutil.Box) map[string]dispatch.CommandHandler {
	return map[string]dispatch.CommandHandler{
		"status": func(ctx context.Context, userID, command, rest string) (string, error) {
			pending, err := st.ListTasksByAssignee(ctx, rest, store.ListFilter{Limit: 20})
			if err != nil {
				return "", err
			}
			if len(pending) == 0 {
				return "No open tasks.", nil
			}
			return fmt.Sprintf("%d open task(s).", len(pending)), nil
		},
		"cancel": func(ctx context.Context, userID, command, rest string) (string, error) {
			if err := sessions.Delete(ctx, session.NSAction, userID, "pending"); err != nil && err != session.ErrNotFound {
				return "", err
			}
			return "Cancelled.", nil
		},
	}
}

var _ = hex.EncodeToString // retained for admin token formatting helpers added alongside webhook admin ops
