package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/apperr"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/logger"
	"github.com/stemsi/exstem-client/internal/paper"
	"github.com/stemsi/exstem-client/internal/service"
	"github.com/stemsi/exstem-client/internal/submission"
	"github.com/stemsi/exstem-client/internal/terminal"
	"github.com/stemsi/exstem-client/internal/transport"
	"github.com/stemsi/exstem-client/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	logOut, closeLog, err := logger.Open(cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closeLog()

	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, logOut)
	log.Info().
		Str("server", cfg.ServerURL).
		Str("pending_backend", cfg.PendingBackend).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem client")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()
	if err := validator.Struct(cfg); err != nil {
		log.Fatal().Interface("fields", validator.TranslateErrors(err)).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	// A signal expires the running session; its sheet is still submitted or
	// backed up before the process exits.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")
		cancel()
	}()

	// ─── Connect to Exam Server ────────────────────────────────────────
	conn, err := transport.Dial(ctx, cfg.ServerURL, log,
		transport.WithDialTimeout(cfg.DialTimeout),
		transport.WithWriteTimeout(cfg.WriteTimeout))
	if err != nil {
		fmt.Fprintln(os.Stderr, "[✖] Could not connect to the exam server.")
		log.Fatal().Err(err).Msg("Failed to connect to exam server")
	}
	defer conn.Close()

	// ─── Pending Answer Sheets ─────────────────────────────────────────
	store, closeStore, err := submission.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open pending store")
	}
	defer closeStore()

	pipeline := submission.NewPipeline(conn, store, log,
		submission.WithAckTimeout(cfg.AckTimeout))

	// ─── Exam Service ──────────────────────────────────────────────────
	ui := terminal.New(os.Stdin, os.Stdout, log)
	svc := service.NewExamService(
		conn,
		ui,
		paper.NewStore(cfg.ExamDir, cfg.PaperKey),
		pipeline,
		paper.NewRandomizer(nil),
		service.ExamServiceConfig{
			Tick:      cfg.TimerTick,
			ReplyWait: cfg.AckTimeout,
			ReviewDir: cfg.ReviewDir,
		},
		log,
	)

	if err := svc.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Client stopped")
		fmt.Fprintln(os.Stderr, "[✖] "+apperr.GetMessage(apperr.CodeOf(err)))
	}

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
