package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/logger"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/submission"
	"github.com/stemsi/exstem-client/internal/transport"
	"github.com/stemsi/exstem-client/internal/validator"
)

func main() {
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	validator.Setup()
	if err := validator.Struct(cfg); err != nil {
		log.Fatal().Interface("fields", validator.TranslateErrors(err)).Msg("Invalid configuration")
	}

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		return
	}

	ctx := context.Background()

	store, closeStore, err := submission.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open pending store")
	}
	defer closeStore()

	switch args[0] {
	case "list":
		sheets, err := store.List(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("List failed")
		}
		if len(sheets) == 0 {
			fmt.Println("No pending answer sheets.")
			return
		}
		for _, s := range sheets {
			sheet := model.AnswerSheet{ExamID: s.ExamID, Rows: s.Rows}
			answered := len(s.Rows) - sheet.UnansweredCount()
			fmt.Printf("%-20s  saved %s  %d/%d answered\n",
				s.ExamID, s.SavedAt.Format(time.DateTime), answered, len(s.Rows))
		}
	case "flush":
		conn, err := transport.Dial(ctx, cfg.ServerURL, log,
			transport.WithDialTimeout(cfg.DialTimeout), transport.WithWriteTimeout(cfg.WriteTimeout))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to exam server")
		}
		defer conn.Close()

		res, err := submission.NewPipeline(conn, store, log, submission.WithAckTimeout(cfg.AckTimeout)).FlushPending(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Flush failed")
			return
		}
		fmt.Printf("%s %s\n", res.Outcome, res.ExamID)
	case "drop":
		if len(args) < 2 {
			log.Fatal().Msg("drop requires an exam identifier")
		}
		if err := store.Delete(ctx, args[1]); err != nil {
			log.Fatal().Err(err).Msg("Delete failed")
		}
		fmt.Printf("Dropped %s\n", args[1])
	default:
		printUsage()
	}
}

func printUsage() {
	fmt.Println("Usage: pending <command>")
	fmt.Println("Commands:")
	fmt.Println("  list         List pending answer sheets, oldest first")
	fmt.Println("  flush        Resend the oldest pending sheet to the server")
	fmt.Println("  drop <exam>  Delete the pending sheet of an exam")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
