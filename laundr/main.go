// Command laundr reads, edits, and audits MIFARE Classic laundry
// cards. It keeps three copies of every card image (original dump,
// persisted edits, live session state), feeds recorded transaction
// traces through the interception engine, and tracks everything it has
// seen in a CSV ledger and a bbolt history store.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/sworrl/LaundR/laundr/internal/config"
	"github.com/sworrl/LaundR/pkg/engine"
)

const usageText = `usage: laundr [flags] <command> [args]

commands:
  read             dump a present card to a .nfc file
  write            write a .nfc image to a present card (-card required)
  balance <usd>    set the persisted balance, e.g. balance 12.50 (-card required)
  edit <blk> <hex> store a raw block edit in the shadow file (-card required)
  crack [sector]   extract trailer Key B via clone-chip backdoor keys
  mint [usd]       provision a card with the embedded master image (default $50.00)
  audit [trace]    replay a shadow trace against the engine (-card required)
  stats [uid]      query the history store
  menu             interactive menu (default on a terminal)

flags:`

func main() {
	configPath := flag.String("config", "laundr.yaml", "path to YAML config")
	readerSpec := flag.String("reader", "", "reader index or name substring (overrides config)")
	modeFlag := flag.String("mode", "", "transaction policy: hack, legit, or interrogate (overrides config)")
	cardPath := flag.String("card", "", "card image (.nfc) to operate on")
	outDir := flag.String("o", "", "output directory for dumps (overrides config card_dir)")
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usageText)
		flag.PrintDefaults()
	}
	flag.Parse()

	// Configure slog
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *readerSpec != "" {
		cfg.Reader = *readerSpec
	}
	if *modeFlag != "" {
		cfg.Mode = *modeFlag
	}
	if *outDir != "" {
		cfg.Files.CardDir = *outDir
	}

	mode, err := engine.ParseMode(cfg.Mode)
	if err != nil {
		log.Fatalf("bad mode: %v", err)
	}

	a := &app{cfg: cfg, mode: mode, cardPath: strings.TrimSpace(*cardPath)}

	args := flag.Args()
	verb := ""
	if len(args) > 0 {
		verb = args[0]
		args = args[1:]
	}
	if verb == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			flag.Usage()
			os.Exit(1)
		}
		verb = "menu"
	}

	if verb == "menu" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			log.Fatalf("menu needs a terminal; pass a command instead")
		}
		runMenu(a)
		return
	}
	if err := a.dispatch(verb, args); err != nil {
		log.Fatalf("%s failed: %v", verb, err)
	}
}
