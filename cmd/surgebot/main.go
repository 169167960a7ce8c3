// Command surgebot runs the sell-surge short bot: the hourly scanner
// feeds the entry pipeline, the monitor manages exit brackets and the
// user-data stream keeps fills fresh between polls.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"

	"github.com/koshedu/surge-short-bot/config"
	"github.com/koshedu/surge-short-bot/internal/binance"
	"github.com/koshedu/surge-short-bot/internal/database"
	"github.com/koshedu/surge-short-bot/internal/logging"
	"github.com/koshedu/surge-short-bot/internal/monitor"
	"github.com/koshedu/surge-short-bot/internal/notification"
	"github.com/koshedu/surge-short-bot/internal/strategy"
	"github.com/koshedu/surge-short-bot/internal/trader"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	// Secrets come from the environment; a local .env is optional.
	godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LogLevel,
		Output: "stdout",
		Pretty: isatty.IsTerminal(os.Stdout.Fd()),
	})
	logger.Info().
		Str("config", *configPath).
		Bool("testnet", cfg.Testnet).
		Msg("Surge-short bot starting")

	client := binance.NewClient(cfg.BinanceAPIKey, cfg.BinanceAPISecret, cfg.Testnet, logger)

	store, err := database.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("Failed to open database")
	}
	defer store.Close()

	notify := notification.NewManager(logger)
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to initialise Telegram notifier")
		}
		notify.Register(tg)
		logger.Info().Msg("Telegram notifications enabled")
	} else {
		logger.Warn().Msg("Telegram credentials missing, notifications go to the log only")
	}

	strat := strategy.NewSurgeShort(cfg, notify, logger)
	mon := monitor.New(cfg, client, store, notify, strat, logger)
	stream := binance.NewUserDataStream(client, logger)

	bot := trader.New(cfg, client, store, notify, strat, mon, stream, logger)
	if err := bot.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start bot")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down...")
	bot.Stop()
	logger.Info().Msg("Shutdown complete")
}
