// -----------------------------------------------------------------------
// Adsum - automated daily check-in runner
// -----------------------------------------------------------------------

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/adsum/internal/common"
	"github.com/ternarybob/adsum/internal/drivers/browser"
	"github.com/ternarybob/adsum/internal/interfaces"
	"github.com/ternarybob/adsum/internal/models"
	"github.com/ternarybob/adsum/internal/services/batch"
	"github.com/ternarybob/adsum/internal/services/checkin"
	"github.com/ternarybob/adsum/internal/services/mailer"
	"github.com/ternarybob/adsum/internal/services/report"
	"github.com/ternarybob/adsum/internal/services/scheduler"
	"github.com/ternarybob/adsum/internal/services/site"
	badgerstore "github.com/ternarybob/adsum/internal/storage/badger"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	headlessFlag = flag.String("headless", "", "Override headless mode: true or false")
	scheduleFlag = flag.String("schedule", "", "Cron spec for repeated runs (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Adsum version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ...)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner

	if len(configFiles) == 0 {
		if _, err := os.Stat("adsum.toml"); err == nil {
			configFiles = append(configFiles, "adsum.toml")
		} else if _, err := os.Stat("deployments/local/adsum.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/adsum.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, *headlessFlag, *scheduleFlag)

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	valid, skipped := filterAccounts(config, logger)
	if len(valid) == 0 {
		logger.Fatal().Msg("No usable accounts configured")
		os.Exit(1)
	}
	logger.Info().
		Int("accounts", len(valid)).
		Int("skipped", len(skipped)).
		Bool("headless", config.Settings.Headless).
		Msg("Configuration loaded")

	// Run history store, optional.
	var store interfaces.RunStorage
	if config.Storage.Enabled {
		db, err := badgerstore.NewBadgerDB(logger, config.Storage)
		if err != nil {
			logger.Warn().Err(err).Msg("Run history unavailable, continuing without it")
		} else {
			store = badgerstore.NewRunStorage(db, logger)
			defer store.Close()
			logPreviousRun(store, logger)
		}
	}

	mail := mailer.NewService(config.Mail, logger)
	reporter := report.NewService(config.Report.OutputDir, config.Report.Formats, mail, logger)
	driver := browser.NewDriver(config.Browser, logger)
	workflow := checkin.New(driver, logger, checkin.Options{
		Headless:            config.Settings.Headless,
		Proxy:               config.Settings.Proxy,
		RemoteDebugEndpoint: config.Settings.RemoteDebugEndpoint,
	})

	orchestrator := batch.New(workflow, site.Globals{
		Site:    config.Settings.Site,
		BaseURL: config.Settings.BaseURL,
	}, batch.Options{
		MinDelay:   time.Duration(config.Settings.MinDelay) * time.Second,
		MaxDelay:   time.Duration(config.Settings.MaxDelay) * time.Second,
		MaxRetries: config.Settings.MaxRetries,
		RetryDelay: config.Settings.RetryDelay(),
	}, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runBatch := func(runCtx context.Context) {
		run := orchestrator.RunWithRetries(runCtx, valid)
		if _, err := reporter.Publish(runCtx, run); err != nil {
			logger.Error().Err(err).Msg("Failed to publish reports")
		}
	}

	if spec := config.Settings.Schedule; spec != "" {
		sched := scheduler.NewService(logger)
		if err := sched.Schedule(spec, runBatch); err != nil {
			logger.Fatal().Err(err).Str("spec", spec).Msg("Invalid schedule")
			os.Exit(1)
		}
		<-ctx.Done()
		logger.Info().Msg("Shutdown signal received")
		sched.Stop()
		return
	}

	runBatch(ctx)
	if ctx.Err() != nil {
		logger.Warn().Msg("Run interrupted by signal")
		os.Exit(130)
	}
}

// filterAccounts drops placeholder or incomplete account entries
// before any browser work starts.
func filterAccounts(config *common.Config, logger arbor.ILogger) ([]models.Account, []string) {
	valid, skipped := models.FilterValid(config.Accounts)
	for _, name := range skipped {
		logger.Warn().Str("account", name).Msg("Skipping placeholder or incomplete account entry")
	}
	return valid, skipped
}

func logPreviousRun(store interfaces.RunStorage, logger arbor.ILogger) {
	last, err := store.LastRun(context.Background())
	if err != nil || last == nil {
		return
	}
	logger.Info().
		Str("run_id", last.ID).
		Str("finished", last.FinishedAt.Format(time.RFC3339)).
		Int("success", last.SuccessCount).
		Int("failed", last.FailureCount).
		Msg("Previous run")
	if last.FailureCount > 0 {
		logger.Warn().
			Strs("failed_accounts", last.FailedLabels()).
			Msg("Previous run left failures")
	}
}
