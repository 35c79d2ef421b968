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

	"github.com/AlColeNS/search-expiscor-sub004/internal/common"
	"github.com/AlColeNS/search-expiscor-sub004/internal/crawlqueue"
	"github.com/AlColeNS/search-expiscor-sub004/internal/models"
	"github.com/AlColeNS/search-expiscor-sub004/internal/notify"
	"github.com/AlColeNS/search-expiscor-sub004/internal/pipeline"
	"github.com/AlColeNS/search-expiscor-sub004/internal/scheduler"
	"github.com/AlColeNS/search-expiscor-sub004/internal/server"
	"github.com/AlColeNS/search-expiscor-sub004/internal/snapshot"
	"github.com/AlColeNS/search-expiscor-sub004/internal/sources"
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
	serverPort   = flag.Int("port", 0, "Status server port (overrides config)")
	serverPortP  = flag.Int("p", 0, "Status server port (shorthand, overrides config)")
	serverHost   = flag.String("host", "", "Status server host (overrides config)")
	runOnce      = flag.String("run", "", "Run a single crawl and exit: full or incremental")
	checkOnly    = flag.Bool("test", false, "Validate configuration and readiness, then exit")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Expiscor version %s\n", common.GetVersion())
		os.Exit(0)
	}

	finalPort := *serverPort
	if *serverPortP != 0 {
		finalPort = *serverPortP
	}

	// Startup sequence: load config, apply CLI overrides, initialize logger,
	// print banner.
	if len(configFiles) == 0 {
		if _, err := os.Stat("expiscor.toml"); err == nil {
			configFiles = append(configFiles, "expiscor.toml")
		} else if _, err := os.Stat("deployments/local/expiscor.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/expiscor.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	common.ApplyFlagOverrides(config, finalPort, *serverHost)
	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	logger.Info().
		Strs("config_files", configFiles).
		Str("connector", config.Connector.Name).
		Str("driver", config.Connector.Extract.Driver).
		Str("install_path", config.Connector.InstallPath).
		Msg("Configuration loaded")

	os.Exit(run())
}

// run assembles the connector and executes the selected mode. Separated from
// main so deferred cleanup runs before the exit code is returned.
func run() int {
	schema, err := loadSchema()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load schema")
		return 1
	}

	driver, err := buildDriver(schema)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build source driver")
		return 1
	}

	units := config.Connector.Transform.Units
	if len(units) == 0 {
		units = []string{"trim", "defaults", "mv_normalize", "validate"}
	}
	transformPipeline, err := pipeline.BuildPipeline(units)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build transform pipeline")
		return 1
	}

	snapshots, err := snapshot.Open(&config.Storage.Badger, config.Connector.InstallPath, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open snapshot store")
		return 1
	}
	defer snapshots.Close()

	crawl := crawlqueue.New(config.Connector.InstallPath, logger)
	if !config.Connector.Publish.SaveFiles {
		if err := crawl.Sweep(); err != nil {
			logger.Warn().Err(err).Msg("Failed to sweep stale crawl directories")
		}
	}
	runner := pipeline.NewTaskRunner(config, driver, transformPipeline, crawl, snapshots, logger)
	notifier := notify.NewNotifier(&config.Mail, config.Connector.Name, logger)
	runner.SetNoticeSink(func(n pipeline.Notice) {
		notifier.Add(notify.Row{DocID: n.DocID, Phase: string(n.Phase), Status: n.Status, Message: n.Message})
	})

	if *checkOnly {
		if err := runner.Readiness(); err != nil {
			logger.Error().Err(err).Msg("Readiness check failed")
			return 1
		}
		logger.Info().Msg("Readiness check passed")
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if *runOnce != "" {
		return runSingleCrawl(ctx, cancel, sigChan, runner, notifier)
	}
	if config.Connector.SinglePass() {
		return runSinglePass(ctx, cancel, sigChan, runner)
	}
	return runService(ctx, cancel, sigChan, runner, notifier)
}

func loadSchema() (*models.Schema, error) {
	if config.Connector.SchemaFile == "" {
		return models.DefaultSchema(), nil
	}
	return models.LoadSchemaFile(config.Connector.SchemaFile)
}

func buildDriver(schema *models.Schema) (sources.Driver, error) {
	extract := &config.Connector.Extract
	docType := config.Connector.DocumentType
	switch extract.Driver {
	case "web":
		return sources.NewWebDriver(extract, docType, schema, logger)
	case "filesystem", "":
		return sources.NewFilesystemDriver(extract, docType, schema, logger)
	default:
		return nil, fmt.Errorf("unknown extract driver: %s", extract.Driver)
	}
}

// runSingleCrawl runs exactly one crawl of the requested type and exits.
func runSingleCrawl(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal, runner *pipeline.TaskRunner, notifier *notify.Notifier) int {
	var crawlType crawlqueue.CrawlType
	var watermark time.Time
	switch *runOnce {
	case "full":
		crawlType = crawlqueue.CrawlTypeFull
	case "incremental", "incr":
		crawlType = crawlqueue.CrawlTypeIncremental
		timer, err := buildTimer()
		if err != nil {
			logger.Error().Err(err).Msg("Failed to load service timer")
			return 1
		}
		watermark = timer.Watermark()
	default:
		logger.Error().Str("run", *runOnce).Msg("Unknown crawl type; expected full or incremental")
		return 1
	}

	go func() {
		<-sigChan
		logger.Warn().Msg("Interrupt received; aborting crawl")
		runner.Abort()
		cancel()
	}()

	report, err := runner.RunCrawl(ctx, crawlType, watermark)
	if sendErr := notifier.SendSummary(string(crawlType), report, err); sendErr != nil {
		logger.Warn().Err(sendErr).Msg("Failed to send crawl summary")
	}
	if err != nil {
		logger.Error().Err(err).Msg("Crawl failed")
		return 1
	}
	return 0
}

// runSinglePass runs the configured phase subset once and exits.
func runSinglePass(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal, runner *pipeline.TaskRunner) int {
	go func() {
		<-sigChan
		logger.Warn().Msg("Interrupt received; aborting run")
		runner.Abort()
		cancel()
	}()

	if _, err := runner.RunPhases(ctx); err != nil {
		logger.Error().Err(err).Msg("Single-pass run failed")
		return 1
	}
	return 0
}

// runService runs the scheduler loop and the status server until interrupted.
func runService(ctx context.Context, cancel context.CancelFunc, sigChan chan os.Signal, runner *pipeline.TaskRunner, notifier *notify.Notifier) int {
	timer, err := buildTimer()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load service timer")
		return 1
	}

	onComplete := func(crawlType crawlqueue.CrawlType, report *pipeline.Report, err error) {
		if sendErr := notifier.SendSummary(string(crawlType), report, err); sendErr != nil {
			logger.Warn().Err(sendErr).Msg("Failed to send crawl summary")
		}
		notifier.Reset()
	}

	service := scheduler.NewService(config, runner, timer, onComplete, logger)
	if err := service.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start scheduler")
		return 1
	}

	var statusServer *server.StatusServer
	var serverErrs <-chan error
	if config.Server.Enabled {
		statusServer = server.New(&config.Server, runner, logger)
		serverErrs = statusServer.Start()
	}

	logger.Info().Msg("Service ready - Press Ctrl+C to stop")

	exitCode := 0
	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case err := <-serverErrs:
		if err != nil {
			logger.Error().Err(err).Msg("Status server failed")
			exitCode = 1
		}
	}

	logger.Info().Msg("Shutting down")
	service.Stop()
	cancel()

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Status server shutdown failed")
		}
	}

	logger.Info().Msg("Service stopped")
	return exitCode
}

func buildTimer() (*scheduler.ServiceTimer, error) {
	fullEvery, err := common.ParseMinutes(config.Connector.FullRunInterval)
	if err != nil {
		return nil, err
	}
	incrEvery, err := common.ParseMinutes(config.Connector.IncrRunInterval)
	if err != nil {
		return nil, err
	}
	return scheduler.NewServiceTimer(config.Connector.InstallPath, fullEvery, incrEvery)
}
