package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/daniellavrushin/httpcopy/config"
	"github.com/daniellavrushin/httpcopy/engine"
	"github.com/daniellavrushin/httpcopy/forward"
	httpapi "github.com/daniellavrushin/httpcopy/http"
	"github.com/daniellavrushin/httpcopy/http/handler"
	"github.com/daniellavrushin/httpcopy/log"
	"github.com/daniellavrushin/httpcopy/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	cfg             = config.NewConfig()
	verboseFlag     string
	showVersion     bool
	Version         = "dev"
	Commit          = "none"
	Date            = "unknown"
	currentLogLevel = log.LevelInfo
)

var rootCmd = &cobra.Command{
	Use:   "httpcopy",
	Short: "Replay captured HTTP traffic against a test server",
	Long: `httpcopy watches the directory tcpflow writes per-connection capture files into,
waits until each connection has gone quiet, classifies it and replays the
requests of valid captures against a test server, then files every capture
into forward/, forward_failed/ or one of the invalid*/ directories.`,
	RunE:         runHttpcopy,
	SilenceUsage: true,
}

func init() {
	// Bind all configuration flags
	cfg.BindFlags(rootCmd)

	rootCmd.Flags().StringVar(&verboseFlag, "verbose", "info", "Set verbosity level (debug, trace, info, silent), default: info")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version and exit")
}

func main() {
	initTimezone()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runHttpcopy(cmd *cobra.Command, args []string) error {
	handler.Version, handler.Commit, handler.Date = Version, Commit, Date
	if showVersion {
		fmt.Printf("httpcopy version: %s (%s) %s\n", Version, Commit, Date)
		return nil
	}

	cfg.ApplyLogLevel(verboseFlag)

	if err := initLogging(&cfg); err != nil {
		return fmt.Errorf("logging initialization failed: %w", err)
	}

	log.Infof("Starting httpcopy %s", Version)

	if cfg.ConfigPath != "" {
		if err := loadConfigFile(cmd, &cfg); err != nil {
			return err
		}
	}

	if cmd.Flags().Changed("verbose") {
		cfg.ApplyLogLevel(verboseFlag)
		log.Infof("Log level set to %s", verboseFlag)
	}
	currentLogLevel = cfg.System.Logging.Level
	log.SetLevel(currentLogLevel)

	if err := cfg.Validate(); err != nil {
		return log.Errorf("invalid configuration: %w", err)
	}

	printConfigDefaults(cmd)

	m := metrics.GetMetricsCollector()
	m.RecordEvent("info", "httpcopy starting up")

	eng, err := engine.FromConfig(&cfg, m)
	if err != nil {
		m.RecordEvent("error", fmt.Sprintf("Engine setup failed: %v", err))
		return err
	}
	defer eng.Close()

	deps := httpapi.Deps{Sessions: eng.Tracker(), Metrics: m}
	if db := eng.Exchanges(); db != nil {
		deps.Exchanges = db
	}

	// Single scan runs are too short for periodic probing.
	if cfg.PollInterval() > 0 {
		monitor := forward.NewMonitor(cfg.ForwardAddr, cfg.ProbeInterval(), cfg.ConnectTimeout(), m.SetTestServerUp)
		monitor.Start()
		defer monitor.Stop()
		deps.Target = monitor
	}
	httpServer, err := httpapi.StartServer(&cfg, deps)
	if err != nil {
		m.RecordEvent("error", fmt.Sprintf("Failed to start status server: %v", err))
		return log.Errorf("failed to start status server: %w", err)
	}

	log.Infof("Replaying captures from %s (production %s) to %s", cfg.Capture.Dir, cfg.ListenAddr, cfg.ForwardAddr)
	m.RecordEvent("info", "httpcopy is fully operational")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := eng.Run(ctx)
	if ctx.Err() != nil {
		log.Infof("Received shutdown signal, shutting down gracefully")
		m.RecordEvent("info", "Shutdown initiated by signal")
	}
	if runErr != nil {
		m.RecordEvent("error", fmt.Sprintf("Engine stopped: %v", runErr))
		log.Errorf("engine stopped: %v", runErr)
	}

	if err := gracefulShutdown(httpServer, m); err != nil {
		return err
	}
	return runErr
}

// loadConfigFile reads the config file and then reapplies every flag given
// on the command line, so explicit flags win over the file.
func loadConfigFile(cmd *cobra.Command, c *config.Config) error {
	type setFlag struct {
		flag  *pflag.Flag
		value string
		slice []string
	}
	var given []setFlag
	cmd.Flags().Visit(func(f *pflag.Flag) {
		sf := setFlag{flag: f, value: f.Value.String()}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sf.slice = append([]string(nil), sv.GetSlice()...)
		}
		given = append(given, sf)
	})

	if err := c.LoadWithMigration(c.ConfigPath); err != nil {
		return err
	}

	for _, sf := range given {
		var err error
		if sv, ok := sf.flag.Value.(pflag.SliceValue); ok {
			err = sv.Replace(sf.slice)
		} else {
			err = sf.flag.Value.Set(sf.value)
		}
		if err != nil {
			return log.Errorf("failed to reapply --%s: %w", sf.flag.Name, err)
		}
	}
	return c.SaveToFile(c.ConfigPath)
}

func gracefulShutdown(httpServer *http.Server, m *metrics.MetricsCollector) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	shutdownErrors := make(chan error, 1)

	if httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Infof("Shutting down status server...")
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Errorf("Status server shutdown error: %v", err)
				shutdownErrors <- fmt.Errorf("HTTP shutdown: %w", err)
			} else {
				log.Infof("Status server stopped")
			}
		}()
	}

	log.Tracef("Shutting down WebSocket connections...")
	httpapi.Shutdown()

	shutdownDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		close(shutdownErrors)
		var errs []error
		for err := range shutdownErrors {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			log.Errorf("Shutdown completed with %d errors", len(errs))
			for _, err := range errs {
				log.Errorf("  - %v", err)
			}
			m.RecordEvent("warning", fmt.Sprintf("httpcopy shutdown with %d errors", len(errs)))
		} else {
			log.Infof("httpcopy stopped")
			m.RecordEvent("info", "httpcopy shutdown complete")
		}

	case <-shutdownCtx.Done():
		log.Errorf("Shutdown timeout reached, forcing exit")
		log.Flush()
		time.Sleep(100 * time.Millisecond)
		os.Exit(1)
	}

	log.CloseErrorFile()
	log.Flush()
	return nil
}

func initTimezone() {
	// Load timezone from TZ environment variable, default to UTC
	tzName := os.Getenv("TZ")
	if tzName == "" {
		tzName = "UTC"
	}

	loc, err := time.LoadLocation(tzName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[WARN] Failed to load timezone %s: %v, using UTC\n", tzName, err)
		loc, _ = time.LoadLocation("UTC")
	}

	time.Local = loc
}

func initLogging(cfg *config.Config) error {
	log.Init(log.OrigStderr(), cfg.System.Logging.Level, cfg.System.Logging.Instaflush)
	log.AttachSink(log.SinkStream, httpapi.LogWriter())

	if cfg.System.Logging.Syslog {
		if err := log.EnableSyslog("httpcopy"); err != nil {
			log.Errorf("Failed to enable syslog: %v", err)
			return err
		}
		log.Infof("Syslog enabled")
	}

	if cfg.System.Logging.ErrorFile != "" {
		if err := log.InitErrorFile(cfg.System.Logging.ErrorFile); err != nil {
			log.Errorf("Failed to open error log file: %v", err)
		} else {
			log.Infof("Error logging to file: %s", cfg.System.Logging.ErrorFile)
		}
	}

	currentLogLevel = cfg.System.Logging.Level
	return nil
}

func printConfigDefaults(cmd *cobra.Command) {
	var all []*pflag.Flag
	cmd.InheritedFlags().VisitAll(func(f *pflag.Flag) { all = append(all, f) })
	cmd.Flags().VisitAll(func(f *pflag.Flag) { all = append(all, f) })
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	log.Infof("Effective CLI flags:")
	line := ""
	for _, f := range all {
		if line == "" {
			line = fmt.Sprintf("--%s=%s", f.Name, f.Value.String())
		} else {
			line += " " + fmt.Sprintf("--%s=%s", f.Name, f.Value.String())
		}
	}
	log.Infof("  %s", line)
}
