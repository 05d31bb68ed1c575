package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/autocoder/progexec/internal/log"
	"github.com/autocoder/progexec/internal/model"
	"github.com/autocoder/progexec/internal/service"
	"gopkg.in/yaml.v3"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const configName = "progexec.yaml"

var envReplacer = strings.NewReplacer("-", "_")

var (
	userConfigPath string // /default/config/path/progexec on given OS
	configPath     string // actual config file used (if loaded)
	config         model.Config

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
	flagLogFormat      string // value of --log-format flag

	flagMonitorURL      string
	flagMonitorTokenEnv string
	flagSummary         bool
)

func init() {
	d, err := os.UserConfigDir()
	if err != nil {
		panic(err)
	}
	userConfigPath = filepath.Join(d, "progexec")
}

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load - default is "+configName+" in current directory or in "+userConfigPath)
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: json or text")

	runCmd.Flags().StringVar(&flagMonitorURL, "monitor-url", "", "enable the liveness monitor with this check endpoint")
	runCmd.Flags().StringVar(&flagMonitorTokenEnv, "monitor-token-env", "", "environment variable holding the check endpoint token")
	runCmd.Flags().BoolVar(&flagSummary, "summary", false, "print a summary table to stderr")

	// PROGEXEC_CONFIG, PROGEXEC_VERBOSE, PROGEXEC_LOG_FORMAT
	viper.SetEnvPrefix("progexec")
	viper.AutomaticEnv()
	for _, name := range []string{"config", "verbose", "log-format"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvKeyReplacer(envReplacer)

	// never print messages
	rootCmd.SilenceErrors = true

	// parse or create a config, setup logging
	rootCmd.PersistentPreRunE = initProgexec

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("progexec failed", "err", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "progexec",
	Short:        "Runs batches of shell commands in parallel under a liveness monitor",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run BATCH",
	Short: "run executes the batch once and uploads its report",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

var serveCmd = &cobra.Command{
	Use:   "serve BATCH",
	Short: "serve runs the batch in the mode of the configuration, on schedule in timer mode",
	Args:  cobra.ExactArgs(1),
	RunE:  doServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "config prints the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("# %s\n", configPath)
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(config); err != nil {
			return err
		}
		return enc.Close()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of a progexec",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("progexec: version info not available")
			return
		}

		if configPath != "" {
			fmt.Printf("config:   %s\n", configPath)
		}
		fmt.Printf("progexec: %s\n", info.Main.Version)
		fmt.Printf("go:       %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:   %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:     %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:    %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("progexec",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	requests, err := loadBatch(args[0])
	if err != nil {
		return err
	}

	if flagMonitorURL != "" {
		if config.Monitor == nil {
			config.Monitor = model.DefaultConfig(ctx).Monitor
		}
		enabled, url := true, flagMonitorURL
		config.Monitor.Enabled = &enabled
		config.Monitor.URL = &url
	}
	if flagMonitorTokenEnv != "" && config.Monitor != nil {
		env := flagMonitorTokenEnv
		config.Monitor.TokenEnv = &env
	}

	var extra []model.Uploader
	if flagSummary {
		extra = append(extra, summaryUploader{w: os.Stderr})
	}
	return service.Run(ctx, config, requests, extra...)
}

func doServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	attrs := slog.Group("progexec",
		slog.String("cmd", "serve"),
		slog.String("mode", config.Service.Mode),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	requests, err := loadBatch(args[0])
	if err != nil {
		return err
	}

	supervisor, err := service.NewSupervisor(ctx, config, requests)
	if err != nil {
		return err
	}
	return supervisor.Do(ctx)
}

func loadBatch(path string) ([]model.ProgramRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening batch file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	requests, err := model.LoadBatch(path, f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid batch", d.Attr("detail"))
		}
		return nil, fmt.Errorf("parsing batch %s: %w", path, err)
	}
	return requests, nil
}

func initProgexec(cmd *cobra.Command, _ []string) error {
	// tokens for the check endpoint usually live in .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	configPath = lookupConfig(viper.GetString("config"))

	// store default configuration
	if configPath == "" {
		config = model.DefaultConfig(cmd.Context())
		configPath = filepath.Join(userConfigPath, configName)
		if err := writeConfig(configPath, config); err != nil {
			return err
		}
	} else {
		var err error
		config, err = readConfig(configPath)
		if err != nil {
			return err
		}
	}

	// flags and PROGEXEC_* variables have a precedence over config file
	if viper.GetBool("verbose") {
		verbose := true
		config.Service.Verbose = &verbose
	}
	if format := viper.GetString("log-format"); format != "" {
		config.Service.LogFormat = &format
	}

	logger := log.New(log.Options{
		Verbose: model.Get(config.Service.Verbose),
		Format:  model.GetOr(config.Service.LogFormat, model.LogFormatJSON),
		NoColor: color.NoColor,
	})
	slog.SetDefault(logger)

	slog.Debug("progexec run", "configPath", configPath)
	slog.Debug("progexec run", "config", config)
	return nil
}

// lookupConfig returns the config file to load: the explicit path, or the
// first existing file in the user config dir and the working directory.
func lookupConfig(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, d := range []string{userConfigPath, "."} {
		path := filepath.Join(d, configName)
		if exists(path) {
			return path
		}
	}
	return ""
}

func readConfig(path string) (model.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		for _, d := range model.CueErrDetails(err) {
			slog.Error("invalid config", d.Attr("detail"))
		}
		return model.Config{}, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

func writeConfig(path string, cfg model.Config) error {
	err := os.MkdirAll(filepath.Dir(path), 0755)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", filepath.Dir(path), err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("storing configuration: %w", err)
	}
	return enc.Close()
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
