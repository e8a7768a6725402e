package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/plangate/internal/config"
	"github.com/harrison/plangate/internal/display"
	"github.com/harrison/plangate/internal/engine"
	"github.com/harrison/plangate/internal/logger"
)

// app is the per-invocation wiring shared by all subcommands.
type app struct {
	engine *engine.Engine
	log    logger.Logger
	out    io.Writer
	errOut io.Writer

	fileLog *logger.FileLogger
}

// newApp resolves configuration and the data directory from the global
// flags and builds the engine. Callers must call close.
func newApp(cmd *cobra.Command) (*app, error) {
	flags := cmd.Flags()
	configPath, _ := flags.GetString("config")
	homeFlag, _ := flags.GetString("home")
	envFile, _ := flags.GetString("env-file")
	logLevel, _ := flags.GetString("log-level")
	sets, _ := flags.GetStringArray("set")
	noLogFile, _ := flags.GetBool("no-log-file")
	noColor, _ := flags.GetBool("no-color")

	if noColor {
		color.NoColor = true
	}
	if logLevel != "" && !logger.ValidLevel(logLevel) {
		return nil, fmt.Errorf("invalid --log-level %q, must be one of: trace, debug, info, warn, error", logLevel)
	}

	if configPath == "" {
		configPath = defaultConfigPath(homeFlag)
	}
	loader := config.NewLoader(configPath).WithEnvFile(envFile)
	for _, s := range sets {
		key, value, err := config.ParseOverride(s)
		if err != nil {
			return nil, err
		}
		loader.SetOverride(key, value)
	}

	cfg, warnings := loader.Load()
	if len(warnings) > 0 {
		display.WarnConfigErrors(warnings).Display(cmd.ErrOrStderr())
	}
	if logLevel == "" {
		logLevel = cfg.LogLevel
	}

	home, err := resolveHome(homeFlag, cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &app{
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}
	consoleLog := logger.NewConsoleLogger(a.errOut, logLevel)
	a.log = consoleLog
	if !noLogFile {
		fileLog, err := logger.NewFileLoggerWithDirAndLevel(config.LogDir(home), logLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to create file logger: %w", err)
		}
		a.fileLog = fileLog
		a.log = logger.NewMultiLogger(consoleLog, fileLog)
	}

	a.engine = engine.New(cfg, home, a.log)
	a.log.LogDebug(fmt.Sprintf("plangate %s: home=%s config=%s", Version, home, configPath))
	return a, nil
}

func (a *app) close() {
	if a.fileLog == nil {
		return
	}
	if err := a.fileLog.Close(); err != nil {
		color.New(color.FgYellow).Fprintf(a.errOut, "warning: %v\n", err)
	}
}

// defaultConfigPath looks for config.yaml in the data directory a flag or
// PLANGATE_HOME names, then in ./.plangate.
func defaultConfigPath(homeFlag string) string {
	dir := homeFlag
	if dir == "" {
		dir = os.Getenv(config.EnvHome)
	}
	if dir == "" {
		dir = ".plangate"
	}
	return filepath.Join(dir, "config.yaml")
}

// resolveHome gives --home precedence over PLANGATE_HOME and data_dir.
func resolveHome(homeFlag, dataDir string) (string, error) {
	if homeFlag == "" {
		return config.GetHome(dataDir)
	}
	abs, err := filepath.Abs(homeFlag)
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return "", fmt.Errorf("create plangate home directory: %w", err)
	}
	return abs, nil
}
