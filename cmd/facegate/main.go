package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configFile string
	userFlag   string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "facegate",
	Short: "Face recognition authentication for Linux",
	Long: `facegate manages the face templates used by the facegate PAM helper.

Templates are enrolled per user. When run through sudo the invoking user
is managed; use --user to pick another one.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (default $FACEGATE_CONFIG or "+config.SystemConfigPath+")")
	rootCmd.PersistentFlags().StringVarP(&userFlag, "user", "U", "", "User to manage (default $SUDO_USER)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func initEnv() {
	// The env file is optional.
	_ = godotenv.Load(config.SystemEnvPath)
}

// configPath returns the configuration file the command operates on.
func configPath() string {
	if configFile != "" {
		return config.ExpandPath(configFile)
	}
	return config.ResolvePath()
}

// loadConfig loads the configuration and sets up logging for the command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	if err := logging.Init(level, cfg.Logging.File); err != nil {
		// Unprivileged runs usually cannot write the system log file.
		_ = logging.Init(level, "")
		logging.Debugf("Logging to stderr only: %v", err)
	}
	logging.Debugf("Config loaded from %s, template dir: %s", configPath(), cfg.TemplateDir())
	return cfg, nil
}

// ErrNoUser is returned when no user could be determined.
var ErrNoUser = errors.New("could not determine the user, run through sudo or pass --user")

// ErrRootUser is returned when the command would manage root's templates.
var ErrRootUser = errors.New("refusing to manage face models for root")

// resolveUser picks the user to manage: the --user flag, then $SUDO_USER.
func resolveUser(flag string, lookup func(string) string) (string, error) {
	name := flag
	if name == "" {
		name = lookup("SUDO_USER")
	}
	switch name {
	case "":
		return "", ErrNoUser
	case "root":
		return "", ErrRootUser
	}
	return name, nil
}

func targetUser() (string, error) {
	return resolveUser(userFlag, os.Getenv)
}
