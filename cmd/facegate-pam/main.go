package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/MrCodeEU/facegate/pkg/config"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/pam"
	"github.com/MrCodeEU/facegate/pkg/session"
	"github.com/joho/godotenv"
)

const version = "0.3.0"

type authenticator interface {
	Authenticate(ctx context.Context, user string) session.Result
	Close() error
}

// newAgent is replaced in tests.
var newAgent = func(cfg *config.Config, conv session.Conversation) (authenticator, error) {
	return pam.NewAgent(cfg, conv)
}

func main() {
	// PAM module entry point, run through pam_exec with the stdout option.
	// Exit codes:
	//   0 = authentication successful
	//   1 = authentication failed (timeout, camera error)
	//   2 = user unknown or not enrolled
	//   3 = face auth unavailable (disabled, SSH, lid closed)
	//   4 = system error (configuration, models)

	// The env file may set FACEGATE_CONFIG.
	_ = godotenv.Load(config.SystemEnvPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runAuthentication(ctx, pamUser(), os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// pamUser returns the user PAM is authenticating, falling back to the
// invoking user.
func pamUser() string {
	if name := os.Getenv("PAM_USER"); name != "" {
		return name
	}
	if current, err := user.Current(); err == nil {
		return current.Username
	}
	return ""
}

func runAuthentication(ctx context.Context, username string, out, errOut io.Writer) int {
	cfg, err := config.LoadDefault()
	if err != nil {
		fmt.Fprintf(errOut, "facegate: configuration error: %v\n", err)
		return pam.ExitSystemError
	}

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(errOut, "facegate: could not open log file: %v\n", err)
	}
	// Stdout and stderr belong to the PAM conversation from here on.
	logging.Quiet()

	logging.Infof("facegate-pam v%s starting authentication for: %s", version, username)

	agent, err := newAgent(cfg, pam.WriterConversation{W: out})
	if err != nil {
		logging.Errorf("Failed to initialize agent: %v", err)
		fmt.Fprintln(errOut, "facegate: initialization error")
		return pam.ExitSystemError
	}
	defer func() {
		if err := agent.Close(); err != nil {
			logging.Warnf("Failed to release recognizer: %v", err)
		}
	}()

	res := agent.Authenticate(ctx, username)
	code := pam.ExitCode(res.Code)
	logging.Debugf("Attempt for %s finished as %s, exit %d", username, res.State, code)
	return code
}
