package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/shirasu0801/pixeon"
	"github.com/shirasu0801/pixeon/internal/config"
	"github.com/shirasu0801/pixeon/internal/utils"
	"github.com/shirasu0801/pixeon/pkg/credential"
	"github.com/shirasu0801/pixeon/pkg/session"
	"github.com/shirasu0801/pixeon/pkg/types"
)

const usage = `usage: %s [-config file] [-server url] <command> [flags]

commands:
  register -username u -email e -password p
  login    -username u -password p
  logout
  whoami
  detect   -in image|dir [-out dir] [-ext jpg|png|webp]
  render   -in image|URL -result result.json [-out file]
  history  list [-skip n] [-limit n]
  history  show -id n [-out file]
  history  delete -id n
`

func main() {
	log.SetFlags(0)

	var configPath, server, logMode string
	flag.StringVar(&configPath, "config", "", "config file (default "+config.GetConfigPath()+")")
	flag.StringVar(&server, "server", "", "backend base URL (overrides api.base_url)")
	flag.StringVar(&logMode, "log", "", "log mode: debug|release (overrides log.mode)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), usage, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	if server != "" {
		cfg.API.BaseURL = server
	}
	if logMode != "" {
		cfg.Log.Mode = logMode
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	if err := utils.InitLogger(cfg.Log.Mode, cfg.Log.Level); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer utils.Sync()

	a, err := newApp(cfg, utils.Logger, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	defer a.client.Close()

	if err := a.run(context.Background(), flag.Args()); err != nil {
		utils.Sync()
		log.Fatal(describe(err))
	}
}

// app carries everything a command needs
type app struct {
	cfg    *config.Config
	client *pixeon.Client
	logger *zap.Logger
	out    io.Writer
}

func newApp(cfg *config.Config, logger *zap.Logger, out io.Writer) (*app, error) {
	tokenFile := cfg.Session.TokenFile
	if tokenFile == "" {
		tokenFile = credential.DefaultPath()
	}

	client, err := pixeon.New(pixeon.Options{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.Timeout,
		Store:          credential.NewFileStore(tokenFile),
		PublicScreens:  cfg.Session.PublicScreens,
		MaxWidth:       float64(cfg.Render.MaxWidth),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		AllowedTypes:   cfg.Upload.AllowedTypes,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, client: client, logger: logger, out: out}
	client.OnSession(func(ev session.Event, st session.State) {
		if ev == session.EventSessionEnded {
			log.Printf("session ended; run 'login' to sign in again")
		}
	})
	return a, nil
}

func (a *app) run(ctx context.Context, args []string) error {
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "register":
		return a.register(ctx, rest)
	case "login":
		return a.login(ctx, rest)
	case "logout":
		return a.logout()
	case "whoami":
		return a.whoami(ctx)
	case "detect":
		return a.detect(ctx, rest)
	case "render":
		return a.render(ctx, rest)
	case "history":
		return a.history(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// requireSession bootstraps the session on screen and fails when nobody is signed in
func (a *app) requireSession(ctx context.Context, screen string) (*types.User, error) {
	a.client.SetScreen(screen)
	st, err := a.client.Bootstrap(ctx)
	if err != nil {
		return nil, err
	}
	if st.Status != session.StatusAuthenticated {
		return nil, errors.New("not logged in; run 'login' first")
	}
	return st.User, nil
}

// describe turns classified errors into a message for the terminal
func describe(err error) string {
	detail := types.DetailOf(err)
	switch {
	case errors.Is(err, types.ErrNetworkUnavailable):
		return fmt.Sprintf("cannot reach the server: %v", err)
	case errors.Is(err, types.ErrAuthenticationFailed):
		if detail != "" {
			return "authentication failed: " + detail
		}
		return "authentication failed"
	case errors.Is(err, types.ErrValidationFailed):
		if detail != "" {
			return detail
		}
	}
	return err.Error()
}
