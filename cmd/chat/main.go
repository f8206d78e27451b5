package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pollchat/internal/config"
	"pollchat/internal/controller"
	"pollchat/internal/metrics"
	"pollchat/internal/mutation"
	"pollchat/internal/render"
	"pollchat/internal/rest"
	"pollchat/internal/session"
)

var (
	configPath string
	baseURL    string
	noColor    bool
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Polling chat client",
	Long: `chat is a terminal client for a pollchat server.

It polls the message log every couple of seconds and lets you send, edit and
delete messages and attach files. Log in once; the session is remembered.`,
	SilenceUsage: true,
	RunE:         runChat,
}

var registerCmd = &cobra.Command{
	Use:   "register [username] [email]",
	Short: "Create an account",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegister,
}

var loginCmd = &cobra.Command{
	Use:   "login [username]",
	Short: "Log in and remember the session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session on the server and forget it locally",
	RunE:  runLogout,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show server limits",
	RunE:  runInfo,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to client config file")
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "API base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colour output")

	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, infoCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Client
	log    *slog.Logger
	store  *session.Store
	api    *rest.Client
	closer io.Closer
}

func newApp() (*app, error) {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return nil, err
	}
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	log, closer, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	store := session.NewStore(cfg.SessionFile)
	opts := []rest.Option{rest.WithLogger(log), rest.WithTimeout(cfg.Timeout)}
	if saved, err := store.Load(); err == nil && (saved.BaseURL == "" || saved.BaseURL == cfg.BaseURL) {
		opts = append(opts, rest.WithToken(saved.AccessToken))
		if cfg.Username == "" {
			cfg.Username = saved.Username
		}
	}

	return &app{
		cfg:    cfg,
		log:    log,
		store:  store,
		api:    rest.New(cfg.BaseURL, opts...),
		closer: closer,
	}, nil
}

func (a *app) Close() {
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

// newLogger writes JSON logs to the configured file. Without one, logs are
// dropped so they never interleave with the chat.
func newLogger(cfg *config.Client) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", cfg.LogLevel, err)
	}
	if cfg.LogFile == "" {
		return slog.New(slog.NewJSONHandler(io.Discard, nil)), nil, nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})), f, nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	user, err := a.api.Register(cmd.Context(), args[0], args[1], password)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "registered %s; run `chat login %s`\n", user.Username, user.Username)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	username := a.cfg.Username
	if len(args) == 1 {
		username = args[0]
	}
	if username == "" {
		return errors.New("username required: pass it as an argument or set POLLCHAT_USERNAME")
	}

	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	resp, err := a.api.Login(cmd.Context(), username, password)
	if err != nil {
		return err
	}
	if err := a.store.Save(session.Data{Username: resp.Username, AccessToken: resp.AccessToken, BaseURL: a.cfg.BaseURL}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\n", resp.Username)
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	return accountSession{api: a.api, store: a.store}.end(cmd.Context())
}

func runInfo(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	info, err := a.api.ServerInfo(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: up to %d files of %s each\n",
		info.Name, info.UploadMaxFiles, humanize.Bytes(uint64(max(info.UploadMaxBytes, 0))))
	return nil
}

func runChat(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if a.api.Token() == "" {
		return errors.New("not logged in: run `chat login` first")
	}

	styles := render.DefaultStyles()
	if noColor {
		styles = render.PlainStyles()
	}
	terminal := render.NewTerminal(cmd.OutOrStdout(), render.WithStyles(styles), render.WithSelf(a.cfg.Username))

	clientMetrics := metrics.NewClient(prometheus.NewRegistry())
	mutator := mutation.New(a.cfg.BaseURL, a.api.HTTPClient(),
		mutation.WithLogger(a.log),
		mutation.WithMetrics(clientMetrics),
	)

	ctrl := controller.New(controller.Config{
		PollInterval:       a.cfg.PollInterval,
		ClearCooldown:      a.cfg.ClearCooldown,
		RefreshDelay:       a.cfg.RefreshDelay,
		StartHighWaterMark: a.cfg.StartHighWaterMark,
	}, controller.Deps{
		Fetcher:  a.api,
		Renderer: terminal,
		Mutator:  mutator,
		Session:  accountSession{api: a.api, store: a.store},
		Logger:   a.log,
		Metrics:  clientMetrics,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	defer ctrl.Stop()

	sh := &shell{ctrl: ctrl, view: terminal, out: cmd.OutOrStdout(), stage: stageFromPath}
	defer sh.wait()
	fmt.Fprintf(cmd.OutOrStdout(), "connected to %s as %s, /help for commands\n", a.cfg.BaseURL, a.cfg.Username)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := sh.dispatch(ctx, line); quit {
				return nil
			}
		}
	}
}

func readPassword(cmd *cobra.Command) (string, error) {
	if v := os.Getenv("POLLCHAT_PASSWORD"); v != "" {
		return v, nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "password: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(raw), nil
	}
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// accountSession ends the server session and forgets the saved one.
type accountSession struct {
	api   *rest.Client
	store *session.Store
}

func (s accountSession) Logout(ctx context.Context) error { return s.api.Logout(ctx) }
func (s accountSession) Clear() error                     { return s.store.Clear() }

func (s accountSession) end(ctx context.Context) error {
	return errors.Join(s.Logout(ctx), s.Clear())
}
