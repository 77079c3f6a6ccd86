// Package main is the CLI entry point for ctrlproxy — an intercepting
// reverse proxy that sits between an AI agent SDK and an Anthropic-shaped
// LLM provider.
//
// ctrlproxy forwards requests to a per-session upstream, optionally
// translating an AWS Bedrock-framed request/response shape into the
// same streaming Anthropic dialect, applying a session's filter profile,
// and pausing intercepted WebFetch tool calls for operator approval
// before a response is released to the client.
//
// Architecture overview:
//
//	Client --> ctrlproxy (:3100) --> Anthropic-shaped upstream
//	            |                      |
//	            |-- load session by id
//	            |-- error-injection short-circuit
//	            |-- filter profile (framed dialect only)
//	            |-- human-in-the-loop WebFetch interception
//	            +-- SSE / event-stream re-framing
//
// CLI commands (cobra):
//
//	ctrlproxy              - First-run setup (writes default config files)
//	ctrlproxy start [-d]   - Start the proxy (foreground or daemon)
//	ctrlproxy stop         - Stop the proxy
//	ctrlproxy status       - Show proxy status
//	ctrlproxy sessions     - Manage sessions
//	ctrlproxy profiles     - Manage filter profiles
//	ctrlproxy config       - View/edit proxy configuration
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ctrlproxy/ctrlproxy/internal/approval"
	"github.com/ctrlproxy/ctrlproxy/internal/config"
	"github.com/ctrlproxy/ctrlproxy/internal/dashboard"
	"github.com/ctrlproxy/ctrlproxy/internal/errinject"
	"github.com/ctrlproxy/ctrlproxy/internal/proxy"
	"github.com/ctrlproxy/ctrlproxy/internal/store"
	"github.com/ctrlproxy/ctrlproxy/internal/webfetchcfg"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-02-10"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns ~/.ctrlproxy/, where config.yaml, webfetch.toml,
// the SQLite database, and the PID/log files live.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ctrlproxy"
	}
	return filepath.Join(home, ".ctrlproxy")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

var configDir string

var rootCmd = &cobra.Command{
	Use:   "ctrlproxy",
	Short: "ctrlproxy — intercepting reverse proxy for LLM chat-completion APIs",
	Long: `ctrlproxy is a reverse proxy that sits between an AI agent SDK and an
Anthropic-shaped LLM provider. It applies per-session filter profiles,
translates an AWS Bedrock-framed dialect into native streaming, and pauses
on intercepted WebFetch tool calls for operator approval.

Run 'ctrlproxy start' to start the proxy, or run 'ctrlproxy' with no
arguments for first-run setup.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFirstTimeSetup(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to ctrlproxy config and state directory",
	)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(configCmd)
}

func configPath() string   { return filepath.Join(configDir, "config.yaml") }
func webfetchPath() string { return filepath.Join(configDir, "webfetch.toml") }

func dbPathFromCfg(cfg *config.Config) string {
	path := cfg.Database.Path
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	return path
}

// ============================================================================
// ctrlproxy start — start the proxy server
// ============================================================================

var daemonMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ctrlproxy server",
	Long: `Start the ctrlproxy server. Serves both the proxy (/_proxy/*, /_bedrock/*)
and, if enabled, the dashboard JSON/websocket API (/api/*, /dashboard/ws)
on the address configured in ~/.ctrlproxy/config.yaml (default
127.0.0.1:3100).

By default runs in the foreground. Use -d for daemon/background mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd, args)
	},
}

func init() {
	startCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run in daemon/background mode")
}

// runStart wires the entire stack together:
//
//  1. Handle daemon mode (re-exec as background process if -d)
//  2. Load config.yaml and webfetch.toml, resolving the agent-model
//     precedence between the two
//  3. Open the SQLite store, ensure a default filter profile exists
//  4. Create the approval queue and the dashboard (if enabled)
//  5. Create the proxy handler with a connection-pooled upstream client
//  6. Mount everything on one mux, write the PID file
//  7. Watch webfetch.toml and report edits to it
//  8. Serve until SIGINT/SIGTERM or HTTP /shutdown
func runStart(cmd *cobra.Command, args []string) error {
	if daemonMode && os.Getenv("CTRLPROXY_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	webfetchCfg, err := resolveWebfetchConfig(cfg)
	if err != nil {
		return err
	}

	st, err := store.Open(dbPathFromCfg(cfg))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := st.EnsureDefaultProfile(); err != nil {
		return fmt.Errorf("failed to ensure default profile: %w", err)
	}

	queue := approval.New()

	// The upstream HTTP client is tuned for LLM proxying: connection
	// pooling against a small number of upstreams, compression disabled
	// so raw SSE bytes can be parsed without a decompression step, and no
	// client-side timeout since a reasoning stream can run for minutes.
	upstreamClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     120 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			DisableCompression:  true,
			ForceAttemptHTTP2:   true,
		},
	}

	var dash *dashboard.Dashboard
	if cfg.Dashboard.Enabled {
		dash = dashboard.New(dashboard.Options{Store: st, Queue: queue})
	}

	proxyServer := proxy.New(proxy.Options{
		Store:       st,
		Queue:       queue,
		Client:      upstreamClient,
		WebfetchCfg: webfetchCfg,
	})

	mux := http.NewServeMux()
	mux.Handle("/_proxy/", proxyServer)
	mux.Handle("/_bedrock/", proxyServer)

	if dash != nil {
		mux.Handle("/dashboard/ws", dash.WebSocketHandler())
		mux.Handle("/api/", dash.APIHandler())
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
	})

	shutdownCh := make(chan struct{}, 1)
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"shutting_down"}`)
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	pidFile := filepath.Join(configDir, "ctrlproxy.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	// Watch webfetch.toml so an edit to the agent model or prompt
	// templates is parsed and reported as soon as it lands on disk
	// (the already-running proxy still needs a restart to
	// use the new values, since they're resolved once at startup — see
	// design doc's "Two client pool lifetimes" note on why configuration
	// isn't swapped under a running handler).
	watcher, err := newWebfetchWatcher(configDir, func() {
		if _, reloadErr := webfetchcfg.Load(webfetchPath()); reloadErr != nil {
			fmt.Fprintf(os.Stderr, "[ctrlproxy] warning: failed to reload webfetch.toml: %v\n", reloadErr)
		} else {
			fmt.Println("[ctrlproxy] webfetch.toml changed — restart to pick up new prompts")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[ctrlproxy] listening on http://%s\n", addr)
		if cfg.Dashboard.Enabled {
			fmt.Printf("[ctrlproxy] dashboard API at http://%s/api/\n", addr)
		}
		if !daemonMode {
			fmt.Println("[ctrlproxy] press Ctrl+C to stop")
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[ctrlproxy] shutting down (signal received)...")
	case <-shutdownCh:
		fmt.Println("[ctrlproxy] shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "[ctrlproxy] shutdown error: %v\n", shutdownErr)
	}

	fmt.Println("[ctrlproxy] stopped")
	return nil
}

// resolveWebfetchConfig loads webfetch.toml and resolves its precedence
// against config.yaml's webfetch.agentModel fallback: the TOML file is the
// operator-facing, webfetch-specific source of truth, so its agent model
// wins whenever the file exists. config.yaml's value is used only when
// webfetch.toml is absent — i.e. the loader returned its own built-in
// default untouched.
func resolveWebfetchConfig(cfg *config.Config) (webfetchcfg.Config, error) {
	wcfg, err := webfetchcfg.Load(webfetchPath())
	if err != nil {
		return webfetchcfg.Config{}, fmt.Errorf("failed to load webfetch config: %w", err)
	}

	if _, statErr := os.Stat(webfetchPath()); os.IsNotExist(statErr) && cfg.Webfetch.AgentModel != "" {
		wcfg.WebfetchAgentModel = cfg.Webfetch.AgentModel
	}
	return wcfg, nil
}

// newWebfetchWatcher watches webfetch.toml within configDir and invokes
// onChange whenever it is written or created.
func newWebfetchWatcher(configDir string, onChange func()) (*config.Watcher, error) {
	return config.NewFileWatcher(configDir, "webfetch.toml", onChange)
}

// spawnDaemon re-executes the ctrlproxy binary as a detached background
// process. The parent prints the child PID and exits immediately.
func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	logPath := filepath.Join(configDir, "ctrlproxy.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	daemonArgs := []string{"start"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "CTRLPROXY_DAEMONIZED=1")

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[ctrlproxy] started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[ctrlproxy] log file: %s\n", logPath)
	fmt.Println("[ctrlproxy] use 'ctrlproxy stop' to stop")

	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[ctrlproxy] warning: failed to release child process: %v\n", err)
	}
	logFile.Close()
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(path string) { os.Remove(path) }

// isLoopback reports whether remoteAddr's host is a loopback address.
// Used to restrict the /shutdown endpoint to local-only access.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

// ============================================================================
// ctrlproxy stop
// ============================================================================

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ctrlproxy server",
	Long: `Stop a running ctrlproxy server. Tries HTTP shutdown first
(cross-platform), then falls back to PID file + SIGTERM on Unix.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, args)
	},
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+"/shutdown", "application/json", nil)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("[ctrlproxy] stop signal sent")
			os.Remove(filepath.Join(configDir, "ctrlproxy.pid"))
			return nil
		}
	}

	if runtime.GOOS == "windows" {
		return fmt.Errorf("proxy is not responding at %s — cannot stop", addr)
	}

	pidFile := filepath.Join(configDir, "ctrlproxy.pid")
	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("proxy is not running (no PID file and HTTP unreachable)")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFile, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("failed to stop proxy (PID %d): %w", pid, err)
	}

	os.Remove(pidFile)
	fmt.Printf("[ctrlproxy] sent stop signal (PID %d)\n", pid)
	return nil
}

// ============================================================================
// ctrlproxy status
// ============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(addr + "/health")
	if err != nil {
		fmt.Println("[ctrlproxy] status: NOT RUNNING")
		fmt.Printf("[ctrlproxy] expected at: %s\n", addr)
		return nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	fmt.Println("[ctrlproxy] status: RUNNING")
	fmt.Printf("[ctrlproxy] listening on: %s\n", addr)
	fmt.Printf("[ctrlproxy] health: %s\n", string(body))
	return nil
}

// ============================================================================
// ctrlproxy sessions
// ============================================================================

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage proxy sessions",
	Long: `A session is the administrative envelope for a stream of requests to
one upstream: its target URL, TLS/auth overrides, filter profile,
error-injection key, and WebFetch interception toggle.`,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsCreateCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsSetProfileCmd)
	sessionsCmd.AddCommand(sessionsSetErrorInjectCmd)
	sessionsCmd.AddCommand(sessionsSetWebfetchInterceptCmd)
	sessionsCmd.AddCommand(sessionsSetWhitelistCmd)
	sessionsCmd.AddCommand(sessionsRequestsCmd)
}

func openStoreForCLI() (*store.Store, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return store.Open(dbPathFromCfg(cfg))
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()

		sessions, err := st.ListSessions()
		if err != nil {
			return fmt.Errorf("listing sessions: %w", err)
		}
		if len(sessions) == 0 {
			fmt.Println("no sessions yet — use 'ctrlproxy sessions create'")
			return nil
		}
		fmt.Printf("%-36s  %-20s  %-40s  %-8s\n", "ID", "NAME", "TARGET", "REQUESTS")
		for _, s := range sessions {
			fmt.Printf("%-36s  %-20s  %-40s  %-8d\n", s.ID, s.Name, s.TargetURL, s.RequestCount)
		}
		return nil
	},
}

var (
	createName       string
	createTarget     string
	createTLSInsec   bool
	createAuthHeader string
	createAPIKey     string
)

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if createName == "" || createTarget == "" {
			return fmt.Errorf("--name and --target are required")
		}
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()

		sess := store.Session{Name: createName, TargetURL: createTarget, TLSVerifyDisabled: createTLSInsec}
		if createAuthHeader != "" {
			sess.AuthHeader = &createAuthHeader
		}
		if createAPIKey != "" {
			sess.XAPIKey = &createAPIKey
		}

		id, err := st.CreateSession(sess)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		fmt.Printf("created session %s\n", id)
		fmt.Printf("  native route:  /_proxy/%s/v1/messages\n", id)
		fmt.Printf("  framed route:  /_bedrock/%s/{model}/model/{model}/invoke-with-response-stream\n", id)
		return nil
	},
}

func init() {
	sessionsCreateCmd.Flags().StringVar(&createName, "name", "", "Display name")
	sessionsCreateCmd.Flags().StringVar(&createTarget, "target", "", "Upstream base URL")
	sessionsCreateCmd.Flags().BoolVar(&createTLSInsec, "tls-insecure", false, "Bypass TLS verification for this session's upstream")
	sessionsCreateCmd.Flags().StringVar(&createAuthHeader, "auth-header", "", "Authorization header value to inject")
	sessionsCreateCmd.Flags().StringVar(&createAPIKey, "api-key", "", "x-api-key header value to inject")
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session's configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()

		sess, err := st.GetSession(args[0])
		if err != nil {
			return fmt.Errorf("session not found: %w", err)
		}
		data, _ := json.MarshalIndent(sess, "", "  ")
		fmt.Println(string(data))
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session and its logged requests",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.DeleteSession(args[0]); err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		fmt.Printf("deleted session %s\n", args[0])
		return nil
	},
}

var sessionsSetProfileCmd = &cobra.Command{
	Use:   "set-profile <session-id> <profile-id|clear>",
	Short: "Attach (or detach) a filter profile — applied only on the framed dialect",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()

		sess, err := st.GetSession(args[0])
		if err != nil {
			return fmt.Errorf("session not found: %w", err)
		}
		if args[1] == "clear" {
			sess.ProfileID = nil
		} else {
			profileID := args[1]
			sess.ProfileID = &profileID
		}
		if err := st.UpdateSession(sess); err != nil {
			return fmt.Errorf("updating session: %w", err)
		}
		fmt.Printf("updated session %s\n", args[0])
		return nil
	},
}

var sessionsSetErrorInjectCmd = &cobra.Command{
	Use:   "set-error-inject <session-id> <key|clear>",
	Short: "Set or clear the error-injection key (invalid_request_error, permission_error, not_found_error, request_too_large)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key *string
		if args[1] != "clear" {
			if _, ok := errinject.FindByKey(args[1]); !ok {
				return fmt.Errorf("unknown error-injection key %q", args[1])
			}
			k := args[1]
			key = &k
		}
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.SetErrorInject(args[0], key); err != nil {
			return fmt.Errorf("setting error inject: %w", err)
		}
		fmt.Printf("updated session %s\n", args[0])
		return nil
	},
}

var sessionsSetWebfetchInterceptCmd = &cobra.Command{
	Use:   "set-webfetch-intercept <session-id> <true|false>",
	Short: "Toggle human-in-the-loop WebFetch interception — framed dialect only",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		enabled, err := strconv.ParseBool(args[1])
		if err != nil {
			return fmt.Errorf("expected true or false, got %q", args[1])
		}
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.SetWebfetchIntercept(args[0], enabled); err != nil {
			return fmt.Errorf("setting webfetch intercept: %w", err)
		}
		fmt.Printf("updated session %s\n", args[0])
		return nil
	},
}

var sessionsSetWhitelistCmd = &cobra.Command{
	Use:   "set-whitelist <session-id> <domain[,domain...]|clear>",
	Short: "Set or clear the auto-accepted WebFetch domain whitelist",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var whitelist *string
		if args[1] != "clear" {
			joined := strings.Join(strings.Split(args[1], ","), "\n")
			whitelist = &joined
		}
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.SetWhitelist(args[0], whitelist); err != nil {
			return fmt.Errorf("setting whitelist: %w", err)
		}
		fmt.Printf("updated session %s\n", args[0])
		return nil
	},
}

var requestsLimit int

var sessionsRequestsCmd = &cobra.Command{
	Use:   "requests <session-id>",
	Short: "List recently logged requests for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()

		requests, err := st.ListRequests(args[0])
		if err != nil {
			return fmt.Errorf("listing requests: %w", err)
		}
		if len(requests) > requestsLimit {
			requests = requests[:requestsLimit]
		}

		fmt.Printf("%-36s  %-20s  %-7s  %-6s  %-10s\n", "ID", "TIMESTAMP", "METHOD", "STATUS", "SIZE")
		for _, r := range requests {
			status := "-"
			if r.ResponseStatus != nil {
				status = strconv.Itoa(*r.ResponseStatus)
			}
			size := "0 B"
			if r.ResponseBody != nil {
				size = humanize.Bytes(uint64(len(*r.ResponseBody)))
			}
			fmt.Printf("%-36s  %-20s  %-7s  %-6s  %-10s\n", r.ID, r.Timestamp, r.Method, status, size)
		}
		return nil
	},
}

func init() {
	sessionsRequestsCmd.Flags().IntVar(&requestsLimit, "limit", 20, "Maximum number of requests to show")
}

// ============================================================================
// ctrlproxy profiles
// ============================================================================

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage filter profiles",
	Long: `A filter profile is a named, switchable set of request-body rewrite
rules — system-text filters, tool-name filters, and a tool-call-pair
retention count — applied by the framed dialect when a session's
profile_id is set.`,
}

func init() {
	profilesCmd.AddCommand(profilesListCmd)
	profilesCmd.AddCommand(profilesCreateCmd)
	profilesCmd.AddCommand(profilesDeleteCmd)
	profilesCmd.AddCommand(profilesSeedCmd)
	profilesCmd.AddCommand(profilesAddSystemFilterCmd)
	profilesCmd.AddCommand(profilesAddToolFilterCmd)
	profilesCmd.AddCommand(profilesSetKeepPairsCmd)
	profilesCmd.AddCommand(profilesSetActiveCmd)
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all filter profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()

		profiles, err := st.ListProfiles()
		if err != nil {
			return fmt.Errorf("listing profiles: %w", err)
		}
		active, _ := st.GetActiveProfileID()

		for _, p := range profiles {
			marker := " "
			if p.ID == active {
				marker = "*"
			}
			if full, err := st.GetProfile(p.ID); err == nil {
				p = full
			}
			fmt.Printf("%s %-36s  %-20s  system=%d tool=%d keep=%d\n",
				marker, p.ID, p.Name, len(p.SystemFilters), len(p.ToolFilters), p.KeepToolPairs)
		}
		return nil
	},
}

var profilesCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty filter profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()
		id, err := st.CreateProfile(args[0])
		if err != nil {
			return fmt.Errorf("creating profile: %w", err)
		}
		fmt.Printf("created profile %s\n", id)
		return nil
	},
}

var profilesDeleteCmd = &cobra.Command{
	Use:   "delete <profile-id>",
	Short: "Delete a filter profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.DeleteProfile(args[0]); err != nil {
			return fmt.Errorf("deleting profile: %w", err)
		}
		fmt.Printf("deleted profile %s\n", args[0])
		return nil
	},
}

// profilesSeedCmd populates a profile with the built-in suggestion list —
// recovered from the original source's DEFAULT_FILTER_SUGGESTIONS /
// DEFAULT_TOOL_FILTER_SUGGESTIONS, which the distilled spec drops.
var profilesSeedCmd = &cobra.Command{
	Use:   "seed <profile-id>",
	Short: "Populate a profile with the built-in suggested filters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()

		for _, pattern := range store.DefaultFilterSuggestions {
			if _, err := st.AddSystemFilter(args[0], pattern); err != nil {
				return fmt.Errorf("seeding system filter: %w", err)
			}
		}
		for _, name := range store.DefaultToolFilterSuggestions {
			if _, err := st.AddToolFilter(args[0], name); err != nil {
				return fmt.Errorf("seeding tool filter: %w", err)
			}
		}
		fmt.Printf("seeded profile %s with %d system filters, %d tool filters\n",
			args[0], len(store.DefaultFilterSuggestions), len(store.DefaultToolFilterSuggestions))
		return nil
	},
}

var profilesAddSystemFilterCmd = &cobra.Command{
	Use:   "add-system-filter <profile-id> <pattern>",
	Short: "Add a system-text filter pattern (regex, or plain substring if invalid regex)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()
		if _, err := st.AddSystemFilter(args[0], args[1]); err != nil {
			return fmt.Errorf("adding system filter: %w", err)
		}
		fmt.Println("added")
		return nil
	},
}

var profilesAddToolFilterCmd = &cobra.Command{
	Use:   "add-tool-filter <profile-id> <glob-pattern>",
	Short: "Add a tool-name glob pattern to drop from the tools array",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()
		if _, err := st.AddToolFilter(args[0], args[1]); err != nil {
			return fmt.Errorf("adding tool filter: %w", err)
		}
		fmt.Println("added")
		return nil
	},
}

var profilesSetKeepPairsCmd = &cobra.Command{
	Use:   "set-keep-pairs <profile-id> <n>",
	Short: "Set how many of the most recent tool_use/tool_result pairs to retain (0 disables)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return fmt.Errorf("expected a non-negative integer, got %q", args[1])
		}
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.SetKeepToolPairs(args[0], n); err != nil {
			return fmt.Errorf("setting keep-tool-pairs: %w", err)
		}
		fmt.Println("updated")
		return nil
	},
}

var profilesSetActiveCmd = &cobra.Command{
	Use:   "set-active <profile-id>",
	Short: "Set the active_profile_id setting (seeded default, not a per-session dispatch rule)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStoreForCLI()
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.SetActiveProfileID(args[0]); err != nil {
			return fmt.Errorf("setting active profile: %w", err)
		}
		fmt.Println("updated")
		return nil
	},
}

// ============================================================================
// ctrlproxy config
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and edit proxy configuration",
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configGenerateCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(configPath())
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("no config file found at %s\n", configPath())
				fmt.Println("run 'ctrlproxy' for first-run setup")
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config.yaml in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			if runtime.GOOS == "windows" {
				editor = "notepad"
			} else {
				editor = "vi"
			}
		}

		if _, err := os.Stat(configPath()); os.IsNotExist(err) {
			if err := config.WriteDefault(configPath()); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
		}

		fmt.Printf("[ctrlproxy] opening %s in %s...\n", configPath(), editor)
		editorCmd := exec.Command(editor, configPath())
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		return editorCmd.Run()
	},
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate <session-id>",
	Short: "Print example client routes for a session",
	Long: `Print the native and framed request URLs a client would use to talk to
a given session through the running proxy.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		addr := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
		sessionID := args[0]

		fmt.Println("// Native dialect — forwards verbatim to the session's target URL:")
		fmt.Printf("%s/_proxy/%s/v1/messages\n\n", addr, sessionID)
		fmt.Println("// Framed dialect — translates to a streaming Anthropic request and")
		fmt.Println("// re-frames the SSE response as AWS event-stream chunks:")
		fmt.Printf("%s/_bedrock/%s/{model}/model/{model}/invoke-with-response-stream\n", addr, sessionID)
		return nil
	},
}

// ============================================================================
// First-run setup
// ============================================================================

func runFirstTimeSetup(cmd *cobra.Command, args []string) error {
	fmt.Println("=== ctrlproxy — first-time setup ===")
	fmt.Println()

	if _, err := os.Stat(configPath()); err == nil {
		fmt.Printf("config already exists at %s\n", configPath())
		fmt.Println("use 'ctrlproxy start' to start the proxy")
		fmt.Println("use 'ctrlproxy config edit' to modify the configuration")
		return nil
	}

	fmt.Printf("creating config directory: %s\n", configDir)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	fmt.Println("writing default config.yaml...")
	if err := config.WriteDefault(configPath()); err != nil {
		return fmt.Errorf("failed to write default config: %w", err)
	}

	st, err := openStoreForCLI()
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()
	if err := st.EnsureDefaultProfile(); err != nil {
		return fmt.Errorf("failed to create default profile: %w", err)
	}

	fmt.Println()
	fmt.Println("setup complete! next steps:")
	fmt.Println()
	fmt.Println("  1. Start the proxy:")
	fmt.Println("     ctrlproxy start")
	fmt.Println()
	fmt.Println("  2. Create a session pointing at your upstream:")
	fmt.Println("     ctrlproxy sessions create --name main --target https://api.anthropic.com")
	fmt.Println()
	fmt.Println("  3. Route your client at the printed /_proxy or /_bedrock URL.")
	return nil
}
