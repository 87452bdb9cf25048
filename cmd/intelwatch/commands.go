package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/intelwatch/internal/api"
	"github.com/kalambet/intelwatch/internal/backend"
	"github.com/kalambet/intelwatch/internal/config"
	"github.com/kalambet/intelwatch/internal/event"
	"github.com/kalambet/intelwatch/internal/fakebackend"
	"github.com/kalambet/intelwatch/internal/tracker"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func followFlags(cmd *cobra.Command) followOptions {
	plain, _ := cmd.Flags().GetBool("plain")
	jsonOut, _ := cmd.Flags().GetBool("json")
	copyOut, _ := cmd.Flags().GetBool("copy")
	output, _ := cmd.Flags().GetString("output")
	return followOptions{
		tui:    interactive && !plain && !jsonOut,
		copy:   copyOut,
		json:   jsonOut,
		output: output,
	}
}

func addFollowFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("plain", false, "print progress lines instead of the interactive view")
	cmd.Flags().Bool("json", false, "print the final session state as JSON")
	cmd.Flags().Bool("copy", false, "copy the final report to the clipboard")
	cmd.Flags().String("output", "", "write the final report to a file")
}

func requestFromFlags(cmd *cobra.Command, args []string) backend.Request {
	url, _ := cmd.Flags().GetString("url")
	industry, _ := cmd.Flags().GetString("industry")
	hq, _ := cmd.Flags().GetString("hq")
	about, _ := cmd.Flags().GetString("about")
	return backend.Request{
		Company:         strings.TrimSpace(strings.Join(args, " ")),
		CompanyURL:      url,
		Industry:        industry,
		HQLocation:      hq,
		HelpDescription: about,
	}
}

func explain(err error) error {
	if errors.Is(err, backend.ErrUnauthorized) {
		return fmt.Errorf("%w: set INTELWATCH_API_TOKEN or run `intelwatch config set-token`", err)
	}
	return err
}

// --- research ---

var researchCmd = &cobra.Command{
	Use:   "research <company>",
	Short: "Submit a research job and follow it to completion",
	Long: `Submit a research job and follow it to completion.

Examples:
  intelwatch research "Acme Corp" --url acme.example --industry Manufacturing
  intelwatch research Acme --hq Berlin --about "prepare a sales call" --plain
  intelwatch research Acme --json --output acme.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := requestFromFlags(cmd, args)
		opts := followFlags(cmd)

		a, err := newApp(consoleFor(opts.tui))
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		tr := a.newTracker()
		defer tr.Dispose()

		printStep("Submitting research for %s", req.Company)
		jobID, err := tr.Start(ctx, req)
		if err != nil {
			return explain(err)
		}
		printSuccess("Job %s accepted", jobID)
		return follow(ctx, a, tr, opts)
	},
}

func init() {
	researchCmd.Flags().String("url", "", "company website")
	researchCmd.Flags().String("industry", "", "industry")
	researchCmd.Flags().String("hq", "", "headquarters location")
	researchCmd.Flags().String("about", "", "what the research should help with")
	addFollowFlags(researchCmd)
}

// --- watch ---

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job that was already submitted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := followFlags(cmd)

		a, err := newApp(consoleFor(opts.tui))
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext(cmd)
		defer stop()

		tr := a.newTracker()
		defer tr.Dispose()

		if err := tr.Track(ctx, args[0]); err != nil {
			return err
		}
		return follow(ctx, a, tr, opts)
	},
}

func init() {
	addFollowFlags(watchCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Fetch the current status document of a job once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		a, err := newApp(os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		doc, err := a.client.Status(cmd.Context(), args[0])
		if err != nil {
			return explain(err)
		}

		if jsonOut {
			_, err := stdout.Write(append(doc.Raw, '\n'))
			return err
		}

		printStatus("Job", "%s", args[0])
		printStatus("Status", "%s", doc.Status)
		if doc.Message != "" {
			printStatus("Message", "%s", doc.Message)
		}
		switch ev := event.FromStatusDocument(doc.Raw).(type) {
		case event.Completed:
			if ev.Report != "" {
				fmt.Fprintln(stdout, ev.Report)
			}
		case event.Failure:
			printStatus("Error", "%s", ev.Message)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the raw status document")
}

// --- health ---

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the research backend is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		h, err := a.client.Health(cmd.Context())
		if err != nil {
			printStatus("Backend", "unreachable at %s", a.client.BaseURL())
			return err
		}
		printStatus("Backend", "%s", a.client.BaseURL())
		printStatus("Status", "%s", h.Status)
		if h.Version != "" {
			printStatus("Version", "%s", h.Version)
		}
		if h.Message != "" {
			printStatus("Message", "%s", h.Message)
		}
		return nil
	},
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve research tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(os.Stderr)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signalContext(cmd)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		tr := a.newTracker()
		defer tr.Dispose()

		stdio := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Tracker: tr, Version: version}))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.serveMetrics(gctx) })
		g.Go(func() error {
			defer cancel()
			a.logger.Info("MCP server started (stdio transport)")
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("MCP stdio server: %w", err)
			}
			return nil
		})
		return g.Wait()
	},
}

// --- demo ---

var demoCmd = &cobra.Command{
	Use:   "demo [company]",
	Short: "Run a research job against a built-in scripted backend",
	Long: `Run a research job against a built-in scripted backend.

Built-in scenarios: ` + strings.Join(fakebackend.Builtin(), ", ") + `. A path to a
YAML scenario file is accepted too.

Examples:
  intelwatch demo
  intelwatch demo "Acme Corp" --scenario flaky --speed 2
  intelwatch demo --serve-only --addr 127.0.0.1:8000`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scenario, _ := cmd.Flags().GetString("scenario")
		speed, _ := cmd.Flags().GetFloat64("speed")
		addr, _ := cmd.Flags().GetString("addr")
		token, _ := cmd.Flags().GetString("token")
		serveOnly, _ := cmd.Flags().GetBool("serve-only")
		opts := followFlags(cmd)

		sc, err := fakebackend.LoadScenario(scenario)
		if err != nil {
			return err
		}

		a, err := newApp(consoleFor(opts.tui && !serveOnly))
		if err != nil {
			return err
		}
		defer a.Close()

		fb, err := fakebackend.New(fakebackend.Options{
			Token:    token,
			Scenario: sc,
			Speed:    speed,
			Version:  version,
			Logger:   a.logger,
		})
		if err != nil {
			return err
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
		baseURL := "http://" + ln.Addr().String()
		a.cfg.Backend.BaseURL = baseURL
		a.client = backend.NewClient(baseURL, backend.WithToken(token), backend.WithTimeout(a.cfg.Backend.Timeout))

		ctx, stop := signalContext(cmd)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		srv := &http.Server{Handler: fb.Router(), ReadHeaderTimeout: 5 * time.Second}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("fake backend: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			fb.Close()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		printSuccess("Fake backend listening on %s (scenario %s)", baseURL, sc.Name)
		if serveOnly {
			a.logger.Info("serving until interrupted", zap.String("addr", baseURL))
			return g.Wait()
		}

		company := "Acme Corp"
		if len(args) == 1 {
			company = args[0]
		}
		g.Go(func() error {
			defer cancel()
			tr := a.newTracker()
			defer tr.Dispose()

			jobID, err := tr.Start(gctx, backend.Request{Company: company})
			if err != nil {
				return err
			}
			printSuccess("Job %s accepted", jobID)
			return follow(gctx, a, tr, opts)
		})
		return g.Wait()
	},
}

func init() {
	demoCmd.Flags().String("scenario", "default", "built-in scenario name or YAML file")
	demoCmd.Flags().Float64("speed", 1, "playback speed multiplier")
	demoCmd.Flags().String("addr", "127.0.0.1:0", "listen address of the scripted backend")
	demoCmd.Flags().String("token", "", "require this bearer token")
	demoCmd.Flags().Bool("serve-only", false, "only run the scripted backend")
	addFollowFlags(demoCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s  %s\n", colorize(bold, k.Key), k.Value, colorize(cyan, "("+k.EnvVar+")"))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Valid keys: ` + strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetTokenCmd = &cobra.Command{
	Use:   "set-token <token>",
	Short: "Store the backend API token in the platform secret store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetToken(strings.TrimSpace(args[0])); err != nil {
			return fmt.Errorf("storing token: %w", err)
		}
		printSuccess("API token stored")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetTokenCmd)
}

var _ trackedSession = (*tracker.Controller)(nil)
