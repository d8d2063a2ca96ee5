package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	resilientbridge "github.com/SynergyMesh-master/KeyStonOps-sub004"
	"github.com/SynergyMesh-master/KeyStonOps-sub004/adapters"
	"github.com/SynergyMesh-master/KeyStonOps-sub004/metrics"
	"github.com/SynergyMesh-master/KeyStonOps-sub004/queryshape"
)

type rootFlags struct {
	configPath string
	preset     string
	tokenEnv   string
	baseURL    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "bridge",
		Short:         "Send REST and GraphQL calls through a resilient adapter",
		Long:          `bridge builds an adapter from a YAML config (retries, rate limiting, circuit breaking, caching) and issues calls through it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "adapter config file (YAML)")
	root.PersistentFlags().StringVar(&flags.preset, "preset", "", "start from a known provider ("+strings.Join(adapters.PresetNames(), ", ")+")")
	root.PersistentFlags().StringVar(&flags.tokenEnv, "token-env", "", "environment variable holding the provider token, used with --preset")
	root.PersistentFlags().StringVar(&flags.baseURL, "base-url", "", "override base_url from the config")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(
		newRequestCmd(flags),
		newQueryCmd(flags),
		newValidateCmd(),
		newProbeCmd(flags),
	)
	return root
}

func (f *rootFlags) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (f *rootFlags) config() (resilientbridge.Config, error) {
	cfg := resilientbridge.DefaultConfig()
	if f.preset != "" {
		p, ok := adapters.LookupPreset(f.preset)
		if !ok {
			return cfg, fmt.Errorf("unknown preset %q", f.preset)
		}
		cfg = p.Config(f.tokenEnv)
	}
	if f.configPath != "" {
		loaded, err := resilientbridge.LoadConfig(f.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}
	if f.baseURL != "" {
		cfg.BaseURL = f.baseURL
	}
	if cfg.BaseURL == "" {
		return cfg, errors.New("no base url: set base_url in the config or pass --base-url")
	}
	return cfg, cfg.Validate()
}

func newRequestCmd(flags *rootFlags) *cobra.Command {
	var (
		data    string
		headers []string
		query   []string
	)
	cmd := &cobra.Command{
		Use:   "request [method] [path]",
		Short: "Send one REST call and print the response body",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			a, err := adapters.NewRESTAdapter(cfg, adapters.WithLogger(flags.logger(cmd)))
			if err != nil {
				return err
			}
			defer a.Close()

			req := &resilientbridge.RequestConfig{Method: strings.ToUpper(args[0]), URL: args[1]}
			if data != "" {
				req.Body = json.RawMessage(data)
			}
			for _, h := range headers {
				k, v, ok := strings.Cut(h, "=")
				if !ok {
					return fmt.Errorf("header %q: want name=value", h)
				}
				req.SetHeader(k, v)
			}
			for _, q := range query {
				k, v, ok := strings.Cut(q, "=")
				if !ok {
					return fmt.Errorf("query %q: want name=value", q)
				}
				if req.Query == nil {
					req.Query = make(map[string]string)
				}
				req.Query[k] = v
			}

			resp, err := a.Request(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d %s\n", resp.StatusCode, http.StatusText(resp.StatusCode))
			_, err = cmd.OutOrStdout().Write(append(resp.Data, '\n'))
			return err
		},
	}
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&query, "query", "q", nil, "query parameter name=value (repeatable)")
	return cmd
}

func newQueryCmd(flags *rootFlags) *cobra.Command {
	var (
		vars     string
		mutation bool
	)
	cmd := &cobra.Command{
		Use:   "query [document | @file]",
		Short: "Run a GraphQL query or mutation and print the data member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			var variables map[string]any
			if vars != "" {
				if err := json.Unmarshal([]byte(vars), &variables); err != nil {
					return fmt.Errorf("--vars: %w", err)
				}
			}
			cfg, err := flags.config()
			if err != nil {
				return err
			}
			a, err := adapters.NewGraphQLAdapter(cfg, adapters.WithLogger(flags.logger(cmd)))
			if err != nil {
				return err
			}
			defer a.Close()

			run := a.Query
			if mutation {
				run = a.Mutate
			}
			res, err := run(cmd.Context(), doc, variables)
			if res != nil && len(res.Data) > 0 {
				fmt.Fprintln(cmd.OutOrStdout(), string(res.Data))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&vars, "vars", "", "variables as a JSON object")
	cmd.Flags().BoolVar(&mutation, "mutation", false, "send the document as a mutation")
	return cmd
}

func newValidateCmd() *cobra.Command {
	limits := queryshape.Limits{
		MaxDepth:      resilientbridge.DefaultMaxQueryDepth,
		MaxComplexity: resilientbridge.DefaultMaxComplexity,
		MaxAliases:    resilientbridge.DefaultMaxAliases,
	}
	cmd := &cobra.Command{
		Use:   "validate [document | @file]",
		Short: "Check a GraphQL document's depth, complexity and aliases offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			shape, err := queryshape.Validate(doc, limits)
			if shape.Operation != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "operation=%s depth=%d complexity=%d aliases=%d\n",
					shape.Operation, shape.Depth, shape.Complexity, shape.Aliases)
			}
			return err
		},
	}
	cmd.Flags().IntVar(&limits.MaxDepth, "max-depth", limits.MaxDepth, "maximum selection depth (0 = unbounded)")
	cmd.Flags().IntVar(&limits.MaxComplexity, "max-complexity", limits.MaxComplexity, "maximum field count (0 = unbounded)")
	cmd.Flags().IntVar(&limits.MaxAliases, "max-aliases", limits.MaxAliases, "maximum aliases (0 = unbounded)")
	return cmd
}

func newProbeCmd(flags *rootFlags) *cobra.Command {
	var (
		interval    time.Duration
		count       int
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "probe [path]",
		Short: "GET a path repeatedly and export adapter metrics",
		Long:  `probe issues a GET every interval through a REST adapter, reloading the adapter whenever the config file changes. With --metrics-addr the Prometheus series are served on /metrics.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := flags.logger(cmd)
			cfg, err := flags.config()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			bridge := resilientbridge.NewResilientBridge(logger)
			defer bridge.Close()
			bridge.Subscribe(metrics.NewCollector(reg))

			register := func(cfg resilientbridge.Config) error {
				a, err := adapters.NewRESTAdapter(cfg, adapters.WithLogger(logger))
				if err != nil {
					return err
				}
				bridge.Register(probeAdapter{a})
				return nil
			}
			if err := register(cfg); err != nil {
				return err
			}

			if flags.configPath != "" {
				go func() {
					opts := resilientbridge.WatchOptions{
						Logger:  logger,
						OnError: func(err error) { fmt.Fprintln(cmd.ErrOrStderr(), err) },
					}
					err := resilientbridge.WatchConfig(ctx, flags.configPath, opts, func(next *resilientbridge.Config) {
						if flags.baseURL != "" {
							next.BaseURL = flags.baseURL
						}
						if err := register(*next); err != nil {
							logger.Warn("config reload rejected", slog.String("error", err.Error()))
						}
					})
					if err != nil && ctx.Err() == nil {
						logger.Warn("config watch stopped", slog.String("error", err.Error()))
					}
				}()
			}

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("metrics server failed", slog.String("error", err.Error()))
					}
				}()
				defer srv.Shutdown(context.Background())
			}

			return probe(ctx, cmd.OutOrStdout(), bridge, args[0], interval, count)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "delay between probes")
	cmd.Flags().IntVar(&count, "count", 0, "stop after this many probes (0 = until interrupted)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

// probeAdapter registers every config generation under one fixed name so
// reloads replace the previous adapter.
type probeAdapter struct{ *adapters.RESTAdapter }

func (probeAdapter) Name() string { return "probe" }

func probe(ctx context.Context, out io.Writer, bridge *resilientbridge.ResilientBridge, path string, interval time.Duration, count int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 1; count == 0 || i <= count; i++ {
		start := time.Now()
		resp, err := bridge.Request(ctx, "probe", &resilientbridge.RequestConfig{
			Method: http.MethodGet,
			URL:    path,
			Cache:  resilientbridge.Bool(false),
		})
		state := bridge.CircuitStats()["probe"].State
		if err != nil {
			fmt.Fprintf(out, "probe %d: error after %s: %v (circuit %s)\n", i, time.Since(start).Round(time.Millisecond), err, state)
		} else {
			fmt.Fprintf(out, "probe %d: %d in %s (circuit %s)\n", i, resp.StatusCode, time.Since(start).Round(time.Millisecond), state)
		}
		if count != 0 && i == count {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func readDocument(cmd *cobra.Command, arg string) (string, error) {
	switch {
	case arg == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	case strings.HasPrefix(arg, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return "", fmt.Errorf("read document: %w", err)
		}
		return string(b), nil
	default:
		return arg, nil
	}
}
