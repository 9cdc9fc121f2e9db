package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	zaplogfmt "github.com/sykesm/zap-logfmt"
	"github.com/thecodeteam/goodbye"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/simplesurance/patchbot/internal/cfg"
	"github.com/simplesurance/patchbot/internal/gitexec"
	"github.com/simplesurance/patchbot/internal/githubclt"
	"github.com/simplesurance/patchbot/internal/logfields"
	"github.com/simplesurance/patchbot/internal/patchbot"
	"github.com/simplesurance/patchbot/internal/pipeline"
	"github.com/simplesurance/patchbot/internal/processing"
	"github.com/simplesurance/patchbot/internal/provider/github"
	"github.com/simplesurance/patchbot/internal/tokens"
	"github.com/simplesurance/patchbot/internal/workflows"
)

const appName = "patchbot"

var logger *zap.Logger

// Version is set via a ldflag on compilation
var Version = "unknown"

// identityResolveTimeout is the max. duration for retrieving the github user
// id of the app on startup.
const identityResolveTimeout = 5 * time.Minute

func exitOnErr(msg string, err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, "ERROR:", msg+", error:", err.Error())
	os.Exit(1)
}

func panicHandler() {
	if r := recover(); r != nil {
		logger.Info(
			"panic caught, terminating gracefully",
			zap.String("panic", fmt.Sprintf("%v", r)),
			zap.StackSkip("stacktrace", 1),
		)

		ctx, cancelFn := context.WithTimeout(context.Background(), time.Minute)
		defer cancelFn()

		goodbye.Exit(ctx, 1)
	}
}

func registerShutdown(name string, srv *http.Server) {
	goodbye.Register(func(context.Context, os.Signal) {
		const shutdownTimeout = 30 * time.Second
		ctx, cancelFn := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelFn()

		logger.Debug(
			"terminating "+name+" server",
			logfields.Event(name+"_server_terminating"),
			zap.Duration("shutdown_timeout", shutdownTimeout),
		)

		err := srv.Shutdown(ctx)
		if err != nil {
			logger.Warn(
				"shutting down "+name+" server failed",
				logfields.Event(name+"_server_termination_failed"),
				zap.Error(err),
			)
		}
	})
}

func startHTTPSServer(listenAddr string, certFile, keyFile string, handler http.Handler) {
	httpsServer := http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	registerShutdown("https", &httpsServer)

	go func() {
		defer panicHandler()

		logger.Info(
			"https server started",
			logfields.Event("https_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpsServer.ListenAndServeTLS(certFile, keyFile)
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("https server terminated", logfields.Event("https_server_terminated"))
			return
		}

		logger.Fatal(
			"https server terminated unexpectedly",
			logfields.Event("https_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

func startHTTPServer(listenAddr string, handler http.Handler) {
	httpServer := http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	registerShutdown("http", &httpServer)

	go func() {
		defer panicHandler()

		logger.Info(
			"http server started",
			logfields.Event("http_server_started"),
			zap.String("listenAddr", listenAddr),
		)

		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			logger.Info("http server terminated", logfields.Event("http_server_terminated"))
			return
		}

		logger.Fatal(
			"http server terminated unexpectedly",
			logfields.Event("http_server_terminated_unexpectedly"),
			zap.Error(err),
		)
	}()
}

type arguments struct {
	Verbose     *bool
	ConfigFile  *string
	EnvFiles    *[]string
	DryRun      *bool
	ShowVersion *bool
}

var args arguments

const defConfigFile = "/etc/patchbot/config.toml"

func mustParseCommandlineParams() {
	args = arguments{
		Verbose: pflag.BoolP(
			"verbose",
			"v",
			false,
			"enable verbose logging",
		),
		ConfigFile: pflag.StringP(
			"cfg-file",
			"c",
			defConfigFile,
			"path to the patchbot configuration file",
		),
		EnvFiles: pflag.StringSlice(
			"env-file",
			nil,
			"load environment variables from the file, can be specified multiple times (default .env)",
		),
		DryRun: pflag.Bool(
			"dry-run",
			false,
			"simulate changes on github, do not push commits",
		),
		ShowVersion: pflag.Bool(
			"version",
			false,
			"print the version and exit",
		),
	}

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTION]\nReceive GitHub webhook events and push the patches of bot workflows to pull requests.\n", appName)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		pflag.PrintDefaults()
	}

	pflag.Parse()
}

func mustParseCfg() *cfg.Config {
	// we use exitOnErr in this function instead of logger.Fatal() because
	// the logger is not initialized yet

	file, err := os.Open(*args.ConfigFile)
	exitOnErr("could not open configuration files", err)
	defer file.Close()

	config, err := cfg.Load(file)
	if err != nil {
		exitOnErr(fmt.Sprintf("could not load configuration file: %s", *args.ConfigFile), err)
	}

	exitOnErr("could not load environment files", cfg.LoadDotEnv(*args.EnvFiles...))
	exitOnErr("could not apply environment variables", config.ApplyEnv(os.LookupEnv))

	if *args.DryRun {
		config.DryRun = true
	}

	exitOnErr(fmt.Sprintf("invalid configuration: %s", *args.ConfigFile), config.Validate())

	return config
}

func initLogFmtLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zapEncoderConfig(config)

	logger := zap.New(zapcore.NewCore(
		zaplogfmt.NewEncoder(cfg),
		os.Stdout,
		logLevel),
	)

	return logger
}

func zapEncoderConfig(config *cfg.Config) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()

	cfg.LevelKey = "loglevel"
	cfg.TimeKey = config.LogTimeKey
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeDuration = zapcore.StringDurationEncoder

	return cfg
}

func mustInitZapFormatLogger(config *cfg.Config, logLevel zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Sampling = nil
	cfg.EncoderConfig = zapEncoderConfig(config)
	cfg.OutputPaths = []string{"stdout"}
	cfg.Encoding = config.LogFormat
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	exitOnErr("could not initialize logger", err)

	return logger
}

func mustInitLogger(config *cfg.Config) {
	var logLevel zapcore.Level
	if *args.Verbose {
		logLevel = zapcore.DebugLevel
	} else {
		if err := (&logLevel).Set(config.LogLevel); err != nil {
			fmt.Fprintf(os.Stderr, "can not set log level to %q: %s \n", config.LogLevel, err)
			os.Exit(2)
		}
	}

	switch config.LogFormat {
	case "logfmt":
		logger = initLogFmtLogger(config, logLevel)
	case "console", "json":
		logger = mustInitZapFormatLogger(config, logLevel)
	default:
		fmt.Fprintf(os.Stderr, "unsupported log-format argument: %q\n", config.LogFormat)
		os.Exit(2)
	}

	logger = logger.Named("main")
	zap.ReplaceGlobals(logger)

	goodbye.Register(func(context.Context, os.Signal) {
		if err := logger.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "flushing logs failed: %s\n", err)
		}
	})
}

func hide(in string) string {
	if in == "" {
		return in
	}

	return "**hidden**"
}

func mustInitTokenCache(config *cfg.Config) *tokens.Cache {
	keyPEM, err := config.PrivateKeyPEM()
	exitOnErr("could not read github app private key", err)

	key, err := tokens.ParsePrivateKey(keyPEM)
	exitOnErr("could not parse github app private key", err)

	signer := tokens.NewSigner(config.GithubAppID, key)

	return tokens.NewCache(githubclt.NewAppClient(signer))
}

func mustResolveIdentity(config *cfg.Config) gitexec.Identity {
	retryer := patchbot.NewRetryer()
	goodbye.Register(func(context.Context, os.Signal) { retryer.Stop() })

	ctx, cancelFn := context.WithTimeout(context.Background(), identityResolveTimeout)
	defer cancelFn()

	identity, err := patchbot.ResolveIdentity(ctx, retryer, githubclt.NewPublicClient(), config.BotName)
	exitOnErr("could not retrieve the github user of the app", err)

	return identity
}

func newRouter(config *cfg.Config, gh *github.Provider) *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Post(config.HTTPGithubWebhookEndpoint, gh.HTTPHandler)
	logger.Info(
		"registered github webhook event http endpoint",
		logfields.Event("github_http_handler_registered"),
		zap.String("endpoint", config.HTTPGithubWebhookEndpoint),
	)

	router.Method(http.MethodGet, config.PrometheusMetricsEndpoint, promhttp.Handler())
	logger.Info(
		"registered prometheus metrics http endpoint",
		logfields.Event("prometheus_http_handler_registered"),
		zap.String("endpoint", config.PrometheusMetricsEndpoint),
	)

	return router
}

func main() {
	defer panicHandler()

	defer goodbye.Exit(context.Background(), 1)
	goodbye.Notify(context.Background())

	mustParseCommandlineParams()

	if *args.ShowVersion {
		fmt.Printf("%s %s\n", appName, Version)
		os.Exit(0) // nolint:gocritic // defer functions won't run
	}

	config := mustParseCfg()

	mustInitLogger(config)

	discoveryTimeout, err := config.DiscoveryTimeout()
	exitOnErr("invalid workflow discovery timeout", err)

	var prFilter *patchbot.Filter
	if config.PullRequestFilter != "" {
		prFilter, err = patchbot.NewFilter(config.PullRequestFilter)
		exitOnErr("could not parse pull_request_filter", err)
	}

	logger.Info(
		"loaded cfg file",
		logfields.Event("cfg_loaded"),
		zap.String("cfg_file", *args.ConfigFile),
		zap.String("http_server_listen_addr", config.HTTPListenAddr),
		zap.String("https_server_listen_addr", config.HTTPSListenAddr),
		zap.String("github_webhook_endpoint", config.HTTPGithubWebhookEndpoint),
		zap.String("github_webhook_secret", hide(config.GithubWebHookSecret)),
		zap.Int64("github_app_id", config.GithubAppID),
		zap.String("github_app_private_key", hide(config.GithubAppPrivateKey)),
		zap.String("github_app_private_key_file", config.GithubAppPrivateKeyFile),
		zap.String("bot_name", config.BotName),
		zap.String("prometheus_metrics_endpoint", config.PrometheusMetricsEndpoint),
		zap.String("log_format", config.LogFormat),
		zap.String("log_time_key", config.LogTimeKey),
		zap.String("log_level", config.LogLevel),
		zap.String("pull_request_filter", config.PullRequestFilter),
		zap.Duration("workflow_discovery_timeout", discoveryTimeout),
		zap.String("git_executable", config.GitExecutable),
		zap.Bool("dry_run", config.DryRun),
	)

	goodbye.Register(func(_ context.Context, sig os.Signal) {
		logger.Info(fmt.Sprintf("terminating, received signal %s", sig.String()))
	})

	tokenCache := mustInitTokenCache(config)
	identity := mustResolveIdentity(config)

	index := processing.NewIndex()
	dispatch := workflows.NewDispatch(workflows.WithDiscoveryTimeout(discoveryTimeout))

	var pipelineOpts []pipeline.Option
	if config.DryRun {
		pipelineOpts = append(pipelineOpts, pipeline.WithDryRun())
	}

	prPipeline := pipeline.New(
		index,
		dispatch,
		tokenCache,
		func(token string) pipeline.GithubClient {
			return githubclt.NewInstallationClient(token)
		},
		gitexec.New(gitexec.WithExecutable(config.GitExecutable)),
		identity,
		pipelineOpts...,
	)

	botOpts := []patchbot.Option{
		patchbot.WithRoutineDeferFunc(panicHandler),
		patchbot.WithTokenCache(tokenCache),
	}
	if prFilter != nil {
		botOpts = append(botOpts, patchbot.WithPullRequestFilter(prFilter))
	}

	bot := patchbot.New(index, dispatch, prPipeline, botOpts...)

	gh := github.New(
		bot,
		github.WithPayloadSecret(config.GithubWebHookSecret),
	)

	router := newRouter(config, gh)

	if config.HTTPListenAddr != "" {
		startHTTPServer(config.HTTPListenAddr, router)
	}

	if config.HTTPSListenAddr != "" {
		startHTTPSServer(
			config.HTTPSListenAddr,
			config.HTTPSCertFile,
			config.HTTPSKeyFile,
			router,
		)
	}

	goodbye.Register(func(context.Context, os.Signal) {
		logger.Debug(
			"stopping bot",
			logfields.Event("bot_stopping"),
		)

		bot.Stop()
	})

	select {}
}
