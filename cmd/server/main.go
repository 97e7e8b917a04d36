// Command server runs the code-intelligence server: it wires every
// component (C1-C12) in the dependency order §2 of the specification
// describes, serves the HTTP and SSE surfaces, and shuts down gracefully
// on SIGINT/SIGTERM.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codeintel.dev/adrmanager"
	"codeintel.dev/cache"
	"codeintel.dev/codeerr"
	"codeintel.dev/common"
	"codeintel.dev/config"
	"codeintel.dev/debuganalyzer"
	"codeintel.dev/docmanager"
	"codeintel.dev/embedding"
	"codeintel.dev/health"
	"codeintel.dev/knowledgebase"
	"codeintel.dev/registry"
	"codeintel.dev/server"
	"codeintel.dev/sse"
	"codeintel.dev/taskmanager"
	"codeintel.dev/vectorstore"

	"github.com/prometheus/client_golang/prometheus"
)

var cfgFile string

// rootCmd is the server's single command: there is no subcommand tree,
// unlike the multi-service CLI this is adapted from, because this process
// runs exactly one thing.
var rootCmd = &cobra.Command{
	Use:   "codeintel-server",
	Short: "Code intelligence server: semantic pattern search, ADRs, debug assistance, and doc crawling over an MCP-style tool channel.",
	Long: `codeintel-server exposes a knowledge base of code patterns, architectural
decision records, crawled documentation, and debugging prior art behind both
a JSON HTTP API and a persistent SSE tool channel.

Configuration is assembled from defaults, an optional YAML file, environment
variables prefixed with MCP_, and command-line flags, in increasing order of
precedence.`,
	RunE: runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().Int("port", 0, "HTTP listen port (overrides config/env)")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch codeerr.KindOf(err) {
	case codeerr.ConfigInvalid:
		return 64
	case codeerr.VectorUnavailable, codeerr.EmbedderUnavailable:
		return 69
	default:
		return 70
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	v := viper.GetViper()
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	log := common.NewLogger(common.LoggerConfig{Level: common.LogLevel(cfg.LogLevel)})
	log.WithFields(logrus.Fields{
		"port":            cfg.Port,
		"vector_endpoint": cfg.VectorEndpoint,
		"vector_api_key":  common.MaskSecret(cfg.VectorAPIKey),
		"collection":      cfg.CollectionName,
	}).Info("starting code-intelligence server")

	reg := registry.New(log)

	// C2: Embedder. LangchainBackend would reach an external embedding
	// provider, but no config setting selects it; the server always runs
	// the dependency-free HashBackend.
	backend := embedding.NewHashBackend(cfg.EmbeddingDim)
	embedder, err := embedding.New(backend, cfg.EmbeddingDim, log)
	if err != nil {
		return err
	}
	if err := embedder.Initialize(context.Background()); err != nil {
		if cfg.StrictMode {
			return codeerr.Wrap(codeerr.EmbedderUnavailable, "embedder failed strict-mode startup", err)
		}
		log.WithError(err).Warn("embedder initialization degraded")
	}
	reg.Embedder = embedder
	reg.Register("embedder", true, embedder)

	// C3: VectorStore. A configured VectorEndpoint dials a RedisClient;
	// an empty one falls back to the in-process MemoryClient.
	var vectorClient vectorstore.Client = vectorstore.NewMemoryClient()
	if cfg.VectorEndpoint != "" {
		rc, err := vectorstore.NewRedisClient(cfg.VectorEndpoint, cfg.CollectionName)
		if err != nil {
			if cfg.StrictMode {
				return codeerr.Wrap(codeerr.VectorUnavailable, "vector store backend unreachable", err)
			}
			log.WithError(err).Warn("vectorstore: redis backend unreachable, falling back to in-memory client")
		} else {
			vectorClient = rc
		}
	}
	vs := vectorstore.New(vectorClient, log)
	if err := vs.Initialize(context.Background(), cfg.CollectionName, cfg.EmbeddingDim); err != nil {
		if cfg.StrictMode {
			return codeerr.Wrap(codeerr.VectorUnavailable, "vector store failed strict-mode startup", err)
		}
	}
	reg.VectorStore = vs
	reg.Register("vectorstore", false, vs)

	// C4: Cache.
	c, err := cache.New(cache.Config{
		MemBudgetBytes:  cfg.CacheMemBytes,
		DiskBudgetBytes: cfg.CacheDiskBytes,
		DiskDir:         cfg.CacheDir,
		RedisURL:        cfg.CacheRedisURL,
	}, log)
	if err != nil {
		return err
	}
	if err := c.Initialize(context.Background()); err != nil {
		return err
	}
	reg.Cache = c
	reg.Register("cache", false, c)

	// C5: KnowledgeBase.
	kb, err := knowledgebase.New(embedder, vs, c, cfg.KBDir, cfg.CollectionName, cfg.EmbeddingModel, log)
	if err != nil {
		return err
	}
	if err := kb.Initialize(context.Background()); err != nil {
		return err
	}
	reg.KnowledgeBase = kb
	reg.Register("knowledgebase", true, kb)

	// C6: ADRManager.
	adrs := adrmanager.New(cfg.ADRDir, kb, log)
	if err := adrs.Initialize(context.Background()); err != nil {
		return err
	}
	reg.ADRs = adrs
	reg.Register("adrmanager", false, adrs)

	// C7: DocManager.
	docs := docmanager.New(kb, docmanager.NewHTTPFetcher(30*time.Second), docmanager.Config{}, log)
	reg.Docs = docs
	reg.Register("docmanager", false, docs)

	// C8: DebugAnalyzer.
	debug := debuganalyzer.New(kb, log)
	reg.Debug = debug
	reg.Register("debuganalyzer", false, debug)

	// C9: TaskManager. Handlers dispatch by type to C5-C8.
	tasks, err := taskmanager.New(cfg.KBDir+"/tasks", taskmanager.Config{
		Workers:     cfg.TaskWorkers,
		QueueDepth:  cfg.TaskQueueDepth,
		RetryLimits: cfg.TaskRetries,
	}, log)
	if err != nil {
		return err
	}
	registerTaskHandlers(tasks, kb, debug, docs)
	if err := tasks.Initialize(context.Background()); err != nil {
		return err
	}
	reg.Tasks = tasks
	reg.Register("taskmanager", true, tasks)

	if err := reg.Finalize(); err != nil {
		return err
	}

	// C10: HealthMonitor.
	promReg := prometheus.DefaultRegisterer
	mon := health.New(reg, time.Duration(cfg.HealthPollInterval)*time.Second, promReg, log)
	if err := mon.Initialize(context.Background()); err != nil {
		return err
	}

	// C12: SSETransport.
	sseManager := sse.New(reg, log)
	registerTools(sseManager, kb, adrs, tasks)
	if err := sseManager.Initialize(context.Background()); err != nil {
		return err
	}

	// C11: Server.
	srv := server.New(server.Config{
		Port:            cfg.Port,
		AllowedOrigins:  cfg.AllowedOrigins,
		ShutdownTimeout: time.Duration(cfg.ShutdownDeadline) * time.Second,
	}, reg, mon, sseManager, log)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(cfg.Port); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return codeerr.Wrap(codeerr.InternalError, "http server failed", err)
	case <-sigCh:
		log.Info("shutdown signal received")
	}

	shutdownDeadline := time.Duration(cfg.ShutdownDeadline) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()

	if err := srv.Shutdown(ctx, shutdownDeadline); err != nil {
		log.WithError(err).Warn("http server shutdown did not complete cleanly")
	}

	cleaners := map[string]registry.Cleaner{
		"taskmanager":   tasks,
		"adrmanager":    adrs,
		"docmanager":    docs,
		"debuganalyzer": debug,
		"knowledgebase": kb,
		"cache":         c,
		"vectorstore":   vs,
	}
	for _, err := range reg.CleanupAll(ctx, cleaners) {
		log.WithError(err).Warn("component cleanup reported an error")
	}

	log.Info("shutdown complete")
	return nil
}

