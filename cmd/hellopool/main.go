// Package main is the entry point for hellopool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"hellopool/internal/api"
	"hellopool/internal/client"
	"hellopool/internal/config"
	"hellopool/internal/events"
	"hellopool/internal/logger"
	"hellopool/internal/metrics"
	"hellopool/internal/server"
	"hellopool/internal/worker"
)

var (
	version = "dev"
)

const envPrefix = "HELLOPOOL"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("", "%v", err)
		os.Exit(1)
	}
}

// newRootCmd はコマンドツリーを組み立てる
func newRootCmd() *cobra.Command {
	v := newViper()
	var configFile, envFile string

	root := &cobra.Command{
		Use:   "hellopool",
		Short: "hellopool - TCP hello server on a fixed-size worker pool",
		Long: `hellopool serves two fixed pages over raw TCP. Every connection is
handed to a bounded worker pool; shutdown waits for all accepted work.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if envFile == "" {
				return nil
			}
			// 既に設定されている環境変数は上書きしない
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("env ファイル読み込みエラー: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "HELLOPOOL_* を定義した .env ファイル")
	root.PersistentFlags().String("log-level", "", "ログレベル (debug, info, warn, error)")
	mustBind(v, "log.level", root.PersistentFlags().Lookup("log-level"))

	serve := &cobra.Command{
		Use:   "serve",
		Short: "hello サーバーを起動する",
		Example: `  # デフォルト (127.0.0.1:7878, 4 workers)
  hellopool serve

  # ワーカー数と管理 API を指定
  hellopool serve --workers 8 --admin --admin-addr 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, configFile)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	sf := serve.Flags()
	sf.IntP("workers", "w", 0, "ワーカー数")
	sf.String("addr", "", "待ち受けアドレス")
	sf.String("views", "", "hello.html と 404.html を置いたディレクトリ")
	sf.String("slow-delay", "", "GET /sleep の遅延 (例: 5s)")
	sf.Int("max-conns", 0, "同時接続数の上限 (0で無制限)")
	sf.Bool("admin", false, "管理 API を有効化")
	sf.String("admin-addr", "", "管理 API のアドレス")
	bindFlags(v, sf, map[string]string{
		"pool.size":         "workers",
		"server.addr":       "addr",
		"server.views_dir":  "views",
		"server.slow_delay": "slow-delay",
		"server.max_conns":  "max-conns",
		"admin.enabled":     "admin",
		"admin.addr":        "admin-addr",
	})

	load := &cobra.Command{
		Use:   "load",
		Short: "hello サーバーへ負荷をかける",
		Example: `  # 1000 リクエストを 8 並列で送る
  hellopool load --requests 1000 --concurrency 8`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v, configFile)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return runLoad(ctx, cfg)
		},
	}
	lf := load.Flags()
	lf.String("target", "", "接続先アドレス")
	lf.IntP("requests", "n", 0, "リクエスト数")
	lf.IntP("concurrency", "c", 0, "同時接続数")
	lf.Float64("slow-ratio", 0, "GET /sleep の比率 (0.0〜1.0)")
	lf.Float64("missing-ratio", 0, "存在しないパスの比率 (0.0〜1.0)")
	lf.Int("retries", 0, "接続の再試行回数")
	bindFlags(v, lf, map[string]string{
		"load.target":        "target",
		"load.requests":      "requests",
		"load.concurrency":   "concurrency",
		"load.slow_ratio":    "slow-ratio",
		"load.missing_ratio": "missing-ratio",
		"load.max_retries":   "retries",
	})

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "バージョンを表示",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "hellopool version %s\n", version)
		},
	}

	root.AddCommand(serve, load, versionCmd)
	return root
}

// newViper は環境変数 HELLOPOOL_* を読む viper を作る
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		mustBind(v, key, fs.Lookup(name))
	}
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag for %s: %v", key, err))
	}
}

// loadConfig は設定ファイル、環境変数、フラグの順に設定を重ねる
func loadConfig(v *viper.Viper, path string) (*config.FileConfig, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		cfg, err = config.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
	}

	applyOverrides(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定検証エラー: %w", err)
	}
	return cfg, nil
}

// applyOverrides は明示的に指定された値だけを上書きする
func applyOverrides(v *viper.Viper, cfg *config.FileConfig) {
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setFloat := func(key string, dst *float64) {
		if v.IsSet(key) {
			*dst = v.GetFloat64(key)
		}
	}

	setInt("pool.size", &cfg.Pool.Size)
	setString("server.addr", &cfg.Server.Addr)
	setString("server.views_dir", &cfg.Server.ViewsDir)
	setString("server.slow_delay", &cfg.Server.SlowDelay)
	setInt("server.max_conns", &cfg.Server.MaxConns)
	if v.IsSet("admin.enabled") {
		cfg.Admin.Enabled = v.GetBool("admin.enabled")
	}
	setString("admin.addr", &cfg.Admin.Addr)
	setString("log.level", &cfg.Log.Level)
	setString("load.target", &cfg.Load.Target)
	setInt("load.requests", &cfg.Load.Requests)
	setInt("load.concurrency", &cfg.Load.Concurrency)
	setFloat("load.slow_ratio", &cfg.Load.SlowRatio)
	setFloat("load.missing_ratio", &cfg.Load.MissingRatio)
	setInt("load.max_retries", &cfg.Load.MaxRetries)
}

// signalContext は SIGINT/SIGTERM でキャンセルされる context を返す
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n中断シグナルを受信、終了中...")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}

func applyLogLevel(cfg *config.FileConfig) (logger.Level, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return level, err
	}
	logger.Default.SetLevel(level)
	return level, nil
}

// runServe はプールと hello サーバーを起動し、ctx 終了後にプールを閉じる
func runServe(ctx context.Context, cfg *config.FileConfig) error {
	level, err := applyLogLevel(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Default.Sync() }()

	serverConfig, err := cfg.ToServerConfig()
	if err != nil {
		return fmt.Errorf("設定変換エラー: %w", err)
	}

	fmt.Println("hellopool - TCP hello server")
	fmt.Println("============================")
	fmt.Printf("Listening: %s\n", serverConfig.Addr)
	fmt.Printf("Workers: %d\n", cfg.Pool.Size)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	bus := events.NewBus()
	defer bus.Close()

	pool, err := worker.NewPoolWithConfig(worker.PoolConfig{
		NumWorkers: cfg.Pool.Size,
		Metrics:    metrics.New(),
		Events:     bus,
		Logger:     logger.Default,
	})
	if err != nil {
		return err
	}
	// サーバー停止後、受理済みの接続を処理し終えてから戻る
	defer pool.Close()

	go logEvents(bus.Subscribe())

	srv, err := server.New(serverConfig, pool)
	if err != nil {
		return err
	}

	if cfg.Admin.Enabled {
		if level != logger.LevelDebug {
			gin.SetMode(gin.ReleaseMode)
		}
		adminConfig, err := cfg.ToAdminConfig()
		if err != nil {
			return fmt.Errorf("設定変換エラー: %w", err)
		}
		adminConfig.Logger = logger.Default
		admin, err := api.NewServer(adminConfig, pool, bus)
		if err != nil {
			return err
		}
		go func() {
			if err := admin.Start(ctx); err != nil {
				logger.Error("api", "Admin server error: %v", err)
			}
		}()
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	logger.Info("main", "Server stopped after %d responses", srv.Handled())
	return nil
}

// logEvents はプールのイベントをデバッグログに流す
func logEvents(ch <-chan events.Event) {
	for e := range ch {
		switch e.Type {
		case events.EventWorkerDisconnected, events.EventJobPanicked:
			logger.Warn("events", "%s worker=%d error=%s", e.Type, e.WorkerID, e.Data.Error)
		default:
			logger.Debug("events", "%s worker=%d %s", e.Type, e.WorkerID, e.Data.Duration)
		}
	}
}

// runLoad は負荷生成を実行してレポートを表示する
func runLoad(ctx context.Context, cfg *config.FileConfig) error {
	if _, err := applyLogLevel(cfg); err != nil {
		return err
	}
	defer func() { _ = logger.Default.Sync() }()

	clientConfig, err := cfg.ToClientConfig()
	if err != nil {
		return fmt.Errorf("設定変換エラー: %w", err)
	}

	cl, err := client.New(clientConfig)
	if err != nil {
		return err
	}

	snap, err := cl.Run(ctx)
	if snap != nil {
		printReport(os.Stdout, clientConfig, snap)
	}
	return err
}
