package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"binance-ai-trader-go/internal/backtest"
	"binance-ai-trader-go/internal/bot"
	"binance-ai-trader-go/internal/config"
	"binance-ai-trader-go/internal/downloader"
	"binance-ai-trader-go/internal/exchange"
	"binance-ai-trader-go/internal/executor"
	"binance-ai-trader-go/internal/logger"
	"binance-ai-trader-go/internal/marketdata"
	"binance-ai-trader-go/internal/metrics"
	"binance-ai-trader-go/internal/ml"
	"binance-ai-trader-go/internal/models"
	"binance-ai-trader-go/internal/optimizer"
	"binance-ai-trader-go/internal/orchestrator"
	"binance-ai-trader-go/internal/persistence"
	"binance-ai-trader-go/internal/reentry"
	"binance-ai-trader-go/internal/reporter"
	"binance-ai-trader-go/internal/risk"
	"binance-ai-trader-go/internal/scanner"
	"binance-ai-trader-go/internal/storage"
	"binance-ai-trader-go/internal/strategy"
	"binance-ai-trader-go/internal/supervisor"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

const candleCacheTTL = time.Minute

// extractSymbolFromPath 从数据文件路径中提取交易对名称
// 例如: "data/BNBUSDT-1m-2025-03-15-2025-06-15.csv" -> "BNBUSDT"
func extractSymbolFromPath(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), ".csv")
	return strings.ToUpper(strings.Split(name, "-")[0])
}

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file (.json, .yaml or .yml)")
	mode := flag.String("mode", "live", "running mode: live, paper, backtest, train, download, scan or report")
	userID := flag.Int64("user", 0, "user id for backtest and train")
	dataPath := flag.String("data", "", "historical CSV file for backtesting")
	symbol := flag.String("symbol", "", "symbol to download (e.g., BNBUSDT)")
	interval := flag.String("interval", "1m", "kline interval for download and CSV backtests")
	startDate := flag.String("start", "", "download start date (YYYY-MM-DD)")
	endDate := flag.String("end", "", "download end date (YYYY-MM-DD)")
	limit := flag.Int("limit", 20, "rows to print in scan and report modes")
	flag.Parse()

	// 先用默认配置初始化日志，便于记录配置加载过程
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "live", "paper":
		err = runTrading(ctx, cfg, *mode == "paper")
	case "backtest":
		err = runBacktest(ctx, cfg, *userID, *dataPath, *interval)
	case "train":
		err = runTrain(ctx, cfg, *userID)
	case "download":
		err = runDownload(ctx, cfg, *symbol, *interval, *startDate, *endDate)
	case "scan":
		err = runScan(ctx, cfg, *limit)
	case "report":
		err = runReport(cfg, *limit)
	default:
		err = fmt.Errorf("未知的运行模式: %s", *mode)
	}
	if err != nil {
		logger.S().Fatalf("%s: %v", *mode, err)
	}
}

// openStores opens the badger store and the journal, creating their directories.
func openStores(cfg *models.Config) (*persistence.BadgerStore, *storage.Journal, func() error, error) {
	for _, p := range []string{cfg.Storage.BadgerPath, filepath.Dir(cfg.Storage.JournalPath)} {
		if err := os.MkdirAll(p, 0755); err != nil {
			return nil, nil, nil, fmt.Errorf("create %s: %w", p, err)
		}
	}
	store, err := persistence.NewBadgerStore(cfg.Storage.BadgerPath)
	if err != nil {
		return nil, nil, nil, err
	}
	journal, err := storage.NewJournal(cfg.Storage.JournalPath)
	if err != nil {
		return nil, nil, nil, multierr.Append(err, store.Close())
	}
	closeAll := func() error {
		return multierr.Combine(journal.Close(), store.Close())
	}
	return store, journal, closeAll, nil
}

// seedUsers saves each configured user's settings unless some are already stored.
func seedUsers(store *persistence.BadgerStore, users []models.UserAccount) error {
	for _, u := range users {
		_, err := store.UserSettings(u.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, persistence.ErrNotFound) {
			return fmt.Errorf("user %d settings: %w", u.ID, err)
		}
		if err := store.SaveUserSettings(u.Settings); err != nil {
			return fmt.Errorf("seed user %d: %w", u.ID, err)
		}
		logger.S().Infof("Seeded settings for user %d (%s)", u.ID, u.Settings.Strategy)
	}
	return nil
}

func streamURL(cfg *models.Config) string {
	if cfg.Exchange.StreamURL != "" {
		return cfg.Exchange.StreamURL
	}
	if cfg.Testnet {
		return exchange.TestnetStreamURL
	}
	return exchange.DefaultStreamURL
}

func newRegistry(store *persistence.BadgerStore, candles *marketdata.Service, predictor *ml.WSPredictor) *strategy.Registry {
	return strategy.NewRegistry(
		strategy.NewRsiEma(store),
		strategy.NewScalping(store),
		strategy.NewFibonacciGrid(store),
		strategy.NewMLModel(store, predictor, predictor, candles),
	)
}

// runTrading wires every component for live or paper trading and runs the engine until a signal arrives.
func runTrading(ctx context.Context, cfg *models.Config, paper bool) (err error) {
	log := logger.L()
	if paper {
		logger.S().Info("--- 启动模拟交易模式 ---")
	} else {
		logger.S().Info("--- 启动实时交易模式 ---")
	}

	store, journal, closeStores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStores()) }()

	if err := seedUsers(store, cfg.Users); err != nil {
		return err
	}

	accounts, missing := exchange.AccountsFromEnv(cfg.Users, os.Getenv)
	if len(missing) > 0 && !paper {
		logger.S().Warnf("用户 %v 缺少API密钥，将无法下单", missing)
	}
	if len(accounts) == 0 && !paper {
		return errors.New("no user has API credentials configured")
	}

	stream := exchange.NewPriceStream(streamURL(cfg), log)
	stream.Start()
	defer stream.Stop()

	binanceEx := exchange.NewBinanceExchange(cfg.Exchange, cfg.Testnet, accounts, stream, log)
	var market exchange.Exchange = binanceEx
	if paper {
		paperEx := exchange.NewPaperExchange(decimal.NewFromFloat(cfg.Defaults.CommissionPct).Div(decimal.NewFromInt(100)), binanceEx)
		quote := cfg.Scanner.QuoteAsset
		if quote == "" {
			quote = "USDT"
		}
		for _, u := range cfg.Users {
			paperEx.SetBalance(u.ID, quote, decimal.NewFromFloat(cfg.Exchange.PaperBalance))
		}
		market = paperEx
	}

	candles := marketdata.NewService(market, store, candleCacheTTL, log)
	candles.Start()
	defer candles.Stop()

	predictor := ml.NewWSPredictor(cfg.ML.URL, time.Duration(cfg.ML.TimeoutSeconds)*time.Second, log)
	defer predictor.Close()

	registry := newRegistry(store, candles, predictor)
	exec := executor.New(store, market, risk.NewManager(market), candles, registry, cfg.Defaults, log)
	closer := supervisor.NewCloser(store, market, journal, cfg.Defaults, log)
	orch := orchestrator.New(store,
		scanner.New(market, cfg.Scanner, log),
		optimizer.New(candles, store, cfg.Optimizer, log),
		exec, cfg.Scanner, log)
	re := reentry.New(store, exec, cfg.Reentry, log)

	if cfg.Metrics.Listen != "" {
		metrics.Serve(ctx, cfg.Metrics.Listen, log)
	}

	engine := bot.NewEngine(log)
	engine.RegisterCycles(bot.Cycles{Orchestrator: orch, Closer: closer, Reentry: re, Trades: store}, cfg.Schedule)
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("机器人启动失败: %w", err)
	}

	// 等待中断信号以实现优雅退出
	<-ctx.Done()
	engine.Stop()
	logger.S().Info("机器人已成功停止。")
	return nil
}

// runBacktest replays the user's strategy. With a data file only that file's symbol is replayed,
// otherwise the user's symbols are loaded through the market data service.
func runBacktest(ctx context.Context, cfg *models.Config, userID int64, dataPath, interval string) (err error) {
	logger.S().Info("--- 启动回测模式 ---")
	if userID <= 0 {
		return errors.New("backtest requires -user")
	}
	log := logger.L()

	store, journal, closeStores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStores()) }()
	if err := seedUsers(store, cfg.Users); err != nil {
		return err
	}

	predictor := ml.NewWSPredictor(cfg.ML.URL, time.Duration(cfg.ML.TimeoutSeconds)*time.Second, log)
	defer predictor.Close()

	market := exchange.NewBinanceExchange(cfg.Exchange, cfg.Testnet, nil, nil, log)
	candles := marketdata.NewService(market, store, candleCacheTTL, log)
	candles.Start()
	defer candles.Stop()
	registry := newRegistry(store, candles, predictor)

	var result *backtest.Result
	if dataPath != "" {
		sym := extractSymbolFromPath(dataPath)
		if sym == "" {
			return fmt.Errorf("无法从数据文件路径 %s 中提取交易对", dataPath)
		}
		src, err := backtest.NewCSVSource(dataPath, sym, interval)
		if err != nil {
			return err
		}
		sim := backtest.New(store, registry, src, cfg.Backtest, cfg.Defaults, log)
		result, err = sim.RunSymbols(ctx, userID, []string{src.Symbol()})
		if err != nil {
			return err
		}
	} else {
		sim := backtest.New(store, registry, candles, cfg.Backtest, cfg.Defaults, log)
		result, err = sim.Run(ctx, userID)
		if err != nil {
			return err
		}
	}

	logger.S().Info("回测结束。")
	reporter.WriteBacktestReport(os.Stdout, result)

	runID, err := journal.RecordBacktest(userID, result)
	if err != nil {
		return fmt.Errorf("record backtest: %w", err)
	}
	logger.S().Infof("回测结果已保存: %s", runID)
	return nil
}

// runTrain refits the user's ML model through the prediction service.
func runTrain(ctx context.Context, cfg *models.Config, userID int64) (err error) {
	if userID <= 0 {
		return errors.New("train requires -user")
	}
	log := logger.L()

	store, _, closeStores, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStores()) }()

	predictor := ml.NewWSPredictor(cfg.ML.URL, time.Duration(cfg.ML.TimeoutSeconds)*time.Second, log)
	defer predictor.Close()
	market := exchange.NewBinanceExchange(cfg.Exchange, cfg.Testnet, nil, nil, log)
	candles := marketdata.NewService(market, store, candleCacheTTL, log)
	candles.Start()
	defer candles.Stop()

	strat, err := newRegistry(store, candles, predictor).Get(models.StrategyMLModel)
	if err != nil {
		return err
	}
	trainable, ok := strat.(strategy.Trainable)
	if !ok {
		return fmt.Errorf("%s cannot be trained", strat.Type())
	}
	if err := trainable.Train(ctx, userID); err != nil {
		return fmt.Errorf("train user %d: %w", userID, err)
	}
	logger.S().Infof("用户 %d 的模型训练完成", userID)
	return nil
}

func runDownload(ctx context.Context, cfg *models.Config, symbol, interval, startDate, endDate string) error {
	if symbol == "" || startDate == "" || endDate == "" {
		return errors.New("download requires -symbol, -start and -end")
	}
	startTime, err1 := time.Parse("2006-01-02", startDate)
	endTime, err2 := time.Parse("2006-01-02", endDate)
	if err := multierr.Combine(err1, err2); err != nil {
		return fmt.Errorf("日期格式错误，请使用 YYYY-MM-DD 格式: %w", err)
	}
	if err := os.MkdirAll("data", 0755); err != nil {
		return fmt.Errorf("创建 data 目录失败: %w", err)
	}

	symbol = strings.ToUpper(symbol)
	fileName := filepath.Join("data", fmt.Sprintf("%s-%s-%s-%s.csv", symbol, interval, startDate, endDate))
	logger.S().Infof("开始下载 %s 从 %s 到 %s 的K线数据...", symbol, startDate, endDate)
	d := downloader.NewKlineDownloader(cfg.Exchange.APIURL, logger.L())
	if err := d.DownloadKlines(ctx, symbol, interval, fileName, startTime, endTime); err != nil {
		return fmt.Errorf("下载数据失败: %w", err)
	}
	fmt.Println(fileName)
	return nil
}

func runScan(ctx context.Context, cfg *models.Config, n int) error {
	log := logger.L()
	market := exchange.NewBinanceExchange(cfg.Exchange, cfg.Testnet, nil, nil, log)
	top, err := scanner.New(market, cfg.Scanner, log).ScanTopSymbols(ctx, n, cfg.Scanner.Timeframe)
	if err != nil {
		return err
	}
	for i, s := range top {
		fmt.Printf("%2d. %s\n", i+1, s)
	}
	return nil
}

func runReport(cfg *models.Config, n int) (err error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.JournalPath), 0755); err != nil {
		return err
	}
	journal, err := storage.NewJournal(cfg.Storage.JournalPath)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, journal.Close()) }()

	entries, err := journal.RecentCloses(n)
	if err != nil {
		return err
	}
	reporter.WriteJournalReport(os.Stdout, entries)
	return nil
}
