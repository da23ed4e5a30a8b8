package downloader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"binance-ai-trader-go/internal/models"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// batchLimit is the most klines Binance returns per request.
const batchLimit = 1000

var header = []string{"open_time", "open", "high", "low", "close", "volume", "close_time", "quote_asset_volume", "number_of_trades", "taker_buy_base_asset_volume", "taker_buy_quote_asset_volume"}

// KlineDownloader 用于从币安下载K线数据
type KlineDownloader struct {
	client  *binance.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewKlineDownloader uses the public endpoints, so no API key is needed. An empty baseURL keeps
// the client's default.
func NewKlineDownloader(baseURL string, logger *zap.Logger) *KlineDownloader {
	client := binance.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &KlineDownloader{
		client:  client,
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		logger:  logger,
	}
}

// DownloadKlines writes the symbol's klines for [start, end) to a CSV file.
// An existing file is treated as a cache and left untouched.
func (d *KlineDownloader) DownloadKlines(ctx context.Context, symbol, interval, filePath string, start, end time.Time) error {
	if _, err := os.Stat(filePath); err == nil {
		d.logger.Info("Using cached kline file", zap.String("path", filePath))
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", filePath, err)
	}

	tmp := filePath + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	rows, err := d.download(ctx, file, symbol, interval, start, end)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	d.logger.Info("Klines downloaded", zap.String("symbol", symbol), zap.String("interval", interval), zap.Int("rows", rows), zap.String("path", filePath))
	return nil
}

func (d *KlineDownloader) download(ctx context.Context, w io.Writer, symbol, interval string, start, end time.Time) (int, error) {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	rows := 0
	for t := start; t.Before(end); {
		if err := d.limiter.Wait(ctx); err != nil {
			return rows, err
		}
		klines, err := d.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(t.UnixMilli()).
			EndTime(end.UnixMilli() - 1).
			Limit(batchLimit).
			Do(ctx)
		if err != nil {
			return rows, fmt.Errorf("download klines for %s: %w", symbol, err)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			record := []string{
				strconv.FormatInt(k.OpenTime, 10),
				k.Open,
				k.High,
				k.Low,
				k.Close,
				k.Volume,
				strconv.FormatInt(k.CloseTime, 10),
				k.QuoteAssetVolume,
				strconv.FormatInt(k.TradeNum, 10),
				k.TakerBuyBaseAssetVolume,
				k.TakerBuyQuoteAssetVolume,
			}
			if err := writer.Write(record); err != nil {
				return rows, fmt.Errorf("write csv record: %w", err)
			}
			rows++
		}
		t = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		d.logger.Debug("Kline batch written", zap.String("symbol", symbol), zap.Time("until", t))
	}
	writer.Flush()
	return rows, writer.Error()
}

// LoadCSV reads a file written by DownloadKlines into candles tagged with symbol and interval.
func LoadCSV(path, symbol, interval string) ([]models.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	var candles []models.Candle
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		c, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		c.Symbol = symbol
		c.Timeframe = interval
		candles = append(candles, c)
	}
	return candles, nil
}

func parseRecord(record []string) (models.Candle, error) {
	if len(record) < 7 {
		return models.Candle{}, fmt.Errorf("expected at least 7 fields, got %d", len(record))
	}
	openMs, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("open_time: %w", err)
	}
	closeMs, err := strconv.ParseInt(record[6], 10, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("close_time: %w", err)
	}
	var values [5]decimal.Decimal
	for i := range values {
		v, err := decimal.NewFromString(record[i+1])
		if err != nil {
			return models.Candle{}, fmt.Errorf("%s: %w", header[i+1], err)
		}
		values[i] = v
	}
	return models.Candle{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}
