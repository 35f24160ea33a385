package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/quantfold/paperbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Trade, prediction and signal persistence
// ═══════════════════════════════════════════════════════════════════════════════
//
// Persistence is advisory: the engine never blocks on it and a write failure
// never aborts a trading decision. Failures are logged and dropped.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

type TradeRow struct {
	ID          uint            `gorm:"primaryKey;autoIncrement"`
	Type        string          `gorm:"index"` // ENTRY or EXIT
	Symbol      string          `gorm:"index"`
	Direction   string          // BUY or SELL
	Shares      int64
	Price       decimal.Decimal `gorm:"type:decimal(18,6)"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,6)"`
	RealizedPnL decimal.Decimal `gorm:"type:decimal(20,6)"`
	Reason      string
	DaysHeld    int
	ExecutedAt  time.Time `gorm:"index"`
	CreatedAt   time.Time
}

type PredictionRow struct {
	ID             uint            `gorm:"primaryKey;autoIncrement"`
	Symbol         string          `gorm:"index"`
	CurrentPrice   decimal.Decimal `gorm:"type:decimal(18,6)"`
	PredictedPrice decimal.Decimal `gorm:"type:decimal(18,6)"`
	PercentChange  decimal.Decimal `gorm:"type:decimal(10,4)"`
	Confidence     decimal.Decimal `gorm:"type:decimal(6,4)"`
	AccuracyScore  decimal.Decimal `gorm:"type:decimal(6,4)"`
	CreatedAt      time.Time       `gorm:"index"`
}

type SignalRow struct {
	ID         uint            `gorm:"primaryKey;autoIncrement"`
	Symbol     string          `gorm:"index"`
	SignalType string          // BUY, SELL, HOLD
	Confidence decimal.Decimal `gorm:"type:decimal(6,4)"`
	Price      decimal.Decimal `gorm:"type:decimal(18,6)"`
	Reason     string
	CreatedAt  time.Time `gorm:"index"`
}

// New opens the database. A postgres:// URL selects PostgreSQL; anything
// else is treated as a SQLite file path.
func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("💾 Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&TradeRow{}, &PredictionRow{}, &SignalRow{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Trade operations

func (d *Database) SaveTrade(rec types.TradeRecord) error {
	row := TradeRow{
		Type:        rec.Type,
		Symbol:      rec.Symbol,
		Direction:   rec.Direction,
		Shares:      rec.Shares,
		Price:       rec.Price,
		Amount:      rec.Amount,
		RealizedPnL: rec.RealizedPnL,
		Reason:      rec.Reason,
		DaysHeld:    rec.DaysHeld,
		ExecutedAt:  rec.Timestamp,
	}
	if err := d.db.Create(&row).Error; err != nil {
		log.Error().Err(err).Str("symbol", rec.Symbol).Msg("Failed to save trade")
		return err
	}
	return nil
}

// RecentTrades returns the latest trade records, newest first.
func (d *Database) RecentTrades(limit int) ([]TradeRow, error) {
	var rows []TradeRow
	err := d.db.Order("executed_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// RecentTradeRecords is RecentTrades converted back to domain records, for
// presentation layers.
func (d *Database) RecentTradeRecords(limit int) ([]types.TradeRecord, error) {
	rows, err := d.RecentTrades(limit)
	if err != nil {
		return nil, err
	}

	records := make([]types.TradeRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, types.TradeRecord{
			Type:        row.Type,
			Symbol:      row.Symbol,
			Direction:   row.Direction,
			Shares:      row.Shares,
			Price:       row.Price,
			Amount:      row.Amount,
			RealizedPnL: row.RealizedPnL,
			Timestamp:   row.ExecutedAt,
			Reason:      row.Reason,
			DaysHeld:    row.DaysHeld,
		})
	}
	return records, nil
}

// Prediction operations

func (d *Database) SavePrediction(f types.Forecast) error {
	row := PredictionRow{
		Symbol:         f.Symbol,
		CurrentPrice:   f.CurrentPrice,
		PredictedPrice: f.PredictedPrice,
		PercentChange:  f.PercentChange,
		Confidence:     f.Confidence,
		AccuracyScore:  f.ModelAccuracy,
	}
	if err := d.db.Create(&row).Error; err != nil {
		log.Error().Err(err).Str("symbol", f.Symbol).Msg("Failed to save prediction")
		return err
	}
	return nil
}

// RecentPredictions returns predictions for a symbol, newest first. An empty
// symbol returns predictions across the board.
func (d *Database) RecentPredictions(symbol string, limit int) ([]PredictionRow, error) {
	q := d.db.Order("created_at DESC").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", strings.ToUpper(symbol))
	}
	var rows []PredictionRow
	err := q.Find(&rows).Error
	return rows, err
}

// Signal operations

func (d *Database) SaveSignal(f types.Forecast, reason string) error {
	row := SignalRow{
		Symbol:     f.Symbol,
		SignalType: f.Signal,
		Confidence: f.Confidence,
		Price:      f.CurrentPrice,
		Reason:     reason,
	}
	if err := d.db.Create(&row).Error; err != nil {
		log.Error().Err(err).Str("symbol", f.Symbol).Msg("Failed to save signal")
		return err
	}
	return nil
}

// Stats operations

func (d *Database) Stats() (map[string]int64, error) {
	stats := make(map[string]int64)

	var trades int64
	if err := d.db.Model(&TradeRow{}).Count(&trades).Error; err != nil {
		return nil, err
	}
	stats["trades"] = trades

	var predictions int64
	if err := d.db.Model(&PredictionRow{}).Count(&predictions).Error; err != nil {
		return nil, err
	}
	stats["predictions"] = predictions

	var signals int64
	if err := d.db.Model(&SignalRow{}).Count(&signals).Error; err != nil {
		return nil, err
	}
	stats["signals"] = signals

	return stats, nil
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
