package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tickerd/internal/store"
	"tickerd/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type SqliteStore struct {
	db *gorm.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newSqliteStore(db)
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newSqliteStore(db)
}

func newSqliteStore(db *gorm.DB) (*SqliteStore, error) {
	models := []interface{}{
		&model.AutoTradeSettingModel{},
		&model.TransactionModel{},
		&model.HoldingModel{},
		&model.BalanceModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) SettingsFor(ctx context.Context, symbol string) (*store.AutoTradeSettings, error) {
	var m model.AutoTradeSettingModel
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := settingsFromModel(m)
	return &out, nil
}

func (s *SqliteStore) SaveSettings(ctx context.Context, settings *store.AutoTradeSettings) error {
	if settings == nil || strings.TrimSpace(settings.Symbol) == "" {
		return fmt.Errorf("settings require a symbol")
	}
	now := time.Now()
	m := settingsToModel(*settings, now)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "buy_threshold_percent", "sell_threshold_percent",
			"next_action", "continuous_trading", "one_shot_buy", "one_shot_sell",
			"sizing_mode", "sizing_shares", "sizing_value_usd",
			"reference_price", "last_buy_price", "updated_at",
		}),
	}).Create(&m).Error
}

func (s *SqliteStore) ListSettings(ctx context.Context) ([]store.AutoTradeSettings, error) {
	var rows []model.AutoTradeSettingModel
	if err := s.db.WithContext(ctx).Order("symbol").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.AutoTradeSettings, 0, len(rows))
	for _, m := range rows {
		out = append(out, settingsFromModel(m))
	}
	return out, nil
}

func (s *SqliteStore) RecordTransaction(ctx context.Context, rec *store.TransactionRecord) error {
	if rec == nil {
		return fmt.Errorf("transaction record cannot be nil")
	}
	m := model.TransactionModel{
		TxID:        rec.ID,
		Symbol:      rec.Symbol,
		Action:      rec.Action,
		Shares:      rec.Shares,
		Price:       rec.Price,
		TotalAmount: rec.TotalAmount,
		Success:     rec.Success,
		ErrorKind:   rec.ErrorKind,
		APIRequest:  jsonText(rec.APIRequest),
		APIResponse: jsonText(rec.APIResponse),
		LogInfo:     rec.LogInfo,
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	m.CreatedAtUnix = created.Unix()
	if rec.ExpiresAt != nil {
		exp := rec.ExpiresAt.Unix()
		m.ExpiresAtUnix = &exp
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *SqliteStore) ListTransactions(ctx context.Context, limit int) ([]store.TransactionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.TransactionModel
	if err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]store.TransactionRecord, 0, len(rows))
	for _, m := range rows {
		rec := store.TransactionRecord{
			ID:          m.TxID,
			Symbol:      m.Symbol,
			Action:      m.Action,
			Shares:      m.Shares,
			Price:       m.Price,
			TotalAmount: m.TotalAmount,
			Success:     m.Success,
			ErrorKind:   m.ErrorKind,
			APIRequest:  textFromJSON(m.APIRequest),
			APIResponse: textFromJSON(m.APIResponse),
			LogInfo:     m.LogInfo,
			CreatedAt:   time.Unix(m.CreatedAtUnix, 0),
		}
		if m.ExpiresAtUnix != nil {
			exp := time.Unix(*m.ExpiresAtUnix, 0)
			rec.ExpiresAt = &exp
		}
		out = append(out, rec)
	}
	return out, nil
}

// ApplyTrade adjusts holdings and cash inside a single transaction so a
// crash between the two writes cannot strand the books.
func (s *SqliteStore) ApplyTrade(ctx context.Context, symbol string, shareDelta, cashDelta float64) error {
	now := time.Now().Unix()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var holding model.HoldingModel
		err := tx.Where("symbol = ?", symbol).First(&holding).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			holding = model.HoldingModel{Symbol: symbol}
		} else if err != nil {
			return err
		}
		holding.Shares += shareDelta
		if holding.Shares < 0 {
			return fmt.Errorf("holding for %s would go negative (%f)", symbol, holding.Shares)
		}
		holding.UpdatedAtUnix = now
		if err := tx.Save(&holding).Error; err != nil {
			return err
		}

		balance, err := loadBalance(tx)
		if err != nil {
			return err
		}
		balance.CashUSD += cashDelta
		if balance.CashUSD < 0 {
			return fmt.Errorf("cash balance would go negative (%f)", balance.CashUSD)
		}
		balance.UpdatedAtUnix = now
		return tx.Save(&balance).Error
	})
}

func (s *SqliteStore) Holding(ctx context.Context, symbol string) (float64, error) {
	var holding model.HoldingModel
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).First(&holding).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return holding.Shares, nil
}

func (s *SqliteStore) CashBalance(ctx context.Context) (float64, error) {
	balance, err := loadBalance(s.db.WithContext(ctx))
	if err != nil {
		return 0, err
	}
	return balance.CashUSD, nil
}

func (s *SqliteStore) SetCashBalance(ctx context.Context, usd float64) error {
	balance, err := loadBalance(s.db.WithContext(ctx))
	if err != nil {
		return err
	}
	balance.CashUSD = usd
	balance.UpdatedAtUnix = time.Now().Unix()
	return s.db.WithContext(ctx).Save(&balance).Error
}

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func loadBalance(tx *gorm.DB) (model.BalanceModel, error) {
	var balance model.BalanceModel
	err := tx.First(&balance, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.BalanceModel{ID: 1}, nil
	}
	return balance, err
}

func settingsFromModel(m model.AutoTradeSettingModel) store.AutoTradeSettings {
	return store.AutoTradeSettings{
		Symbol:               m.Symbol,
		Enabled:              m.Enabled,
		BuyThresholdPercent:  m.BuyThresholdPercent,
		SellThresholdPercent: m.SellThresholdPercent,
		NextAction:           m.NextAction,
		ContinuousTrading:    m.ContinuousTrading,
		OneShotBuy:           m.OneShotBuy,
		OneShotSell:          m.OneShotSell,
		SizingMode:           m.SizingMode,
		SizingShares:         m.SizingShares,
		SizingValueUSD:       m.SizingValueUSD,
		ReferencePrice:       m.ReferencePrice,
		LastBuyPrice:         m.LastBuyPrice,
		UpdatedAt:            time.Unix(m.UpdatedAtUnix, 0),
	}
}

func settingsToModel(s store.AutoTradeSettings, now time.Time) model.AutoTradeSettingModel {
	return model.AutoTradeSettingModel{
		Symbol:               s.Symbol,
		Enabled:              s.Enabled,
		BuyThresholdPercent:  s.BuyThresholdPercent,
		SellThresholdPercent: s.SellThresholdPercent,
		NextAction:           s.NextAction,
		ContinuousTrading:    s.ContinuousTrading,
		OneShotBuy:           s.OneShotBuy,
		OneShotSell:          s.OneShotSell,
		SizingMode:           s.SizingMode,
		SizingShares:         s.SizingShares,
		SizingValueUSD:       s.SizingValueUSD,
		ReferencePrice:       s.ReferencePrice,
		LastBuyPrice:         s.LastBuyPrice,
		CreatedAtUnix:        now.Unix(),
		UpdatedAtUnix:        now.Unix(),
	}
}

// jsonText stores an arbitrary payload string as a JSON value so the
// column stays queryable with json functions.
func jsonText(s string) datatypes.JSON {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return datatypes.JSON(s)
	}
	quoted, _ := json.Marshal(s)
	return datatypes.JSON(quoted)
}

func textFromJSON(j datatypes.JSON) string {
	if len(j) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(j, &s); err == nil {
		return s
	}
	return string(j)
}
