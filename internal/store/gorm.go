package store

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// EventRecord run_events 表
type EventRecord struct {
	ID        uint      `gorm:"primaryKey"`
	RunID     string    `gorm:"index;size:64"`
	Tick      int       `gorm:"index"`
	Kind      string    `gorm:"size:32"`
	Timestamp time.Time `gorm:"index"`
	Payload   string    `gorm:"type:jsonb"`
}

func (EventRecord) TableName() string { return "run_events" }

// ResultRecord run_results 表，每次运行一行
type ResultRecord struct {
	RunID     string `gorm:"primaryKey;size:64"`
	Payload   string `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (ResultRecord) TableName() string { return "run_results" }

// GormBackend PostgreSQL 结果库
type GormBackend struct {
	db *gorm.DB
}

// NewGormBackend 连接并迁移表结构
func NewGormBackend(dsn string) (*GormBackend, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGormBackendWithDB(db)
}

// NewGormBackendWithDB 使用已有连接
func NewGormBackendWithDB(db *gorm.DB) (*GormBackend, error) {
	if err := db.AutoMigrate(&EventRecord{}, &ResultRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &GormBackend{db: db}, nil
}

// toRecord 事件转表记录
func toRecord(ev Event) (EventRecord, error) {
	payload, err := json.Marshal(ev.Fields)
	if err != nil {
		return EventRecord{}, err
	}
	return EventRecord{
		RunID:     ev.RunID,
		Tick:      ev.Tick,
		Kind:      ev.Kind,
		Timestamp: ev.Timestamp,
		Payload:   string(payload),
	}, nil
}

func (g *GormBackend) WriteEvent(ev Event) error {
	rec, err := toRecord(ev)
	if err != nil {
		return err
	}
	return g.db.Create(&rec).Error
}

// WriteResult 同一 run_id 重复写入时覆盖
func (g *GormBackend) WriteResult(runID string, payload []byte) error {
	rec := ResultRecord{RunID: runID, Payload: string(payload), CreatedAt: time.Now()}
	return g.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "created_at"}),
	}).Create(&rec).Error
}

func (g *GormBackend) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
