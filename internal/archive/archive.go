// Package archive persists audit trails and trading summaries to PostgreSQL.
// It is an external audit consumer; the engine never depends on it.
package archive

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"tradecore/internal/audit"
	"tradecore/internal/stats"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 5432
	defaultSSLMode = "disable"
)

// Config defines the PostgreSQL connection.
type Config struct {
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	User       string            `json:"user"`
	Password   string            `json:"password"`
	Database   string            `json:"database"`
	SSLMode    string            `json:"ssl_mode"`
	Params     map[string]string `json:"params,omitempty"`
	ConnString string            `json:"conn_string,omitempty"`
}

func (c Config) dsn() string {
	if c.ConnString != "" {
		return c.ConnString
	}
	host := c.Host
	if host == "" {
		host = defaultHost
	}
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = defaultSSLMode
	}
	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	if c.Database != "" {
		u.Path = "/" + c.Database
	}
	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range c.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()
	return u.String()
}

// AuditRecord is one persisted audit tick.
type AuditRecord struct {
	ID       uint64    `gorm:"primaryKey;autoIncrement"`
	RunID    string    `gorm:"index"`
	Sequence uint64    `gorm:"index"`
	Time     time.Time `gorm:""`
	Kind     string    `gorm:"size:32"`
	Payload  []byte    `gorm:"type:jsonb"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (AuditRecord) TableName() string { return "audit_ticks" }

// SummaryRecord is one persisted trading summary.
type SummaryRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	RunID     string    `gorm:"index"`
	CreatedAt time.Time `gorm:""`
	RiskFree  string    `gorm:"size:64"`
	Interval  string    `gorm:"size:64"`
	Payload   []byte    `gorm:"type:jsonb"`
}

// TableName keeps the table name stable across gorm naming strategies.
func (SummaryRecord) TableName() string { return "trading_summaries" }

// Archiver writes audit ticks and summaries for one run.
type Archiver struct {
	db    *gorm.DB
	runID string
}

// New connects and migrates the archive tables.
func New(cfg Config, runID string) (*Archiver, error) {
	if runID == "" {
		return nil, errors.New("archive requires a run id")
	}
	db, err := gorm.Open(postgres.Open(cfg.dsn()), &gorm.Config{})
	if err != nil {
		return nil, errors.Wrap(err, "open archive database")
	}
	if err := db.AutoMigrate(&AuditRecord{}, &SummaryRecord{}); err != nil {
		return nil, errors.Wrap(err, "migrate archive tables")
	}
	return &Archiver{db: db, runID: runID}, nil
}

// Consume drains the audit stream to completion, persisting every tick. It
// blocks until the engine closes the stream.
func (a *Archiver) Consume(stream *audit.Stream) error {
	for {
		tick, ok := stream.Next()
		if !ok {
			return nil
		}
		if err := a.SaveTick(tick); err != nil {
			return err
		}
	}
}

// SaveTick persists one audit tick.
func (a *Archiver) SaveTick(tick audit.Tick) error {
	payload, err := json.Marshal(tick)
	if err != nil {
		return errors.Wrap(err, "encode audit tick")
	}
	record := AuditRecord{
		RunID:    a.runID,
		Sequence: uint64(tick.Context.Sequence),
		Time:     tick.Context.Time,
		Kind:     tickKind(tick),
		Payload:  payload,
	}
	if err := a.db.Create(&record).Error; err != nil {
		return errors.Wrap(err, "insert audit tick")
	}
	return nil
}

// SaveSummary persists the end-of-run summary.
func (a *Archiver) SaveSummary(riskFree decimal.Decimal, summary stats.TradingSummary) error {
	payload, err := summary.MarshalStable()
	if err != nil {
		return errors.Wrap(err, "encode trading summary")
	}
	record := SummaryRecord{
		RunID:     a.runID,
		CreatedAt: time.Now().UTC(),
		RiskFree:  riskFree.String(),
		Interval:  summary.Interval,
		Payload:   payload,
	}
	if err := a.db.Create(&record).Error; err != nil {
		return errors.Wrap(err, "insert trading summary")
	}
	return nil
}

// Close releases the connection pool.
func (a *Archiver) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func tickKind(tick audit.Tick) string {
	switch {
	case tick.Event.Snapshot != nil:
		return "snapshot"
	case tick.Event.Process != nil:
		return "process"
	case tick.Event.FeedEnded:
		return "feed_ended"
	default:
		return "unknown"
	}
}
