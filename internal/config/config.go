// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/fitbattle/internal/model"
)

// ストレージバックエンド
const (
	BackendMemory   = "memory"   // プロセス内メモリ（ローカルモード、揮発）
	BackendSQLite   = "sqlite"   // SQLiteファイル（ローカルモード）
	BackendPostgres = "postgres" // PostgreSQL LISTEN/NOTIFY（リアルタイムモード）
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Storage
	StorageBackend string
	SQLitePath     string
	DatabaseURL    string

	// Roster
	Members []model.Member

	// Leaderboard
	RecentLimit   int
	PhotoMaxBytes int64

	// Realtime resync
	ResyncInterval time.Duration

	// Rate Limit (req/min per client IP)
	RateLimitGeneral int
	RateLimitWrite   int

	// Kafka (optional)
	KafkaBrokers       []string
	KafkaSnapshotTopic string
	KafkaShareTopic    string

	// Server
	ServerPort        string
	WebDir            string
	CORSAllowedOrigin string

	// Logging
	LogLevel string
}

// Realtime はリアルタイムモード（共有ツリー）で動作するかを返す。
func (c *Config) Realtime() bool {
	return c.StorageBackend == BackendPostgres
}

// KafkaEnabled はKafkaへのスナップショット送信が有効かを返す。
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load は環境変数からConfigを読み込む。
// MEMBERSやSTORAGE_BACKEND、DATABASE_URL、RESYNC_INTERVALが不正な場合はMalformedConfigurationErrorを返す。
// postgresバックエンドでDATABASE_URLが未設定でもエラーにはしない（接続できないバックエンドとして扱う）。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.StorageBackend = strings.ToLower(getEnvString("STORAGE_BACKEND", BackendSQLite))
	switch cfg.StorageBackend {
	case BackendMemory, BackendSQLite, BackendPostgres:
	default:
		return nil, model.NewMalformedConfigurationError("STORAGE_BACKEND",
			fmt.Sprintf("未知のバックエンドです: %q", cfg.StorageBackend))
	}

	cfg.SQLitePath = getEnvString("SQLITE_PATH", "fitbattle.db")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL != "" {
		if _, err := pq.ParseURL(cfg.DatabaseURL); err != nil {
			return nil, model.NewMalformedConfigurationError("DATABASE_URL", err.Error())
		}
	}

	members, err := ParseMembers(os.Getenv("MEMBERS"))
	if err != nil {
		return nil, err
	}
	if members == nil {
		members = model.DefaultMembers()
	}
	cfg.Members = members

	cfg.RecentLimit = getEnvInt("RECENT_LIMIT", 6)
	cfg.PhotoMaxBytes = getEnvInt64("PHOTO_MAX_BYTES", 1_000_000)
	cfg.ResyncInterval = getEnvDuration("RESYNC_INTERVAL", time.Minute)
	if cfg.ResyncInterval <= 0 {
		return nil, model.NewMalformedConfigurationError("RESYNC_INTERVAL",
			fmt.Sprintf("正の間隔を指定してください: %s", cfg.ResyncInterval))
	}
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitWrite = getEnvInt("RATE_LIMIT_WRITE", 30)
	cfg.KafkaBrokers = splitAndTrim(os.Getenv("KAFKA_BROKERS"))
	cfg.KafkaSnapshotTopic = getEnvString("KAFKA_SNAPSHOT_TOPIC", "fitbattle.snapshots")
	cfg.KafkaShareTopic = getEnvString("KAFKA_SHARE_TOPIC", "fitbattle.shares")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WebDir = getEnvString("WEB_DIR", "dist")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	return cfg, nil
}

// ParseMembers は "1:강동훈,2:권영근" 形式のロスター指定を解析する。
// 空文字列の場合はnilを返す（既定のロスターを使う）。
func ParseMembers(raw string) ([]model.Member, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var members []model.Member
	seen := make(map[int]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idStr, name, ok := strings.Cut(part, ":")
		if !ok {
			return nil, model.NewMalformedConfigurationError("MEMBERS", fmt.Sprintf("id:name形式ではありません: %q", part))
		}
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil {
			return nil, model.NewMalformedConfigurationError("MEMBERS", fmt.Sprintf("idが整数ではありません: %q", idStr))
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, model.NewMalformedConfigurationError("MEMBERS", fmt.Sprintf("名前が空です: id=%d", id))
		}
		if seen[id] {
			return nil, model.NewMalformedConfigurationError("MEMBERS", fmt.Sprintf("idが重複しています: %d", id))
		}
		seen[id] = true
		members = append(members, model.Member{ID: id, Name: name})
	}
	if len(members) == 0 {
		return nil, model.NewMalformedConfigurationError("MEMBERS", "メンバーが1人も指定されていません")
	}
	return members, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func splitAndTrim(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
