package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type DB struct {
	*sqlx.DB
}

type Config struct {
	Host     string
	Port     int
	UserName string
	Password string
	DBName   string
	// SSLMode が空の場合はホスト名から決定します
	SSLMode string
}

// DSN はlib/pq形式の接続文字列を返します
func (cfg Config) DSN() string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		// localhostのDBの場合はSSLを無効化
		if cfg.Host == "localhost" || cfg.Host == "127.0.0.1" {
			sslMode = "disable"
		} else {
			sslMode = "require" // 本番環境ではSSLを有効にする
		}
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.UserName,
		cfg.Password,
		cfg.DBName,
		sslMode,
	)
}

func NewDB(ctx context.Context, cfg Config) (*DB, error) {
	// X-Ray対応のSQLコンテキストを作成
	db, err := xray.SQLContext("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database with X-Ray: %w", err)
	}

	// コネクションプールの設定
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// 接続テスト
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{sqlx.NewDb(db, "postgres")}, nil
}
