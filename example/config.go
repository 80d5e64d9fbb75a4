package example

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/finikit/storesync/breaker"
	"github.com/finikit/storesync/example/pkg"
	"github.com/finikit/storesync/jobrunner"
	"github.com/finikit/storesync/lock"
	"github.com/finikit/storesync/retrypolicy"
	"github.com/finikit/storesync/syncmanager"
)

// Config 组合根的配置文件结构
type Config struct {
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Sync struct {
		TimeoutSeconds           int `yaml:"timeoutSeconds"`
		LockTTLSeconds           int `yaml:"lockTTLSeconds"`
		IdempotencyWindowSeconds int `yaml:"idempotencyWindowSeconds"`
		MonitorTickSeconds       int `yaml:"monitorTickSeconds"`
		StuckGraceSeconds        int `yaml:"stuckGraceSeconds"`
		MaxConcurrent            int `yaml:"maxConcurrent"`
		MaxAttempts              int `yaml:"maxAttempts"`
		RetryBaseDelayMillis     int `yaml:"retryBaseDelayMillis"`
		BreakerThreshold         int `yaml:"breakerThreshold"`
		BreakerCooldownSeconds   int `yaml:"breakerCooldownSeconds"`
	} `yaml:"sync"`
}

// LoadConfig 从 yaml 文件加载配置
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// NewManagerFromConfig 按配置装配一个生产形态的协调器
// mysql 承载事务日志与关系库拷贝，redis 承载跨实例的资源锁，
// 向量索引与远端平台适配器由调用方传入
func NewManagerFromConfig(cfg *Config, platform *StaticPlatform, vector *MemoryVectorIndex) (*syncmanager.SyncTXManager, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	pool := pkg.NewRedisPool(cfg.Redis.Address, cfg.Redis.Password)
	lockTTL := time.Duration(cfg.Sync.LockTTLSeconds) * time.Second
	locks := lock.NewManager(lock.NewRedisStore(pool), lock.WithDefaultTTL(lockTTL))

	txStore, err := NewMySQLTXStore(db, locks)
	if err != nil {
		return nil, fmt.Errorf("init txstore: %w", err)
	}
	relational, err := NewMySQLRelational(db)
	if err != nil {
		return nil, fmt.Errorf("init relational store: %w", err)
	}

	manager := syncmanager.NewSyncTXManager(
		txStore,
		syncmanager.Adapters{
			Platform:   platform,
			Relational: relational,
			Vector:     vector,
		},
		syncmanager.WithTimeout(time.Duration(cfg.Sync.TimeoutSeconds)*time.Second),
		syncmanager.WithLockTTL(lockTTL),
		syncmanager.WithIdempotencyWindow(time.Duration(cfg.Sync.IdempotencyWindowSeconds)*time.Second),
		syncmanager.WithMonitorTick(time.Duration(cfg.Sync.MonitorTickSeconds)*time.Second),
		syncmanager.WithStuckGrace(time.Duration(cfg.Sync.StuckGraceSeconds)*time.Second),
		syncmanager.WithLockManager(locks),
		syncmanager.WithBreaker(breaker.NewBreaker(
			breaker.WithFailureThreshold(cfg.Sync.BreakerThreshold),
			breaker.WithCooldown(time.Duration(cfg.Sync.BreakerCooldownSeconds)*time.Second),
		)),
		syncmanager.WithJobRunner(jobrunner.NewRunner(
			jobrunner.WithMaxConcurrent(cfg.Sync.MaxConcurrent),
			jobrunner.WithDefaultTimeout(time.Duration(cfg.Sync.TimeoutSeconds)*time.Second),
		)),
		syncmanager.WithRetryPolicy(retrypolicy.NewPolicy(
			time.Duration(cfg.Sync.RetryBaseDelayMillis)*time.Millisecond,
			cfg.Sync.MaxAttempts,
		)),
	)
	return manager, nil
}
