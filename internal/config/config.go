package config

import (
	"binance-trade-bot-go/internal/models"
	"fmt"
	"os"
	"strings"

	"github.com/jinzhu/configor"
	"github.com/joho/godotenv"
)

// EnvPrefix 环境变量覆盖配置时使用的前缀, e.g. TRADEBOT_PAPERTRADING=true
const EnvPrefix = "TRADEBOT"

// Credentials 币安 API 密钥，只从环境变量读取，不写入配置文件
type Credentials struct {
	APIKey    string
	SecretKey string
}

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中。
// 未设置的字段使用 default 标签中的默认值。
func LoadConfig(path string) (*models.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	cfg := &models.Config{}
	loader := configor.New(&configor.Config{
		ENVPrefix: EnvPrefix,
		Silent:    true,
	})
	if err := loader.Load(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置之间的约束
func Validate(cfg *models.Config) error {
	backend := strings.ToLower(cfg.Store.Backend)
	switch backend {
	case "badger":
		if cfg.Store.DBPath == "" {
			return fmt.Errorf("store.db_path is required for the badger backend")
		}
	case "redis":
		if cfg.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url (or REDIS_URL) is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	cfg.Store.Backend = backend

	for _, m := range cfg.Grid.Models {
		if m.Symbol == "" || m.Price <= 0 {
			return fmt.Errorf("grid model %q needs a positive price", m.Symbol)
		}
	}

	if cfg.Collective.Enabled {
		if len(cfg.Collective.Symbols) == 0 {
			return fmt.Errorf("collective.symbols is empty")
		}
		if cfg.Collective.Quorum > len(cfg.Collective.Symbols) {
			return fmt.Errorf("collective.quorum %d exceeds basket size %d", cfg.Collective.Quorum, len(cfg.Collective.Symbols))
		}
	}

	if cfg.Mint.DeferMaxMinutes < cfg.Mint.DeferMinMinutes {
		return fmt.Errorf("mint.defer_max_minutes must not be below mint.defer_min_minutes")
	}
	if cfg.SplitShort.SellQuantityShare <= 0 || cfg.SplitShort.SellQuantityShare > 1 {
		return fmt.Errorf("split_short.sell_quantity_share must be in (0, 1]")
	}
	return nil
}

// LoadEnv 加载 .env 文件 (如果存在)，返回是否成功加载
func LoadEnv(files ...string) bool {
	return godotenv.Load(files...) == nil
}

// LoadCredentials 从环境变量中读取 API 密钥
func LoadCredentials() Credentials {
	return Credentials{
		APIKey:    os.Getenv("BINANCE_API_KEY"),
		SecretKey: os.Getenv("BINANCE_SECRET_KEY"),
	}
}
