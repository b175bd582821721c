package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/kelseyhightower/envconfig"
)

// Поддерживаемые хранилища ходов.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config содержит конфигурацию сервера повествования
type Config struct {
	Env      string `envconfig:"ENV" default:"development"`
	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	// LogEncoding - json или console
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	// Хранилище ходов: memory | postgres | redis
	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`

	// Настройки PostgreSQL
	DBHost        string        `envconfig:"DB_HOST" default:"localhost"`
	DBPort        string        `envconfig:"DB_PORT" default:"5432"`
	DBUser        string        `envconfig:"DB_USER" default:"postgres"`
	DBName        string        `envconfig:"DB_NAME" default:"vnml"`
	DBSSLMode     string        `envconfig:"DB_SSL_MODE" default:"disable"`
	DBMaxConns    int           `envconfig:"DB_MAX_CONNECTIONS" default:"10"`
	DBIdleTimeout time.Duration `envconfig:"DB_MAX_IDLE_MINUTES" default:"5m"`
	// Секретное поле БЕЗ envconfig тега
	DBPassword string `ignored:"true"`

	// Настройки Redis
	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`
	// Секретное поле БЕЗ envconfig тега
	RedisPassword string `ignored:"true"`

	// Публикация зафиксированных ходов. Пустой URL отключает публикацию.
	RabbitMQURL   string `envconfig:"RABBITMQ_URL" default:""`
	TurnsExchange string `envconfig:"TURNS_EXCHANGE" default:"vnml.turns"`

	// Настройки AI
	AIClientType     string        `envconfig:"AI_CLIENT_TYPE" default:"openai"`
	AIBaseURL        string        `envconfig:"AI_BASE_URL" default:"https://openrouter.ai/api/v1"`
	AIModel          string        `envconfig:"AI_MODEL" default:"deepseek/deepseek-chat"`
	AITimeout        time.Duration `envconfig:"AI_TIMEOUT" default:"120s"`
	AIBaseRetryDelay time.Duration `envconfig:"AI_BASE_RETRY_DELAY" default:"1s"`
	AIContextTokens  int           `envconfig:"AI_CONTEXT_TOKENS" default:"6000"`
	// Секретное поле БЕЗ envconfig тега
	AIAPIKey string `ignored:"true"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Путь к YAML-файлу с политикой движка (необязательный)
	ConfigFile string `envconfig:"VNML_CONFIG_FILE" default:""`

	Engine EngineConfig `ignored:"true"`
}

// EngineConfig - политика валидации и сопоставления действий.
// Может быть переопределена YAML-файлом; переменные окружения имеют приоритет над файлом.
type EngineConfig struct {
	MinDialogueEvents   int    `yaml:"min_dialogue_events" env:"MIN_DIALOGUE_EVENTS" env-default:"0"`
	EnforceMinDialogue  bool   `yaml:"enforce_min_dialogue" env:"ENFORCE_MIN_DIALOGUE" env-default:"false"`
	RequireComment      bool   `yaml:"require_comment" env:"REQUIRE_COMMENT" env-default:"false"`
	DefaultActionPolicy string `yaml:"default_action_policy" env:"DEFAULT_ACTION_POLICY" env-default:"strict-match"`
	// MaxRetries - число повторных запросов к генератору после первой попытки.
	MaxRetries int `yaml:"max_retries" env:"ENGINE_MAX_RETRIES" env-default:"2"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// MaskedDSN возвращает DSN с замаскированным паролем для логирования
func (c *Config) MaskedDSN() string {
	dsn := c.GetDSN()
	parts := strings.Split(dsn, "@")
	if len(parts) != 2 {
		return "[invalid dsn format]"
	}
	userInfo := strings.Split(parts[0], ":")
	if len(userInfo) >= 2 {
		userInfo[len(userInfo)-1] = "********"
	}
	return strings.Join(userInfo, ":") + "@" + parts[1]
}

// LoadConfig загружает конфигурацию из переменных окружения, необязательного
// YAML-файла политики и секретов.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := cleanenv.ReadConfig(cfg.ConfigFile, &cfg.Engine); err != nil {
			return nil, fmt.Errorf("ошибка чтения файла политики '%s': %w", cfg.ConfigFile, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg.Engine); err != nil {
		return nil, fmt.Errorf("ошибка загрузки политики движка: %w", err)
	}

	var err error
	if cfg.StoreBackend == StorePostgres {
		if cfg.DBPassword, err = ReadSecret("db_password", "DB_PASSWORD"); err != nil {
			return nil, err
		}
	}
	if cfg.StoreBackend == StoreRedis {
		// Пароль Redis необязателен
		cfg.RedisPassword, _ = ReadSecret("redis_password", "REDIS_PASSWORD")
	}
	if cfg.AIAPIKey, err = ReadSecret("ai_api_key", "AI_API_KEY"); err != nil && cfg.AIClientType == "openai" {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("неизвестный STORE_BACKEND: '%s'", c.StoreBackend)
	}
	switch strings.ToLower(c.AIClientType) {
	case "openai", "ollama":
	default:
		return fmt.Errorf("неизвестный тип AI клиента: '%s'", c.AIClientType)
	}
	switch c.Engine.DefaultActionPolicy {
	case "strict-match", "free-form":
	default:
		return fmt.Errorf("неизвестная политика действий: '%s'", c.Engine.DefaultActionPolicy)
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("ENGINE_MAX_RETRIES не может быть отрицательным: %d", c.Engine.MaxRetries)
	}
	if c.AIContextTokens <= 0 {
		return fmt.Errorf("AI_CONTEXT_TOKENS должен быть положительным: %d", c.AIContextTokens)
	}
	return nil
}

// ReadSecret читает секрет: сначала из файла по пути <ENV>_FILE, затем из
// стандартного пути Docker Secrets, затем из самой переменной окружения.
func ReadSecret(secretName, envName string) (string, error) {
	paths := []string{fmt.Sprintf("/run/secrets/%s", secretName)}
	if p := os.Getenv(envName + "_FILE"); p != "" {
		paths = append([]string{p}, paths...)
	}
	for _, filePath := range paths {
		secretBytes, err := os.ReadFile(filePath)
		if err != nil {
			continue
		}
		if secret := strings.TrimSpace(string(secretBytes)); secret != "" {
			return secret, nil
		}
	}
	if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("secret %s not found in files %v or env %s", secretName, paths, envName)
}
