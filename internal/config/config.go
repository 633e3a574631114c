package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type BybitConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Timeout   time.Duration
}

type StrategyConfig struct {
	CandleInterval     string
	CandleLimit        int
	FastPeriod         int
	SlowPeriod         int
	TrendPeriod        int
	MinCrossStrength   float64
	MinSlope           float64
	MinProfit          float64
	MaxLoss            float64
	EmergencyStop      float64
	TrailingDistance   float64
	PartialExitLevel   float64
	PartialExitRatio   float64
	MinHoldTime        time.Duration
	ConfirmationCycles int
	RequiredTrendScore int
	RSIOverbought      float64
	TakerFee           float64
}

type ForecastConfig struct {
	Enabled   bool
	URL       string
	Timeout   time.Duration
	SeqLength int
	Steps     int
}

type RankingConfig struct {
	TrialPeriod    int
	MinSuccessRate float64
	MinAvgProfit   float64
	InitialBoost   float64
	MaxCoins       int
	InactiveDays   int
}

type SelectorConfig struct {
	CandleInterval string
	CandleLimit    int
	Workers        int
	TaskTimeout    time.Duration
	BatchTimeout   time.Duration
	CacheTTL       time.Duration
	TopN           int
}

type RotationConfig struct {
	Interval       time.Duration
	MinHoldCandles int
}

type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  int64
}

type Config struct {
	Bybit         BybitConfig
	Strategy      StrategyConfig
	Forecast      ForecastConfig
	Ranking       RankingConfig
	Selector      SelectorConfig
	Rotation      RotationConfig
	Telegram      TelegramConfig
	QuoteCoin     string
	InitialCoin   string
	CoinList      []string
	StateDir      string
	CycleCooldown time.Duration
	MaxHoldTime   time.Duration
	MinBalance    float64
}

// Load reads configuration from the environment, bootstrapped from a
// .env file when one is present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Bybit: BybitConfig{
			BaseURL:   getEnv("BYBIT_BASE_URL", "https://api.bybit.com"),
			APIKey:    getEnv("BYBIT_API_KEY", ""),
			APISecret: getEnv("BYBIT_API_SECRET", ""),
			Timeout:   getEnvDuration("BYBIT_TIMEOUT", 10*time.Second),
		},
		Strategy: StrategyConfig{
			CandleInterval:     getEnv("CANDLE_INTERVAL", "3"),
			CandleLimit:        getEnvInt("CANDLE_LIMIT", 100),
			FastPeriod:         getEnvInt("FAST_EMA_PERIOD", 8),
			SlowPeriod:         getEnvInt("SLOW_EMA_PERIOD", 21),
			TrendPeriod:        getEnvInt("TREND_EMA_PERIOD", 50),
			MinCrossStrength:   getEnvFloat("MIN_CROSS_STRENGTH", 0.0005),
			MinSlope:           getEnvFloat("MIN_SLOPE", 0.00001),
			MinProfit:          getEnvFloat("MIN_PROFIT", 0.008),
			MaxLoss:            getEnvFloat("MAX_LOSS", 0.0075),
			EmergencyStop:      getEnvFloat("EMERGENCY_STOP", -0.006),
			TrailingDistance:   getEnvFloat("TRAILING_DISTANCE", 0.005),
			PartialExitLevel:   getEnvFloat("PARTIAL_EXIT_LEVEL", -0.0025),
			PartialExitRatio:   getEnvFloat("PARTIAL_EXIT_RATIO", 0.3),
			MinHoldTime:        getEnvDuration("MIN_HOLD_TIME", 30*time.Minute),
			ConfirmationCycles: getEnvInt("CONFIRMATION_CYCLES", 3),
			RequiredTrendScore: getEnvInt("REQUIRED_TREND_SCORE", 4),
			RSIOverbought:      getEnvFloat("RSI_OVERBOUGHT", 65),
			TakerFee:           getEnvFloat("TAKER_FEE", 0.0018),
		},
		Forecast: ForecastConfig{
			Enabled:   getEnvBool("FORECAST_ENABLED", false),
			URL:       getEnv("FORECAST_URL", "http://localhost:8000/forecast"),
			Timeout:   getEnvDuration("FORECAST_TIMEOUT", 5*time.Second),
			SeqLength: getEnvInt("FORECAST_SEQ_LENGTH", 30),
			Steps:     getEnvInt("FORECAST_STEPS", 3),
		},
		Ranking: RankingConfig{
			TrialPeriod:    getEnvInt("RANKING_TRIAL_PERIOD", 10),
			MinSuccessRate: getEnvFloat("RANKING_MIN_SUCCESS_RATE", 0.5),
			MinAvgProfit:   getEnvFloat("RANKING_MIN_AVG_PROFIT", 0.005),
			InitialBoost:   getEnvFloat("RANKING_INITIAL_BOOST", 2),
			MaxCoins:       getEnvInt("RANKING_MAX_COINS", 30),
			InactiveDays:   getEnvInt("RANKING_INACTIVE_DAYS", 30),
		},
		Selector: SelectorConfig{
			CandleInterval: getEnv("SELECTOR_CANDLE_INTERVAL", "15"),
			CandleLimit:    getEnvInt("SELECTOR_CANDLE_LIMIT", 16),
			Workers:        getEnvInt("SELECTOR_WORKERS", 4),
			TaskTimeout:    getEnvDuration("SELECTOR_TASK_TIMEOUT", 15*time.Second),
			BatchTimeout:   getEnvDuration("SELECTOR_BATCH_TIMEOUT", 25*time.Second),
			CacheTTL:       getEnvDuration("SELECTOR_CACHE_TTL", time.Hour),
			TopN:           getEnvInt("SELECTOR_TOP_N", 5),
		},
		Rotation: RotationConfig{
			Interval:       getEnvDuration("ROTATION_INTERVAL", 24*time.Hour),
			MinHoldCandles: getEnvInt("ROTATION_MIN_HOLD_CANDLES", 12),
		},
		Telegram: TelegramConfig{
			Enabled: getEnvBool("TELEGRAM_ENABLED", false),
			Token:   getEnv("TELEGRAM_BOT_TOKEN", ""),
			ChatID:  int64(getEnvInt("TELEGRAM_CHAT_ID", 0)),
		},
		QuoteCoin:     getEnv("QUOTE_COIN", "USDT"),
		InitialCoin:   getEnv("INITIAL_COIN", "BTC"),
		CoinList:      getEnvList("COIN_LIST", []string{"BTC", "ETH", "SOL", "XRP", "DOGE"}),
		StateDir:      getEnv("STATE_DIR", "data"),
		CycleCooldown: getEnvDuration("CYCLE_COOLDOWN", 60*time.Second),
		MaxHoldTime:   getEnvDuration("MAX_HOLD_TIME", 24*time.Hour),
		MinBalance:    getEnvFloat("MIN_BALANCE_USDT", 5.0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
