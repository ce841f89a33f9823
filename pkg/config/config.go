package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config agrupa la configuración de la aplicación (lectura vía Viper desde env y opcionalmente archivo).
type Config struct {
	App         AppConfig
	DB          DBConfig
	JWT         JWTConfig
	HTTP        HTTPConfig
	Redis       RedisConfig
	Reservation ReservationConfig
	Tracing     TracingConfig
	Kafka       KafkaConfig
	Metrics     MetricsConfig
}

// AppConfig configuración general de la aplicación.
type AppConfig struct {
	Env         string // development, staging, production
	Name        string
	LogLevel    string // trace, debug, info, warn, error
	StoreDriver string // postgres | memory
}

// DBConfig configuración de PostgreSQL.
// Si DatabaseURL no está vacío, se usa como connection string completo.
type DBConfig struct {
	DatabaseURL string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int
	AutoMigrate bool
}

// ConnectionString devuelve el DSN a usar: DATABASE_URL si está definido, si no el construido con DSN().
func (c DBConfig) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return c.DSN()
}

// DSN devuelve el connection string para PostgreSQL con URL encoding para caracteres especiales.
func (c DBConfig) DSN() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s", c.SSLMode),
	}
	return u.String()
}

// JWTConfig configuración de JWT (tokens de servicio y de administración).
type JWTConfig struct {
	Secret     string
	Expiration int // minutos
	Issuer     string
}

// HTTPConfig configuración del servidor HTTP.
type HTTPConfig struct {
	Host string
	Port int
}

// Addr devuelve la dirección de escucha (host:port).
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig almacén de llaves de idempotencia. Addr vacío = almacén en memoria.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

// ReservationConfig límites del motor de reservas.
type ReservationConfig struct {
	Timeout      time.Duration // tope total de una reserva (incluye reintentos)
	MaxAttempts  int           // intentos ante conflicto de concurrencia
	RetryBackoff time.Duration // espera inicial entre intentos; se duplica
	LockTimeout  time.Duration // SET LOCAL lock_timeout por transacción
	RequireAuth  bool          // exige Bearer (order-service/admin) en POST /v1/product-variant-prices
}

// inFlightMargin holgura sobre Timeout para el marcador "processing" (Begin, commit y Complete).
const inFlightMargin = 10 * time.Second

// IdempotencyInFlightTTL vida del marcador "processing" de una llave. Timeout ya acota todos los
// intentos, así que una llave huérfana (caída del proceso) se libera poco después.
func (c ReservationConfig) IdempotencyInFlightTTL() time.Duration {
	return c.Timeout + inFlightMargin
}

// TracingConfig exportador OTLP/HTTP. Endpoint vacío = tracing deshabilitado.
type TracingConfig struct {
	Endpoint string
}

// KafkaConfig publicación de eventos de stock. Brokers vacío = publicador nulo.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// MetricsConfig exposición de /metrics.
type MetricsConfig struct {
	Enabled bool
}

// Load lee la configuración desde variables de entorno (y opcionalmente desde archivo).
// Las env vars tienen prioridad. Nombres esperados: APP_ENV, DB_HOST, REDIS_ADDR, RESERVATION_TIMEOUT, etc.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // ignoramos error si no existe

	v.SetConfigName("config")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Env:         getString(v, "APP_ENV", "development"),
			Name:        getString(v, "APP_NAME", "catalog-api"),
			LogLevel:    getString(v, "LOG_LEVEL", "info"),
			StoreDriver: getString(v, "STORE_DRIVER", "postgres"),
		},
		DB: DBConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
			Host:        getString(v, "DB_HOST", "localhost"),
			Port:        getInt(v, "DB_PORT", 5432),
			User:        getString(v, "DB_USER", "postgres"),
			Password:    getString(v, "DB_PASSWORD", ""),
			DBName:      getString(v, "DB_NAME", "catalog"),
			SSLMode:     getString(v, "DB_SSLMODE", "disable"),
			MaxConns:    getInt(v, "DB_MAX_CONNS", 25),
			AutoMigrate: getBool(v, "DB_AUTO_MIGRATE", false),
		},
		JWT: JWTConfig{
			Secret:     getString(v, "JWT_SECRET", ""),
			Expiration: getInt(v, "JWT_EXPIRATION_MINUTES", 60),
			Issuer:     getString(v, "JWT_ISSUER", "catalog-api"),
		},
		HTTP: HTTPConfig{
			Host: getString(v, "HTTP_HOST", "0.0.0.0"),
			Port: getInt(v, "HTTP_PORT", 8080),
		},
		Redis: RedisConfig{
			Addr:           getString(v, "REDIS_ADDR", ""),
			Password:       getString(v, "REDIS_PASSWORD", ""),
			DB:             getInt(v, "REDIS_DB", 0),
			IdempotencyTTL: getDuration(v, "IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Reservation: ReservationConfig{
			Timeout:      getDuration(v, "RESERVATION_TIMEOUT", 5*time.Second),
			MaxAttempts:  getInt(v, "RESERVATION_MAX_ATTEMPTS", 3),
			RetryBackoff: getDuration(v, "RESERVATION_RETRY_BACKOFF", 25*time.Millisecond),
			LockTimeout:  getDuration(v, "RESERVATION_LOCK_TIMEOUT", 2*time.Second),
			RequireAuth:  getBool(v, "RESERVATION_REQUIRE_AUTH", true),
		},
		Tracing: TracingConfig{
			Endpoint: getString(v, "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getString(v, "KAFKA_BROKERS", "")),
			Topic:   getString(v, "KAFKA_STOCK_TOPIC", "catalog.stock-reserved"),
		},
		Metrics: MetricsConfig{
			Enabled: getBool(v, "METRICS_ENABLED", true),
		},
	}

	if cfg.App.StoreDriver != "postgres" && cfg.App.StoreDriver != "memory" {
		return nil, fmt.Errorf("STORE_DRIVER inválido: %q", cfg.App.StoreDriver)
	}
	if cfg.Reservation.MaxAttempts < 1 {
		cfg.Reservation.MaxAttempts = 1
	}
	if cfg.Reservation.Timeout <= 0 {
		return nil, fmt.Errorf("RESERVATION_TIMEOUT debe ser positivo")
	}
	return cfg, nil
}

func getString(v *viper.Viper, key, def string) string {
	if v.IsSet(key) {
		return v.GetString(key)
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if v.IsSet(key) {
		switch v.Get(key).(type) {
		case int:
			return v.GetInt(key)
		case string:
			n, err := strconv.Atoi(v.GetString(key))
			if err != nil {
				return def
			}
			return n
		default:
			return v.GetInt(key)
		}
	}
	return def
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if v.IsSet(key) {
		return v.GetBool(key)
	}
	return def
}

// getDuration acepta "5s", "250ms" o un entero en milisegundos.
func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	raw := strings.TrimSpace(v.GetString(key))
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
