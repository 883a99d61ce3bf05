package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server      ServerConfig
	Log         LogConfig
	AI          AIConfig
	Catalog     CatalogConfig
	Reservation ReservationConfig
	Ticket      TicketConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if cfg.AI.HistoryLimit < 1 {
		cfg.AI.HistoryLimit = 1
	}
	return cfg, nil
}

// ServerConfig 描述 HTTP 与 websocket 服务配置。
type ServerConfig struct {
	Port             string        `env:"PORT" envDefault:"8080"`
	Addr             string
	AllowedOrigins   []string      `env:"SOCKET_ALLOWED_ORIGINS" envSeparator:","`
	PingInterval     time.Duration `env:"SOCKET_PING_INTERVAL" envDefault:"25s"`
	ReadTimeout      time.Duration `env:"SOCKET_READ_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// 已关闭会话的保留时长，超过后从内存中清理。
	SessionRetention time.Duration `env:"SESSION_RETENTION" envDefault:"24h"`
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// LogConfig 控制日志级别与输出格式。
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"` // json or console
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey       string   `env:"ARK_API_KEY"`
	AccessKey    string   `env:"ARK_ACCESS_KEY"`
	SecretKey    string   `env:"ARK_SECRET_KEY"`
	Model        string   `env:"Model"`
	BaseURL      string   `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region       string   `env:"ARK_REGION" envDefault:"cn-beijing"`
	Temperature  *float64 `env:"ARK_TEMPERATURE"`
	TopP         *float64 `env:"ARK_TOP_P"`
	MaxTokens    *int     `env:"ARK_MAX_TOKENS"`
	HistoryLimit int      `env:"AI_HISTORY_LIMIT" envDefault:"12"`
	LibraryName  string   `env:"LIBRARY_NAME" envDefault:"the library"`
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY and Model, or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// CatalogConfig 描述馆藏检索接口。
type CatalogConfig struct {
	BaseURL string        `env:"CATALOG_BASE_URL"`
	APIKey  string        `env:"CATALOG_API_KEY"`
	View    string        `env:"CATALOG_VIEW"`
	Tab     string        `env:"CATALOG_TAB" envDefault:"Everything"`
	Scope   string        `env:"CATALOG_SCOPE" envDefault:"MyInst_and_CI"`
	Timeout time.Duration `env:"CATALOG_TIMEOUT" envDefault:"15s"`
}

// Enabled reports whether catalogue search can be offered to the model.
func (c CatalogConfig) Enabled() bool {
	return c.BaseURL != "" && c.APIKey != ""
}

// OAuthClient 是 client-credentials 授权所需的凭证。
type OAuthClient struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// ReservationConfig 描述空间预约（取消）接口。
type ReservationConfig struct {
	BaseURL      string        `env:"RESERVATION_BASE_URL"`
	ClientID     string        `env:"RESERVATION_CLIENT_ID"`
	ClientSecret string        `env:"RESERVATION_CLIENT_SECRET"`
	Timeout      time.Duration `env:"RESERVATION_TIMEOUT" envDefault:"15s"`
}

// Enabled reports whether reservation cancellation is configured.
func (c ReservationConfig) Enabled() bool {
	return c.BaseURL != "" && c.ClientID != "" && c.ClientSecret != ""
}

// OAuth returns the token endpoint credentials of the booking system.
func (c ReservationConfig) OAuth() OAuthClient {
	return OAuthClient{
		TokenURL:     strings.TrimRight(c.BaseURL, "/") + "/1.1/oauth/token",
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
	}
}

// TicketConfig 描述人工工单接口。
type TicketConfig struct {
	BaseURL      string        `env:"TICKET_BASE_URL"`
	ClientID     string        `env:"TICKET_CLIENT_ID"`
	ClientSecret string        `env:"TICKET_CLIENT_SECRET"`
	QueueID      string        `env:"TICKET_QUEUE_ID"`
	Timeout      time.Duration `env:"TICKET_TIMEOUT" envDefault:"15s"`
}

// Enabled reports whether escalation tickets can be filed.
func (c TicketConfig) Enabled() bool {
	return c.BaseURL != "" && c.ClientID != "" && c.ClientSecret != "" && c.QueueID != ""
}

// OAuth returns the token endpoint credentials of the ticketing system.
func (c TicketConfig) OAuth() OAuthClient {
	return OAuthClient{
		TokenURL:     strings.TrimRight(c.BaseURL, "/") + "/1.1/oauth/token",
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
	}
}

// ClientConfig 是终端客户端的配置，命令行参数可覆盖。
type ClientConfig struct {
	SocketURL   string        `env:"CHAT_SOCKET_URL" envDefault:"ws://localhost:8080/socket"`
	TabID       string        `env:"CHAT_TAB_ID"`
	RedisURL    string        `env:"CHAT_REDIS_URL"`
	RedisPrefix string        `env:"CHAT_REDIS_PREFIX" envDefault:"libchat"`
	RedisTTL    time.Duration `env:"CHAT_REDIS_TTL" envDefault:"24h"`
	Log         LogConfig
}

// LoadClient 从环境变量加载终端客户端配置。
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}
