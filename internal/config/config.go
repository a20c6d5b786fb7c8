package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// MinSendInterval 是队列两次发送之间的最小间隔。
const MinSendInterval = 500 * time.Millisecond

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Broadcast BroadcastConfig
	Store     StoreConfig
	Queue     QueueConfig
	Network   NetworkConfig
	Resolve   ResolveConfig
	Handoff   HandoffConfig
	AI        AIConfig
	Client    ClientConfig
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

// BroadcastConfig 描述实时广播服务配置。
type BroadcastConfig struct {
	Addr           string
	Heartbeat      time.Duration
	FastEvery      time.Duration
	AggregateEvery time.Duration
	AlertEvery     time.Duration
	AlertChance    float64
}

// StoreConfig 选择持久化后端。
type StoreConfig struct {
	Driver        string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
}

// QueueConfig 描述离线消息队列。
type QueueConfig struct {
	MaxRetries   int
	SendInterval time.Duration
	SentGrace    time.Duration
	StorageKey   string
}

// NetworkConfig 描述可达性探测。
type NetworkConfig struct {
	ProbeURL      string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// ResolveConfig 保存应答引擎的阈值。
type ResolveConfig struct {
	QuickAnswerMin     float64
	TopicMinScore      float64
	TopicMinConfidence float64
	AssistConfidence   float64
	PreviewChars       int
	CatalogPath        string
}

// HandoffConfig 保存人工转接的打分权重。
type HandoffConfig struct {
	SpecialtyBonus float64
	LoadPenalty    float64
	UrgentBonus    float64
	GeneralistMin  int
	WaitPerBusy    time.Duration
	MinWait        time.Duration
	TicketPrefix   string
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
	TriageEnabled  bool
	HistoryLimit   int
}

// ClientConfig 描述聊天客户端的重连策略。
type ClientConfig struct {
	MaxReconnects int
	ReconnectBase time.Duration
}

// Defaults 返回全部默认值，测试可以直接使用。
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Broadcast: BroadcastConfig{
			Addr:           ":8081",
			Heartbeat:      30 * time.Second,
			FastEvery:      2 * time.Second,
			AggregateEvery: 5 * time.Second,
			AlertEvery:     15 * time.Second,
			AlertChance:    0.3,
		},
		Store: StoreConfig{Driver: "memory", SQLitePath: "data/supportdesk.db", Prefix: "supportdesk:"},
		Queue: QueueConfig{
			MaxRetries:   3,
			SendInterval: MinSendInterval,
			SentGrace:    2 * time.Second,
			StorageKey:   "message_queue",
		},
		Network: NetworkConfig{
			ProbeURL:      "http://localhost:8080/healthz",
			ProbeInterval: 30 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Resolve: ResolveConfig{
			QuickAnswerMin:     0.8,
			TopicMinScore:      3,
			TopicMinConfidence: 0.6,
			AssistConfidence:   0.7,
			PreviewChars:       300,
		},
		Handoff: HandoffConfig{
			SpecialtyBonus: 10,
			LoadPenalty:    2,
			UrgentBonus:    5,
			GeneralistMin:  2,
			WaitPerBusy:    5 * time.Minute,
			MinWait:        5 * time.Minute,
			TicketPrefix:   "REFLECT",
		},
		AI: AIConfig{
			BaseURL:        "https://ark.cn-beijing.volces.com/api/v3",
			Region:         "cn-beijing",
			StreamResponse: true,
			HistoryLimit:   6,
		},
		Client: ClientConfig{MaxReconnects: 3, ReconnectBase: 3 * time.Second},
	}
}

// Load 从环境变量加载配置，未设置的项使用 Defaults。
func Load() (*Config, error) {
	cfg := Defaults()
	p := &envParser{}

	cfg.Server.Addr = listenAddr(p, "PORT", cfg.Server.Addr)
	cfg.Server.CORSOrigins = splitList(os.Getenv("CORS_ORIGINS"))

	b := &cfg.Broadcast
	b.Addr = listenAddr(p, "BROADCAST_PORT", b.Addr)
	b.Heartbeat = p.durationVal("BROADCAST_HEARTBEAT", b.Heartbeat)
	b.FastEvery = p.durationVal("BROADCAST_FAST_EVERY", b.FastEvery)
	b.AggregateEvery = p.durationVal("BROADCAST_AGGREGATE_EVERY", b.AggregateEvery)
	b.AlertEvery = p.durationVal("BROADCAST_ALERT_EVERY", b.AlertEvery)
	b.AlertChance = p.floatVal("BROADCAST_ALERT_CHANCE", b.AlertChance)

	s := &cfg.Store
	s.Driver = getEnvOrDefault("STORE_DRIVER", s.Driver)
	s.SQLitePath = getEnvOrDefault("STORE_SQLITE_PATH", s.SQLitePath)
	s.RedisAddr = getEnvOrDefault("REDIS_ADDR", s.RedisAddr)
	s.RedisPassword = strings.TrimSpace(os.Getenv("REDIS_PASSWORD"))
	s.RedisDB = p.intVal("REDIS_DB", s.RedisDB)
	s.Prefix = getEnvOrDefault("STORE_PREFIX", s.Prefix)

	q := &cfg.Queue
	q.MaxRetries = p.intVal("QUEUE_MAX_RETRIES", q.MaxRetries)
	q.SendInterval = p.durationVal("QUEUE_SEND_INTERVAL", q.SendInterval)
	q.SentGrace = p.durationVal("QUEUE_SENT_GRACE", q.SentGrace)
	q.StorageKey = getEnvOrDefault("QUEUE_STORAGE_KEY", q.StorageKey)

	n := &cfg.Network
	n.ProbeURL = getEnvOrDefault("NETWORK_PROBE_URL", n.ProbeURL)
	n.ProbeInterval = p.durationVal("NETWORK_PROBE_INTERVAL", n.ProbeInterval)
	n.ProbeTimeout = p.durationVal("NETWORK_PROBE_TIMEOUT", n.ProbeTimeout)

	r := &cfg.Resolve
	r.QuickAnswerMin = p.floatVal("RESOLVE_QUICK_ANSWER_MIN", r.QuickAnswerMin)
	r.TopicMinScore = p.floatVal("RESOLVE_TOPIC_MIN_SCORE", r.TopicMinScore)
	r.TopicMinConfidence = p.floatVal("RESOLVE_TOPIC_MIN_CONFIDENCE", r.TopicMinConfidence)
	r.AssistConfidence = p.floatVal("RESOLVE_ASSIST_CONFIDENCE", r.AssistConfidence)
	r.PreviewChars = p.intVal("RESOLVE_PREVIEW_CHARS", r.PreviewChars)
	r.CatalogPath = strings.TrimSpace(os.Getenv("RESOLVE_CATALOG_PATH"))

	h := &cfg.Handoff
	h.SpecialtyBonus = p.floatVal("HANDOFF_SPECIALTY_BONUS", h.SpecialtyBonus)
	h.LoadPenalty = p.floatVal("HANDOFF_LOAD_PENALTY", h.LoadPenalty)
	h.UrgentBonus = p.floatVal("HANDOFF_URGENT_BONUS", h.UrgentBonus)
	h.GeneralistMin = p.intVal("HANDOFF_GENERALIST_MIN", h.GeneralistMin)
	h.WaitPerBusy = p.durationVal("HANDOFF_WAIT_PER_BUSY", h.WaitPerBusy)
	h.MinWait = p.durationVal("HANDOFF_MIN_WAIT", h.MinWait)
	h.TicketPrefix = getEnvOrDefault("HANDOFF_TICKET_PREFIX", h.TicketPrefix)

	ai, err := loadAIConfig(cfg.AI)
	if err != nil {
		return nil, err
	}
	cfg.AI = ai

	c := &cfg.Client
	c.MaxReconnects = p.intVal("CLIENT_MAX_RECONNECTS", c.MaxReconnects)
	c.ReconnectBase = p.durationVal("CLIENT_RECONNECT_BASE", c.ReconnectBase)

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查取值范围，并把发送间隔提升到下限。
func (c *Config) Validate() error {
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("QUEUE_MAX_RETRIES must be at least 1, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.SendInterval < MinSendInterval {
		c.Queue.SendInterval = MinSendInterval
	}
	if c.Broadcast.AlertChance < 0 || c.Broadcast.AlertChance > 1 {
		return fmt.Errorf("BROADCAST_ALERT_CHANCE must be within [0,1], got %v", c.Broadcast.AlertChance)
	}
	for name, d := range map[string]time.Duration{
		"BROADCAST_HEARTBEAT":       c.Broadcast.Heartbeat,
		"BROADCAST_FAST_EVERY":      c.Broadcast.FastEvery,
		"BROADCAST_AGGREGATE_EVERY": c.Broadcast.AggregateEvery,
		"BROADCAST_ALERT_EVERY":     c.Broadcast.AlertEvery,
		"NETWORK_PROBE_INTERVAL":    c.Network.ProbeInterval,
		"NETWORK_PROBE_TIMEOUT":     c.Network.ProbeTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Client.MaxReconnects < 0 {
		return fmt.Errorf("CLIENT_MAX_RECONNECTS must not be negative, got %d", c.Client.MaxReconnects)
	}
	switch strings.ToLower(c.Store.Driver) {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.Store.Driver)
	}
	return nil
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature, topP *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	return ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}

func loadAIConfig(base AIConfig) (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", base.StreamResponse)
	if err != nil {
		return AIConfig{}, err
	}

	triage, err := parseBoolEnv("AI_TRIAGE_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	history := base.HistoryLimit
	if override, err := parseOptionalIntEnv("AI_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		history = max(*override, 1)
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", base.BaseURL),
		Region:         getEnvOrDefault("ARK_REGION", base.Region),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
		TriageEnabled:  triage,
		HistoryLimit:   history,
	}, nil
}

// listenAddr 允许用户直接传入 "8080"、":8080" 或 "127.0.0.1:8080"。
func listenAddr(p *envParser, key, defaultValue string) string {
	port := strings.TrimSpace(os.Getenv(key))
	if port == "" {
		return defaultValue
	}
	if strings.Contains(port, " ") {
		p.fail(fmt.Errorf("invalid %s value: %q", key, port))
		return defaultValue
	}
	if strings.Contains(port, ":") {
		return port
	}
	return ":" + port
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// envParser 记录第一个解析错误，后续解析直接返回默认值。
type envParser struct {
	err error
}

func (p *envParser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *envParser) intVal(key string, defaultValue int) int {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		p.fail(err)
		return defaultValue
	}
	if val == nil {
		return defaultValue
	}
	return *val
}

func (p *envParser) floatVal(key string, defaultValue float64) float64 {
	val, err := parseOptionalFloatEnv(key)
	if err != nil {
		p.fail(err)
		return defaultValue
	}
	if val == nil {
		return defaultValue
	}
	return *val
}

func (p *envParser) durationVal(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(fmt.Errorf("invalid %s value %q: %w", key, raw, err))
		return defaultValue
	}
	return val
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
