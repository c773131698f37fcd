package config

import (
	"time"
)

// WorkerConfig represents the configuration for the queue worker
type WorkerConfig struct {
	TimeBudget          time.Duration
	BatchSize           int
	MaxBatchSize        int
	MaxMessagesPerItem  int
	MaxAttempts         int
	TimeReserve         time.Duration
	DeepAnalysisReserve time.Duration
}

// QueueConfig represents the configuration for the durable queue
type QueueConfig struct {
	Type          string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

// IntelConfig represents the configuration for the threat-intel cache
type IntelConfig struct {
	URLTTL           time.Duration
	DomainTTL        time.Duration
	IPTTL            time.Duration
	URLMaxSize       int
	DomainMaxSize    int
	IPMaxSize        int
	CleanupFrequency time.Duration
}

// AnalyzerConfig represents the analyzer selection and class thresholds
type AnalyzerConfig struct {
	Provider            string
	SuspiciousThreshold float64
	QuarantineThreshold float64
	BlockThreshold      float64
}

// OpenAIConfig represents the configuration for the OpenAI analyzer
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GmailConfig represents the Gmail provider configuration
type GmailConfig struct {
	ClientID           string
	ClientSecret       string
	QuarantineLabel    string
	ServiceAccountJSON string
}

// MSGraphConfig represents the Microsoft Graph provider configuration
type MSGraphConfig struct {
	ClientID         string
	ClientSecret     string
	Tenant           string
	Timeout          time.Duration
	QuarantineFolder string
}

// GetWorker returns the worker configuration
func (c *Config) GetWorker() (WorkerConfig, error) {
	budget, err := c.GetDuration("worker.time_budget")
	if err != nil {
		return WorkerConfig{}, err
	}
	reserve, err := c.GetDuration("worker.time_reserve")
	if err != nil {
		return WorkerConfig{}, err
	}
	deepReserve, err := c.GetDuration("worker.deep_analysis_reserve")
	if err != nil {
		return WorkerConfig{}, err
	}
	return WorkerConfig{
		TimeBudget:          budget,
		BatchSize:           c.GetInt("worker.batch_size"),
		MaxBatchSize:        c.GetInt("worker.max_batch_size"),
		MaxMessagesPerItem:  c.GetInt("worker.max_messages_per_item"),
		MaxAttempts:         c.GetInt("worker.max_attempts"),
		TimeReserve:         reserve,
		DeepAnalysisReserve: deepReserve,
	}, nil
}

// GetQueue returns the queue configuration
func (c *Config) GetQueue() QueueConfig {
	return QueueConfig{
		Type:          c.GetString("queue.type"),
		RedisAddr:     c.GetString("queue.redis_addr"),
		RedisPassword: c.GetString("queue.redis_password"),
		RedisDB:       c.GetInt("queue.redis_db"),
		KeyPrefix:     c.GetString("queue.key_prefix"),
	}
}

// GetIntel returns the threat-intel cache configuration
func (c *Config) GetIntel() (IntelConfig, error) {
	urlTTL, err := c.GetDuration("intel.url_ttl")
	if err != nil {
		return IntelConfig{}, err
	}
	domainTTL, err := c.GetDuration("intel.domain_ttl")
	if err != nil {
		return IntelConfig{}, err
	}
	ipTTL, err := c.GetDuration("intel.ip_ttl")
	if err != nil {
		return IntelConfig{}, err
	}
	cleanup, err := c.GetDuration("intel.cleanup_frequency")
	if err != nil {
		return IntelConfig{}, err
	}
	return IntelConfig{
		URLTTL:           urlTTL,
		DomainTTL:        domainTTL,
		IPTTL:            ipTTL,
		URLMaxSize:       c.GetInt("intel.url_max_size"),
		DomainMaxSize:    c.GetInt("intel.domain_max_size"),
		IPMaxSize:        c.GetInt("intel.ip_max_size"),
		CleanupFrequency: cleanup,
	}, nil
}

// GetAnalyzer returns the analyzer configuration
func (c *Config) GetAnalyzer() AnalyzerConfig {
	return AnalyzerConfig{
		Provider:            c.GetString("analyzer.provider"),
		SuspiciousThreshold: c.GetFloat64("analyzer.suspicious_threshold"),
		QuarantineThreshold: c.GetFloat64("analyzer.quarantine_threshold"),
		BlockThreshold:      c.GetFloat64("analyzer.block_threshold"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetGmail returns the Gmail provider configuration
func (c *Config) GetGmail() GmailConfig {
	return GmailConfig{
		ClientID:           c.GetString("providers.gmail.client_id"),
		ClientSecret:       c.GetString("providers.gmail.client_secret"),
		QuarantineLabel:    c.GetString("providers.gmail.quarantine_label"),
		ServiceAccountJSON: c.GetString("providers.gmail.service_account_json"),
	}
}

// GetMSGraph returns the Microsoft Graph provider configuration
func (c *Config) GetMSGraph() (MSGraphConfig, error) {
	timeout, err := c.GetDuration("providers.msgraph.timeout")
	if err != nil {
		return MSGraphConfig{}, err
	}
	return MSGraphConfig{
		ClientID:         c.GetString("providers.msgraph.client_id"),
		ClientSecret:     c.GetString("providers.msgraph.client_secret"),
		Tenant:           c.GetString("providers.msgraph.tenant"),
		Timeout:          timeout,
		QuarantineFolder: c.GetString("providers.msgraph.quarantine_folder"),
	}, nil
}
