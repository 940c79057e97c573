package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env             string `mapstructure:"env"`
	Port            int    `mapstructure:"port"`
	ShutdownSeconds int    `mapstructure:"shutdown_seconds"`
}

type MongoConfig struct {
	URI                     string `mapstructure:"uri"`
	Database                string `mapstructure:"database"`
	ConversationsCollection string `mapstructure:"conversations_collection"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	Topic    string   `mapstructure:"topic"`
	GroupID  string   `mapstructure:"group_id"`
	Disabled bool     `mapstructure:"disabled"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	TypingRatePerSecond  int   `mapstructure:"typing_rate_per_second"`
}

type ChatConfig struct {
	TypingWindowSeconds int `mapstructure:"typing_window_seconds"`
}

type Config struct {
	App   AppConfig   `mapstructure:"app"`
	Mongo MongoConfig `mapstructure:"mongodb"`
	Redis RedisConfig `mapstructure:"redis"`
	Kafka KafkaConfig `mapstructure:"kafka"`
	JWT   JWTConfig   `mapstructure:"jwt"`
	WS    WSConfig    `mapstructure:"ws"`
	Chat  ChatConfig  `mapstructure:"chat"`

	// derived
	ShutdownTimeout time.Duration
	PingInterval    time.Duration
	WriteDeadline   time.Duration
	TypingWindow    time.Duration
}

func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	// sensible defaults
	if c.App.Port == 0 {
		c.App.Port = 8084
	}
	if c.App.ShutdownSeconds == 0 {
		c.App.ShutdownSeconds = 10
	}
	if c.Mongo.ConversationsCollection == "" {
		c.Mongo.ConversationsCollection = "conversations"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "chat"
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "chat.message.sent"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "chat-service-group"
	}
	if c.WS.PingIntervalSeconds == 0 {
		c.WS.PingIntervalSeconds = 25
	}
	if c.WS.WriteDeadlineSeconds == 0 {
		c.WS.WriteDeadlineSeconds = 10
	}
	if c.WS.MaxMessageSizeBytes == 0 {
		c.WS.MaxMessageSizeBytes = 64 * 1024
	}
	if c.WS.TypingRatePerSecond == 0 {
		c.WS.TypingRatePerSecond = 5
	}
	if c.Chat.TypingWindowSeconds == 0 {
		c.Chat.TypingWindowSeconds = 4
	}
	c.ShutdownTimeout = time.Duration(c.App.ShutdownSeconds) * time.Second
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.TypingWindow = time.Duration(c.Chat.TypingWindowSeconds) * time.Second
	return &c, nil
}
