package postgres

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
)

// redactedPassword 序列化时替代真实密码的占位符。
const redactedPassword = "[REDACTED]"

// Options PostgreSQL 连接配置。密码不参与 JSON 序列化，
// 运行时优先从 POSTGRES_PASSWORD 环境变量读取。
type Options struct {
	Host                  string        `json:"host" mapstructure:"host"`
	Port                  int           `json:"port" mapstructure:"port"`
	Username              string        `json:"username" mapstructure:"username"`
	Password              string        `json:"-" mapstructure:"password"`
	Database              string        `json:"database" mapstructure:"database"`
	SSLMode               string        `json:"ssl-mode" mapstructure:"ssl-mode"`
	MaxIdleConnections    int           `json:"max-idle-connections" mapstructure:"max-idle-connections"`
	MaxOpenConnections    int           `json:"max-open-connections" mapstructure:"max-open-connections"`
	MaxConnectionLifeTime time.Duration `json:"max-connection-life-time" mapstructure:"max-connection-life-time"`
	LogLevel              int           `json:"log-level" mapstructure:"log-level"`
}

// NewOptions 返回带默认值的配置，指向本地的 documind 库。
func NewOptions() *Options {
	return &Options{
		Host:                  "127.0.0.1",
		Port:                  5432,
		Username:              "documind",
		Password:              "",
		Database:              "documind",
		SSLMode:               "disable",
		MaxIdleConnections:    10,
		MaxOpenConnections:    100,
		MaxConnectionLifeTime: time.Hour,
		LogLevel:              1, // Silent
	}
}

// MarshalJSON 密码以占位符输出，避免配置转储时泄露。
func (o *Options) MarshalJSON() ([]byte, error) {
	type plain Options
	password := ""
	if o.Password != "" {
		password = redactedPassword
	}
	return json.Marshal(struct {
		plain
		Password string `json:"password"`
	}{
		plain:    plain(*o),
		Password: password,
	})
}

// String 可直接写日志的摘要，密码同样脱敏。
func (o *Options) String() string {
	password := ""
	if o.Password != "" {
		password = redactedPassword
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		o.Username, password, o.Host, o.Port, o.Database, o.SSLMode)
}

// Complete 填充缺省值。默认值已在 NewOptions 设置，这里只兜底
// 配置文件写了零值的情况。
func (o *Options) Complete() error {
	if o.Database == "" {
		o.Database = "documind"
	}
	if o.SSLMode == "" {
		o.SSLMode = "disable"
	}
	return nil
}

// Validate 校验配置。CLI 未给密码时回落到 POSTGRES_PASSWORD 环境变量。
func (o *Options) Validate() error {
	if o.Password == "" {
		o.Password = os.Getenv("POSTGRES_PASSWORD")
	}

	// 密码经 CLI 参数传入会留在进程列表与 shell 历史里
	if o.Password != "" && os.Getenv("POSTGRES_PASSWORD") == "" {
		fmt.Fprintln(os.Stderr, "WARNING: passing the PostgreSQL password on the command line is insecure; prefer the POSTGRES_PASSWORD environment variable")
	}

	return nil
}

// AddFlags 注册 PostgreSQL 相关的命令行参数。
func (o *Options) AddFlags(fs *pflag.FlagSet, namePrefix string) {
	fs.StringVar(&o.Host, namePrefix+"host", o.Host, "PostgreSQL host")
	fs.IntVar(&o.Port, namePrefix+"port", o.Port, "PostgreSQL port")
	fs.StringVar(&o.Username, namePrefix+"username", o.Username, "PostgreSQL username")
	fs.StringVar(&o.Password, namePrefix+"password", o.Password, "PostgreSQL password (prefer POSTGRES_PASSWORD env var)")
	fs.StringVar(&o.Database, namePrefix+"database", o.Database, "PostgreSQL database name")
	fs.StringVar(&o.SSLMode, namePrefix+"ssl-mode", o.SSLMode, "PostgreSQL SSL mode")
	fs.IntVar(&o.MaxIdleConnections, namePrefix+"max-idle-connections", o.MaxIdleConnections, "Max idle connections in the pool")
	fs.IntVar(&o.MaxOpenConnections, namePrefix+"max-open-connections", o.MaxOpenConnections, "Max open connections in the pool")
	fs.DurationVar(&o.MaxConnectionLifeTime, namePrefix+"max-connection-life-time", o.MaxConnectionLifeTime, "Max lifetime of a pooled connection")
	fs.IntVar(&o.LogLevel, namePrefix+"log-level", o.LogLevel, "GORM log level (1=silent 2=error 3=warn 4=info)")
}
