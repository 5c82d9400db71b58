package postgres

import (
	"fmt"
	"net/url"
	"strings"
)

// applicationName 随每个连接上报给服务端，方便在 pg_stat_activity
// 里区分本服务的会话。
const applicationName = "documind"

// BuildDSN 把 Options 拼成 libpq 的 key=value 连接串。
// 密码按 libpq 规则加引号转义，含空格或引号的密码不会破坏解析。
func BuildDSN(opts *Options) string {
	if opts == nil {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%d user=%s", opts.Host, opts.Port, opts.Username)
	fmt.Fprintf(&b, " password=%s", quoteDSNValue(opts.Password))
	fmt.Fprintf(&b, " dbname=%s sslmode=%s", opts.Database, opts.SSLMode)
	fmt.Fprintf(&b, " application_name=%s", applicationName)
	return b.String()
}

// BuildURI 以 URI 形式给出同一份连接配置，psql 与迁移工具更偏好
// 这种格式。密码做 URL 编码。
func BuildURI(opts *Options) string {
	if opts == nil {
		return ""
	}

	query := url.Values{}
	query.Set("sslmode", opts.SSLMode)
	query.Set("application_name", applicationName)

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?%s",
		opts.Username,
		url.QueryEscape(opts.Password),
		opts.Host,
		opts.Port,
		opts.Database,
		query.Encode(),
	)
}

// quoteDSNValue 为 DSN 取值加引号：空值以及含空格、单引号或
// 反斜杠的值包进单引号，单引号双写、反斜杠双写。
func quoteDSNValue(value string) string {
	if value == "" {
		return "''"
	}
	if !strings.ContainsAny(value, " '\\") {
		return value
	}
	escaped := strings.ReplaceAll(value, "'", "''")
	escaped = strings.ReplaceAll(escaped, "\\", "\\\\")
	return "'" + escaped + "'"
}
