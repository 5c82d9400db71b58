package postgres

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSNDefaults(t *testing.T) {
	opts := NewOptions()
	opts.Password = "secret"

	dsn := BuildDSN(opts)

	for _, part := range []string{
		"host=127.0.0.1",
		"port=5432",
		"user=documind",
		"password=secret",
		"dbname=documind",
		"sslmode=disable",
		"application_name=documind",
	} {
		assert.Contains(t, dsn, part)
	}

	assert.Empty(t, BuildDSN(nil))
}

func TestBuildDSNQuotesAwkwardPasswords(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     string
	}{
		{"普通密码不加引号", "secret", "password=secret"},
		{"空密码", "", "password=''"},
		{"含空格", "pass word", "password='pass word'"},
		{"含单引号", "pass'word", "password='pass''word'"},
		{"含反斜杠", `pass\word`, `password='pass\\word'`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			opts.Password = tt.password
			assert.Contains(t, BuildDSN(opts), tt.want)
		})
	}
}

func TestBuildURIEncodesPassword(t *testing.T) {
	opts := NewOptions()
	opts.Password = "p@ss/word"

	uri := BuildURI(opts)

	assert.Contains(t, uri, "documind:p%40ss%2Fword@127.0.0.1:5432/documind")
	assert.Contains(t, uri, "sslmode=disable")
	assert.Contains(t, uri, "application_name=documind")
	assert.Empty(t, BuildURI(nil))
}

func TestQuoteDSNValue(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"simple", "simple"},
		{"", "''"},
		{"with space", "'with space'"},
		{"with'quote", "'with''quote'"},
		{`with\backslash`, `'with\\backslash'`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, quoteDSNValue(tt.input), "quoteDSNValue(%q)", tt.input)
	}
}

func TestOptionsRedactPassword(t *testing.T) {
	opts := NewOptions()
	opts.Password = "supersecret"

	data, err := json.Marshal(opts)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "supersecret")
	assert.Contains(t, string(data), redactedPassword)

	str := opts.String()
	assert.NotContains(t, str, "supersecret")
	assert.Contains(t, str, redactedPassword)

	// 空密码不输出占位符，便于区分"未配置"
	opts.Password = ""
	data, err = json.Marshal(opts)
	require.NoError(t, err)
	assert.NotContains(t, string(data), redactedPassword)
}
