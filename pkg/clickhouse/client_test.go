package clickhouse

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(ClientConfig{
		Host:         "ch.local",
		Port:         9000,
		Database:     "sabrlsm",
		User:         "pricer",
		Password:     "p@ss",
		DialTimeout:  5 * time.Second,
		MaxExecTime:  60 * time.Second,
		AsyncInsert:  true,
		WaitForAsync: true,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", u.Scheme)
	assert.Equal(t, "ch.local:9000", u.Host)
	assert.Equal(t, "/sabrlsm", u.Path)
	pw, _ := u.User.Password()
	assert.Equal(t, "p@ss", pw)

	q := u.Query()
	assert.Equal(t, "5s", q.Get("dial_timeout"))
	assert.Equal(t, "60", q.Get("max_execution_time"))
	assert.Equal(t, "1", q.Get("async_insert"))
	assert.Equal(t, "1", q.Get("wait_for_async_insert"))
	assert.Empty(t, q.Get("read_timeout"))
}

func TestBuildDSNHTTP(t *testing.T) {
	u, err := url.Parse(buildDSN(ClientConfig{Host: "h", Port: 8123, Database: "d", UseHTTP: true}))
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)
	assert.NotContains(t, u.RawQuery, "async_insert")
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(context.Background())
	assert.ErrorIs(t, err, ErrNoHost)
}
