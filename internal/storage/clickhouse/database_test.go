package clickhouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDatabase(t *testing.T) {
	tests := []struct {
		name     string
		dsn      string
		database string
		want     string
	}{
		{"dsn path", "clickhouse://localhost:9000/scope", "", "scope"},
		{"override wins", "clickhouse://localhost:9000/scope", "history", "history"},
		{"override without path", "clickhouse://localhost:9000", "history", "history"},
		{"neither", "clickhouse://localhost:9000", "", DefaultDatabase},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveDatabase(tt.dsn, tt.database)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ResolveDatabase("clickhouse://localhost:9000/scope", "prices; DROP TABLE x")
	assert.Error(t, err)
	_, err = ResolveDatabase("clickhouse://localhost:9000/bad-name", "")
	assert.Error(t, err)
}

func TestResolveDatabase_MatchesConnection(t *testing.T) {
	// NewConn and the resolver agree when no override is given.
	opts, err := parseDSN("clickhouse://user:pw@localhost:9000/scope")
	require.NoError(t, err)
	name, err := ResolveDatabase("clickhouse://user:pw@localhost:9000/scope", "")
	require.NoError(t, err)
	assert.Equal(t, opts.Auth.Database, name)
}
