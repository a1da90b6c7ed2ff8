package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPostgresDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		Driver:   "postgres",
		Host:     "db.internal",
		Port:     5433,
		Name:     "portal",
		User:     "portal",
		Password: "secret",
	})
	require.NoError(t, err)
	require.Contains(t, dsn, "host=db.internal")
	require.Contains(t, dsn, "port=5433")
	require.Contains(t, dsn, "dbname=portal")
	require.Contains(t, dsn, "password=secret")
	require.Contains(t, dsn, "sslmode=disable")
}

func TestBuildPostgresDSNRequiresUserAndName(t *testing.T) {
	_, err := buildPostgresDSN(Config{Driver: "postgres"})
	require.Error(t, err)
}

func TestBuildPostgresDSNPrefersExplicitDSN(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{DSN: "host=custom"})
	require.NoError(t, err)
	require.Equal(t, "host=custom", dsn)
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		Driver:   "mysql",
		Host:     "db.internal",
		Name:     "portal",
		User:     "portal",
		Password: "secret",
	})
	require.NoError(t, err)
	require.Equal(t, "portal:secret@tcp(db.internal:3306)/portal?charset=utf8mb4&parseTime=True&loc=UTC", dsn)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}
