package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndRequiredKeys(t *testing.T) {
	os.Setenv("APCA_API_KEY_ID", "key")
	os.Setenv("APCA_API_SECRET_KEY", "secret")
	defer os.Unsetenv("APCA_API_KEY_ID")
	defer os.Unsetenv("APCA_API_SECRET_KEY")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "key", cfg.AlpacaAPIKeyID)
	require.Equal(t, "https://paper-api.alpaca.markets", cfg.AlpacaBaseURL)
	require.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoad_MissingCredentialsErrors(t *testing.T) {
	os.Unsetenv("APCA_API_KEY_ID")
	os.Unsetenv("APCA_API_SECRET_KEY")

	_, err := Load("")
	require.Error(t, err)
}
