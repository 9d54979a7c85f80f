package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables holding secrets. They are never read from the
// config file.
const (
	EnvPrivateKey       = EnvPrefix + "_PRIVATE_KEY"
	EnvFlashbotsAuthKey = EnvPrefix + "_FLASHBOTS_AUTH_KEY"
)

type SecureConfig struct {
	PrivateKey string
	// FlashbotsKey may be empty, in which case an ephemeral key is used.
	FlashbotsKey string
}

// LoadEnv loads a .env file into the environment when one exists.
func LoadEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func LoadSecureConfig() (*SecureConfig, error) {
	privateKey, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}

	return &SecureConfig{
		PrivateKey:   privateKey,
		FlashbotsKey: os.Getenv(EnvFlashbotsAuthKey),
	}, nil
}

func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s not set", key)
	}
	return value, nil
}
