package config

import (
	"os"
	"testing"
)

func TestNewFromEnv(t *testing.T) {
	setEnv := func(key, value string) {
		t.Helper()
		t.Setenv(key, value)
	}

	t.Run("Success", func(t *testing.T) {
		setEnv("GEMINI_API_KEY", "gemini_key")
		setEnv("ADMIN_SECRET", "secret")
		os.Unsetenv("TEXT_PROVIDER")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.GeminiAPIKey != "gemini_key" {
			t.Errorf("Expected GeminiAPIKey to be 'gemini_key', got '%s'", cfg.GeminiAPIKey)
		}
		if cfg.TextProvider != "gemini" {
			t.Errorf("Expected default TextProvider 'gemini', got '%s'", cfg.TextProvider)
		}
		if cfg.DatabasePath != "data/meal-assistant.db" {
			t.Errorf("Expected default DatabasePath, got '%s'", cfg.DatabasePath)
		}
	})

	t.Run("MissingGeminiAPIKey", func(t *testing.T) {
		setEnv("ADMIN_SECRET", "secret")
		setEnv("TEXT_PROVIDER", "gemini")
		os.Unsetenv("GEMINI_API_KEY")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing GEMINI_API_KEY, got nil")
		}
		expectedError := "GEMINI_API_KEY environment variable not set"
		if err.Error() != expectedError {
			t.Errorf("Expected error '%s', got '%s'", expectedError, err.Error())
		}
	})

	t.Run("GroqProvider", func(t *testing.T) {
		setEnv("TEXT_PROVIDER", "groq")
		setEnv("GROQ_API_KEY", "groq_key")
		setEnv("ADMIN_SECRET", "secret")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if cfg.GroqAPIKey != "groq_key" {
			t.Errorf("Expected GroqAPIKey to be 'groq_key', got '%s'", cfg.GroqAPIKey)
		}
	})

	t.Run("MissingAdminSecret", func(t *testing.T) {
		setEnv("GEMINI_API_KEY", "gemini_key")
		setEnv("TEXT_PROVIDER", "gemini")
		os.Unsetenv("ADMIN_SECRET")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for missing ADMIN_SECRET, got nil")
		}
	})

	t.Run("UnknownProvider", func(t *testing.T) {
		setEnv("TEXT_PROVIDER", "llama-at-home")
		setEnv("ADMIN_SECRET", "secret")

		_, err := NewFromEnv()
		if err == nil {
			t.Fatal("Expected an error for unknown provider, got nil")
		}
	})

	t.Run("AllowedUserIDs", func(t *testing.T) {
		setEnv("GEMINI_API_KEY", "gemini_key")
		setEnv("TEXT_PROVIDER", "gemini")
		setEnv("ADMIN_SECRET", "secret")
		setEnv("TELEGRAM_ALLOWED_USER_IDS", "123, 456")

		cfg, err := NewFromEnv()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if len(cfg.TelegramAllowedUserIDs) != 2 || cfg.TelegramAllowedUserIDs[1] != 456 {
			t.Errorf("Expected allowed IDs [123 456], got %v", cfg.TelegramAllowedUserIDs)
		}
	})
}
