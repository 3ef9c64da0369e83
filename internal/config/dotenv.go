package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from path without overriding ones
// already set. A missing file is ignored unless required is true.
func LoadDotEnv(path string, required bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrNotExist) && !required {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}
