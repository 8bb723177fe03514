package config

import "github.com/joho/godotenv"

// LoadDotEnv reads a .env file into the environment.
// Existing env vars are never overridden (env takes precedence).
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}
