package env

import (
	"os"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
)

// Env holds the values read from the .env file. The process environment
// fills in whatever the file leaves out.
var Env map[string]string

func GetEnv(key, def string) string {
	if val, ok := Env[key]; ok {
		return val
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// SetupEnvFile reads ENV_FILE when set, otherwise the first .env found
// between the working directory and the repository root.
func SetupEnvFile() {
	candidates := []string{".env", "../../.env", "../../../.env"}
	if path := os.Getenv("ENV_FILE"); path != "" {
		candidates = []string{path}
	}

	for _, path := range candidates {
		values, err := godotenv.Read(path)
		if err == nil {
			Env = values
			return
		}
	}

	Env = map[string]string{}
	if IsDev() {
		log.Warnf("[Env] No .env file found (tried %v), using process environment", candidates)
	}
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
