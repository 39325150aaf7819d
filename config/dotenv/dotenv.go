package dotenv

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Importing this package loads .env (or $DOTENV_FILE) into the process
// environment. Variables already set are left alone.
func init() {
	file := os.Getenv("DOTENV_FILE")
	if file == "" {
		file = ".env"
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}
}
