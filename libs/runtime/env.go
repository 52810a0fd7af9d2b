package runtime

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given files into the process
// environment without overriding values that are already set. Missing files
// are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}
