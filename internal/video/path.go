package video

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// TimestampLayout is the timestamp portion of generated file names.
const TimestampLayout = "2006-01-02_15-04-05"

// UniquePath creates dir if needed and returns
// dir/{base}_{timestamp}[_{n}]{ext}, choosing the first n that does not
// collide with an existing file.
func UniquePath(dir, base, ext string, now time.Time) (string, error) {
	if dir == "" {
		return "", newError(InvalidPath, dir, errors.New("empty output directory"))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", newError(InvalidPath, dir, err)
	}
	if base == "" {
		base = "output"
	}
	if ext == "" {
		ext = ".mp4"
	}

	stamp := now.Format(TimestampLayout)
	for n := 0; ; n++ {
		name := fmt.Sprintf("%s_%s%s", base, stamp, ext)
		if n > 0 {
			name = fmt.Sprintf("%s_%s_%d%s", base, stamp, n, ext)
		}
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return path, nil
		} else if err != nil {
			return "", newError(InvalidPath, path, err)
		}
	}
}
