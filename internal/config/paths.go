package config

import (
	"bufio"
	"bytes"
	"errors"
	"os"
	"strings"

	"github.com/hyperjump/codesearch/internal/apperr"
)

// ReadPaths parses a newline-delimited list of directories. Blank lines and lines
// starting with "#" are ignored. A missing file or an empty list is a config error.
func ReadPaths(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperr.Config("read paths file", err)
	}
	var dirs []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		dirs = append(dirs, line)
	}
	if err := sc.Err(); err != nil {
		return nil, apperr.Config("read paths file", err)
	}
	if len(dirs) == 0 {
		return nil, apperr.Config("read paths file", errors.New(path+" lists no directories"))
	}
	return dirs, nil
}
