package utils

import (
	"bufio"
	"os"
	"strings"

	"github.com/samber/oops"
)

// ReadLines returns the non-empty lines of a file with '#' comments removed.
func ReadLines(fileName string) ([]string, error) {
	eb := oops.With("file_name", fileName)

	f, err := os.Open(fileName)
	if err != nil {
		return nil, eb.Wrapf(err, "file open error")
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if err = scanner.Err(); err != nil {
		return nil, eb.Wrapf(err, "file scan error")
	}
	return lines, nil
}
