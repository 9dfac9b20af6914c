package util

import (
	"io"
	"os"
	"strings"
)

// tailReadLimit bounds how much of a log file is read back when surfacing a
// crash; worker logs can grow large.
const tailReadLimit = 64 * 1024

// TailFile returns up to the last n lines of the file. A missing or
// unreadable file yields an empty string; crash reporting is best effort.
func TailFile(path string, n int) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ""
	}
	if info.Size() > tailReadLimit {
		if _, err := f.Seek(-tailReadLimit, io.SeekEnd); err != nil {
			return ""
		}
	}
	bs, err := io.ReadAll(f)
	if err != nil {
		return ""
	}

	lines := strings.Split(strings.TrimRight(string(bs), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
