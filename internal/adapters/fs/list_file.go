package fs

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/songhahaha66/inlong/internal/ports"
)

// ListFileResolver reads one address per line. Blank lines and lines
// starting with '#' are ignored; so is anything after whitespace on a line.
type ListFileResolver struct {
	path string
}

var _ ports.Resolver = (*ListFileResolver)(nil)

// NewListFileResolver creates a resolver over path.
func NewListFileResolver(path string) *ListFileResolver {
	return &ListFileResolver{path: path}
}

// Path returns the list file path.
func (r *ListFileResolver) Path() string {
	return r.path
}

// Resolve reads the file on every call.
func (r *ListFileResolver) Resolve(ctx context.Context, groupIDs []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("read endpoint list: %w", err)
	}
	return ParseList(data), nil
}

// ParseList extracts addresses from list file content.
func ParseList(data []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, fields[0])
		}
	}
	return out
}
