package services

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"clip-metrics/models"
	"clip-metrics/utils"
)

// InputCleaner turns raw user input into resolved, unique source URLs.
type InputCleaner struct {
	resolver *Resolver
	logger   *utils.Logger
}

// NewInputCleaner creates an InputCleaner with the given logger.
func NewInputCleaner(resolver *Resolver, logger *utils.Logger) *InputCleaner {
	return &InputCleaner{resolver: resolver, logger: logger}
}

// Clean resolves every non-blank, non-comment line. Unsupported URLs and
// repeats of the same content are dropped with a warning. An input that
// leaves nothing to process is an ErrUnsupportedURL.
func (c *InputCleaner) Clean(lines []string) ([]*models.SourceURL, error) {
	seen := utils.NewKeySet()
	result := make([]*models.SourceURL, 0, len(lines))
	var lastErr error
	considered := 0

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		considered++

		src, err := c.resolver.Resolve(line)
		if err != nil {
			c.logger.Warn("[cleaner] Dropping input: %v", err)
			lastErr = err
			continue
		}

		if !seen.Add(contentKey(src)) {
			c.logger.Debug("[cleaner] Duplicate content skipped: %s", line)
			continue
		}
		result = append(result, src)
	}

	c.logger.Info("[cleaner] Cleaned %d → %d inputs (dropped %d)",
		considered, len(result), considered-len(result))

	if len(result) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: no url given", ErrUnsupportedURL)
	}
	return result, nil
}

// ReadLines reads one input per line from r.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return lines, nil
}

func contentKey(src *models.SourceURL) string {
	return string(src.Platform) + ":" + src.ContentID
}
