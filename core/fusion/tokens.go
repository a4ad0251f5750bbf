package fusion

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/siherrmann/newsgraph/helper"
)

// TokenCounter estimates the prompt size of a context item.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter counts four runes per token, rounded up.
type HeuristicCounter struct{}

func (HeuristicCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// TiktokenCounter counts tokens with a tiktoken encoding. The encoding is
// loaded on first use; if it cannot be loaded the heuristic is used.
type TiktokenCounter struct {
	encoding string
	logger   *slog.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenCounter creates a counter for an encoding such as "cl100k_base".
func NewTiktokenCounter(encoding string, logger *slog.Logger) *TiktokenCounter {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	return &TiktokenCounter{
		encoding: encoding,
		logger:   helper.OrDiscard(logger).With(slog.String("component", "tokenizer")),
	}
}

func (c *TiktokenCounter) init() error {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			c.initErr = helper.NewError("load encoding "+c.encoding, err)
			c.logger.Warn("Falling back to heuristic token count", slog.String("error", c.initErr.Error()))
			return
		}
		c.enc = enc
	})
	return c.initErr
}

func (c *TiktokenCounter) Count(text string) int {
	if err := c.init(); err != nil {
		return HeuristicCounter{}.Count(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// NewCounter returns the counter named by the fusion config.
func NewCounter(name string, logger *slog.Logger) TokenCounter {
	if name == "" || name == "heuristic" {
		return HeuristicCounter{}
	}
	return NewTiktokenCounter(name, logger)
}
