package config

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/pegtmpl/internal/cli/output"
	"github.com/leapstack-labs/pegtmpl/pkg/pegtmpl"
)

// Validate checks option values that flags and files cannot constrain.
func (c *Config) Validate() error {
	if _, err := output.ParseMode(c.Output); err != nil {
		return err
	}
	if _, err := pegtmpl.ParseLabelPolicy(c.LabelPolicy); err != nil {
		return fmt.Errorf("label_policy: %w", err)
	}
	if c.HistoryLimit < 0 {
		return errors.New("history_limit must not be negative")
	}
	if c.Serve.Debounce < 0 {
		return errors.New("serve.debounce must not be negative")
	}
	return nil
}
