package cmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/salonsync/salonsync/internal/output"
	"github.com/salonsync/salonsync/internal/syncconfig"
	"github.com/spf13/cobra"
)

// configKey binds a dotted key to a field of the device config.
type configKey struct {
	get func(c *syncconfig.Config) string
	set func(c *syncconfig.Config, v string) error
}

// intSetter accepts 1..max; an empty value clears the setting.
func intSetter(max int, field func(c *syncconfig.Config) **int) func(*syncconfig.Config, string) error {
	return func(c *syncconfig.Config, v string) error {
		if v == "" {
			*field(c) = nil
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > max {
			return fmt.Errorf("must be a whole number from 1 to %d", max)
		}
		*field(c) = &n
		return nil
	}
}

func durationSetter(field func(c *syncconfig.Config) *string) func(*syncconfig.Config, string) error {
	return func(c *syncconfig.Config, v string) error {
		if v != "" {
			if d, err := time.ParseDuration(v); err != nil || d <= 0 {
				return fmt.Errorf("must be a positive duration like 30s or 5m")
			}
		}
		*field(c) = v
		return nil
	}
}

func intString(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

var configKeys = map[string]configKey{
	"sync.url": {
		get: func(c *syncconfig.Config) string { return c.Sync.URL },
		set: func(c *syncconfig.Config, v string) error { c.Sync.URL = strings.TrimRight(v, "/"); return nil },
	},
	"sync.business_id": {
		get: func(c *syncconfig.Config) string { return c.Sync.BusinessID },
		set: func(c *syncconfig.Config, v string) error { c.Sync.BusinessID = v; return nil },
	},
	"sync.window_days": {
		get: func(c *syncconfig.Config) string { return intString(c.Sync.WindowDays) },
		set: intSetter(syncconfig.MaxWindowDays, func(c *syncconfig.Config) **int { return &c.Sync.WindowDays }),
	},
	"sync.batch_size": {
		get: func(c *syncconfig.Config) string { return intString(c.Sync.BatchSize) },
		set: intSetter(syncconfig.MaxBatchSize, func(c *syncconfig.Config) **int { return &c.Sync.BatchSize }),
	},
	"sync.auto.enabled": {
		get: func(c *syncconfig.Config) string {
			if c.Sync.Auto.Enabled == nil {
				return ""
			}
			return strconv.FormatBool(*c.Sync.Auto.Enabled)
		},
		set: func(c *syncconfig.Config, v string) error {
			if v == "" {
				c.Sync.Auto.Enabled = nil
				return nil
			}
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("must be true or false")
			}
			c.Sync.Auto.Enabled = &b
			return nil
		},
	},
	"sync.auto.interval": {
		get: func(c *syncconfig.Config) string { return c.Sync.Auto.Interval },
		set: durationSetter(func(c *syncconfig.Config) *string { return &c.Sync.Auto.Interval }),
	},
	"sync.auto.probe": {
		get: func(c *syncconfig.Config) string { return c.Sync.Auto.Probe },
		set: durationSetter(func(c *syncconfig.Config) *string { return &c.Sync.Auto.Probe }),
	},
	"data_dir": {
		get: func(c *syncconfig.Config) string { return c.DataDir },
		set: func(c *syncconfig.Config, v string) error { c.DataDir = v; return nil },
	},
}

// effectiveConfig returns the values in use after env overrides and defaults.
func effectiveConfig() map[string]string {
	dir, _ := syncconfig.GetDataDir()
	return map[string]string{
		"sync.url":           syncconfig.GetServerURL(),
		"sync.business_id":   syncconfig.GetBusinessID(),
		"sync.window_days":   strconv.Itoa(syncconfig.GetWindowDays()),
		"sync.batch_size":    strconv.Itoa(syncconfig.GetBatchSize()),
		"sync.auto.enabled":  strconv.FormatBool(syncconfig.GetAutoSyncEnabled()),
		"sync.auto.interval": syncconfig.GetAutoSyncInterval().String(),
		"sync.auto.probe":    syncconfig.GetProbeInterval().String(),
		"data_dir":           dir,
	}
}

func lookupKey(name string) (configKey, error) {
	k, ok := configKeys[name]
	if !ok {
		return k, fmt.Errorf("unknown key %q (see: salonsync config list)", name)
	}
	return k, nil
}

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Read and change device settings",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:     "set <key> <value>",
	Short:   "Set a value (empty value restores the default)",
	Example: `  salonsync config set sync.window_days 3
  salonsync config set sync.auto.enabled false`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := lookupKey(args[0])
		if err != nil {
			return describeErr(output.ErrCodeInvalidInput, err)
		}
		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		if err := k.set(cfg, strings.TrimSpace(args[1])); err != nil {
			return describeErr(output.ErrCodeInvalidInput, fmt.Errorf("%s: %w", args[0], err))
		}
		if err := syncconfig.SaveConfig(cfg); err != nil {
			return describeErr(output.ErrCodeDatabaseError, err)
		}
		output.Success("%s = %s", args[0], k.get(cfg))
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value in use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := lookupKey(args[0]); err != nil {
			return describeErr(output.ErrCodeInvalidInput, err)
		}
		fmt.Println(effectiveConfig()[args[0]])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show all settings in use",
	RunE: func(cmd *cobra.Command, args []string) error {
		vals := effectiveConfig()
		if jsonOut {
			return output.JSON(vals)
		}
		names := make([]string, 0, len(vals))
		for k := range vals {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Printf("%-20s %s\n", k, vals[k])
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
	rootCmd.AddCommand(configCmd)
}
