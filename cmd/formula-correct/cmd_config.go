package main

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"formula-corrector/internal/types"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the configuration",
	}
	cmd.AddCommand(newConfigShowCmd(), newConfigSetCmd(), newConfigSetKeyCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			cfg := *manager.GetConfig()
			cfg.OpenAIAPIKey = maskKey(manager.GetAPIKey())
			cfg.OpenAIModel = manager.GetModel()
			cfg.OpenAIBaseURL = manager.GetBaseURL()

			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", manager.GetConfigPath())
			return writeJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one field of the config file",
		Example: `  formula-correct config set similarity_backend embedding
  formula-correct config set max_tool_calls 12
  formula-correct config set completion_phrases '[all formulas fixed, done]'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			previous := manager.GetConfig()
			updated, err := setConfigField(previous, args[0], args[1])
			if err != nil {
				return err
			}
			manager.SetConfig(updated)
			if err := manager.Validate(); err != nil {
				manager.SetConfig(previous)
				return err
			}
			if err := manager.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s saved to %s\n", args[0], manager.GetConfigPath())
			return nil
		},
	}
}

// setConfigField returns a copy of cfg with the field whose JSON name is key
// set to value. Non-string fields take value as a YAML scalar or flow
// sequence.
func setConfigField(cfg *types.Config, key, value string) (*types.Config, error) {
	field, ok := configField(key)
	if !ok {
		return nil, fmt.Errorf("unknown config key %q", key)
	}

	var v interface{} = value
	if field.Type.Kind() != reflect.String {
		if err := yaml.Unmarshal([]byte(value), &v); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if v == nil {
			return nil, fmt.Errorf("missing value for %s", key)
		}
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	fields := map[string]interface{}{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields[key] = v

	data, err = json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	var updated types.Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return &updated, nil
}

func configField(key string) (reflect.StructField, bool) {
	t := reflect.TypeOf(types.Config{})
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name == key {
			return f, true
		}
	}
	return reflect.StructField{}, false
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key KEY",
		Short: "Store the OpenAI API key in the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if err := manager.SetAPIKey(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key saved to %s\n", manager.GetConfigPath())
			return nil
		},
	}
}

// maskKey hides all but the last four characters of a key
func maskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
