/*
   Copyright @ 2021 bocloud <fushaosong@beyondcent.com>.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package configuration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	droidvold "bocloud.com/cloudnative/droidvold"
	"bocloud.com/cloudnative/droidvold/pkg/devicemanager/types"
	"bocloud.com/cloudnative/droidvold/utils/log"
)

// DiskSourceItem is one managed-storage declaration from the config file.
type DiskSourceItem struct {
	SysPattern string   `json:"sysPattern"`
	Nickname   string   `json:"nickname"`
	Flags      []string `json:"flags"`
}

// Config is the full daemon configuration, immutable after load.
type Config struct {
	DiskSources   []DiskSourceItem `json:"diskSources"`
	CommandSocket string           `json:"commandSocket"`
	HTTPAddr      string           `json:"httpAddr"`
}

var decodeOpt = viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
))

// Load reads and validates the configuration. An empty dir falls back to
// /etc/droidvold.
func Load(dir string) (*Config, error) {
	if dir == "" {
		dir = droidvold.DefaultConfigDir
	}

	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.SetDefault("commandSocket", droidvold.DefaultCommandSocket)
	v.SetDefault("httpAddr", ":8089")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to get the configuration: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeOpt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the configuration: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("failed to validate the configuration: %w", err)
	}

	// Disk sources are immutable after load; changes on disk only warn
	// until the daemon restarts.
	v.WatchConfig()
	v.OnConfigChange(func(event fsnotify.Event) {
		log.Warnf("config change detected (%s); restart to apply", event.String())
	})

	return &cfg, nil
}

// Sources converts the config items into disk source records.
func (c *Config) Sources() []*types.DiskSource {
	sources := make([]*types.DiskSource, 0, len(c.DiskSources))
	for _, item := range c.DiskSources {
		flags := 0
		for _, f := range item.Flags {
			switch strings.ToLower(f) {
			case "adoptable":
				flags |= types.FlagAdoptable
			case "defaultprimary":
				flags |= types.FlagDefaultPrimary
			}
		}
		sources = append(sources, &types.DiskSource{
			SysPattern: item.SysPattern,
			Nickname:   item.Nickname,
			Flags:      flags,
		})
	}
	return sources
}

func validate(cfg *Config) error {
	seen := map[string]bool{}
	for _, item := range cfg.DiskSources {
		if item.SysPattern == "" {
			return errors.New("disk source sysPattern should not be empty")
		}
		if item.Nickname == "" {
			return fmt.Errorf("disk source %s needs a nickname", item.SysPattern)
		}
		if seen[item.SysPattern] {
			return fmt.Errorf("duplicate disk source: %s", item.SysPattern)
		}
		seen[item.SysPattern] = true

		for _, f := range item.Flags {
			switch strings.ToLower(f) {
			case "adoptable", "defaultprimary":
			default:
				return fmt.Errorf("unknown disk source flag %q", f)
			}
		}
	}
	return nil
}
