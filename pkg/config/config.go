// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"maps"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/livekit/protocol/logger"

	"github.com/orbit-rtc/orbit-forwarder/pkg/sfu/mime"
)

const (
	generatedCLIFlagUsage = "generated"

	// smallest RTP packet, a fixed header without payload
	minPacketSize = 12
)

var (
	ErrInvalidForwardingConfig = errors.New("invalid forwarding config")
	ErrInvalidStatusConfig     = errors.New("invalid status config")
)

type Config struct {
	PrometheusPort uint32           `yaml:"prometheus_port,omitempty"`
	Forwarding     ForwardingConfig `yaml:"forwarding,omitempty"`
	Status         StatusConfig     `yaml:"status,omitempty"`
	Logging        LoggingConfig    `yaml:"logging,omitempty"`

	Development bool `yaml:"development,omitempty"`
}

type ForwardingConfig struct {
	// period of the forwarding tick
	TickInterval time.Duration `yaml:"tick_interval,omitempty"`
	// a tick taking longer than this is logged and counted
	LatencyBudget time.Duration `yaml:"latency_budget,omitempty"`
	// gap inserted into a viewer's outgoing numbering at every source switch
	SeqStep       uint16 `yaml:"seq_step,omitempty"`
	TimestampStep uint32 `yaml:"timestamp_step,omitempty"`

	MaxPacketSize  int `yaml:"max_packet_size,omitempty"`
	MaxFrames      int `yaml:"max_frames,omitempty"`
	FIRHistorySize int `yaml:"fir_history_size,omitempty"`

	// payload type to codec, "VP8" or "video/VP8"
	PayloadTypes map[uint8]string `yaml:"payload_types,omitempty"`

	SpeakerHold     time.Duration `yaml:"speaker_hold,omitempty"`
	SpeakerDebounce time.Duration `yaml:"speaker_debounce,omitempty"`
}

// StatusConfig enables publishing of forwarding snapshots to redis when Address is set.
type StatusConfig struct {
	Address   string        `yaml:"address,omitempty"`
	Username  string        `yaml:"username,omitempty"`
	Password  string        `yaml:"password,omitempty"`
	DB        int           `yaml:"db,omitempty"`
	KeyPrefix string        `yaml:"key_prefix,omitempty"`
	Interval  time.Duration `yaml:"interval,omitempty"`
	// how long a published snapshot outlives its node
	TTL time.Duration `yaml:"ttl,omitempty"`
}

type LoggingConfig struct {
	logger.Config `yaml:",inline"`
	PionLevel     string `yaml:"pion_level,omitempty"`
}

var DefaultConfig = Config{
	PrometheusPort: 0,
	Forwarding: ForwardingConfig{
		TickInterval:   time.Millisecond,
		LatencyBudget:  5 * time.Millisecond,
		SeqStep:        1,
		TimestampStep:  2880,
		MaxPacketSize:  1500,
		MaxFrames:      4096,
		FIRHistorySize: 1024,
		PayloadTypes: map[uint8]string{
			45:  mime.MimeTypeAV1.String(),
			96:  mime.MimeTypeVP8.String(),
			98:  mime.MimeTypeVP9.String(),
			100: mime.MimeTypeVP8.String(),
			102: mime.MimeTypeH264.String(),
		},
		SpeakerHold:     2 * time.Second,
		SpeakerDebounce: 100 * time.Millisecond,
	},
	Status: StatusConfig{
		KeyPrefix: "orbit:forwarding",
		Interval:  5 * time.Second,
		TTL:       30 * time.Second,
	},
	Logging: LoggingConfig{
		PionLevel: "error",
	},
	Development: false,
}

func NewConfig(confString string, strictMode bool, c *cli.Context, baseFlags []cli.Flag) (*Config, error) {
	// start with defaults
	marshalled, err := yaml.Marshal(&DefaultConfig)
	if err != nil {
		return nil, err
	}

	var conf Config
	err = yaml.Unmarshal(marshalled, &conf)
	if err != nil {
		return nil, err
	}

	if confString != "" {
		// a map in the file replaces the default one
		conf.Forwarding.PayloadTypes = nil

		decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(confString)))
		decoder.KnownFields(strictMode)
		if err := decoder.Decode(&conf); err != nil {
			return nil, fmt.Errorf("could not parse config: %v", err)
		}
		if len(conf.Forwarding.PayloadTypes) == 0 {
			conf.Forwarding.PayloadTypes = maps.Clone(DefaultConfig.Forwarding.PayloadTypes)
		}
	}

	if c != nil {
		if err := conf.updateFromCLI(c, baseFlags); err != nil {
			return nil, err
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("could not validate config: %v", err)
	}

	if conf.Logging.Level == "" && conf.Development {
		conf.Logging.Level = "debug"
	}
	if conf.Logging.PionLevel != "" {
		if conf.Logging.ComponentLevels == nil {
			conf.Logging.ComponentLevels = map[string]string{}
		}
		conf.Logging.ComponentLevels["pion"] = conf.Logging.PionLevel
	}

	return &conf, nil
}

func (conf *Config) Validate() error {
	f := &conf.Forwarding
	if f.TickInterval <= 0 {
		return errors.Wrapf(ErrInvalidForwardingConfig, "tick_interval must be positive, got %s", f.TickInterval)
	}
	if f.LatencyBudget < 0 {
		return errors.Wrapf(ErrInvalidForwardingConfig, "latency_budget cannot be negative, got %s", f.LatencyBudget)
	}
	if f.MaxPacketSize < minPacketSize {
		return errors.Wrapf(ErrInvalidForwardingConfig, "max_packet_size must be at least %d, got %d", minPacketSize, f.MaxPacketSize)
	}
	for pt, m := range f.PayloadTypes {
		if pt > 127 {
			return errors.Wrapf(ErrInvalidForwardingConfig, "payload type %d out of range", pt)
		}
		if mime.NormalizeMimeType(m) == mime.MimeTypeUnknown {
			return errors.Wrapf(ErrInvalidForwardingConfig, "unsupported mime type %q for payload type %d", m, pt)
		}
	}

	if conf.Status.Address != "" && conf.Status.Interval <= 0 {
		return errors.Wrapf(ErrInvalidStatusConfig, "interval must be positive, got %s", conf.Status.Interval)
	}
	return nil
}

// MimeTypes returns the payload type map in normalized form.
func (f *ForwardingConfig) MimeTypes() map[uint8]mime.MimeType {
	mimeTypes := make(map[uint8]mime.MimeType, len(f.PayloadTypes))
	for pt, m := range f.PayloadTypes {
		mimeTypes[pt] = mime.NormalizeMimeType(m)
	}
	return mimeTypes
}

// ExpandPath resolves env vars and a leading ~ in a path taken from flags or config.
func ExpandPath(path string) (string, error) {
	return homedir.Expand(os.ExpandEnv(path))
}

type configNode struct {
	TypeNode  reflect.Value
	TagPrefix string
}

func (conf *Config) ToCLIFlagNames(existingFlags []cli.Flag) map[string]reflect.Value {
	existingFlagNames := map[string]bool{}
	for _, flag := range existingFlags {
		for _, flagName := range flag.Names() {
			existingFlagNames[flagName] = true
		}
	}

	flagNames := map[string]reflect.Value{}
	var currNode configNode
	nodes := []configNode{{reflect.ValueOf(conf).Elem(), ""}}
	for len(nodes) > 0 {
		currNode, nodes = nodes[0], nodes[1:]
		for i := 0; i < currNode.TypeNode.NumField(); i++ {
			// inspect yaml tag from struct field to get path
			field := currNode.TypeNode.Type().Field(i)
			yamlTagArray := strings.SplitN(field.Tag.Get("yaml"), ",", 2)
			yamlTag := yamlTagArray[0]
			isInline := false
			if len(yamlTagArray) > 1 && yamlTagArray[1] == "inline" {
				isInline = true
			}
			if (yamlTag == "" && (!isInline || currNode.TagPrefix == "")) || yamlTag == "-" {
				continue
			}
			yamlPath := yamlTag
			if currNode.TagPrefix != "" {
				if isInline {
					yamlPath = currNode.TagPrefix
				} else {
					yamlPath = fmt.Sprintf("%s.%s", currNode.TagPrefix, yamlTag)
				}
			}
			if existingFlagNames[yamlPath] {
				continue
			}

			value := currNode.TypeNode.Field(i)
			if value.Kind() == reflect.Struct {
				nodes = append(nodes, configNode{value, yamlPath})
			} else {
				flagNames[yamlPath] = value
			}
		}
	}

	return flagNames
}

// GenerateCLIFlags exposes every scalar config field as a flag named after its yaml path, e.g.
// --forwarding.tick_interval. Durations are flags of their own type.
func GenerateCLIFlags(existingFlags []cli.Flag, hidden bool) ([]cli.Flag, error) {
	blankConfig := &Config{}
	flags := make([]cli.Flag, 0)
	for name, value := range blankConfig.ToCLIFlagNames(existingFlags) {
		envVar := fmt.Sprintf("ORBIT_%s", strings.ToUpper(strings.Replace(name, ".", "_", -1)))

		if value.Type() == reflect.TypeOf(time.Duration(0)) {
			flags = append(flags, &cli.DurationFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			})
			continue
		}

		kind := value.Kind()
		if kind == reflect.Ptr {
			kind = value.Type().Elem().Kind()
		}

		var flag cli.Flag
		switch kind {
		case reflect.Bool:
			flag = &cli.BoolFlag{
				Name:   name,
				Usage:  generatedCLIFlagUsage,
				Hidden: hidden,
			}
		case reflect.String:
			flag = &cli.StringFlag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Int, reflect.Int32, reflect.Int64:
			flag = &cli.Int64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			flag = &cli.Uint64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Float32, reflect.Float64:
			flag = &cli.Float64Flag{
				Name:    name,
				EnvVars: []string{envVar},
				Usage:   generatedCLIFlagUsage,
				Hidden:  hidden,
			}
		case reflect.Slice, reflect.Map, reflect.Struct:
			// only settable from yaml
			continue
		default:
			return flags, fmt.Errorf("cli flag generation unsupported for config type: %s is a %s", name, kind.String())
		}

		flags = append(flags, flag)
	}

	return flags, nil
}

func (conf *Config) updateFromCLI(c *cli.Context, baseFlags []cli.Flag) error {
	generatedFlagNames := conf.ToCLIFlagNames(baseFlags)
	for _, flag := range c.App.Flags {
		flagName := flag.Names()[0]

		// the `c.App.Name != "test"` check is needed because `c.IsSet(...)` is always false in unit tests
		if !c.IsSet(flagName) && c.App.Name != "test" {
			continue
		}

		configValue, ok := generatedFlagNames[flagName]
		if !ok {
			continue
		}

		if configValue.Type() == reflect.TypeOf(time.Duration(0)) {
			configValue.SetInt(int64(c.Duration(flagName)))
			continue
		}

		kind := configValue.Kind()
		if kind == reflect.Ptr {
			// instantiate value to be set
			configValue.Set(reflect.New(configValue.Type().Elem()))

			kind = configValue.Type().Elem().Kind()
			configValue = configValue.Elem()
		}

		switch kind {
		case reflect.Bool:
			configValue.SetBool(c.Bool(flagName))
		case reflect.String:
			configValue.SetString(c.String(flagName))
		case reflect.Int, reflect.Int32, reflect.Int64:
			configValue.SetInt(c.Int64(flagName))
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			configValue.SetUint(c.Uint64(flagName))
		case reflect.Float32, reflect.Float64:
			configValue.SetFloat(c.Float64(flagName))
		default:
			return fmt.Errorf("unsupported generated cli flag type for config: %s is a %s", flagName, kind.String())
		}
	}

	if c.IsSet("dev") {
		conf.Development = c.Bool("dev")
	}
	if c.IsSet("redis-host") {
		conf.Status.Address = c.String("redis-host")
	}
	if c.IsSet("redis-password") {
		conf.Status.Password = c.String("redis-password")
	}

	return nil
}

// Note: only pass in logr.Logger with default depth
func SetLogger(l logger.Logger) {
	logger.SetLogger(l, "orbit")
}

func InitLoggerFromConfig(config *LoggingConfig) {
	logger.InitFromConfig(&config.Config, "orbit")
}
