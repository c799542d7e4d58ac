package mlmi

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml"

	"github.com/max-27/mlmi-federated-learning/experiment"
)

// Config is the TOML experiment file: shared paths plus any number of
// custom presets that extend the built-in ones.
type Config struct {
	ArtifactsDir string              `toml:"artifacts_dir"`
	DataDir      string              `toml:"data_dir"`
	Presets      []experiment.Preset `toml:"presets"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	tree, err := toml.Load(string(data))
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Preset resolves a name against the file's custom presets first, then the
// built-in ones. The file's paths fill empty DataDir fields.
func (c *Config) Preset(name string) (experiment.Preset, error) {
	for _, p := range c.Presets {
		if p.Name == name {
			if p.DataDir == "" {
				p.DataDir = c.DataDir
			}

			return p, nil
		}
	}

	p, err := experiment.GetPreset(name)
	if err != nil {
		return experiment.Preset{}, err
	}
	if p.DataDir == "" {
		p.DataDir = c.DataDir
	}

	return p, nil
}
