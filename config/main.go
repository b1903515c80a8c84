// Package config has the runtime configuration of shingou.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

type Config struct {
	Preset string `json:"preset"`
	// Journal is the path of the journal database. Empty disables the journal.
	Journal string `json:"journal"`
	Listen  string `json:"listen"`
	// Origins are the origins allowed to fetch from Listen. Empty allows all.
	Origins  []string `json:"allowed-origins"`
	Backlog  int      `json:"backlog"`
	Snapshot Duration `json:"snapshot-interval"`
	Sim      Sim      `json:"sim"`
	Monitor  bool     `json:"monitor"`
}

type Sim struct {
	Enabled bool     `json:"enabled"`
	Step    Duration `json:"step"`
	// Trains is the number of trains to run along the preset's path.
	Trains int `json:"trains"`
	// Length is the number of detectors a train occupies at once.
	Length int `json:"length"`
}

// Duration is a time.Duration written as a string like "500ms" in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func Default() Config {
	return Config{
		Preset:   "testbench",
		Journal:  "shingou.db",
		Listen:   "0.0.0.0:8001",
		Backlog:  64,
		Snapshot: Duration(500 * time.Millisecond),
		Sim: Sim{
			Step:   Duration(time.Second),
			Trains: 1,
			Length: 2,
		},
	}
}

// Load reads the config at path over the defaults. A missing file gives the defaults.
func Load(path string) (Config, error) {
	c := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	err = json.Unmarshal(data, &c)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err = c.Check(); err != nil {
		return Config{}, fmt.Errorf("check %s: %w", path, err)
	}
	return c, nil
}

// Check returns an error for values that can't be run with.
func (c Config) Check() error {
	if c.Preset == "" {
		return errors.New("preset: empty")
	}
	if c.Backlog < 0 {
		return fmt.Errorf("backlog: negative (%d)", c.Backlog)
	}
	if c.Snapshot <= 0 {
		return fmt.Errorf("snapshot-interval: not positive (%s)", time.Duration(c.Snapshot))
	}
	if c.Sim.Enabled {
		if c.Sim.Step <= 0 {
			return fmt.Errorf("sim.step: not positive (%s)", time.Duration(c.Sim.Step))
		}
		if c.Sim.Length < 1 {
			return fmt.Errorf("sim.length: less than 1 (%d)", c.Sim.Length)
		}
	}
	return nil
}
