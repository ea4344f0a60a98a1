// Package config loads the configuration of the scenetwind daemon from a
// single YAML file.
//
// The file is the single source of truth: environment variables do not
// override its values. Fields it omits keep the values of Default.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-digitaltwin/scenetwin"
)

// Config is the complete configuration of scenetwind.
type Config struct {
	// Scene names the scene in published messages, metrics and the database.
	Scene string `yaml:"scene"`
	// ReferenceFrame is the frame every link's transform is expressed in.
	ReferenceFrame string `yaml:"reference_frame"`

	TickInterval          time.Duration `yaml:"tick_interval"`
	LookupTimeout         time.Duration `yaml:"lookup_timeout"`
	FailureReportInterval time.Duration `yaml:"failure_report_interval"`
	// HistoryDepth is the number of samples retained per link; zero retains only
	// the latest.
	HistoryDepth int `yaml:"history_depth"`

	PubSub PubSubConfig `yaml:"pubsub"`
	// PublishInterval is the period of scene publication, when PubSub.Scene is
	// set.
	PublishInterval time.Duration `yaml:"publish_interval"`
	// MaxPoseAge makes poses older than this unavailable; zero accepts poses of
	// any age.
	MaxPoseAge time.Duration `yaml:"max_pose_age"`

	// Neo4j enables exporting the scene to a Neo4j database.
	Neo4j *Neo4jConfig `yaml:"neo4j,omitempty"`

	// MetricsAddr is the address serving /metrics; empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	Robots []RobotConfig `yaml:"robots"`
}

// PubSubConfig locates the pubsub topics and subscriptions of the daemon, as
// gocloud.dev URLs (e.g. "mem://poses", "kafka://group?topic=poses").
type PubSubConfig struct {
	// Poses is the subscription delivering tfbuffer.PoseBatch messages.
	Poses string `yaml:"poses"`
	// Edits is the subscription delivering scenetwin.EditRequest messages;
	// empty disables editing.
	Edits string `yaml:"edits"`
	// Scene is the topic scenetwin.RobotChanged messages are published to; empty
	// disables publication.
	Scene string `yaml:"scene"`
}

// Neo4jConfig configures the export of the scene to Neo4j.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// ExportInterval is the period of exports.
	ExportInterval time.Duration `yaml:"export_interval"`
}

// RobotConfig declares a robot and its links, in order.
type RobotConfig struct {
	Name  string       `yaml:"name"`
	Links []LinkConfig `yaml:"links"`
}

// LinkConfig declares a link and its initial presentation.
type LinkConfig struct {
	Name   string    `yaml:"name"`
	Parent string    `yaml:"parent"`
	Hidden bool      `yaml:"hidden"`
	Color  []float32 `yaml:"color,omitempty"`
	Mesh   string    `yaml:"mesh"`
	Scale  float64   `yaml:"scale"`
}

// Default returns the configuration every file is applied over.
func Default() *Config {
	return &Config{
		Scene:                 "scenetwin",
		ReferenceFrame:        "world",
		TickInterval:          scenetwin.DefaultTickInterval,
		LookupTimeout:         scenetwin.DefaultLookupTimeout,
		FailureReportInterval: scenetwin.DefaultFailureReportInterval,
		PublishInterval:       scenetwin.DefaultPublishInterval,
		MetricsAddr:           ":9090",
	}
}

// LoadFile loads and validates the configuration at path.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cfg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Load decodes and validates a configuration from r. Unknown fields are
// rejected, so that a misspelt key does not silently fall back to a default.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if cfg.Neo4j != nil && cfg.Neo4j.ExportInterval == 0 {
		cfg.Neo4j.ExportInterval = time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid value of the configuration. It does not
// check the robots; see BuildRobots.
func (c *Config) Validate() error {
	switch {
	case c.Scene == "":
		return errors.New("scene: must not be empty")
	case c.ReferenceFrame == "":
		return errors.New("reference_frame: must not be empty")
	case c.TickInterval <= 0:
		return fmt.Errorf("tick_interval: must be positive, got %v", c.TickInterval)
	case c.LookupTimeout < 0:
		return fmt.Errorf("lookup_timeout: must not be negative, got %v", c.LookupTimeout)
	case c.FailureReportInterval < 0:
		return fmt.Errorf("failure_report_interval: must not be negative, got %v", c.FailureReportInterval)
	case c.HistoryDepth < 0:
		return fmt.Errorf("history_depth: must not be negative, got %d", c.HistoryDepth)
	case c.PubSub.Poses == "":
		return errors.New("pubsub.poses: must not be empty")
	case c.PubSub.Scene != "" && c.PublishInterval <= 0:
		return fmt.Errorf("publish_interval: must be positive, got %v", c.PublishInterval)
	case c.MaxPoseAge < 0:
		return fmt.Errorf("max_pose_age: must not be negative, got %v", c.MaxPoseAge)
	case len(c.Robots) == 0:
		return errors.New("robots: at least one robot is required")
	}
	if n := c.Neo4j; n != nil {
		switch {
		case n.URI == "":
			return errors.New("neo4j.uri: must not be empty")
		case n.Database == "":
			return errors.New("neo4j.database: must not be empty")
		case n.ExportInterval <= 0:
			return fmt.Errorf("neo4j.export_interval: must be positive, got %v", n.ExportInterval)
		}
	}
	return nil
}

// BuildRobots builds the robots declared by the configuration.
func (c *Config) BuildRobots() ([]*scenetwin.Robot, error) {
	robots := make([]*scenetwin.Robot, 0, len(c.Robots))
	for i, rc := range c.Robots {
		links := make([]scenetwin.Link, len(rc.Links))
		for j, lc := range rc.Links {
			l, err := lc.link()
			if err != nil {
				return nil, fmt.Errorf("robots[%d].links[%d]: %w", i, j, err)
			}
			links[j] = l
		}
		r, err := scenetwin.NewRobot(rc.Name, links...)
		if err != nil {
			return nil, fmt.Errorf("robots[%d]: %w", i, err)
		}
		robots = append(robots, r)
	}
	return robots, nil
}

func (lc LinkConfig) link() (scenetwin.Link, error) {
	l := scenetwin.Link{
		Name:   lc.Name,
		Parent: lc.Parent,
		Attributes: scenetwin.Attributes{
			Hidden: lc.Hidden,
			Mesh:   lc.Mesh,
			Scale:  lc.Scale,
		},
	}
	if lc.Color != nil {
		if len(lc.Color) != len(l.Attributes.Color) {
			return l, fmt.Errorf("color: want 4 components (RGBA), got %d", len(lc.Color))
		}
		copy(l.Attributes.Color[:], lc.Color)
		if err := l.Attributes.Color.Validate(); err != nil {
			return l, err
		}
	}
	return l, nil
}
