package config

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// SupportedProfileVersions is the semver constraint a profile must satisfy.
const SupportedProfileVersions = ">= 1.0.0, < 2.0.0"

// Profile is an optional YAML overlay for deployment-specific policy.
type Profile struct {
	Version    string            `yaml:"version" json:"version"`
	Wormhole   WormholeProfile   `yaml:"wormhole" json:"wormhole"`
	Repository RepositoryProfile `yaml:"repository" json:"repository"`
	Uploads    UploadsProfile    `yaml:"uploads" json:"uploads"`
}

type WormholeProfile struct {
	Policy []string `yaml:"policy,omitempty" json:"policy,omitempty"`
}

type RepositoryProfile struct {
	AllowedPaths []string `yaml:"allowed_paths,omitempty" json:"allowed_paths,omitempty"`
}

type UploadsProfile struct {
	AllowedTypes []string `yaml:"allowed_types,omitempty" json:"allowed_types,omitempty"`
	MaxBytes     int64    `yaml:"max_bytes,omitempty" json:"max_bytes,omitempty"`
}

// LoadProfile reads and version-checks a profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}

	if p.Version == "" {
		return nil, fmt.Errorf("profile %q: version is required", path)
	}
	v, err := semver.NewVersion(p.Version)
	if err != nil {
		return nil, fmt.Errorf("profile %q: invalid version %q: %w", path, p.Version, err)
	}
	c, err := semver.NewConstraint(SupportedProfileVersions)
	if err != nil {
		return nil, err
	}
	if !c.Check(v) {
		return nil, fmt.Errorf("profile %q: version %s does not satisfy %s", path, v, SupportedProfileVersions)
	}
	return &p, nil
}

// Apply overlays non-empty profile settings onto c.
func (c *Config) Apply(p *Profile) {
	if p == nil {
		return
	}
	if len(p.Wormhole.Policy) > 0 {
		c.Wormhole.Policy = append([]string(nil), p.Wormhole.Policy...)
	}
	if len(p.Repository.AllowedPaths) > 0 {
		c.GitHub.AllowedPaths = append([]string(nil), p.Repository.AllowedPaths...)
	}
	if len(p.Uploads.AllowedTypes) > 0 {
		c.Uploads.AllowedTypes = append([]string(nil), p.Uploads.AllowedTypes...)
	}
	if p.Uploads.MaxBytes > 0 {
		c.Uploads.MaxBytes = p.Uploads.MaxBytes
	}
}
