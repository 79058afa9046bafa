package apps

import (
	"os"

	"polip/internal/pkg/device"
	"polip/internal/pkg/validate"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Profile is the on-disk device credential record.
type Profile struct {
	Serial       string `yaml:"serial" validate:"required"`
	Key          string `yaml:"key" validate:"required"`
	Hardware     string `yaml:"hardware" validate:"required"`
	Firmware     string `yaml:"firmware" validate:"required"`
	SkipTagCheck bool   `yaml:"skip_tag_check"`
}

// LoadProfile reads and validates a YAML device profile.
func LoadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read device profile %s failed", path)
	}
	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "unmarshal device profile failed")
	}
	if err := validate.Validate().Struct(p); err != nil {
		return nil, errors.Wrap(err, "validate device profile failed")
	}
	return &p, nil
}

// Identity builds the runtime identity from the profile.
func (p *Profile) Identity() *device.Identity {
	return &device.Identity{
		Serial:       p.Serial,
		Key:          []byte(p.Key),
		Hardware:     p.Hardware,
		Firmware:     p.Firmware,
		SkipTagCheck: p.SkipTagCheck,
	}
}
