package materializer

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// DefaultPlatform is the preset used for unknown platform names.
const DefaultPlatform = "default"

// PlatformSpec describes the output a platform accepts.
type PlatformSpec struct {
	Name          string  `yaml:"-" json:"name"`
	AspectRatio   string  `yaml:"aspect_ratio" json:"aspect_ratio"`
	Width         int     `yaml:"width" json:"width"`
	Height        int     `yaml:"height" json:"height"`
	MinDuration   float64 `yaml:"min_duration" json:"min_duration"`
	MaxDuration   float64 `yaml:"max_duration" json:"max_duration"`
	MaxFileSizeMB int     `yaml:"max_file_size_mb" json:"max_file_size_mb"`
	FPS           int     `yaml:"fps" json:"fps"`
	VideoCodec    string  `yaml:"video_codec" json:"video_codec"`
	AudioCodec    string  `yaml:"audio_codec" json:"audio_codec"`
	CRF           int     `yaml:"crf" json:"crf"`
	Preset        string  `yaml:"preset" json:"preset"`
	AudioBitrate  string  `yaml:"audio_bitrate" json:"audio_bitrate"`
	MaxBitrate    string  `yaml:"max_bitrate,omitempty" json:"max_bitrate,omitempty"`
}

func (s PlatformSpec) validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("platform %q: width and height must be positive", s.Name)
	}
	if s.MaxDuration <= 0 {
		return fmt.Errorf("platform %q: max_duration must be positive", s.Name)
	}
	if s.MinDuration < 0 || s.MinDuration > s.MaxDuration {
		return fmt.Errorf("platform %q: min_duration must be within [0, max_duration]", s.Name)
	}
	if s.VideoCodec == "" || s.AudioCodec == "" {
		return fmt.Errorf("platform %q: codecs are required", s.Name)
	}
	return nil
}

func vertical(name string, maxDuration float64, maxMB int) PlatformSpec {
	return PlatformSpec{
		Name:          name,
		AspectRatio:   "9:16",
		Width:         1080,
		Height:        1920,
		MinDuration:   3,
		MaxDuration:   maxDuration,
		MaxFileSizeMB: maxMB,
		FPS:           30,
		VideoCodec:    "libx264",
		AudioCodec:    "aac",
		CRF:           23,
		Preset:        "veryfast",
		AudioBitrate:  "128k",
	}
}

func builtinSpecs() map[string]PlatformSpec {
	reels := vertical("instagram_reels", 90, 250)
	reels.MaxBitrate = "8M"

	x := vertical("x", 140, 512)
	x.AspectRatio, x.Width, x.Height = "16:9", 1280, 720
	x.MinDuration = 1

	linkedin := vertical("linkedin", 600, 200)
	linkedin.AspectRatio, linkedin.Width, linkedin.Height = "1:1", 1080, 1080

	return map[string]PlatformSpec{
		DefaultPlatform:   vertical(DefaultPlatform, 60, 100),
		"tiktok":          vertical("tiktok", 600, 287),
		"instagram_reels": reels,
		"youtube_shorts":  vertical("youtube_shorts", 180, 512),
		"x":               x,
		"linkedin":        linkedin,
	}
}

// Registry is the platform table.
type Registry struct {
	specs map[string]PlatformSpec
}

// DefaultRegistry returns the built-in table.
func DefaultRegistry() *Registry {
	return &Registry{specs: builtinSpecs()}
}

// LoadRegistry returns the built-in table with the YAML file at path applied
// on top. Entries in the file extend existing platforms field by field or add
// new ones. An empty path yields the built-in table.
//
//	platforms:
//	  tiktok:
//	    max_duration: 180
//	  threads:
//	    max_duration: 300
//	    max_file_size_mb: 500
func LoadRegistry(path string) (*Registry, error) {
	r := DefaultRegistry()
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read platform specs: %w", err)
	}

	var doc struct {
		Platforms map[string]yaml.Node `yaml:"platforms"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse platform specs: %w", err)
	}

	for name, node := range doc.Platforms {
		spec, ok := r.specs[name]
		if !ok {
			spec = r.specs[DefaultPlatform]
		}
		if err := node.Decode(&spec); err != nil {
			return nil, fmt.Errorf("failed to decode platform %q: %w", name, err)
		}
		spec.Name = name
		if err := spec.validate(); err != nil {
			return nil, err
		}
		r.specs[name] = spec
	}

	return r, nil
}

// Lookup returns the named spec. Unknown names get the default preset and
// false.
func (r *Registry) Lookup(name string) (PlatformSpec, bool) {
	if spec, ok := r.specs[name]; ok {
		return spec, true
	}
	return r.specs[DefaultPlatform], false
}

// Names lists known platforms, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every spec ordered by name.
func (r *Registry) All() []PlatformSpec {
	specs := make([]PlatformSpec, 0, len(r.specs))
	for _, name := range r.Names() {
		specs = append(specs, r.specs[name])
	}
	return specs
}
