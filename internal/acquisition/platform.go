package acquisition

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type hostRule struct {
	suffix   string
	platform models.Platform
}

var platformHosts = []hostRule{
	{"youtube.com", models.PlatformYouTube},
	{"youtu.be", models.PlatformYouTube},
	{"twitch.tv", models.PlatformTwitch},
	{"kick.com", models.PlatformKick},
	{"rumble.com", models.PlatformRumble},
	{"tiktok.com", models.PlatformTikTok},
	{"instagram.com", models.PlatformInstagram},
	{"vimeo.com", models.PlatformVimeo},
}

// DetectPlatform matches the URL host against the known table. Anything else,
// including unparsable URLs, is PlatformOther.
func DetectPlatform(rawURL string) models.Platform {
	host := hostOf(rawURL)
	if host == "" {
		return models.PlatformOther
	}
	for _, h := range platformHosts {
		if host == h.suffix || strings.HasSuffix(host, "."+h.suffix) {
			return h.platform
		}
	}
	return models.PlatformOther
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// CheckPlatform detects the platform and, when gating is on, rejects
// unknown hosts.
func CheckPlatform(rawURL string, requireKnown bool) (models.Platform, error) {
	platform := DetectPlatform(rawURL)
	if requireKnown && platform == models.PlatformOther {
		return platform, &apperrors.UnsupportedPlatformError{URL: rawURL, Host: hostOf(rawURL)}
	}
	return platform, nil
}

// Robustness are extra yt-dlp flags for platforms whose extractors are
// flaky.
type Robustness struct {
	IgnoreErrors       bool `yaml:"ignore_errors"`
	NoCheckCertificate bool `yaml:"no_check_certificates"`
	Retries            int  `yaml:"retries"`
	FragmentRetries    int  `yaml:"fragment_retries"`
}

// DefaultRobustness returns the built-in per-platform flags.
func DefaultRobustness() map[models.Platform]Robustness {
	return map[models.Platform]Robustness{
		models.PlatformTwitch:    {Retries: 10, FragmentRetries: 10},
		models.PlatformKick:      {IgnoreErrors: true, NoCheckCertificate: true, Retries: 10, FragmentRetries: 10},
		models.PlatformRumble:    {IgnoreErrors: true, NoCheckCertificate: true, Retries: 5},
		models.PlatformInstagram: {Retries: 5},
		models.PlatformTikTok:    {Retries: 5},
	}
}

// LoadRobustness returns the built-in flags with the "acquisition" section of
// the YAML file at path applied on top, field by field. An empty path, or a
// file without the section, yields the built-in table.
//
//	acquisition:
//	  kick:
//	    retries: 3
//	  youtube:
//	    fragment_retries: 5
func LoadRobustness(path string) (map[models.Platform]Robustness, error) {
	table := DefaultRobustness()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read acquisition settings: %w", err)
	}
	var doc struct {
		Acquisition map[string]yaml.Node `yaml:"acquisition"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse acquisition settings: %w", err)
	}

	for name, node := range doc.Acquisition {
		platform := models.Platform(name)
		if !knownPlatform(platform) {
			return nil, fmt.Errorf("acquisition settings: unknown platform %q", name)
		}
		r := table[platform]
		if err := node.Decode(&r); err != nil {
			return nil, fmt.Errorf("failed to decode acquisition settings for %q: %w", name, err)
		}
		if r.Retries < 0 || r.FragmentRetries < 0 {
			return nil, fmt.Errorf("acquisition settings for %q: retries must not be negative", name)
		}
		table[platform] = r
	}
	return table, nil
}

func knownPlatform(p models.Platform) bool {
	return p == models.PlatformOther || lo.ContainsBy(platformHosts, func(h hostRule) bool { return h.platform == p })
}

func (r Robustness) args() []string {
	var args []string
	if r.IgnoreErrors {
		args = append(args, "--ignore-errors")
	}
	if r.NoCheckCertificate {
		args = append(args, "--no-check-certificates")
	}
	if r.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(r.Retries))
	}
	if r.FragmentRetries > 0 {
		args = append(args, "--fragment-retries", strconv.Itoa(r.FragmentRetries))
	}
	return args
}
