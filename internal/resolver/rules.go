package resolver

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules holds the tunable thresholds and weights of the resolution
// pipeline. Zero values in a loaded file fall back to the defaults.
type Rules struct {
	// AIThreshold is the minimum classifier confidence for an automatic link.
	AIThreshold float64 `yaml:"ai_threshold"`
	// ReplyFloor is the minimum confidence a scored human reply must reach.
	ReplyFloor float64 `yaml:"reply_floor"`
	// EmailConfidence is assigned when a reply quotes a known business email.
	EmailConfidence float64 `yaml:"email_confidence"`

	// Reply scoring weights, highest tier wins.
	ExactNameScore      float64 `yaml:"exact_name_score"`
	NameContainScore    float64 `yaml:"name_contain_score"`
	ExactContactScore   float64 `yaml:"exact_contact_score"`
	ContactContainScore float64 `yaml:"contact_contain_score"`
}

// DefaultRules returns the built-in thresholds.
func DefaultRules() Rules {
	return Rules{
		AIThreshold:         0.75,
		ReplyFloor:          0.5,
		EmailConfidence:     0.95,
		ExactNameScore:      3,
		NameContainScore:    2,
		ExactContactScore:   2,
		ContactContainScore: 1.5,
	}
}

// LoadRules reads rules from a YAML file under a top-level "resolution"
// key and fills any unset field from the defaults. An empty path returns
// the defaults unchanged.
func LoadRules(path string) (Rules, error) {
	defaults := DefaultRules()
	if path == "" {
		return defaults, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return defaults, eris.Wrapf(err, "resolver: read rules %s", path)
	}

	var wrapper struct {
		Resolution Rules `yaml:"resolution"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return defaults, eris.Wrap(err, "resolver: parse rules")
	}

	r := wrapper.Resolution
	if r.AIThreshold == 0 {
		r.AIThreshold = defaults.AIThreshold
	}
	if r.ReplyFloor == 0 {
		r.ReplyFloor = defaults.ReplyFloor
	}
	if r.EmailConfidence == 0 {
		r.EmailConfidence = defaults.EmailConfidence
	}
	if r.ExactNameScore == 0 {
		r.ExactNameScore = defaults.ExactNameScore
	}
	if r.NameContainScore == 0 {
		r.NameContainScore = defaults.NameContainScore
	}
	if r.ExactContactScore == 0 {
		r.ExactContactScore = defaults.ExactContactScore
	}
	if r.ContactContainScore == 0 {
		r.ContactContainScore = defaults.ContactContainScore
	}
	return r, nil
}
