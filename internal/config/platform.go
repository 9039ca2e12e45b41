package config

import "strings"

// Platform describes the deployment context inferred from the environment.
type Platform struct {
	Heroku bool `json:"heroku"`
	CI     bool `json:"ci"`
}

// DetectPlatform guesses the hosting platform from environment markers.
//
// Heroku is assumed when PATH points into a .heroku directory (set by the
// buildpacks) or when DYNO is present. CI is assumed when TRAVIS or CI is
// present. Both checks are heuristics: a false positive only flips the
// security defaults, and every such default can be set explicitly through the
// environment.
func DetectPlatform(environ map[string]string) Platform {
	var p Platform
	if strings.Contains(environ["PATH"], ".heroku") {
		p.Heroku = true
	}
	if _, ok := environ["DYNO"]; ok {
		p.Heroku = true
	}
	if _, ok := environ["TRAVIS"]; ok {
		p.CI = true
	}
	if _, ok := environ["CI"]; ok {
		p.CI = true
	}
	return p
}
