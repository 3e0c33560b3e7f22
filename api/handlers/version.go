package handlers

import (
	"encoding/json"
	"net/http"
)

var buildVersion, buildCommit, buildDate = "dev", "none", "unknown"

// SetBuildInfo records the build metadata stamped in by LDFLAGS.
func SetBuildInfo(version, commit, date string) {
	buildVersion, buildCommit, buildDate = version, commit, date
}

// GetVersion reports the running build.
func GetVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"version": buildVersion,
		"commit":  buildCommit,
		"date":    buildDate,
	})
}
