package cluster

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/oellm/evalsched/internal/config"
	"github.com/oellm/evalsched/internal/messages"
	"github.com/oellm/evalsched/internal/runerrors"
)

// Resolve matches hostname against the cluster entries in declaration order
// and returns the merged profile for the first match: shared defaults
// overlaid with the cluster-specific settings, cluster winning on key
// collisions. Resolution has no side effects; exporting the profile into the
// process environment is a separate, explicit step (Materialize).
//
// No match is fatal: the tool is running on a host it has no configuration
// for, and the error names the hostname and every candidate pattern.
func Resolve(logger *slog.Logger, clusters *config.ClustersFile, hostname string) (*Profile, error) {
	patterns := make([]string, 0, len(clusters.Clusters))
	for _, entry := range clusters.Clusters {
		patterns = append(patterns, entry.HostnamePattern)

		re, err := patternToRegexp(entry.HostnamePattern)
		if err != nil {
			// a pattern that does not compile is a config error, not a resolution miss
			return nil, runerrors.New(messages.ClusterConfigInvalid, "File", clusters.File, "Error", err.Error())
		}
		if !re.MatchString(hostname) {
			continue
		}

		logger.Debug("Hostname matched cluster entry", "hostname", hostname, "cluster", entry.Name, "pattern", entry.HostnamePattern)

		merged := make(map[string]any, len(clusters.Shared)+len(entry.Settings))
		for k, v := range clusters.Shared {
			merged[k] = v
		}
		for k, v := range entry.Settings {
			merged[k] = v
		}
		merged["name"] = entry.Name
		merged["hostname_pattern"] = entry.HostnamePattern

		profile := &Profile{}
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:     profile,
			DecodeHook: mapstructure.StringToTimeDurationHookFunc(),
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(merged); err != nil {
			return nil, fmt.Errorf("cluster %s: %w", entry.Name, err)
		}
		profile.applyDefaults()
		if err := profile.validate(); err != nil {
			return nil, fmt.Errorf("cluster %s: %w", entry.Name, err)
		}
		return profile, nil
	}

	return nil, runerrors.NewUnknownClusterError(hostname, patterns)
}

// patternToRegexp converts a hostname glob into an anchored regexp. Every
// literal segment goes through QuoteMeta, so hostnames containing regexp
// metacharacters (dots included) match literally; only '*' is a wildcard.
func patternToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i, segment := range strings.Split(pattern, "*") {
		if i > 0 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(segment))
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
