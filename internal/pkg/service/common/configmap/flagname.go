package configmap

import (
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/umisama/go-regexpcache"
)

// fieldToFlagName converts a dotted field path, e.g. "scheduler.maxRunningPerTenant",
// to a kebab-case flag name, e.g. "scheduler-max-running-per-tenant".
func fieldToFlagName(fieldPath string) string {
	var parts []string
	for _, segment := range regexpcache.MustCompile(`[-.\s]+`).Split(fieldPath, -1) {
		if segment = strings.Trim(strcase.ToDelimited(segment, '-'), "-"); segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, "-")
}

// flagToEnv maps a flag name to the ENV variable name, e.g. "scheduler-interval" -> "<PREFIX>SCHEDULER_INTERVAL".
func flagToEnv(prefix, flagName string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

