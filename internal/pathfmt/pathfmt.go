// Package pathfmt resolves {name} placeholders in endpoint and URL templates.
package pathfmt

import (
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// Vars is the variable context a template is resolved against.
type Vars map[string]string

var placeholder = regexp.MustCompile(`\{([^{}]*)\}`)

// Inject replaces every {name} in format with vars[name]. Placeholders with
// no matching variable are left verbatim.
func Inject(format string, vars Vars) string {
	return placeholder.ReplaceAllStringFunc(format, func(match string) string {
		name := match[1 : len(match)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// Unresolved returns the placeholder names still present in s.
func Unresolved(s string) []string {
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(s, -1) {
		names = append(names, m[1])
	}
	return names
}

// With returns a copy of v with the given key/value pairs added.
func (v Vars) With(kv ...string) Vars {
	out := make(Vars, len(v)+len(kv)/2)
	maps.Copy(out, v)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

// Platform returns the platform name used by manifests and the game_binary /
// launch_flags config maps.
func Platform() string {
	return PlatformFor(runtime.GOOS)
}

// PlatformFor maps a GOOS value to its platform name.
func PlatformFor(goos string) string {
	switch goos {
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	}
	if goos == "" {
		return ""
	}
	return strings.ToUpper(goos[:1]) + goos[1:]
}

// SanitizeURL replaces spaces so a project name can be embedded in a URL path.
func SanitizeURL(s string) string {
	return strings.ReplaceAll(s, " ", "-")
}

// Global returns the process-wide context: platform and executable name.
func Global() Vars {
	vars := Vars{"platform": Platform()}
	if exe, err := os.Executable(); err == nil {
		vars["executable"] = filepath.Base(exe)
	}
	return vars
}
