package pathfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const launcherEndpoint = "https://patch.example.net/{project}/launcher/{platform}/{executable}"

func TestInject(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format string
		vars   Vars
		want   string
	}{
		{
			name:   "resolves known placeholders",
			format: launcherEndpoint,
			vars:   Vars{"project": "fantasy-crescendo", "platform": "Linux", "executable": "launcher"},
			want:   "https://patch.example.net/fantasy-crescendo/launcher/Linux/launcher",
		},
		{
			name:   "leaves unknown placeholders verbatim",
			format: launcherEndpoint,
			vars:   Vars{"platform": "Windows", "executable": "launcher.exe"},
			want:   "https://patch.example.net/{project}/launcher/Windows/launcher.exe",
		},
		{
			name:   "repeated placeholder",
			format: "{base_url}/{filename}_{filehash}/{filename}",
			vars:   Vars{"base_url": "https://cdn", "filename": "a/b.bin", "filehash": "abc"},
			want:   "https://cdn/a/b.bin_abc/a/b.bin",
		},
		{
			name:   "no placeholders",
			format: "https://plain.example/index.json",
			vars:   nil,
			want:   "https://plain.example/index.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Inject(tt.format, tt.vars))
		})
	}
}

func TestUnresolved(t *testing.T) {
	t.Parallel()

	got := Unresolved(Inject(launcherEndpoint, Vars{"platform": "Linux"}))
	require.Equal(t, []string{"project", "executable"}, got)
	require.Empty(t, Unresolved("https://done.example/x"))
}

func TestWithCopies(t *testing.T) {
	t.Parallel()

	base := Vars{"platform": "Linux"}
	derived := base.With("branch", "develop", "project", "fc")
	require.Equal(t, "develop", derived["branch"])
	require.Equal(t, "Linux", derived["platform"])
	_, leaked := base["branch"]
	require.False(t, leaked)
}

func TestPlatformFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Windows", PlatformFor("windows"))
	assert.Equal(t, "Linux", PlatformFor("linux"))
	assert.Equal(t, "Darwin", PlatformFor("darwin"))
	assert.Equal(t, "Freebsd", PlatformFor("freebsd"))
	assert.Equal(t, "", PlatformFor(""))
}

func TestSanitizeURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://this-is-a-test-url.com", SanitizeURL("https://this is a test url.com"))
}
