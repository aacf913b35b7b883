package updater

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/caedis/launcher-updater/internal/branch"
	"github.com/caedis/launcher-updater/internal/config"
	"github.com/caedis/launcher-updater/internal/downloader"
	"github.com/caedis/launcher-updater/internal/manifest"
)

// DevVersion marks a build that is not a packaged release; such builds never
// replace themselves.
const DevVersion = "dev"

type Options struct {
	Config  *config.Config
	BaseDir string
	// Version of the running launcher. DevVersion skips the self-update check.
	Version string
	// Offline skips every network step of the launcher check.
	Offline     bool
	Concurrency int
	Integrity   downloader.IntegrityPolicy
	PruneExtras bool
	// HTTPClient is used for file transfers. Manifest requests use
	// ManifestClient.
	HTTPClient     *http.Client
	ManifestClient *manifest.Client
	Log            *zap.Logger
	// BeforeRestart runs after a replaced launcher has been started and
	// before this process exits.
	BeforeRestart func()
}

// State is the current step of the update cycle.
type State int

const (
	Ready State = iota
	LauncherUpdateCheck
	// LauncherUpdate is reserved; the launcher check never enters it.
	LauncherUpdate
	GameStatusCheck
	GameUpdateCheck
	// GameUpdate is reserved; downloads run inside GameUpdateCheck.
	GameUpdate
	// GameUpdateError is reserved; branch failures are reported per branch.
	GameUpdateError
)

func (s State) String() string {
	switch s {
	case Ready:
		return "READY"
	case LauncherUpdateCheck:
		return "LAUNCHER_UPDATE_CHECK"
	case LauncherUpdate:
		return "LAUNCHER_UPDATE"
	case GameStatusCheck:
		return "GAME_STATUS_CHECK"
	case GameUpdateCheck:
		return "GAME_UPDATE_CHECK"
	case GameUpdate:
		return "GAME_UPDATE"
	case GameUpdateError:
		return "GAME_UPDATE_ERROR"
	}
	return "UNKNOWN"
}

// BranchResult is the outcome of one branch in the last cycle. Err is set
// when the branch was aborted (manifest fetch or pre-clean failure).
type BranchResult struct {
	Branch string
	Report *branch.Report
	Err    error
}

// LauncherResult is the outcome of the last launcher check.
type LauncherResult struct {
	Skipped  string
	Replaced bool
	Err      error
}
