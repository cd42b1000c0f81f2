package reversemapper

import (
	"time"

	"github.com/himanishpuri/ReverseMapper/internal/archive"
	"github.com/himanishpuri/ReverseMapper/internal/audio"
	"github.com/himanishpuri/ReverseMapper/internal/chart"
	"github.com/himanishpuri/ReverseMapper/internal/session"
	"github.com/himanishpuri/ReverseMapper/pkg/models"
)

// Project is a loaded chart, optionally with the archive it came from.
type Project struct {
	ChartName string
	Chart     *chart.Store
	Info      models.ChartInfo
	// Audio is nil when the track's format could not be probed.
	Audio *audio.Metadata

	archive *archive.Archive
}

// FromArchive reports whether finalize repacks an .osz rather than writing
// a bare .osu.
func (p *Project) FromArchive() bool { return p.archive != nil }

// Capture is a session registered with the service.
type Capture struct {
	ID        string
	Project   *Project
	Session   *session.Session
	StartedAt time.Time

	// Guarded by the service mutex.
	lastSeen time.Time
	// result is kept when writing the outputs failed, so a retry skips
	// straight to writing.
	result *session.Result
}

// Output is what Finalize produced.
type Output struct {
	Generation models.Generation
	Result     *session.Result

	// ChartFile is the .osz, or the .osu for a project without archive.
	ChartFile  string
	ChartData  []byte
	ReplayFile string
}
