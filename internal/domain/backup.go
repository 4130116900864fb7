package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ArtifactPrefix starts every artifact name; retention only touches keys
// carrying it.
const ArtifactPrefix = "backup-"

// TimestampLayout renders the artifact timestamp as YYYY-MM-DD_HH:MM:SS.
const TimestampLayout = "2006-01-02_15:04:05"

// Artifact is the compressed dump of one target and its object key.
type Artifact struct {
	Name string
	Path string
}

// DumpPath is where the raw dump is written before archiving.
func (a Artifact) DumpPath() string {
	return a.Path + ".dump"
}

// ArtifactName formats ts as given; callers pick the location.
func ArtifactName(engine Engine, ts time.Time, database, host string) string {
	return fmt.Sprintf("%s%s-%s-%s-%s.tar.gz", ArtifactPrefix, engine, ts.Format(TimestampLayout), database, host)
}

var artifactTimestamp = regexp.MustCompile(`\d{4}-\d{2}-\d{2}_\d{2}:\d{2}:\d{2}`)

// ArtifactTime recovers the timestamp embedded by ArtifactName, read in loc.
func ArtifactTime(name string, loc *time.Location) (time.Time, error) {
	if !strings.HasPrefix(name, ArtifactPrefix) {
		return time.Time{}, errors.New("not a backup artifact")
	}
	match := artifactTimestamp.FindString(name)
	if match == "" {
		return time.Time{}, errors.New("no timestamp found")
	}
	return time.ParseInLocation(TimestampLayout, match, loc)
}

type Stage string

const (
	StageParse   Stage = "parse"
	StageEngine  Stage = "engine"
	StageDump    Stage = "dump"
	StageArchive Stage = "archive"
	StageRead    Stage = "read"
	StageUpload  Stage = "upload"
)

// Outcome is the result of processing a single target.
type Outcome struct {
	Target   Target
	Artifact Artifact
	Stage    Stage
	Size     int64
	Duration time.Duration
	Err      error
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}
