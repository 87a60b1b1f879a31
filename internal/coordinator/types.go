package coordinator

import "strings"

// Build record status values persisted under <service_path>.build.details.
const (
	StatusBuilt    = "built"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// ActionBuildComplete is the action carried by review notifications.
const ActionBuildComplete = "BUILD_COMPLETE"

// Pipeline stage names, used in logs, metrics and journal metadata.
const (
	StageFetching   = "fetching"
	StageBuilding   = "building"
	StageRecording  = "recording"
	StageNotifying  = "notifying"
	StageAwaiting   = "awaiting_decision"
	StageFinalizing = "finalizing"
)

// BuildRecord is the persisted outcome of a completed build. A new build
// writes a new record; records are never mutated.
type BuildRecord struct {
	BuildID     string `json:"build_id"`
	ImageName   string `json:"image_name"`
	Timestamp   string `json:"timestamp"`
	BuildStatus string `json:"build_status"`
	Logs        string `json:"logs"`
}

// BuildEvent is the immutable notification payload published to the review
// group and appended to the durable per-service event list.
type BuildEvent struct {
	ServicePath string `json:"service_path"`
	ImageName   string `json:"image_name"`
	Action      string `json:"action"`
	Timestamp   string `json:"timestamp"`
	BuildID     string `json:"build_id"`
}

// DecisionOutcome is the review verdict for a build.
type DecisionOutcome string

const (
	DecisionAccepted DecisionOutcome = "accepted"
	DecisionRejected DecisionOutcome = "rejected"
	// DecisionPending is written by the pipeline before waiting so a stale
	// verdict from an earlier build is never consumed.
	DecisionPending DecisionOutcome = "pending"
)

// DecisionResult is produced by the decision-wait protocol and consumed
// exactly once per build. A timed-out wait is a rejection (fail-closed), with
// TimedOut preserved for journaling.
type DecisionResult struct {
	Outcome  DecisionOutcome
	TimedOut bool
}

// ServicePathFromKey extracts the service path from a change-signal key by
// splitting on the last path separator: "teamA/serviceX/.metadata" yields
// "teamA/serviceX". Keys without a separator carry no service path.
func ServicePathFromKey(key string) (string, bool) {
	idx := strings.LastIndex(key, "/")
	if idx <= 0 {
		return "", false
	}
	return key[:idx], true
}

// Store key layout for one service path.

func specKey(servicePath, specFile string) string {
	return servicePath + "/" + specFile
}

func detailsKey(servicePath string) string {
	return servicePath + ".build.details"
}

func eventsKey(servicePath string) string {
	return servicePath + ".events"
}

// DecisionKey returns the store key an external reviewer writes the verdict
// to. Exported for the reviewer-side CLI.
func DecisionKey(servicePath string) string {
	return servicePath + ".build.result"
}

// SignalKey returns the change-signal key for a service path. Exported for
// the trigger CLI, which writes it to start a build.
func SignalKey(servicePath, markerSuffix string) string {
	if markerSuffix == "" {
		markerSuffix = ".metadata"
	}
	return servicePath + "/" + markerSuffix
}

// imageName maps a service path to its registry repository: slashes collapse
// to underscores so the path fits a single repository name.
func imageName(registryHost, servicePath string) string {
	return registryHost + "/" + strings.ReplaceAll(servicePath, "/", "_")
}
