package messages

import (
	"fmt"
	"strings"
)

// This package provides all the error messages that should be reported to the user.
// Note that we add a comment with the message parameters so that it is possible
// to see the parameters in the IDE when creating an error message.

// Stage names the pipeline phase an error belongs to. Every fatal error
// reported to the user carries its stage so it is clear where the run stopped.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StagePrepare  Stage = "prepare"
	StageManifest Stage = "manifest"
	StageScript   Stage = "script"
	StageSubmit   Stage = "submit"
	StageMonitor  Stage = "monitor"
	StageStorage  Stage = "storage"
)

var (
	// Cluster resolution errors

	// UnknownCluster No cluster configuration matches hostname '{{.Hostname}}'. Candidate patterns: {{.Patterns}}.
	UnknownCluster = createMessage(
		StageResolve,
		"No cluster configuration matches hostname '{{.Hostname}}'. Candidate patterns: {{.Patterns}}.",
	)
	// ClusterConfigInvalid The cluster configuration file '{{.File}}' is invalid: {{.Error}}.
	ClusterConfigInvalid = createMessage(
		StageResolve,
		"The cluster configuration file '{{.File}}' is invalid: {{.Error}}.",
	)

	// Resource preparation errors

	// ResourceUnavailable The resource '{{.Resource}}' could not be prepared: {{.Error}}.
	ResourceUnavailable = createMessage(
		StagePrepare,
		"The resource '{{.Resource}}' could not be prepared: {{.Error}}.",
	)
	// NoUsableResources None of the requested resources could be prepared.
	NoUsableResources = createMessage(
		StagePrepare,
		"None of the requested resources could be prepared.",
	)

	// Manifest errors

	// ManifestRowInvalid The manifest row {{.Row}} is invalid: {{.Error}}.
	ManifestRowInvalid = createMessage(
		StageManifest,
		"The manifest row {{.Row}} is invalid: {{.Error}}.",
	)
	// ManifestEmpty The manifest contains no evaluation jobs.
	ManifestEmpty = createMessage(
		StageManifest,
		"The manifest contains no evaluation jobs.",
	)
	// ManifestConflictingInputs Cannot specify models, tasks or n-shot together with a manifest CSV.
	ManifestConflictingInputs = createMessage(
		StageManifest,
		"Cannot specify models, tasks or n-shot together with a manifest CSV.",
	)

	// Script generation errors

	// ScriptFieldMissing The batch script field '{{.Field}}' is missing from the cluster profile.
	ScriptFieldMissing = createMessage(
		StageScript,
		"The batch script field '{{.Field}}' is missing from the cluster profile.",
	)

	// Submission errors

	// SubmissionRejected The scheduler rejected the submission: {{.Error}}.
	SubmissionRejected = createMessage(
		StageSubmit,
		"The scheduler rejected the submission: {{.Error}}.",
	)
	// SubmissionExhausted The scheduler rejected the submission after {{.Attempts}} attempts: {{.Error}}.
	SubmissionExhausted = createMessage(
		StageSubmit,
		"The scheduler rejected the submission after {{.Attempts}} attempts: {{.Error}}.",
	)
	// QueueTimeout The queue stayed above {{.Limit}} queued/running tasks for {{.Waited}}; giving up. Re-run later.
	QueueTimeout = createMessage(
		StageSubmit,
		"The queue stayed above {{.Limit}} queued/running tasks for {{.Waited}}; giving up. Re-run later.",
	)

	// Monitoring errors

	// RunNotCompleted The run finished in state '{{.State}}'; inspect the slurm_logs directory for failed tasks.
	RunNotCompleted = createMessage(
		StageMonitor,
		"The run finished in state '{{.State}}'; inspect the slurm_logs directory for failed tasks.",
	)

	// Storage errors

	// DatabaseOperationFailed The request for the {{.Type}} record {{.ResourceId}} failed: '{{.Error}}'.
	DatabaseOperationFailed = createMessage(
		StageStorage,
		"The request for the {{.Type}} record {{.ResourceId}} failed: '{{.Error}}'.",
	)

	// UnknownError An unknown error occurred: '{{.Error}}'. This is a fallback if the error is not a run error.
	UnknownError = createMessage(
		StageSubmit,
		"An unknown error occurred: '{{.Error}}'.",
	)
)

type MessageCode struct {
	stage Stage
	one   string
}

func (m *MessageCode) GetStage() Stage {
	return m.stage
}

func (m *MessageCode) GetMessage() string {
	return m.one
}

func createMessage(stage Stage, one string) *MessageCode {
	return &MessageCode{
		stage,
		one,
	}
}

func GetErrorMessage(messageCode *MessageCode, messageParams ...any) string {
	msg := messageCode.GetMessage()
	for i := 0; i < len(messageParams); i += 2 {
		param := messageParams[i]
		var paramValue any
		if i+1 < len(messageParams) {
			paramValue = messageParams[i+1]
		} else {
			paramValue = "NOT_DEFINED" // this is a placeholder for a missing parameter value - if you see this value then the code needs to be fixed
		}
		msg = strings.ReplaceAll(msg, fmt.Sprintf("{{.%v}}", param), fmt.Sprintf("%v", paramValue))
	}
	return msg
}
