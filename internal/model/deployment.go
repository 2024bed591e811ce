package model

import "time"

type StageID string

const (
	StageValidate      StageID = "validate"
	StageGenerateSEO   StageID = "generate-seo"
	StageGenerateFiles StageID = "generate-files"
	StageReview        StageID = "review"
	StageCommit        StageID = "commit"
	StageWaitForLive   StageID = "wait-for-live"
)

var stageNames = map[StageID]string{
	StageValidate:      "Validate site",
	StageGenerateSEO:   "Generate SEO metadata",
	StageGenerateFiles: "Generate files",
	StageReview:        "Review generated code",
	StageCommit:        "Commit to repository",
	StageWaitForLive:   "Wait for deployment",
}

// StageOrder is the fixed order of a deployment run.
var StageOrder = []StageID{
	StageValidate,
	StageGenerateSEO,
	StageGenerateFiles,
	StageReview,
	StageCommit,
	StageWaitForLive,
}

type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageInProgress StageStatus = "in-progress"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
	StageSkipped    StageStatus = "skipped"
)

type DeploymentStage struct {
	ID      StageID     `json:"id"`
	Name    string      `json:"name"`
	Status  StageStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// DeploymentRun tracks the stages of one publish. It is owned by a single goroutine.
type DeploymentRun struct {
	ID        string
	ProjectID string
	StartedAt time.Time
	stages    []DeploymentStage
}

func NewDeploymentRun(id, projectID string) *DeploymentRun {
	run := &DeploymentRun{
		ID:        id,
		ProjectID: projectID,
		StartedAt: time.Now(),
		stages:    make([]DeploymentStage, 0, len(StageOrder)),
	}
	for _, stage := range StageOrder {
		run.stages = append(run.stages, DeploymentStage{ID: stage, Name: stageNames[stage], Status: StagePending})
	}
	return run
}

func (r *DeploymentRun) Start(id StageID) { r.set(id, StageInProgress, "") }

func (r *DeploymentRun) Complete(id StageID, msg string) { r.set(id, StageCompleted, msg) }

func (r *DeploymentRun) Fail(id StageID, msg string) { r.set(id, StageFailed, msg) }

func (r *DeploymentRun) Skip(id StageID, msg string) { r.set(id, StageSkipped, msg) }

// Stage returns the current state of the stage.
func (r *DeploymentRun) Stage(id StageID) DeploymentStage {
	for _, s := range r.stages {
		if s.ID == id {
			return s
		}
	}
	return DeploymentStage{}
}

// Stages returns a copy of all stages in run order.
func (r *DeploymentRun) Stages() []DeploymentStage {
	out := make([]DeploymentStage, len(r.stages))
	copy(out, r.stages)
	return out
}

func (r *DeploymentRun) set(id StageID, status StageStatus, msg string) {
	for i := range r.stages {
		if r.stages[i].ID == id {
			r.stages[i].Status = status
			r.stages[i].Message = msg
			return
		}
	}
}

type DeploymentStatus string

const (
	DeploymentPending DeploymentStatus = "pending"
	DeploymentSuccess DeploymentStatus = "success"
	DeploymentFailed  DeploymentStatus = "failed"
)

// DeploymentRecord is the persisted history entry of one publish.
type DeploymentRecord struct {
	ID            string           `json:"id"`
	ProjectID     string           `json:"projectId"`
	Status        DeploymentStatus `json:"status"`
	StartedAt     time.Time        `json:"startedAt"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
	CommitMessage string           `json:"commitMessage"`
	CommitSHA     string           `json:"commitSha,omitempty"`
	Version       int              `json:"version,omitempty"`
	BuildTime     time.Duration    `json:"buildTime"`
	ErrorMessage  string           `json:"errorMessage,omitempty"`
}

// LiveDeployment is the state of the hosting deployment built from a commit.
type LiveDeployment struct {
	Success      bool   `json:"success"`
	URL          string `json:"url,omitempty"`
	DeploymentID string `json:"deploymentId,omitempty"`
	State        string `json:"state,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Report is the structured result of a publish. It is returned for failures too.
type Report struct {
	Success          bool              `json:"success"`
	DeploymentID     string            `json:"deploymentId"`
	Version          int               `json:"version"`
	CommitSHA        string            `json:"commitSha,omitempty"`
	CommitURL        string            `json:"commitUrl,omitempty"`
	FilesGenerated   int               `json:"filesGenerated"`
	PagesDeployed    []string          `json:"pagesDeployed"`
	CodeReviewPassed bool              `json:"codeReviewPassed"`
	DeploymentURL    string            `json:"deploymentUrl,omitempty"`
	Errors           []string          `json:"errors"`
	Warnings         []string          `json:"warnings"`
	Stages           []DeploymentStage `json:"stages"`
	DryRun           bool              `json:"dryRun"`
}
