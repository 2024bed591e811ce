package model_test

import (
	"errors"
	"testing"

	"github.com/maxbolgarin/sitepub/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath(t *testing.T) {
	for in, want := range map[string]string{
		"index.html":          "index.html",
		"/src/app/page.tsx":   "src/app/page.tsx",
		`data\website.json`:   "data/website.json",
		" ./a//b/../c.txt ":   "a/c.txt",
		"snapshots/./v1.json": "snapshots/v1.json",
	} {
		got, err := model.NormalizePath(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "/", ".", "..", "../etc/passwd", "a/../../b"} {
		_, err := model.NormalizePath(in)
		assert.Error(t, err, in)
	}
}

func TestFileChangeNormalized(t *testing.T) {
	c, err := model.FileChange{Path: "/a.txt", Content: []byte{}, Action: model.ActionCreate}.Normalized()
	require.NoError(t, err)
	assert.Equal(t, "a.txt", c.Path)

	_, err = model.FileChange{Path: "a.txt", Action: model.ActionModify}.Normalized()
	assert.Error(t, err)

	_, err = model.FileChange{Path: "a.txt", Action: model.ActionDelete}.Normalized()
	assert.NoError(t, err)

	_, err = model.FileChange{Path: "a.txt", Content: []byte("x"), Action: "rename"}.Normalized()
	assert.Error(t, err)
}

func TestDeploymentRun(t *testing.T) {
	run := model.NewDeploymentRun("d1", "acme")

	stages := run.Stages()
	require.Len(t, stages, len(model.StageOrder))
	for i, s := range stages {
		assert.Equal(t, model.StageOrder[i], s.ID)
		assert.Equal(t, model.StagePending, s.Status)
		assert.NotEmpty(t, s.Name)
	}

	run.Start(model.StageValidate)
	assert.Equal(t, model.StageInProgress, run.Stage(model.StageValidate).Status)
	run.Complete(model.StageValidate, "ok")
	run.Skip(model.StageGenerateSEO, "no agent")
	run.Fail(model.StageReview, "rejected")

	assert.Equal(t, model.DeploymentStage{
		ID: model.StageValidate, Name: "Validate site", Status: model.StageCompleted, Message: "ok",
	}, run.Stage(model.StageValidate))
	assert.Equal(t, model.StageSkipped, run.Stage(model.StageGenerateSEO).Status)
	assert.Equal(t, model.StageFailed, run.Stage(model.StageReview).Status)
	assert.Equal(t, model.StagePending, run.Stage(model.StageCommit).Status)

	stages[0].Status = model.StageFailed
	assert.Equal(t, model.StageCompleted, run.Stage(model.StageValidate).Status)
}

func TestRemoteErrorKinds(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := error(&model.RemoteError{Kind: model.ErrTransient, Op: "get ref", StatusCode: 502, Err: cause})

	assert.ErrorIs(t, err, model.ErrTransient)
	assert.ErrorIs(t, err, cause)
	assert.True(t, model.IsRetryable(err))
	assert.Equal(t, "get ref: transient remote failure (status 502)", err.Error())

	conflict := &model.RemoteError{Kind: model.ErrConflict, Op: "update ref", StatusCode: 422}
	assert.False(t, model.IsRetryable(conflict))
	assert.Contains(t, conflict.Error(), "publish failed, please retry")

	auth := &model.RemoteError{Kind: model.ErrAuth, Op: "create blob", StatusCode: 401}
	assert.Contains(t, auth.Error(), "access token")
}

func TestValidationResultErr(t *testing.T) {
	assert.NoError(t, model.ValidationResult{Valid: true}.Err())

	err := model.ValidationResult{Errors: []string{"site has no pages"}}.Err()
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, "validation failed: site has no pages", err.Error())
}

func TestThemeColorsSkipsUnset(t *testing.T) {
	colors := model.Theme{PrimaryColor: "#fff", TextColor: "#000"}.Colors()
	assert.Equal(t, map[string]string{"primaryColor": "#fff", "textColor": "#000"}, colors)
}
