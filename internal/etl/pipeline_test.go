package etl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var dockerQuiz = csvLines(
	csvHeader,
	"What is Docker?,Dcoker,Test de positionnement,\"A,C\",A container platform,A database,An image runtime,,",
	"What is Docker,Docker,Test de positionnement,1,A container platform,A hypervisor,,,intro",
	"Capital of France?,Geography,Quiz,A,Paris,Paris,Lyon,,",
	"Single answer?,Geography,Quiz,A,Only,,,,",
	"No correct?,Geography,Quiz,,x,y,,,",
	"What is a pod?,Kubernetes,Test de validation,D,A node,A volume,A service,A group of containers,",
)

func newTestPipeline(t *testing.T, store Store, extra EventSink) *Pipeline {
	t.Helper()
	cfg := DirsFromDataDir(t.TempDir(), Config{})
	p, err := NewPipeline(cfg, store, nil, extra)
	require.NoError(t, err)
	p.now = func() time.Time { return time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC) }
	return p
}

func TestNewPipelineValidation(t *testing.T) {
	_, err := NewPipeline(Config{}, &memStore{}, nil, nil)
	require.Error(t, err)

	_, err = NewPipeline(DirsFromDataDir(t.TempDir(), Config{}), nil, nil, nil)
	require.Error(t, err)

	_, err = NewPipeline(DirsFromDataDir(t.TempDir(), Config{SimilarityMetric: "nope"}), &memStore{}, nil, nil)
	require.Error(t, err)
}

func TestRunEndToEnd(t *testing.T) {
	store := &memStore{}
	store.seed("Docker", "Test de positionnement", "What is a container?")
	store.seed("Kubernetes", "Test de validation", "What is kubectl?")
	log := &eventLog{}
	p := newTestPipeline(t, store, log)
	writeFile(t, p.cfg.InboxDir, "docker.csv", dockerQuiz)

	res, err := p.Run(context.Background(), RunInput{Author: " alice "})
	require.NoError(t, err)

	assert.Equal(t, 3, res.Accepted)
	assert.Equal(t, 2, res.Rejected)
	assert.Equal(t, res.Accepted+res.Rejected, res.Total)
	assert.Equal(t, "Questions accepted: 3 | rejected: 2 | total: 5", res.Message)
	assert.NotEmpty(t, res.RunID)
	assert.Empty(t, res.ReportPath)

	require.Len(t, log.ofKind(KindAutoCorrectSubj), 1)
	require.Len(t, log.ofKind(KindAnswerIgnored), 2)
	summary := log.ofKind(KindSummary)
	require.Len(t, summary, 1)
	assert.Equal(t, "docker.csv", summary[0].SourceFile)

	docker := store.questions[2]
	assert.Equal(t, "What is Docker?", docker.Question)
	assert.Equal(t, "Docker", docker.Subject)
	require.NotNil(t, docker.Remark)
	assert.Equal(t, "intro", *docker.Remark)
	assert.Equal(t, "alice", docker.Metadata.Author)
	assert.Len(t, docker.Responses, 4)

	report, err := os.ReadFile(filepath.Join(p.cfg.LogDir, "rapport_docker.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "SUMMARY")
	assert.FileExists(t, filepath.Join(p.cfg.TreatedDir, "docker.csv"))
}

func TestRunIsIdempotent(t *testing.T) {
	store := &memStore{}
	log := &eventLog{}
	p := newTestPipeline(t, store, log)

	writeFile(t, p.cfg.InboxDir, "docker.csv", dockerQuiz)
	first, err := p.Run(context.Background(), RunInput{})
	require.NoError(t, err)
	require.Greater(t, first.Accepted, 0)
	stored := len(store.questions)

	writeFile(t, p.cfg.InboxDir, "docker.csv", dockerQuiz)
	before := len(log.ofKind(KindDupSkipped))
	second, err := p.Run(context.Background(), RunInput{})
	require.NoError(t, err)

	assert.Equal(t, 0, second.Accepted)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, stored, len(store.questions))
	assert.Equal(t, first.Accepted, len(log.ofKind(KindDupSkipped))-before)
}

func TestRunEmptyInbox(t *testing.T) {
	p := newTestPipeline(t, &memStore{}, nil)

	_, err := p.Run(context.Background(), RunInput{})
	require.ErrorIs(t, err, ErrEmptyInput)

	writeFile(t, p.cfg.InboxDir, "bad.csv", csvLines("question,subject", "Q?,S"))
	_, err = p.Run(context.Background(), RunInput{})
	require.ErrorIs(t, err, ErrEmptyInput)

	report, err := os.ReadFile(filepath.Join(p.cfg.LogDir, "rapport_bad.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(report), KindStructure)
}

func TestRunStoreFailure(t *testing.T) {
	store := &memStore{distinctErr: errors.New("db down")}
	p := newTestPipeline(t, store, nil)
	writeFile(t, p.cfg.InboxDir, "docker.csv", dockerQuiz)

	_, err := p.Run(context.Background(), RunInput{})
	require.ErrorIs(t, err, store.distinctErr)
}

func TestStageUpload(t *testing.T) {
	p := newTestPipeline(t, &memStore{}, nil)

	name, err := p.StageUpload("../My Quiz (v2).CSV", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "My_Quiz_v2__20240301_093000.csv", name)
	assert.FileExists(t, filepath.Join(p.cfg.InboxDir, name))

	again, err := p.StageUpload("My Quiz (v2).csv", []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, "My_Quiz_v2__20240301_093000_2.csv", again)

	_, err = p.StageUpload("quiz.pdf", []byte("z"))
	require.ErrorIs(t, err, ErrUnsupportedExt)
}

func TestImportUpload(t *testing.T) {
	store := &memStore{}
	p := newTestPipeline(t, store, nil)

	name, res, err := p.ImportUpload(context.Background(), "docker.csv", []byte(dockerQuiz), "bob")
	require.NoError(t, err)

	assert.Equal(t, "docker_20240301_093000.csv", name)
	assert.Equal(t, filepath.Join(p.cfg.LogDir, "rapport_docker_20240301_093000.csv"), res.ReportPath)
	assert.Equal(t, 3, res.Accepted)
	assert.FileExists(t, res.ReportPath)
	assert.FileExists(t, filepath.Join(p.cfg.TreatedDir, name))
	for _, q := range store.questions {
		assert.Equal(t, name, q.Metadata.SourceFile)
		assert.Equal(t, "bob", q.Metadata.Author)
	}

	_, _, err = p.ImportUpload(context.Background(), "empty.csv", []byte(csvHeader+"\n"), "bob")
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.FileExists(t, p.Reporter().ReportPath("empty_20240301_093000.csv"))
}
