package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	patrowl "github.com/D-E-N/PatrowlManager"
	"github.com/D-E-N/PatrowlManager/asset"
	"github.com/D-E-N/PatrowlManager/event"
	"github.com/D-E-N/PatrowlManager/finding"
	"github.com/D-E-N/PatrowlManager/importer"
	"github.com/D-E-N/PatrowlManager/queue"
	"github.com/D-E-N/PatrowlManager/scan"
	"github.com/D-E-N/PatrowlManager/search"
	"github.com/D-E-N/PatrowlManager/store"
	"github.com/D-E-N/PatrowlManager/tracker"
)

type riskRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *riskRecorder) EvaluateRisk(_ context.Context, assetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, assetID)
	return nil
}

type jobRecorder struct {
	queues []string
	jobs   []queue.ImportJob
	err    error
}

func (j *jobRecorder) Push(_ context.Context, q string, job queue.ImportJob) error {
	if j.err != nil {
		return j.err
	}
	j.queues = append(j.queues, q)
	j.jobs = append(j.jobs, job)
	return nil
}

type fixture struct {
	ctx  context.Context
	repo *store.Memory
	risk *riskRecorder
	jobs *jobRecorder
	svc  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		ctx:  context.Background(),
		repo: store.NewMemory(),
		risk: &riskRecorder{},
		jobs: &jobRecorder{},
	}
	fx.svc = New(fx.repo,
		WithRiskEvaluator(fx.risk),
		WithImports(importer.NewUploads(t.TempDir()), fx.jobs, "imports"),
	)
	return fx
}

func (fx *fixture) asset(t *testing.T, value string) *asset.Asset {
	t.Helper()
	a := asset.New("u1", value)
	require.NoError(t, fx.repo.CreateAsset(fx.ctx, a))
	return a
}

func (fx *fixture) finding(t *testing.T, a *asset.Asset, title string, sev finding.Severity, status finding.Status) *finding.Finding {
	t.Helper()
	f := finding.NewFinding("u1", a.ID, a.Value, title, "vulnerability", sev)
	f.Status = status
	require.NoError(t, fx.repo.CreateFinding(fx.ctx, f))
	return f
}

func titles(findings []*finding.Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		out[i] = f.Title
	}
	return out
}

func TestService_List(t *testing.T) {
	fx := newFixture(t)
	www := fx.asset(t, "www.example.com")
	for i := 0; i < 5; i++ {
		fx.finding(t, www, fmt.Sprintf("finding %d", i), finding.SeverityHigh, finding.StatusNew)
	}
	fx.finding(t, www, "low one", finding.SeverityLow, finding.StatusNew)

	t.Run("filter and page", func(t *testing.T) {
		page, err := fx.svc.List(fx.ctx, search.Query{
			Filter:   finding.Filter{Severities: []finding.Severity{finding.SeverityHigh}},
			PageSize: 2,
			Page:     "2",
		})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
		assert.Equal(t, 3, page.NumPages)
		assert.Equal(t, 2, page.Number)
		assert.Len(t, page.Items, 2)
	})

	t.Run("out of range page selects last", func(t *testing.T) {
		page, err := fx.svc.List(fx.ctx, search.Query{PageSize: 4, Page: "99"})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Number)
		assert.Len(t, page.Items, 2)
	})

	t.Run("expression", func(t *testing.T) {
		page, err := fx.svc.List(fx.ctx, search.Query{Expr: `severity == "low"`})
		require.NoError(t, err)
		assert.Equal(t, []string{"low one"}, titles(page.Items))
	})

	t.Run("invalid expression", func(t *testing.T) {
		_, err := fx.svc.List(fx.ctx, search.Query{Expr: "severity =="})
		require.Error(t, err)
		assert.True(t, patrowl.IsValidation(err))
	})
}

func TestService_ListByAsset(t *testing.T) {
	fx := newFixture(t)
	www := fx.asset(t, "www.example.com")
	db := fx.asset(t, "db.example.com")
	fx.finding(t, www, "banner", finding.SeverityInfo, finding.StatusNew)
	fx.finding(t, www, "xss", finding.SeverityHigh, finding.StatusAck)
	fx.finding(t, www, "sqli", finding.SeverityCritical, finding.StatusNew)
	fx.finding(t, www, "fixed", finding.SeverityMedium, finding.StatusClosed)
	fx.finding(t, db, "open port", finding.SeverityCritical, finding.StatusNew)

	tests := []struct {
		status string
		want   []string
	}{
		{"", []string{"sqli", "xss", "fixed", "banner"}},
		{"new", []string{"sqli", "banner"}},
		{"ack", []string{"xss"}},
		{"closed", []string{"sqli", "xss", "fixed", "banner"}},
	}
	for _, tt := range tests {
		t.Run("status="+tt.status, func(t *testing.T) {
			out, err := fx.svc.ListByAsset(fx.ctx, "www.example.com", tt.status)
			require.NoError(t, err)
			assert.Equal(t, tt.want, titles(out))
		})
	}

	out, err := fx.svc.ListByAsset(fx.ctx, "unknown", "")
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
}

func TestService_Delete(t *testing.T) {
	fx := newFixture(t)
	a := fx.asset(t, "www.example.com")
	f := fx.finding(t, a, "xss", finding.SeverityHigh, finding.StatusNew)

	require.NoError(t, fx.svc.Delete(fx.ctx, f.ID))
	assert.Equal(t, []string{a.ID}, fx.risk.calls, "risk evaluated exactly once")

	_, err := fx.repo.GetFinding(fx.ctx, f.ID)
	assert.True(t, patrowl.IsNotFound(err))

	err = fx.svc.Delete(fx.ctx, f.ID)
	assert.True(t, patrowl.IsNotFound(err))
	assert.Len(t, fx.risk.calls, 1)
}

func TestService_DeleteUpdatesGrade(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemory()
	svc := New(repo)

	a := asset.New("u1", "www.example.com")
	require.NoError(t, repo.CreateAsset(ctx, a))
	f := finding.NewFinding("u1", a.ID, a.Value, "rce", "vulnerability", finding.SeverityCritical)
	require.NoError(t, repo.CreateFinding(ctx, f))
	require.NoError(t, asset.NewGrader(repo, nil).EvaluateRisk(ctx, a.ID))

	before, err := repo.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	require.NotEqual(t, "A", before.Risk.Grade)

	require.NoError(t, svc.Delete(ctx, f.ID))
	after, err := repo.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", after.Risk.Grade)
}

func TestService_Import(t *testing.T) {
	fx := newFixture(t)

	jobID, err := fx.svc.Import(fx.ctx, ImportForm{
		OwnerID:  "u1",
		Engine:   " Trivy ",
		MinLevel: "low",
		File:     strings.NewReader(`{"Results": []}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	require.Len(t, fx.jobs.jobs, 1)
	job := fx.jobs.jobs[0]
	assert.Equal(t, "imports", fx.jobs.queues[0])
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, "trivy", job.Engine)
	assert.Equal(t, "low", job.MinLevel)
	assert.NoError(t, job.IsValid())
	assert.True(t, strings.HasSuffix(job.Path, ".trivy"))

	data, err := os.ReadFile(job.Path)
	require.NoError(t, err)
	assert.Equal(t, `{"Results": []}`, string(data))
}

func TestService_ImportInvalid(t *testing.T) {
	fx := newFixture(t)

	tests := []struct {
		name string
		form ImportForm
		is   error
	}{
		{"no owner", ImportForm{Engine: "json", File: strings.NewReader("[]")}, patrowl.ErrInvalidForm},
		{"no file", ImportForm{OwnerID: "u1", Engine: "json"}, patrowl.ErrInvalidForm},
		{"unknown engine", ImportForm{OwnerID: "u1", Engine: "nessus", File: strings.NewReader("")}, patrowl.ErrUnsupportedEngine},
		{"bad min level", ImportForm{OwnerID: "u1", Engine: "json", MinLevel: "urgent", File: strings.NewReader("[]")}, patrowl.ErrInvalidForm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.Import(fx.ctx, tt.form)
			require.Error(t, err)
			assert.True(t, patrowl.IsValidation(err))
			assert.True(t, errors.Is(err, tt.is))
		})
	}
	assert.Empty(t, fx.jobs.jobs)

	t.Run("not configured", func(t *testing.T) {
		_, err := New(store.NewMemory()).Import(fx.ctx, ImportForm{OwnerID: "u1", Engine: "json", File: strings.NewReader("[]")})
		assert.Equal(t, patrowl.KindConfiguration, patrowl.KindOf(err))
	})

	t.Run("queue failure", func(t *testing.T) {
		fx.jobs.err = errors.New("connection refused")
		defer func() { fx.jobs.err = nil }()
		_, err := fx.svc.Import(fx.ctx, ImportForm{OwnerID: "u1", Engine: "json", File: strings.NewReader("[]")})
		assert.Equal(t, patrowl.KindQueue, patrowl.KindOf(err))
	})
}

func TestService_ImportThroughRedis(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	conn, err := queue.Dial(queue.RedisOptions{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	client := queue.NewRedisClientFrom(conn)
	t.Cleanup(func() { _ = client.Close() })

	svc := New(store.NewMemory(), WithImports(importer.NewUploads(t.TempDir()), client, ""))
	jobID, err := svc.Import(ctx, ImportForm{OwnerID: "u1", Engine: "sarif", File: strings.NewReader(`{"runs": []}`)})
	require.NoError(t, err)

	n, err := client.Len(ctx, queue.DefaultQueue)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	job, err := client.Pop(ctx, queue.DefaultQueue)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, "sarif", job.Engine)
}

func TestService_ImportAndWait(t *testing.T) {
	mr := miniredis.RunT(t)
	conn, err := queue.Dial(queue.RedisOptions{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	client := queue.NewRedisClientFrom(conn)
	t.Cleanup(func() { _ = client.Close() })

	repo := store.NewMemory()
	uploads := importer.NewUploads(t.TempDir())
	svc := New(repo,
		WithRiskEvaluator(&riskRecorder{}),
		WithImports(uploads, client, ""),
		WithResults(client),
	)

	t.Run("no worker", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		_, err := svc.ImportAndWait(ctx, ImportForm{OwnerID: "u1", Engine: "json", File: strings.NewReader("[]")})
		require.Error(t, err)
		assert.Equal(t, patrowl.KindQueue, patrowl.KindOf(err))
		assert.True(t, errors.Is(err, context.DeadlineExceeded))

		job, err := client.Pop(context.Background(), queue.DefaultQueue)
		require.NoError(t, err)
		require.NotNil(t, job, "the job was queued")
	})

	t.Run("worker result", func(t *testing.T) {
		w := importer.NewWorker(client, importer.NewProcessor(repo, &riskRecorder{}, uploads, nil), importer.WorkerOptions{
			Concurrency:       1,
			ShutdownTimeout:   5 * time.Second,
			HeartbeatInterval: 50 * time.Millisecond,
			Version:           "test",
		})
		runCtx, stop := context.WithCancel(context.Background())
		runErr := make(chan error, 1)
		go func() { runErr <- w.Run(runCtx) }()
		t.Cleanup(func() {
			stop()
			<-runErr
		})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		report := `[{"asset": "www.example.com", "title": "Reflected XSS", "type": "web", "severity": "high"}]`
		res, err := svc.ImportAndWait(ctx, ImportForm{
			OwnerID: "u1",
			Engine:  "json",
			File:    strings.NewReader(report),
			JobID:   "job-42",
		})
		require.NoError(t, err)
		assert.Equal(t, "job-42", res.JobID)
		assert.Empty(t, res.Error)
		assert.Equal(t, 1, res.Created)
		assert.Equal(t, w.ID(), res.WorkerID)

		all, err := repo.ListFindings(context.Background())
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "Reflected XSS", all[0].Title)
	})

	t.Run("invalid form is not queued", func(t *testing.T) {
		_, err := svc.ImportAndWait(context.Background(), ImportForm{OwnerID: "u1", Engine: "nessus", File: strings.NewReader("[]")})
		assert.True(t, errors.Is(err, patrowl.ErrUnsupportedEngine))
	})

	t.Run("not configured", func(t *testing.T) {
		_, err := New(repo).ImportAndWait(context.Background(), ImportForm{OwnerID: "u1", Engine: "json", File: strings.NewReader("[]")})
		assert.Equal(t, patrowl.KindConfiguration, patrowl.KindOf(err))
	})
}

func TestService_Details(t *testing.T) {
	fx := newFixture(t)
	a := fx.asset(t, "www.example.com")

	def := &scan.Definition{ID: "D1", Title: "weekly", EngineType: "NMAP", OwnerID: "u1"}
	require.NoError(t, fx.repo.UpsertScanDefinition(fx.ctx, def))
	s := scan.New(def, "weekly #1")
	s.Finish(time.Now())
	require.NoError(t, fx.repo.CreateScan(fx.ctx, s))

	raw := finding.NewRawFinding(s.ID, "NMAP", "u1", a.ID, a.Value, "Open port", "port", finding.SeverityLow)
	require.NoError(t, fx.repo.CreateRawFinding(fx.ctx, raw))

	f := finding.NewFinding("u1", a.ID, a.Value, "Open port", "port", finding.SeverityLow)
	f.ScanID = s.ID
	f.EngineType = "NMAP"
	require.NoError(t, fx.repo.CreateFinding(fx.ctx, f))

	d, err := fx.svc.Details(fx.ctx, f.ID, false)
	require.NoError(t, err)
	assert.Equal(t, f.ID, d.Finding.ID)
	assert.Nil(t, d.Raw)
	require.NotEmpty(t, d.Timeline)
	assert.Equal(t, tracker.SourceOrigin, d.Timeline[0].Source)

	d, err = fx.svc.Details(fx.ctx, raw.ID, true)
	require.NoError(t, err)
	assert.Nil(t, d.Finding)
	assert.Equal(t, raw.ID, d.Raw.ID)
	assert.Empty(t, d.Timeline)

	_, err = fx.svc.Details(fx.ctx, raw.ID, false)
	assert.True(t, patrowl.IsNotFound(err))

	tl, err := fx.svc.Timeline(fx.ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tl.Count(tracker.SourceOrigin))
}

func validForm() *finding.Form {
	return &finding.Form{
		Title:       "Reflected XSS",
		Description: "search parameter is echoed",
		Type:        "vulnerability",
		Severity:    finding.SeverityHigh,
	}
}

func TestService_Edit(t *testing.T) {
	fx := newFixture(t)
	a := fx.asset(t, "www.example.com")
	f := fx.finding(t, a, "Reflected XSS", finding.SeverityHigh, finding.StatusNew)
	f.Description = "search parameter is echoed"
	require.NoError(t, fx.repo.UpdateFinding(fx.ctx, f))

	t.Run("status and severity", func(t *testing.T) {
		form := validForm()
		form.Severity = "Moderate"
		form.Status = finding.StatusAck

		res, err := fx.svc.Edit(fx.ctx, f.ID, false, form)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"severity", "status"}, res.Changed)
		assert.Equal(t, finding.SeverityMedium, res.Finding.Severity)

		stored, err := fx.repo.GetFinding(fx.ctx, f.ID)
		require.NoError(t, err)
		assert.Equal(t, finding.StatusAck, stored.Status)
		assert.Equal(t, f.Hash, stored.Hash, "hash is kept")

		events, err := fx.repo.ListEventsForFinding(fx.ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, event.TypeStatusChanged, events[0].Type)
		assert.Equal(t, event.TypeSeverityChange, events[1].Type)
		assert.Equal(t, "Severity changed from 'high' to 'medium'", events[1].Message)
		assert.Equal(t, []string{a.ID}, fx.risk.calls)
	})

	t.Run("no change", func(t *testing.T) {
		form := validForm()
		form.Severity = finding.SeverityMedium
		form.Status = finding.StatusAck

		res, err := fx.svc.Edit(fx.ctx, f.ID, false, form)
		require.NoError(t, err)
		assert.Empty(t, res.Changed)
		assert.Len(t, fx.risk.calls, 1)
	})

	t.Run("invalid form", func(t *testing.T) {
		form := validForm()
		form.Title = "  "
		_, err := fx.svc.Edit(fx.ctx, f.ID, false, form)
		assert.True(t, errors.Is(err, patrowl.ErrInvalidForm))
	})

	t.Run("unknown finding", func(t *testing.T) {
		_, err := fx.svc.Edit(fx.ctx, "missing", false, validForm())
		assert.True(t, patrowl.IsNotFound(err))
	})
}

func TestService_EditRaw(t *testing.T) {
	fx := newFixture(t)
	a := fx.asset(t, "www.example.com")
	s := scan.New(&scan.Definition{ID: "D1", EngineType: "NMAP"}, "s")
	require.NoError(t, fx.repo.CreateScan(fx.ctx, s))
	raw := finding.NewRawFinding(s.ID, "NMAP", "u1", a.ID, a.Value, "Reflected XSS", "vulnerability", finding.SeverityLow)
	require.NoError(t, fx.repo.CreateRawFinding(fx.ctx, raw))

	res, err := fx.svc.Edit(fx.ctx, raw.ID, true, validForm())
	require.NoError(t, err)
	assert.Contains(t, res.Changed, "severity")
	assert.Nil(t, res.Finding)

	stored, err := fx.repo.GetRawFinding(fx.ctx, raw.ID)
	require.NoError(t, err)
	assert.Equal(t, finding.SeverityHigh, stored.Severity)
	assert.Empty(t, fx.risk.calls, "raw findings do not carry asset risk")
}

func TestService_Add(t *testing.T) {
	fx := newFixture(t)
	a := fx.asset(t, "www.example.com")

	form := validForm()
	form.AssetID = a.ID
	f, err := fx.svc.Add(fx.ctx, "u1", form)
	require.NoError(t, err)
	assert.Equal(t, finding.EngineManual, f.EngineType)
	assert.Equal(t, a.Value, f.AssetName)
	assert.Equal(t, finding.StatusNew, f.Status)

	tl, err := fx.svc.Timeline(fx.ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, tl, 1)
	assert.Equal(t, tracker.SourceEvent, tl[0].Source)
	assert.Equal(t, "New finding", tl[0].Message)
	assert.Equal(t, []string{a.ID}, fx.risk.calls)

	t.Run("unknown asset", func(t *testing.T) {
		form := validForm()
		form.AssetID = "missing"
		_, err := fx.svc.Add(fx.ctx, "u1", form)
		require.Error(t, err)
		assert.True(t, patrowl.IsValidation(err))
		assert.True(t, errors.Is(err, patrowl.ErrAssetNotFound))
	})

	t.Run("no asset", func(t *testing.T) {
		_, err := fx.svc.Add(fx.ctx, "u1", validForm())
		assert.True(t, errors.Is(err, patrowl.ErrInvalidForm))
	})

	t.Run("no owner", func(t *testing.T) {
		form := validForm()
		form.AssetID = a.ID
		_, err := fx.svc.Add(fx.ctx, "", form)
		require.Error(t, err)
		assert.True(t, patrowl.IsValidation(err))
		assert.True(t, errors.Is(err, patrowl.ErrInvalidForm))
		assert.Contains(t, err.Error(), "owner is required")

		all, err := fx.repo.ListFindingsForAsset(fx.ctx, a.ID)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func TestService_Compare(t *testing.T) {
	fx := newFixture(t)
	a := fx.asset(t, "www.example.com")
	f1 := fx.finding(t, a, "xss", finding.SeverityHigh, finding.StatusNew)
	f2 := fx.finding(t, a, "xss", finding.SeverityLow, finding.StatusNew)

	c, err := fx.svc.Compare(fx.ctx, f1.ID, f2.ID, false)
	require.NoError(t, err)
	assert.Equal(t, f1.ID, c.A.ID)
	require.Len(t, c.Diffs, 1)
	assert.Equal(t, "severity", c.Diffs[0].Field)

	c, err = fx.svc.Compare(fx.ctx, f1.ID, f1.ID, false)
	require.NoError(t, err)
	assert.NotNil(t, c.Diffs)
	assert.Empty(t, c.Diffs)

	_, err = fx.svc.Compare(fx.ctx, f1.ID, "", false)
	assert.True(t, patrowl.IsValidation(err))

	_, err = fx.svc.Compare(fx.ctx, f1.ID, f2.ID, true)
	assert.True(t, patrowl.IsNotFound(err))
}

func TestService_Export(t *testing.T) {
	fx := newFixture(t)
	a := fx.asset(t, "www.example.com")
	fx.finding(t, a, "xss", finding.SeverityHigh, finding.StatusNew)
	fx.finding(t, a, "banner", finding.SeverityInfo, finding.StatusNew)

	var buf bytes.Buffer
	err := fx.svc.Export(fx.ctx, search.Query{
		Filter:   finding.Filter{Severities: []finding.Severity{finding.SeverityHigh}},
		PageSize: 1,
		Page:     "2",
	}, finding.FormatJSON, &buf)
	require.NoError(t, err)

	var out []*finding.Finding
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, []string{"xss"}, titles(out), "pagination is ignored")

	buf.Reset()
	require.NoError(t, fx.svc.Export(fx.ctx, search.Query{}, finding.FormatCSV, &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)

	err = fx.svc.Export(fx.ctx, search.Query{}, finding.ExportFormat("xml"), &buf)
	assert.True(t, patrowl.IsValidation(err))
}
