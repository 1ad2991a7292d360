package staging

import (
	"context"
	"testing"

	"github.com/gridpilot/pilot/internal/copytool"
	"github.com/gridpilot/pilot/internal/model"
	"github.com/gridpilot/pilot/internal/replica"
	"github.com/gridpilot/pilot/internal/taxonomy"
)

type fakeCatalog struct {
	replicas []replica.CatalogReplica
}

func (c *fakeCatalog) ListReplicas(ctx context.Context, q replica.Query) ([]replica.CatalogReplica, error) {
	return c.replicas, nil
}

type fakeTool struct {
	name              string
	requireReplicas   bool
	requireProtocols  bool
	allowedSchemas    []string
	copyInErr         error
	copyOutErr        error
	copyInCalls       int
	copyOutCalls      int
}

func (t *fakeTool) Name() string            { return t.name }
func (t *fakeTool) RequireReplicas() bool   { return t.requireReplicas }
func (t *fakeTool) RequireProtocols() bool  { return t.requireProtocols }
func (t *fakeTool) AllowedSchemas() []string { return t.allowedSchemas }
func (t *fakeTool) IsValidForCopyIn(files []*model.FileSpec) bool  { return len(files) > 0 }
func (t *fakeTool) IsValidForCopyOut(files []*model.FileSpec) bool { return len(files) > 0 }

func (t *fakeTool) CopyIn(ctx context.Context, files []*model.FileSpec) error {
	t.copyInCalls++
	if t.copyInErr != nil {
		return t.copyInErr
	}
	for _, f := range files {
		f.Status = model.FileStatusTransferred
	}
	return nil
}

func (t *fakeTool) CopyOut(ctx context.Context, files []*model.FileSpec) error {
	t.copyOutCalls++
	if t.copyOutErr != nil {
		return t.copyOutErr
	}
	for _, f := range files {
		f.Status = model.FileStatusTransferred
	}
	return nil
}

func TestResolveDirectAccessForcedOffForProductionWithoutDirectTransfer(t *testing.T) {
	storage := &model.Config{DirectAccessLAN: true}
	job := &model.Job{IsAnalysis: false, TransferType: model.TransferTypeDefault}

	dav := ResolveDirectAccess(storage, job)
	if dav.Allow {
		t.Fatal("expected direct access forced off for forbidding job")
	}
}

func TestResolveDirectAccessAllowedForAnalysisJob(t *testing.T) {
	storage := &model.Config{DirectAccessLAN: true}
	job := &model.Job{IsAnalysis: true}

	dav := ResolveDirectAccess(storage, job)
	if !dav.Allow || dav.Type != "LAN" {
		t.Fatalf("expected LAN direct access allowed, got %+v", dav)
	}
}

func TestApplyDirectAccessPolicyMarksFilesDirectWhenAllowed(t *testing.T) {
	a := &model.FileSpec{LFN: "a.root", Replicas: []model.Replica{{PFNs: []string{"root://x"}}}}
	b := &model.FileSpec{LFN: "b.root"}
	files := []*model.FileSpec{b, a}

	applyDirectAccessPolicy(files, DirectAccessVariables{Allow: true, Type: "LAN"})

	if a.AccessMode != model.AccessModeDirect || b.AccessMode != model.AccessModeDirect {
		t.Fatalf("expected both files set to direct access mode when allowed, got a=%v b=%v", a.AccessMode, b.AccessMode)
	}
	if len(files) != 2 {
		t.Fatal("expected stable sort to preserve file count")
	}
}

func TestApplyDirectAccessPolicySetsAllowRemoteInputsForWAN(t *testing.T) {
	f := &model.FileSpec{LFN: "a.root"}
	applyDirectAccessPolicy([]*model.FileSpec{f}, DirectAccessVariables{Allow: true, Type: "WAN"})

	if !f.AllowRemoteInputs {
		t.Fatal("expected AllowRemoteInputs set true under WAN direct access")
	}
}

func TestApplyDirectAccessPolicyNoopWhenDisallowed(t *testing.T) {
	f := &model.FileSpec{LFN: "a.root", AccessMode: model.AccessModeCopy}
	applyDirectAccessPolicy([]*model.FileSpec{f}, DirectAccessVariables{Allow: false})
	if f.AccessMode != model.AccessModeCopy {
		t.Fatal("expected no mutation when direct access is disallowed")
	}
}

func TestEngineStageInSuccessOnFirstCopytool(t *testing.T) {
	storage := &model.Config{}
	tool := &fakeTool{name: "rucio", allowedSchemas: []string{"root"}}
	engine := &Engine{
		Registry:   copytool.NewRegistry(tool),
		Storage:    storage,
		ACopytools: map[string][]string{"default": {"rucio"}},
	}
	job := &model.Job{InputFiles: []*model.FileSpec{{LFN: "file.root"}}}

	if err := engine.StageIn(context.Background(), job, []string{"default"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tool.copyInCalls != 1 {
		t.Fatalf("expected exactly one CopyIn call, got %d", tool.copyInCalls)
	}
}

func TestEngineStageInCascadesOnRecoverableFailure(t *testing.T) {
	storage := &model.Config{}
	failing := &fakeTool{name: "rucio", copyInErr: taxonomy.New(taxonomy.StageInFailed, nil, "boom")}
	succeeding := &fakeTool{name: "gfal"}
	engine := &Engine{
		Registry:   copytool.NewRegistry(failing, succeeding),
		Storage:    storage,
		ACopytools: map[string][]string{"default": {"rucio", "gfal"}},
	}
	job := &model.Job{InputFiles: []*model.FileSpec{{LFN: "file.root"}}}

	if err := engine.StageIn(context.Background(), job, []string{"default"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if failing.copyInCalls != 1 || succeeding.copyInCalls != 1 {
		t.Fatalf("expected both tools attempted in order, got failing=%d succeeding=%d", failing.copyInCalls, succeeding.copyInCalls)
	}
}

func TestEngineStageOutStopsOnFatalError(t *testing.T) {
	storage := &model.Config{}
	fatal := &fakeTool{name: "rucio", copyOutErr: taxonomy.New(taxonomy.MissingOutputFile, nil, "missing")}
	neverCalled := &fakeTool{name: "gfal"}
	engine := &Engine{
		Registry:   copytool.NewRegistry(fatal, neverCalled),
		Storage:    storage,
		ACopytools: map[string][]string{"default": {"rucio", "gfal"}},
	}
	job := &model.Job{OutputFiles: []*model.FileSpec{{LFN: "out.root"}}}

	err := engine.StageOut(context.Background(), job, []string{"default"})
	if !taxonomy.Is(err, taxonomy.MissingOutputFile) {
		t.Fatalf("expected MissingOutputFile surfaced, got %v", err)
	}
	if neverCalled.copyOutCalls != 0 {
		t.Fatal("expected cascade to stop after fatal error, second copytool should not run")
	}
}

func TestEngineStageInNoCopytoolsConfigured(t *testing.T) {
	engine := &Engine{
		Registry:   copytool.NewRegistry(),
		Storage:    &model.Config{},
		ACopytools: map[string][]string{},
	}
	job := &model.Job{InputFiles: []*model.FileSpec{{LFN: "file.root"}}}

	err := engine.StageIn(context.Background(), job, []string{"default"})
	if !taxonomy.Is(err, taxonomy.QueueDataNotOK) {
		t.Fatalf("expected QueueDataNotOK, got %v", err)
	}
}

func TestEngineStageInEmptyFilesIsNoop(t *testing.T) {
	engine := &Engine{Registry: copytool.NewRegistry(), Storage: &model.Config{}}
	job := &model.Job{}
	if err := engine.StageIn(context.Background(), job, []string{"default"}); err != nil {
		t.Fatalf("expected no error for job with no input files, got %v", err)
	}
}

func TestResolveReplicaPrefersPrimarySchema(t *testing.T) {
	f := &model.FileSpec{
		LFN: "file.root",
		Replicas: []model.Replica{
			{Endpoint: "RSE1", PFNs: []string{"gsiftp://host/a", "root://host/a"}},
		},
	}
	if err := resolveReplica(f, []string{"root"}, []string{"gsiftp", "root"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if f.TURL != "root://host/a" {
		t.Fatalf("expected primary schema preferred, got %q", f.TURL)
	}
	if f.DDMEndpoint != "RSE1" {
		t.Fatalf("expected ddmendpoint set from chosen replica, got %q", f.DDMEndpoint)
	}
}

func TestResolveReplicaNotFound(t *testing.T) {
	f := &model.FileSpec{LFN: "file.root", Replicas: []model.Replica{{Endpoint: "RSE1", PFNs: []string{"srm://host/a"}}}}
	err := resolveReplica(f, nil, []string{"root"})
	if !taxonomy.Is(err, taxonomy.ReplicaNotFound) {
		t.Fatalf("expected ReplicaNotFound, got %v", err)
	}
}

func TestResolveProtocolFiltersBySchemaPriority(t *testing.T) {
	f := &model.FileSpec{Protocols: []model.Protocol{
		{Endpoint: "srm://host"},
		{Endpoint: "root://host"},
	}}
	got := resolveProtocol(f, []string{"root", "srm"})
	if len(got) != 2 || got[0].Endpoint != "root://host" {
		t.Fatalf("expected root-scheme protocol first, got %+v", got)
	}
}
