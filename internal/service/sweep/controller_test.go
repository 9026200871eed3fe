package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nbyrd/staggerd/internal/alert"
	"github.com/nbyrd/staggerd/internal/domain"
	"github.com/nbyrd/staggerd/internal/service/target"
	"github.com/nbyrd/staggerd/internal/service/timeline"
)

type stubDeploymentLister struct {
	deployments []domain.Deployment
	listErr     error
}

func (s *stubDeploymentLister) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return nil
}
func (s *stubDeploymentLister) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	return nil
}
func (s *stubDeploymentLister) DeleteDeployment(ctx context.Context, deploymentID string) error {
	return nil
}
func (s *stubDeploymentLister) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	return nil, nil
}
func (s *stubDeploymentLister) ListEnabledDeployments(ctx context.Context) ([]domain.Deployment, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.deployments, nil
}
func (s *stubDeploymentLister) ListEnabledDeploymentsByProject(ctx context.Context, projectID string) ([]domain.Deployment, error) {
	return nil, nil
}
func (s *stubDeploymentLister) ListDeploymentsReferencingAttribute(ctx context.Context, attributeID string) ([]domain.Deployment, error) {
	return nil, nil
}

type stubRebuilder struct {
	mu      sync.Mutex
	results map[string]*target.Result
	errs    map[string]error
	calls   []string
}

func (s *stubRebuilder) Rebuild(ctx context.Context, deploymentID string) (*target.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, deploymentID)
	s.mu.Unlock()
	if err := s.errs[deploymentID]; err != nil {
		return nil, err
	}
	return s.results[deploymentID], nil
}

func (s *stubRebuilder) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []alert.Alert
	err    error
}

func (s *recordingSink) Notify(ctx context.Context, a alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

func (s *recordingSink) byClassification(classification string) *alert.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].Classification == classification {
			return &s.alerts[i]
		}
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func scheduledResult(id string, percent int) *target.Result {
	state := timeline.StateRunning
	if percent >= 100 {
		state = timeline.StateComplete
	}
	return &target.Result{DeploymentID: id, Scheduled: true, State: state, Percent: percent}
}

func TestNewRequiresDependencies(t *testing.T) {
	if c := New(nil, &stubRebuilder{}, nil, testLogger(), Options{}); c != nil {
		t.Fatal("expected nil controller without a deployment repository")
	}
	if c := New(&stubDeploymentLister{}, nil, nil, testLogger(), Options{}); c != nil {
		t.Fatal("expected nil controller without a rebuilder")
	}
}

func TestRunOnceClassifiesScheduledDeployments(t *testing.T) {
	lister := &stubDeploymentLister{deployments: []domain.Deployment{
		{ID: "active-1", Enabled: true},
		{ID: "active-2", Enabled: true},
		{ID: "done-1", Enabled: true},
		{ID: "unscheduled", Enabled: true},
	}}
	rebuilder := &stubRebuilder{results: map[string]*target.Result{
		"active-1":    scheduledResult("active-1", 25),
		"active-2":    scheduledResult("active-2", 75),
		"done-1":      scheduledResult("done-1", 100),
		"unscheduled": {DeploymentID: "unscheduled", Scheduled: false, State: timeline.StateComplete, Percent: 100},
	}}
	sink := &recordingSink{}

	c := New(lister, rebuilder, []alert.Sink{sink}, testLogger(), Options{Parallelism: 2})
	c.RunOnce(context.Background())

	activeAlert := sink.byClassification(alert.ClassificationActive)
	if activeAlert == nil {
		t.Fatal("expected an active alert")
	}
	if activeAlert.Count != 2 {
		t.Fatalf("expected 2 active deployments, got %d", activeAlert.Count)
	}
	got := append([]string(nil), activeAlert.DeploymentIDs...)
	sort.Strings(got)
	if got[0] != "active-1" || got[1] != "active-2" {
		t.Fatalf("unexpected active ids: %v", got)
	}

	finishedAlert := sink.byClassification(alert.ClassificationFinished)
	if finishedAlert == nil {
		t.Fatal("expected a finished alert")
	}
	if finishedAlert.Count != 1 || finishedAlert.DeploymentIDs[0] != "done-1" {
		t.Fatalf("unexpected finished alert: %+v", finishedAlert)
	}
}

func TestRunOnceSkipsAlertsForEmptyBuckets(t *testing.T) {
	lister := &stubDeploymentLister{deployments: []domain.Deployment{
		{ID: "unscheduled", Enabled: true},
	}}
	rebuilder := &stubRebuilder{results: map[string]*target.Result{
		"unscheduled": {DeploymentID: "unscheduled", Scheduled: false, Percent: 100},
	}}
	sink := &recordingSink{}

	c := New(lister, rebuilder, []alert.Sink{sink}, testLogger(), Options{})
	c.RunOnce(context.Background())

	if len(sink.alerts) != 0 {
		t.Fatalf("expected no alerts for empty buckets, got %+v", sink.alerts)
	}
}

func TestRunOnceContinuesPastRebuildFailures(t *testing.T) {
	lister := &stubDeploymentLister{deployments: []domain.Deployment{
		{ID: "broken", Enabled: true},
		{ID: "healthy", Enabled: true},
	}}
	rebuilder := &stubRebuilder{
		results: map[string]*target.Result{
			"healthy": scheduledResult("healthy", 40),
		},
		errs: map[string]error{
			"broken": errors.New("cache store unavailable"),
		},
	}
	sink := &recordingSink{}

	c := New(lister, rebuilder, []alert.Sink{sink}, testLogger(), Options{})
	c.RunOnce(context.Background())

	if rebuilder.callCount() != 2 {
		t.Fatalf("expected both deployments rebuilt, got %d calls", rebuilder.callCount())
	}
	activeAlert := sink.byClassification(alert.ClassificationActive)
	if activeAlert == nil || activeAlert.Count != 1 || activeAlert.DeploymentIDs[0] != "healthy" {
		t.Fatalf("expected healthy deployment classified despite failure, got %+v", activeAlert)
	}
}

func TestRunOnceToleratesVanishedDeployments(t *testing.T) {
	lister := &stubDeploymentLister{deployments: []domain.Deployment{
		{ID: "ghost", Enabled: true},
	}}
	// Nil result without error means the deployment disappeared mid-sweep.
	rebuilder := &stubRebuilder{results: map[string]*target.Result{}}
	sink := &recordingSink{}

	c := New(lister, rebuilder, []alert.Sink{sink}, testLogger(), Options{})
	c.RunOnce(context.Background())

	if len(sink.alerts) != 0 {
		t.Fatalf("expected no alerts, got %+v", sink.alerts)
	}
}

func TestRunOnceAbortsWhenListingFails(t *testing.T) {
	lister := &stubDeploymentLister{listErr: errors.New("database down")}
	rebuilder := &stubRebuilder{}

	c := New(lister, rebuilder, nil, testLogger(), Options{})
	c.RunOnce(context.Background())

	if rebuilder.callCount() != 0 {
		t.Fatalf("expected no rebuilds when listing fails, got %d", rebuilder.callCount())
	}
}

func TestNextWaitAlignsToMidnight(t *testing.T) {
	c := New(&stubDeploymentLister{}, &stubRebuilder{}, nil, testLogger(), Options{AlignMidnight: true})
	c.now = func() time.Time {
		return time.Date(2025, 3, 10, 22, 0, 0, 0, time.UTC)
	}
	if got := c.nextWait(); got != 2*time.Hour {
		t.Fatalf("expected 2h until midnight, got %s", got)
	}
}

func TestNextWaitUsesIntervalWithoutAlignment(t *testing.T) {
	c := New(&stubDeploymentLister{}, &stubRebuilder{}, nil, testLogger(), Options{Interval: time.Minute})
	if got := c.nextWait(); got != time.Minute {
		t.Fatalf("expected 1m interval, got %s", got)
	}
}
