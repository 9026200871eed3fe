package deployment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/nbyrd/staggerd/internal/domain"
	"github.com/nbyrd/staggerd/internal/repository"
	"github.com/nbyrd/staggerd/internal/service/target"
)

type fakeDeploymentRepository struct {
	deployments map[string]*domain.Deployment
	deleted     []string
}

func newFakeDeploymentRepository() *fakeDeploymentRepository {
	return &fakeDeploymentRepository{deployments: make(map[string]*domain.Deployment)}
}

func (f *fakeDeploymentRepository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	f.deployments[deployment.ID] = deployment
	return nil
}
func (f *fakeDeploymentRepository) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	if _, ok := f.deployments[deployment.ID]; !ok {
		return repository.ErrNotFound
	}
	f.deployments[deployment.ID] = deployment
	return nil
}
func (f *fakeDeploymentRepository) DeleteDeployment(ctx context.Context, deploymentID string) error {
	if _, ok := f.deployments[deploymentID]; !ok {
		return repository.ErrNotFound
	}
	delete(f.deployments, deploymentID)
	f.deleted = append(f.deleted, deploymentID)
	return nil
}
func (f *fakeDeploymentRepository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	deployment, ok := f.deployments[deploymentID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *deployment
	return &copied, nil
}
func (f *fakeDeploymentRepository) ListEnabledDeployments(ctx context.Context) ([]domain.Deployment, error) {
	return nil, nil
}
func (f *fakeDeploymentRepository) ListEnabledDeploymentsByProject(ctx context.Context, projectID string) ([]domain.Deployment, error) {
	return nil, nil
}
func (f *fakeDeploymentRepository) ListDeploymentsReferencingAttribute(ctx context.Context, attributeID string) ([]domain.Deployment, error) {
	return nil, nil
}

type fakeScheduleRepository struct {
	schedules map[string]*domain.Schedule
}

func newFakeScheduleRepository() *fakeScheduleRepository {
	return &fakeScheduleRepository{schedules: make(map[string]*domain.Schedule)}
}

func (f *fakeScheduleRepository) CreateSchedule(ctx context.Context, schedule *domain.Schedule) error {
	f.schedules[schedule.ID] = schedule
	return nil
}
func (f *fakeScheduleRepository) GetScheduleByID(ctx context.Context, scheduleID string) (*domain.Schedule, error) {
	schedule, ok := f.schedules[scheduleID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return schedule, nil
}
func (f *fakeScheduleRepository) DeleteSchedule(ctx context.Context, scheduleID string) error {
	delete(f.schedules, scheduleID)
	return nil
}

type recordingTargets struct {
	rebuilt  []string
	released []string
}

func (r *recordingTargets) Rebuild(ctx context.Context, deploymentID string) (*target.Result, error) {
	r.rebuilt = append(r.rebuilt, deploymentID)
	return &target.Result{DeploymentID: deploymentID}, nil
}
func (r *recordingTargets) Release(ctx context.Context, deploymentID string) error {
	r.released = append(r.released, deploymentID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService() (Service, *fakeDeploymentRepository, *fakeScheduleRepository, *recordingTargets) {
	deployments := newFakeDeploymentRepository()
	schedules := newFakeScheduleRepository()
	targets := &recordingTargets{}
	return New(deployments, schedules, targets, testLogger()), deployments, schedules, targets
}

func TestCreateValidatesRequiredFields(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	cases := []CreateRequest{
		{ProjectID: "proj", RepoURL: "https://example.com/r.git"},
		{Name: "rollout", RepoURL: "https://example.com/r.git"},
		{Name: "rollout", ProjectID: "proj"},
	}
	for i, req := range cases {
		if _, err := svc.Create(ctx, req); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestCreateRejectsUnknownSchedule(t *testing.T) {
	svc, _, _, _ := newTestService()
	missing := "missing-schedule"

	_, err := svc.Create(context.Background(), CreateRequest{
		Name:       "rollout",
		ProjectID:  "proj",
		RepoURL:    "https://example.com/r.git",
		ScheduleID: &missing,
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestCreateStoresAndRebuilds(t *testing.T) {
	svc, deployments, _, targets := newTestService()

	created, err := svc.Create(context.Background(), CreateRequest{
		Name:                 "rollout",
		ProjectID:            "proj",
		RepoURL:              "https://example.com/r.git",
		IncludedAttributeIDs: []string{"lab-a"},
		Enabled:              true,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected generated id")
	}
	if _, ok := deployments.deployments[created.ID]; !ok {
		t.Fatal("deployment not persisted")
	}
	if len(targets.rebuilt) != 1 || targets.rebuilt[0] != created.ID {
		t.Fatalf("expected rebuild trigger, got %v", targets.rebuilt)
	}
}

func TestUpdateAppliesPartialEdit(t *testing.T) {
	svc, deployments, schedules, targets := newTestService()
	ctx := context.Background()

	schedule := &domain.Schedule{ID: "sched-1", Name: "staged"}
	if err := schedules.CreateSchedule(ctx, schedule); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
	seeded := &domain.Deployment{ID: "dep-1", Name: "rollout", ProjectID: "proj", RepoURL: "https://example.com/r.git", Enabled: true}
	if err := deployments.CreateDeployment(ctx, seeded); err != nil {
		t.Fatalf("seed deployment: %v", err)
	}

	newName := "renamed"
	scheduleID := "sched-1"
	disabled := false
	updated, err := svc.Update(ctx, domain.DeploymentUpdate{
		DeploymentID: "dep-1",
		Name:         &newName,
		ScheduleID:   &scheduleID,
		Enabled:      &disabled,
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Name != "renamed" || updated.ScheduleID == nil || *updated.ScheduleID != "sched-1" || updated.Enabled {
		t.Fatalf("edit not applied: %+v", updated)
	}
	if updated.ProjectID != "proj" {
		t.Fatalf("untouched field changed: %+v", updated)
	}
	if len(targets.rebuilt) != 1 || targets.rebuilt[0] != "dep-1" {
		t.Fatalf("expected rebuild trigger, got %v", targets.rebuilt)
	}
}

func TestUpdateClearSchedule(t *testing.T) {
	svc, deployments, _, _ := newTestService()
	ctx := context.Background()

	scheduleID := "sched-1"
	seeded := &domain.Deployment{ID: "dep-1", Name: "rollout", ProjectID: "proj", RepoURL: "https://example.com/r.git", ScheduleID: &scheduleID}
	if err := deployments.CreateDeployment(ctx, seeded); err != nil {
		t.Fatalf("seed deployment: %v", err)
	}

	updated, err := svc.Update(ctx, domain.DeploymentUpdate{DeploymentID: "dep-1", ClearSchedule: true})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.ScheduleID != nil {
		t.Fatalf("expected schedule cleared, got %v", *updated.ScheduleID)
	}
}

func TestDeleteReleasesTargetCache(t *testing.T) {
	svc, deployments, _, targets := newTestService()
	ctx := context.Background()

	seeded := &domain.Deployment{ID: "dep-1", Name: "rollout", ProjectID: "proj", RepoURL: "https://example.com/r.git"}
	if err := deployments.CreateDeployment(ctx, seeded); err != nil {
		t.Fatalf("seed deployment: %v", err)
	}

	if err := svc.Delete(ctx, "dep-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(deployments.deleted) != 1 || deployments.deleted[0] != "dep-1" {
		t.Fatalf("deployment not deleted: %v", deployments.deleted)
	}
	if len(targets.released) != 1 || targets.released[0] != "dep-1" {
		t.Fatalf("expected cache release, got %v", targets.released)
	}
}

func TestCreateScheduleValidatesRules(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateSchedule(ctx, "staged", []domain.ScheduleDelay{{Delay: -1, Quota: 1}}); !errors.Is(err, errNegativeDelay) {
		t.Fatalf("expected negative-delay error, got %v", err)
	}
	if _, err := svc.CreateSchedule(ctx, "staged", []domain.ScheduleDelay{{Delay: 0, Quota: -1}}); !errors.Is(err, errNegativeQuota) {
		t.Fatalf("expected negative-quota error, got %v", err)
	}
	if _, err := svc.CreateSchedule(ctx, " ", nil); err == nil {
		t.Fatal("expected error for blank name")
	}
}

func TestCreateScheduleAssignsPositions(t *testing.T) {
	svc, _, schedules, _ := newTestService()

	created, err := svc.CreateSchedule(context.Background(), "staged", []domain.ScheduleDelay{
		{Delay: 1, Quota: 5},
		{Delay: 0, Quota: 1},
	})
	if err != nil {
		t.Fatalf("CreateSchedule returned error: %v", err)
	}
	stored := schedules.schedules[created.ID]
	if stored == nil {
		t.Fatal("schedule not persisted")
	}
	for i, delay := range stored.Delays {
		if delay.Position != i {
			t.Fatalf("rule %d has position %d", i, delay.Position)
		}
		if delay.ScheduleID != created.ID {
			t.Fatalf("rule %d missing schedule id", i)
		}
	}
}

func TestDeleteScheduleLeavesDeploymentsIntact(t *testing.T) {
	svc, deployments, schedules, _ := newTestService()
	ctx := context.Background()

	schedule := &domain.Schedule{ID: "sched-1", Name: "staged"}
	if err := schedules.CreateSchedule(ctx, schedule); err != nil {
		t.Fatalf("seed schedule: %v", err)
	}
	scheduleID := "sched-1"
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	seeded := &domain.Deployment{ID: "dep-1", Name: "rollout", ProjectID: "proj", RepoURL: "https://example.com/r.git", ScheduleID: &scheduleID, StartDate: &start}
	if err := deployments.CreateDeployment(ctx, seeded); err != nil {
		t.Fatalf("seed deployment: %v", err)
	}

	if err := svc.DeleteSchedule(ctx, "sched-1"); err != nil {
		t.Fatalf("DeleteSchedule returned error: %v", err)
	}
	if _, ok := schedules.schedules["sched-1"]; ok {
		t.Fatal("schedule not removed")
	}
	if _, ok := deployments.deployments["dep-1"]; !ok {
		t.Fatal("deployment should survive schedule deletion")
	}
}
