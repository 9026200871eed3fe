// Package inventory ingests client synchronization reports and manages
// computer attribute membership.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/nbyrd/staggerd/internal/domain"
	"github.com/nbyrd/staggerd/internal/repository"
)

var (
	errMissingUUID    = errors.New("computer uuid required")
	errMissingProject = errors.New("project id required")
	errNotTag         = errors.New("attribute is not a tag")
)

// Targets triggers cache rebuilds after inventory mutations.
type Targets interface {
	RebuildProject(ctx context.Context, projectID string) error
	RebuildForAttribute(ctx context.Context, attributeID string) error
}

// Feature is a client-reported attribute value observed during sync.
type Feature struct {
	PropertyPrefix string `json:"property_prefix"`
	Value          string `json:"value"`
}

// SyncReport is one client synchronization payload.
type SyncReport struct {
	UUID      string    `json:"uuid"`
	Name      string    `json:"name"`
	ProjectID string    `json:"project_id"`
	Features  []Feature `json:"features"`
	SyncedAt  time.Time `json:"synced_at"`
}

// Service maintains the computer directory from sync reports and tag edits.
type Service struct {
	computers  repository.ComputerRepository
	attributes repository.AttributeRepository
	targets    Targets
	logger     *slog.Logger

	now func() time.Time
}

// New returns an inventory service.
func New(computers repository.ComputerRepository, attributes repository.AttributeRepository, targets Targets, logger *slog.Logger) Service {
	return Service{
		computers:  computers,
		attributes: attributes,
		targets:    targets,
		logger:     logger.With("component", "inventory"),
		now:        time.Now,
	}
}

// ProcessSync registers the computer on first contact, replaces its
// sync-derived feature membership, and triggers target rebuilds for its
// project.
func (s Service) ProcessSync(ctx context.Context, report SyncReport) (*domain.Computer, error) {
	if strings.TrimSpace(report.UUID) == "" {
		return nil, errMissingUUID
	}
	if strings.TrimSpace(report.ProjectID) == "" {
		return nil, errMissingProject
	}
	syncedAt := report.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = s.now().UTC()
	}

	computer, err := s.computers.GetComputerByUUID(ctx, report.UUID)
	if errors.Is(err, repository.ErrNotFound) {
		computer, err = s.register(ctx, report)
	}
	if err != nil {
		return nil, err
	}

	featureIDs, err := s.resolveFeatures(ctx, report.Features)
	if err != nil {
		return nil, err
	}
	if err := s.computers.ReplaceComputerFeatures(ctx, computer.ID, featureIDs, syncedAt); err != nil {
		return nil, fmt.Errorf("replace features for %s: %w", computer.ID, err)
	}
	computer.FeatureIDs = featureIDs
	computer.LastSyncAt = &syncedAt

	if err := s.targets.RebuildProject(ctx, computer.ProjectID); err != nil {
		s.logger.Warn("post-sync rebuild failed", "computer_id", computer.ID, "project_id", computer.ProjectID, "error", err)
	}
	s.logger.Info("sync processed", "computer_id", computer.ID, "project_id", computer.ProjectID, "features", len(featureIDs))
	return computer, nil
}

// CreateTag creates a server-defined tag attribute, reusing an existing one
// with the same prefix and value.
func (s Service) CreateTag(ctx context.Context, propertyPrefix, value string) (*domain.Attribute, error) {
	if strings.TrimSpace(propertyPrefix) == "" || strings.TrimSpace(value) == "" {
		return nil, errors.New("property prefix and value required")
	}
	existing, err := s.attributes.FindAttribute(ctx, propertyPrefix, value, domain.AttributeSourceTag)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	attribute := &domain.Attribute{
		ID:             uuid.NewString(),
		PropertyPrefix: propertyPrefix,
		Value:          value,
		Source:         domain.AttributeSourceTag,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.attributes.CreateAttribute(ctx, attribute); err != nil {
		return nil, fmt.Errorf("create tag attribute: %w", err)
	}
	return attribute, nil
}

// AssignTag adds a tag to a computer and rebuilds affected deployments.
func (s Service) AssignTag(ctx context.Context, computerID, attributeID string) error {
	attribute, err := s.attributes.GetAttributeByID(ctx, attributeID)
	if err != nil {
		return err
	}
	if attribute.Source != domain.AttributeSourceTag {
		return errNotTag
	}
	if err := s.computers.AddComputerTag(ctx, computerID, attributeID); err != nil {
		return err
	}
	if err := s.targets.RebuildForAttribute(ctx, attributeID); err != nil {
		s.logger.Warn("post-tag rebuild failed", "computer_id", computerID, "attribute_id", attributeID, "error", err)
	}
	return nil
}

// RemoveTag removes a tag from a computer and rebuilds affected deployments.
func (s Service) RemoveTag(ctx context.Context, computerID, attributeID string) error {
	if err := s.computers.RemoveComputerTag(ctx, computerID, attributeID); err != nil {
		return err
	}
	if err := s.targets.RebuildForAttribute(ctx, attributeID); err != nil {
		s.logger.Warn("post-tag rebuild failed", "computer_id", computerID, "attribute_id", attributeID, "error", err)
	}
	return nil
}

// SetStatus updates a computer's enrollment status. Unsubscribed computers
// drop out of targeting on the next rebuild of their project.
func (s Service) SetStatus(ctx context.Context, computerID, status string) error {
	switch status {
	case domain.ComputerStatusIntended, domain.ComputerStatusAvailable, domain.ComputerStatusUnsubscribed:
	default:
		return fmt.Errorf("unknown computer status %q", status)
	}
	computer, err := s.computers.GetComputerByID(ctx, computerID)
	if err != nil {
		return err
	}
	if err := s.computers.UpdateComputerStatus(ctx, computerID, status); err != nil {
		return err
	}
	if err := s.targets.RebuildProject(ctx, computer.ProjectID); err != nil {
		s.logger.Warn("post-status rebuild failed", "computer_id", computerID, "error", err)
	}
	return nil
}

func (s Service) register(ctx context.Context, report SyncReport) (*domain.Computer, error) {
	now := s.now().UTC()
	name := report.Name
	if strings.TrimSpace(name) == "" {
		name = report.UUID
	}
	computer := &domain.Computer{
		ID:        uuid.NewString(),
		UUID:      report.UUID,
		Name:      name,
		ProjectID: report.ProjectID,
		Status:    domain.ComputerStatusIntended,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.computers.CreateComputer(ctx, computer); err != nil {
		return nil, fmt.Errorf("register computer %s: %w", report.UUID, err)
	}
	s.logger.Info("computer registered", "computer_id", computer.ID, "uuid", computer.UUID, "project_id", computer.ProjectID)
	return computer, nil
}

func (s Service) resolveFeatures(ctx context.Context, features []Feature) ([]string, error) {
	ids := make([]string, 0, len(features))
	seen := make(domain.IDSet, len(features))
	for _, feature := range features {
		if strings.TrimSpace(feature.PropertyPrefix) == "" || strings.TrimSpace(feature.Value) == "" {
			continue
		}
		attribute, err := s.attributes.FindAttribute(ctx, feature.PropertyPrefix, feature.Value, domain.AttributeSourceFeature)
		if errors.Is(err, repository.ErrNotFound) {
			attribute = &domain.Attribute{
				ID:             uuid.NewString(),
				PropertyPrefix: feature.PropertyPrefix,
				Value:          feature.Value,
				Source:         domain.AttributeSourceFeature,
				CreatedAt:      s.now().UTC(),
			}
			err = s.attributes.CreateAttribute(ctx, attribute)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve feature %s=%s: %w", feature.PropertyPrefix, feature.Value, err)
		}
		if seen.Has(attribute.ID) {
			continue
		}
		seen.Add(attribute.ID)
		ids = append(ids, attribute.ID)
	}
	return ids, nil
}
