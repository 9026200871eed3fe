package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nbyrd/staggerd/internal/domain"
	"github.com/nbyrd/staggerd/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ComputerRepository   = (*Repository)(nil)
	_ repository.AttributeRepository  = (*Repository)(nil)
	_ repository.DeploymentRepository = (*Repository)(nil)
	_ repository.ScheduleRepository   = (*Repository)(nil)
)

const computerColumns = `id, uuid, name, project_id, status, tag_ids, feature_ids, last_sync_at, created_at, updated_at`

// CreateComputer inserts a computer.
func (r *Repository) CreateComputer(ctx context.Context, computer *domain.Computer) error {
	const query = `INSERT INTO computers (id, uuid, name, project_id, status, tag_ids, feature_ids, last_sync_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, query,
		computer.ID, computer.UUID, computer.Name, computer.ProjectID, computer.Status,
		textArray(computer.TagIDs), textArray(computer.FeatureIDs), computer.LastSyncAt,
		computer.CreatedAt, computer.UpdatedAt)
	return err
}

// GetComputerByID fetches a computer by identifier.
func (r *Repository) GetComputerByID(ctx context.Context, id string) (*domain.Computer, error) {
	const query = `SELECT ` + computerColumns + ` FROM computers WHERE id = $1`
	return r.scanComputer(r.pool.QueryRow(ctx, query, id))
}

// GetComputerByUUID fetches a computer by client uuid.
func (r *Repository) GetComputerByUUID(ctx context.Context, uuid string) (*domain.Computer, error) {
	const query = `SELECT ` + computerColumns + ` FROM computers WHERE uuid = $1`
	return r.scanComputer(r.pool.QueryRow(ctx, query, uuid))
}

// ListActiveComputersByProject returns computers eligible for targeting.
func (r *Repository) ListActiveComputersByProject(ctx context.Context, projectID string) ([]domain.Computer, error) {
	const query = `SELECT ` + computerColumns + ` FROM computers
		WHERE project_id = $1 AND status = ANY($2)
		ORDER BY id`
	rows, err := r.pool.Query(ctx, query, projectID, domain.ActiveComputerStatuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	computers := make([]domain.Computer, 0)
	for rows.Next() {
		var c domain.Computer
		if err := rows.Scan(&c.ID, &c.UUID, &c.Name, &c.ProjectID, &c.Status, &c.TagIDs, &c.FeatureIDs, &c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		computers = append(computers, c)
	}
	return computers, rows.Err()
}

// UpdateComputerStatus changes a computer's enrollment status.
func (r *Repository) UpdateComputerStatus(ctx context.Context, computerID, status string) error {
	const query = `UPDATE computers SET status = $2, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, computerID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ReplaceComputerFeatures swaps the sync-derived feature membership in full.
func (r *Repository) ReplaceComputerFeatures(ctx context.Context, computerID string, featureIDs []string, syncedAt time.Time) error {
	const query = `UPDATE computers SET feature_ids = $2, last_sync_at = $3, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, computerID, textArray(featureIDs), syncedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AddComputerTag assigns a tag attribute to a computer if not already present.
func (r *Repository) AddComputerTag(ctx context.Context, computerID, attributeID string) error {
	const query = `UPDATE computers
		SET tag_ids = array_append(tag_ids, $2), updated_at = now()
		WHERE id = $1 AND NOT tag_ids @> ARRAY[$2]`
	tag, err := r.pool.Exec(ctx, query, computerID, attributeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the computer is missing or the tag was already set.
		if _, err := r.GetComputerByID(ctx, computerID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveComputerTag removes a tag attribute from a computer.
func (r *Repository) RemoveComputerTag(ctx context.Context, computerID, attributeID string) error {
	const query = `UPDATE computers
		SET tag_ids = array_remove(tag_ids, $2), updated_at = now()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, computerID, attributeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CreateAttribute inserts an attribute.
func (r *Repository) CreateAttribute(ctx context.Context, attribute *domain.Attribute) error {
	const query = `INSERT INTO attributes (id, property_prefix, value, source, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, attribute.ID, attribute.PropertyPrefix, attribute.Value, attribute.Source, attribute.CreatedAt)
	return err
}

// GetAttributeByID fetches an attribute.
func (r *Repository) GetAttributeByID(ctx context.Context, id string) (*domain.Attribute, error) {
	const query = `SELECT id, property_prefix, value, source, created_at FROM attributes WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var a domain.Attribute
	if err := row.Scan(&a.ID, &a.PropertyPrefix, &a.Value, &a.Source, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// FindAttribute fetches an attribute by its natural key.
func (r *Repository) FindAttribute(ctx context.Context, propertyPrefix, value, source string) (*domain.Attribute, error) {
	const query = `SELECT id, property_prefix, value, source, created_at FROM attributes
		WHERE property_prefix = $1 AND value = $2 AND source = $3`
	row := r.pool.QueryRow(ctx, query, propertyPrefix, value, source)
	var a domain.Attribute
	if err := row.Scan(&a.ID, &a.PropertyPrefix, &a.Value, &a.Source, &a.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// ListAttributes returns attributes, optionally filtered by source.
func (r *Repository) ListAttributes(ctx context.Context, source string) ([]domain.Attribute, error) {
	const query = `SELECT id, property_prefix, value, source, created_at FROM attributes
		WHERE ($1 = '' OR source = $1)
		ORDER BY property_prefix, value`
	rows, err := r.pool.Query(ctx, query, source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attributes := make([]domain.Attribute, 0)
	for rows.Next() {
		var a domain.Attribute
		if err := rows.Scan(&a.ID, &a.PropertyPrefix, &a.Value, &a.Source, &a.CreatedAt); err != nil {
			return nil, err
		}
		attributes = append(attributes, a)
	}
	return attributes, rows.Err()
}

const deploymentColumns = `id, name, project_id, repo_url, schedule_id, start_date, included_attribute_ids, excluded_attribute_ids, enabled, created_at, updated_at`

// CreateDeployment inserts a deployment.
func (r *Repository) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `INSERT INTO deployments (id, name, project_id, repo_url, schedule_id, start_date, included_attribute_ids, excluded_attribute_ids, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		deployment.ID, deployment.Name, deployment.ProjectID, deployment.RepoURL,
		deployment.ScheduleID, deployment.StartDate,
		textArray(deployment.IncludedAttributeIDs), textArray(deployment.ExcludedAttributeIDs),
		deployment.Enabled, deployment.CreatedAt, deployment.UpdatedAt)
	return err
}

// UpdateDeployment stores all mutable deployment fields.
func (r *Repository) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	const query = `UPDATE deployments
		SET name = $2, repo_url = $3, schedule_id = $4, start_date = $5,
			included_attribute_ids = $6, excluded_attribute_ids = $7, enabled = $8, updated_at = $9
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query,
		deployment.ID, deployment.Name, deployment.RepoURL, deployment.ScheduleID, deployment.StartDate,
		textArray(deployment.IncludedAttributeIDs), textArray(deployment.ExcludedAttributeIDs),
		deployment.Enabled, deployment.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteDeployment removes a deployment.
func (r *Repository) DeleteDeployment(ctx context.Context, deploymentID string) error {
	const query = `DELETE FROM deployments WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, deploymentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeploymentByID fetches a deployment.
func (r *Repository) GetDeploymentByID(ctx context.Context, deploymentID string) (*domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return r.scanDeployment(r.pool.QueryRow(ctx, query, deploymentID))
}

// ListEnabledDeployments returns every enabled deployment.
func (r *Repository) ListEnabledDeployments(ctx context.Context) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments WHERE enabled ORDER BY created_at`
	return r.queryDeployments(ctx, query)
}

// ListEnabledDeploymentsByProject returns enabled deployments for a project.
func (r *Repository) ListEnabledDeploymentsByProject(ctx context.Context, projectID string) ([]domain.Deployment, error) {
	const query = `SELECT ` + deploymentColumns + ` FROM deployments
		WHERE enabled AND project_id = $1 ORDER BY created_at`
	return r.queryDeployments(ctx, query, projectID)
}

// ListDeploymentsReferencingAttribute returns deployments whose include or
// exclude sets, or whose schedule delay rules, mention the attribute.
func (r *Repository) ListDeploymentsReferencingAttribute(ctx context.Context, attributeID string) ([]domain.Deployment, error) {
	const query = `SELECT DISTINCT d.id, d.name, d.project_id, d.repo_url, d.schedule_id, d.start_date,
			d.included_attribute_ids, d.excluded_attribute_ids, d.enabled, d.created_at, d.updated_at
		FROM deployments d
		LEFT JOIN schedule_delays sd ON sd.schedule_id = d.schedule_id
		WHERE d.included_attribute_ids @> ARRAY[$1]
			OR d.excluded_attribute_ids @> ARRAY[$1]
			OR sd.attribute_ids @> ARRAY[$1]
		ORDER BY d.id`
	return r.queryDeployments(ctx, query, attributeID)
}

// CreateSchedule inserts a schedule with its delay rules.
func (r *Repository) CreateSchedule(ctx context.Context, schedule *domain.Schedule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insertSchedule = `INSERT INTO schedules (id, name, created_at) VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, insertSchedule, schedule.ID, schedule.Name, schedule.CreatedAt); err != nil {
		return err
	}
	const insertDelay = `INSERT INTO schedule_delays (schedule_id, position, delay, attribute_ids, quota)
		VALUES ($1, $2, $3, $4, $5)`
	for i, delay := range schedule.Delays {
		if _, err := tx.Exec(ctx, insertDelay, schedule.ID, i, delay.Delay, textArray(delay.AttributeIDs), delay.Quota); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// GetScheduleByID fetches a schedule and its delay rules in input order.
func (r *Repository) GetScheduleByID(ctx context.Context, scheduleID string) (*domain.Schedule, error) {
	const query = `SELECT id, name, created_at FROM schedules WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, scheduleID)
	var s domain.Schedule
	if err := row.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	const delayQuery = `SELECT schedule_id, position, delay, attribute_ids, quota
		FROM schedule_delays WHERE schedule_id = $1 ORDER BY position`
	rows, err := r.pool.Query(ctx, delayQuery, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var d domain.ScheduleDelay
		if err := rows.Scan(&d.ScheduleID, &d.Position, &d.Delay, &d.AttributeIDs, &d.Quota); err != nil {
			return nil, err
		}
		s.Delays = append(s.Delays, d)
	}
	return &s, rows.Err()
}

// DeleteSchedule removes a schedule and its delay rules.
func (r *Repository) DeleteSchedule(ctx context.Context, scheduleID string) error {
	const query = `DELETE FROM schedules WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, scheduleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *Repository) scanComputer(row pgx.Row) (*domain.Computer, error) {
	var c domain.Computer
	if err := row.Scan(&c.ID, &c.UUID, &c.Name, &c.ProjectID, &c.Status, &c.TagIDs, &c.FeatureIDs, &c.LastSyncAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *Repository) scanDeployment(row pgx.Row) (*domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.Name, &d.ProjectID, &d.RepoURL, &d.ScheduleID, &d.StartDate, &d.IncludedAttributeIDs, &d.ExcludedAttributeIDs, &d.Enabled, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *Repository) queryDeployments(ctx context.Context, query string, args ...any) ([]domain.Deployment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]domain.Deployment, 0)
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(&d.ID, &d.Name, &d.ProjectID, &d.RepoURL, &d.ScheduleID, &d.StartDate, &d.IncludedAttributeIDs, &d.ExcludedAttributeIDs, &d.Enabled, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	return deployments, rows.Err()
}

// textArray normalizes nil slices so array columns never store NULL.
func textArray(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
