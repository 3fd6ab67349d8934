package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/models"
)

var (
	ErrProjectNotFound = errors.New("project not found")
	ErrImageNotFound   = errors.New("image not found")
)

// CatalogRepository resolves projects and image names. The coordinator
// never touches pixel data; this catalog exists to enumerate projects for
// background cleanup and to put human-readable names on statuses and
// conflicts.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

func (r *CatalogRepository) ListProjects(ctx context.Context) ([]models.Project, error) {
	const query = `
		SELECT id, name, created_by, created_at
		FROM projects
		ORDER BY created_at
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var project models.Project
		if err := rows.Scan(
			&project.ID,
			&project.Name,
			&project.CreatedBy,
			&project.CreatedAt,
		); err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (r *CatalogRepository) GetProject(ctx context.Context, id string) (models.Project, error) {
	const query = `
		SELECT id, name, created_by, created_at
		FROM projects
		WHERE id = $1
	`

	row := r.pool.QueryRow(ctx, query, id)
	var project models.Project
	if err := row.Scan(
		&project.ID,
		&project.Name,
		&project.CreatedBy,
		&project.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Project{}, ErrProjectNotFound
		}
		return models.Project{}, err
	}
	return project, nil
}

func (r *CatalogRepository) ListImages(ctx context.Context, projectID string) ([]models.ImageRef, error) {
	const query = `
		SELECT id, project_id, name, created_at
		FROM images
		WHERE project_id = $1
		ORDER BY name
	`

	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []models.ImageRef
	for rows.Next() {
		var image models.ImageRef
		if err := rows.Scan(
			&image.ID,
			&image.ProjectID,
			&image.Name,
			&image.CreatedAt,
		); err != nil {
			return nil, err
		}
		images = append(images, image)
	}
	return images, rows.Err()
}

func (r *CatalogRepository) GetImage(ctx context.Context, id string) (models.ImageRef, error) {
	const query = `
		SELECT id, project_id, name, created_at
		FROM images
		WHERE id = $1
	`

	row := r.pool.QueryRow(ctx, query, id)
	var image models.ImageRef
	if err := row.Scan(
		&image.ID,
		&image.ProjectID,
		&image.Name,
		&image.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ImageRef{}, ErrImageNotFound
		}
		return models.ImageRef{}, err
	}
	return image, nil
}
