package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
	loader "github.com/siherrmann/newsgraph/sql"
)

// RelationshipsDBHandlerFunctions defines the interface for Relationships database operations.
type RelationshipsDBHandlerFunctions interface {
	UpsertRelationship(ctx context.Context, relationship *model.Relationship) error
	SelectRelationship(ctx context.Context, id uuid.UUID) (*model.Relationship, error)
	SelectRelationships(ctx context.Context) ([]*model.Relationship, error)
	SelectRelationshipsOfEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error)
	DeleteRelationship(ctx context.Context, id uuid.UUID) error
}

// RelationshipsDBHandler handles relationship-related database operations
type RelationshipsDBHandler struct {
	db *helper.Database
}

// NewRelationshipsDBHandler creates a new relationships database handler.
// The entities table must exist because relationships reference it.
func NewRelationshipsDBHandler(db *helper.Database, force bool) (*RelationshipsDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	relationshipsDbHandler := &RelationshipsDBHandler{
		db: db,
	}

	err := loader.LoadRelationshipsSql(relationshipsDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load relationships sql", err)
	}

	err = relationshipsDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized RelationshipsDBHandler")

	return relationshipsDbHandler, nil
}

// CreateTable creates the 'relationships' table and its indexes if missing.
func (h *RelationshipsDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_relationships();`)
	if err != nil {
		return helper.NewError("init relationships", err)
	}

	h.db.Logger.Info("Checked/created table relationships")

	return nil
}

// UpsertRelationship inserts the relationship or replaces its evidence and strength.
func (h *RelationshipsDBHandler) UpsertRelationship(ctx context.Context, relationship *model.Relationship) error {
	return upsertRelationship(ctx, h.db.Instance, relationship)
}

func upsertRelationship(ctx context.Context, q querier, r *model.Relationship) error {
	row := q.QueryRowContext(ctx,
		`SELECT * FROM upsert_relationship($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		r.ID,
		r.SourceID,
		r.TargetID,
		string(r.Type),
		r.Description,
		model.ClampStrength(r.Strength),
		r.SupportingMentions,
		sql.NullTime{Time: r.LastMentionAt, Valid: !r.LastMentionAt.IsZero()},
		r.DirectQuote,
		r.MainSubject,
		r.Contradicted,
	)

	err := row.Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return helper.NewError("scan", err)
	}
	return nil
}

// SelectRelationship retrieves a relationship by ID
func (h *RelationshipsDBHandler) SelectRelationship(ctx context.Context, id uuid.UUID) (*model.Relationship, error) {
	row := h.db.Instance.QueryRowContext(ctx, `SELECT * FROM select_relationship($1)`, id)

	relationship, err := scanRelationship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, helper.NewError("select relationship "+id.String(), model.ErrNotFound)
	}
	if err != nil {
		return nil, helper.NewError("scan", err)
	}
	return relationship, nil
}

// SelectRelationships lists every relationship ordered by id.
func (h *RelationshipsDBHandler) SelectRelationships(ctx context.Context) ([]*model.Relationship, error) {
	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_relationships()`)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	return collectRelationships(rows)
}

// SelectRelationshipsOfEntity lists relationships touching an entity in
// either direction, strongest first.
func (h *RelationshipsDBHandler) SelectRelationshipsOfEntity(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error) {
	rows, err := h.db.Instance.QueryContext(ctx, `SELECT * FROM select_relationships_of_entity($1)`, entityID)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	return collectRelationships(rows)
}

// DeleteRelationship deletes a relationship by ID
func (h *RelationshipsDBHandler) DeleteRelationship(ctx context.Context, id uuid.UUID) error {
	return deleteRelationship(ctx, h.db.Instance, id)
}

func deleteRelationship(ctx context.Context, q querier, id uuid.UUID) error {
	_, err := q.ExecContext(ctx, `SELECT delete_relationship($1)`, id)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

func collectRelationships(rows *sql.Rows) ([]*model.Relationship, error) {
	defer rows.Close()

	relationships := []*model.Relationship{}
	for rows.Next() {
		relationship, err := scanRelationship(rows)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}
		relationships = append(relationships, relationship)
	}

	err := rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}
	return relationships, nil
}

func scanRelationship(s scanner) (*model.Relationship, error) {
	r := &model.Relationship{}
	var relType string
	var lastMention sql.NullTime

	err := s.Scan(
		&r.ID,
		&r.SourceID,
		&r.TargetID,
		&relType,
		&r.Description,
		&r.Strength,
		&r.SupportingMentions,
		&lastMention,
		&r.DirectQuote,
		&r.MainSubject,
		&r.Contradicted,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Type = model.RelationshipType(relType)
	if lastMention.Valid {
		r.LastMentionAt = lastMention.Time
	}
	return r, nil
}
