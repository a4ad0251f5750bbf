package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/siherrmann/newsgraph/core/graph"
	"github.com/siherrmann/newsgraph/helper"
	"github.com/siherrmann/newsgraph/model"
)

const (
	entityVectorIndex = "entity_embedding"
	chunkVectorIndex  = "chunk_embedding"
)

// Neo4jConfig configures the Neo4j graph store.
type Neo4jConfig struct {
	URI                string
	Username           string
	Password           string
	Database           string
	EmbeddingDimension int
	MaxPoolSize        int
	ConnectTimeout     time.Duration
}

// Neo4jGraph stores entities as :Entity nodes, relationships as :RELATED
// edges and chunks as :Chunk nodes. Paths are answered with variable length
// Cypher patterns and similarity search uses native vector indexes.
type Neo4jGraph struct {
	driver neo4j.DriverWithContext
	config Neo4jConfig
	logger *slog.Logger
}

var (
	_ graph.Store          = (*Neo4jGraph)(nil)
	_ graph.VectorSearcher = (*Neo4jGraph)(nil)
	_ graph.PathFinder     = (*Neo4jGraph)(nil)
)

// NewNeo4jGraph connects with exponential backoff and creates the
// constraints and vector indexes.
func NewNeo4jGraph(ctx context.Context, config Neo4jConfig, logger *slog.Logger) (*Neo4jGraph, error) {
	if config.URI == "" {
		return nil, helper.NewError("neo4j configuration", fmt.Errorf("uri is required"))
	}
	if config.EmbeddingDimension <= 0 {
		return nil, helper.NewError("neo4j configuration", fmt.Errorf("embedding dimension must be positive"))
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	auth := neo4j.BasicAuth(config.Username, config.Password, "")
	driverConfig := func(c *neo4j.Config) {
		if config.MaxPoolSize > 0 {
			c.MaxConnectionPoolSize = config.MaxPoolSize
		}
		c.ConnectionAcquisitionTimeout = config.ConnectTimeout
	}

	g := &Neo4jGraph{
		config: config,
		logger: helper.OrDiscard(logger).With(slog.String("component", "neo4j")),
	}

	retry := helper.RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     config.ConnectTimeout,
		AttemptTimeout:  config.ConnectTimeout,
	}
	err := retry.Do(ctx, func(ctx context.Context) error {
		driver, err := neo4j.NewDriverWithContext(config.URI, auth, driverConfig)
		if err != nil {
			return err
		}
		if err := driver.VerifyConnectivity(ctx); err != nil {
			_ = driver.Close(ctx)
			return err
		}
		g.driver = driver
		return nil
	})
	if err != nil {
		return nil, helper.NewError("connect neo4j", err)
	}

	err = g.createSchema(ctx)
	if err != nil {
		_ = g.driver.Close(ctx)
		return nil, err
	}

	g.logger.Info("Initialized Neo4jGraph", slog.String("uri", config.URI))

	return g, nil
}

// Close releases the driver.
func (g *Neo4jGraph) Close(ctx context.Context) error {
	if g.driver == nil {
		return nil
	}
	err := g.driver.Close(ctx)
	g.driver = nil
	if err != nil {
		return helper.NewError("close neo4j", err)
	}
	return nil
}

func (g *Neo4jGraph) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT chunk_id IF NOT EXISTS FOR (c:Chunk) REQUIRE c.id IS UNIQUE`,
		`CREATE INDEX entity_normalized_name IF NOT EXISTS FOR (e:Entity) ON (e.normalized_name)`,
		vectorIndexStatement(entityVectorIndex, "Entity", g.config.EmbeddingDimension),
		vectorIndexStatement(chunkVectorIndex, "Chunk", g.config.EmbeddingDimension),
	}

	session := g.session(ctx)
	defer session.Close(ctx)

	for _, statement := range statements {
		result, err := session.Run(ctx, statement, nil)
		if err != nil {
			return helper.NewError("create schema", err)
		}
		if _, err := result.Consume(ctx); err != nil {
			return helper.NewError("create schema", err)
		}
	}
	return nil
}

// vectorIndexStatement renders the index options inline because schema
// commands do not accept parameters.
func vectorIndexStatement(name string, label string, dimension int) string {
	return fmt.Sprintf("CREATE VECTOR INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.embedding) "+
		"OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}",
		name, label, dimension)
}

func (g *Neo4jGraph) session(ctx context.Context) neo4j.SessionWithContext {
	return g.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: g.config.Database})
}

func (g *Neo4jGraph) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	session := g.session(ctx)
	defer session.Close(ctx)

	records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, err
	}
	return records.([]*neo4j.Record), nil
}

func (g *Neo4jGraph) write(ctx context.Context, work func(tx neo4j.ManagedTransaction) error) error {
	session := g.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, work(tx)
	})
	return err
}

func collect(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

// Entities

func (g *Neo4jGraph) UpsertEntity(ctx context.Context, entity *model.Entity) error {
	if entity == nil || entity.ID == uuid.Nil {
		return helper.NewError("upsert entity", fmt.Errorf("entity id is required"))
	}
	err := g.write(ctx, func(tx neo4j.ManagedTransaction) error {
		return upsertEntityNode(ctx, tx, entity)
	})
	if err != nil {
		return helper.NewError("upsert entity", err)
	}
	return nil
}

func upsertEntityNode(ctx context.Context, tx neo4j.ManagedTransaction, entity *model.Entity) error {
	params, err := entityParams(entity)
	if err != nil {
		return err
	}
	records, err := collect(ctx, tx, `
		MERGE (e:Entity {id: $id})
		ON CREATE SET e.created_at = $now
		SET e.name = $name,
			e.normalized_name = $normalized_name,
			e.type = $type,
			e.description = $description,
			e.source_document_ids = $source_document_ids,
			e.mention_count = $mention_count,
			e.metadata = $metadata,
			e.updated_at = $now
		RETURN e.created_at AS created_at, e.updated_at AS updated_at`, params)
	if err != nil {
		return err
	}
	if len(records) == 1 {
		entity.CreatedAt = recordTime(records[0], "created_at")
		entity.UpdatedAt = recordTime(records[0], "updated_at")
	}
	return nil
}

func entityParams(entity *model.Entity) (map[string]any, error) {
	metadata, err := entity.Metadata.Marshal()
	if err != nil {
		return nil, helper.NewError("marshal metadata", err)
	}
	docs := entity.SourceDocumentIDs
	if docs == nil {
		docs = []string{}
	}
	return map[string]any{
		"id":                  entity.ID.String(),
		"name":                entity.Name,
		"normalized_name":     entity.NormalizedName,
		"type":                string(entity.Type),
		"description":         entity.Description,
		"source_document_ids": docs,
		"mention_count":       int64(entity.MentionCount),
		"metadata":            string(metadata),
		"now":                 time.Now().UTC(),
	}, nil
}

func (g *Neo4jGraph) GetEntity(ctx context.Context, id uuid.UUID) (*model.Entity, error) {
	records, err := g.read(ctx, `MATCH (e:Entity {id: $id}) RETURN e {.*} AS e`, map[string]any{"id": id.String()})
	if err != nil {
		return nil, helper.NewError("get entity", err)
	}
	if len(records) == 0 {
		return nil, helper.NewError("get entity "+id.String(), model.ErrNotFound)
	}
	return entityFromRecord(records[0], "e")
}

func (g *Neo4jGraph) ListEntities(ctx context.Context, filter graph.EntityFilter) ([]*model.Entity, error) {
	var where []string
	params := map[string]any{}
	if filter.Type != nil {
		where = append(where, "e.type = $type")
		params["type"] = string(*filter.Type)
	}
	if filter.NormalizedName != "" {
		where = append(where, "e.normalized_name = $normalized_name")
		params["normalized_name"] = filter.NormalizedName
	}
	if filter.WithEmbedding {
		where = append(where, "e.embedding IS NOT NULL")
	}

	cypher := `MATCH (e:Entity)`
	if len(where) > 0 {
		cypher += ` WHERE ` + strings.Join(where, " AND ")
	}
	cypher += ` RETURN e {.*} AS e ORDER BY e.normalized_name, e.type`

	records, err := g.read(ctx, cypher, params)
	if err != nil {
		return nil, helper.NewError("list entities", err)
	}

	entities := make([]*model.Entity, 0, len(records))
	for _, record := range records {
		e, err := entityFromRecord(record, "e")
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, nil
}

func (g *Neo4jGraph) DeleteEntity(ctx context.Context, id uuid.UUID) error {
	err := g.write(ctx, func(tx neo4j.ManagedTransaction) error {
		_, err := collect(ctx, tx, `MATCH (e:Entity {id: $id}) DETACH DELETE e`, map[string]any{"id": id.String()})
		return err
	})
	if err != nil {
		return helper.NewError("delete entity", err)
	}
	return nil
}

func (g *Neo4jGraph) SetEntityEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	return g.setEmbedding(ctx, "Entity", id, embedding)
}

func (g *Neo4jGraph) setEmbedding(ctx context.Context, label string, id uuid.UUID, embedding []float32) error {
	var found bool
	err := g.write(ctx, func(tx neo4j.ManagedTransaction) error {
		records, err := collect(ctx, tx, fmt.Sprintf(`MATCH (n:%s {id: $id}) SET n.embedding = $embedding RETURN n.id`, label), map[string]any{
			"id":        id.String(),
			"embedding": toFloat64s(embedding),
		})
		found = len(records) > 0
		return err
	})
	if err != nil {
		return helper.NewError("set embedding", err)
	}
	if !found {
		return helper.NewError("set "+strings.ToLower(label)+" embedding "+id.String(), model.ErrNotFound)
	}
	return nil
}

// Relationships

func (g *Neo4jGraph) UpsertRelationship(ctx context.Context, relationship *model.Relationship) error {
	if relationship == nil || relationship.ID == uuid.Nil {
		return helper.NewError("upsert relationship", fmt.Errorf("relationship id is required"))
	}
	err := g.write(ctx, func(tx neo4j.ManagedTransaction) error {
		return upsertRelationshipEdge(ctx, tx, relationship)
	})
	if err != nil {
		return helper.NewError("upsert relationship", err)
	}
	return nil
}

func upsertRelationshipEdge(ctx context.Context, tx neo4j.ManagedTransaction, r *model.Relationship) error {
	var lastMention any
	if !r.LastMentionAt.IsZero() {
		lastMention = r.LastMentionAt.UTC()
	}
	records, err := collect(ctx, tx, `
		MATCH (s:Entity {id: $source_id}), (t:Entity {id: $target_id})
		MERGE (s)-[r:RELATED {id: $id}]->(t)
		ON CREATE SET r.created_at = $now
		SET r.type = $type,
			r.description = $description,
			r.strength = $strength,
			r.supporting_mentions = $supporting_mentions,
			r.last_mention_at = $last_mention_at,
			r.direct_quote = $direct_quote,
			r.main_subject = $main_subject,
			r.contradicted = $contradicted,
			r.updated_at = $now
		RETURN r.created_at AS created_at, r.updated_at AS updated_at`, map[string]any{
		"id":                  r.ID.String(),
		"source_id":           r.SourceID.String(),
		"target_id":           r.TargetID.String(),
		"type":                string(r.Type),
		"description":         r.Description,
		"strength":            model.ClampStrength(r.Strength),
		"supporting_mentions": int64(r.SupportingMentions),
		"last_mention_at":     lastMention,
		"direct_quote":        r.DirectQuote,
		"main_subject":        r.MainSubject,
		"contradicted":        r.Contradicted,
		"now":                 time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return helper.NewError("relationship endpoints of "+r.ID.String(), model.ErrNotFound)
	}
	r.CreatedAt = recordTime(records[0], "created_at")
	r.UpdatedAt = recordTime(records[0], "updated_at")
	return nil
}

const relationshipProjection = `r {.*, source_id: startNode(r).id, target_id: endNode(r).id} AS r`

func (g *Neo4jGraph) GetRelationship(ctx context.Context, id uuid.UUID) (*model.Relationship, error) {
	records, err := g.read(ctx, `MATCH ()-[r:RELATED {id: $id}]->() RETURN `+relationshipProjection, map[string]any{"id": id.String()})
	if err != nil {
		return nil, helper.NewError("get relationship", err)
	}
	if len(records) == 0 {
		return nil, helper.NewError("get relationship "+id.String(), model.ErrNotFound)
	}
	return relationshipFromRecord(records[0], "r")
}

func (g *Neo4jGraph) ListRelationships(ctx context.Context) ([]*model.Relationship, error) {
	records, err := g.read(ctx, `MATCH ()-[r:RELATED]->() RETURN `+relationshipProjection+` ORDER BY r.id`, nil)
	if err != nil {
		return nil, helper.NewError("list relationships", err)
	}
	return relationshipsFromRecords(records)
}

func (g *Neo4jGraph) RelationshipsOf(ctx context.Context, entityID uuid.UUID) ([]*model.Relationship, error) {
	records, err := g.read(ctx, `MATCH (:Entity {id: $id})-[r:RELATED]-() RETURN `+relationshipProjection, map[string]any{"id": entityID.String()})
	if err != nil {
		return nil, helper.NewError("relationships of", err)
	}
	rels, err := relationshipsFromRecords(records)
	if err != nil {
		return nil, err
	}
	graph.SortByStrength(rels)
	return rels, nil
}

func relationshipsFromRecords(records []*neo4j.Record) ([]*model.Relationship, error) {
	rels := make([]*model.Relationship, 0, len(records))
	for _, record := range records {
		r, err := relationshipFromRecord(record, "r")
		if err != nil {
			return nil, err
		}
		rels = append(rels, r)
	}
	return rels, nil
}

// MergeEntities applies plan in one write transaction. The driver retries
// the whole transaction on transient errors.
func (g *Neo4jGraph) MergeEntities(ctx context.Context, plan graph.MergePlan) error {
	if plan.Survivor == nil {
		return helper.NewError("merge entities", fmt.Errorf("survivor is required"))
	}
	if plan.Survivor.ID == plan.RemovedID {
		return helper.NewError("merge entities", fmt.Errorf("survivor and removed entity are the same"))
	}
	for _, r := range plan.UpsertRelationships {
		if r.SourceID == plan.RemovedID || r.TargetID == plan.RemovedID {
			return helper.NewError("merge entities", fmt.Errorf("relationship %s still references the removed entity", r.ID))
		}
	}

	return g.write(ctx, func(tx neo4j.ManagedTransaction) error {
		for _, id := range []uuid.UUID{plan.Survivor.ID, plan.RemovedID} {
			records, err := collect(ctx, tx, `MATCH (e:Entity {id: $id}) RETURN e.id`, map[string]any{"id": id.String()})
			if err != nil {
				return helper.NewError("merge entities", err)
			}
			if len(records) == 0 {
				return helper.NewError("merge entity "+id.String(), model.ErrNotFound)
			}
		}

		ids := make([]string, 0, len(plan.DeleteRelationshipIDs))
		for _, id := range plan.DeleteRelationshipIDs {
			ids = append(ids, id.String())
		}
		_, err := collect(ctx, tx, `MATCH ()-[r:RELATED]->() WHERE r.id IN $ids DELETE r`, map[string]any{"ids": ids})
		if err != nil {
			return helper.NewError("delete relationships", err)
		}
		_, err = collect(ctx, tx, `MATCH (e:Entity {id: $id}) DETACH DELETE e`, map[string]any{"id": plan.RemovedID.String()})
		if err != nil {
			return helper.NewError("delete entity", err)
		}
		if err := upsertEntityNode(ctx, tx, plan.Survivor); err != nil {
			return helper.NewError("upsert survivor", err)
		}
		for _, r := range plan.UpsertRelationships {
			if err := upsertRelationshipEdge(ctx, tx, r); err != nil {
				return helper.NewError("upsert relationship", err)
			}
		}
		return nil
	})
}

// Chunks

func (g *Neo4jGraph) InsertChunk(ctx context.Context, chunk *model.Chunk) (bool, error) {
	if chunk == nil || chunk.ID == uuid.Nil {
		return false, helper.NewError("insert chunk", fmt.Errorf("chunk id is required"))
	}
	metadata, err := chunk.Metadata.Marshal()
	if err != nil {
		return false, helper.NewError("marshal metadata", err)
	}

	var inserted bool
	err = g.write(ctx, func(tx neo4j.ManagedTransaction) error {
		records, err := collect(ctx, tx, `MATCH (c:Chunk {id: $id}) RETURN c.created_at AS created_at`, map[string]any{"id": chunk.ID.String()})
		if err != nil {
			return err
		}
		if len(records) > 0 {
			inserted = false
			chunk.CreatedAt = recordTime(records[0], "created_at")
			return nil
		}

		records, err = collect(ctx, tx, `
			CREATE (c:Chunk {
				id: $id,
				document_id: $document_id,
				text: $text,
				position: $position,
				metadata: $metadata,
				created_at: $now
			})
			RETURN c.created_at AS created_at`, map[string]any{
			"id":          chunk.ID.String(),
			"document_id": chunk.DocumentID,
			"text":        chunk.Text,
			"position":    int64(chunk.Position),
			"metadata":    string(metadata),
			"now":         time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		inserted = true
		if len(records) == 1 {
			chunk.CreatedAt = recordTime(records[0], "created_at")
		}
		return nil
	})
	if err != nil {
		return false, helper.NewError("insert chunk", err)
	}
	return inserted, nil
}

func (g *Neo4jGraph) GetChunk(ctx context.Context, id uuid.UUID) (*model.Chunk, error) {
	records, err := g.read(ctx, `MATCH (c:Chunk {id: $id}) RETURN c {.*} AS c`, map[string]any{"id": id.String()})
	if err != nil {
		return nil, helper.NewError("get chunk", err)
	}
	if len(records) == 0 {
		return nil, helper.NewError("get chunk "+id.String(), model.ErrNotFound)
	}
	return chunkFromRecord(records[0], "c")
}

func (g *Neo4jGraph) ListChunks(ctx context.Context) ([]*model.Chunk, error) {
	records, err := g.read(ctx, `MATCH (c:Chunk) RETURN c {.*} AS c ORDER BY c.document_id, c.position`, nil)
	if err != nil {
		return nil, helper.NewError("list chunks", err)
	}
	chunks := make([]*model.Chunk, 0, len(records))
	for _, record := range records {
		c, err := chunkFromRecord(record, "c")
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

func (g *Neo4jGraph) SetChunkEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	return g.setEmbedding(ctx, "Chunk", id, embedding)
}

// Vector search

// SearchEntities queries the entity vector index. The index reports cosine
// scores normalized to [0, 1]; they are mapped back to [-1, 1]. With a type
// filter the index is over-fetched since it cannot filter by property.
func (g *Neo4jGraph) SearchEntities(ctx context.Context, embedding []float32, limit int, entityType *model.EntityType) ([]model.ScoredEntity, error) {
	if limit <= 0 {
		return nil, nil
	}
	k := limit
	cypher := `CALL db.index.vector.queryNodes($index, $k, $embedding) YIELD node, score`
	params := map[string]any{"index": entityVectorIndex, "embedding": toFloat64s(embedding), "limit": int64(limit)}
	if entityType != nil {
		k = limit * 4
		cypher += ` WHERE node.type = $type`
		params["type"] = string(*entityType)
	}
	params["k"] = int64(k)
	cypher += ` RETURN node {.*} AS e, score ORDER BY score DESC LIMIT $limit`

	records, err := g.read(ctx, cypher, params)
	if err != nil {
		return nil, helper.NewError("search entities", err)
	}

	results := make([]model.ScoredEntity, 0, len(records))
	for _, record := range records {
		e, err := entityFromRecord(record, "e")
		if err != nil {
			return nil, err
		}
		results = append(results, model.ScoredEntity{Entity: e, Similarity: cosineFromScore(recordFloat(record, "score"))})
	}
	return results, nil
}

func (g *Neo4jGraph) SearchChunks(ctx context.Context, embedding []float32, limit int) ([]model.ScoredChunk, error) {
	if limit <= 0 {
		return nil, nil
	}
	records, err := g.read(ctx, `
		CALL db.index.vector.queryNodes($index, $k, $embedding) YIELD node, score
		RETURN node {.*} AS c, score ORDER BY score DESC`, map[string]any{
		"index":     chunkVectorIndex,
		"k":         int64(limit),
		"embedding": toFloat64s(embedding),
	})
	if err != nil {
		return nil, helper.NewError("search chunks", err)
	}

	results := make([]model.ScoredChunk, 0, len(records))
	for _, record := range records {
		c, err := chunkFromRecord(record, "c")
		if err != nil {
			return nil, err
		}
		results = append(results, model.ScoredChunk{Chunk: c, Similarity: cosineFromScore(recordFloat(record, "score"))})
	}
	return results, nil
}

func cosineFromScore(score float64) float64 {
	return 2*score - 1
}

// Paths

// Paths finds simple undirected paths with a variable length pattern. The
// hop bound is rendered inline because Cypher does not accept it as a
// parameter.
func (g *Neo4jGraph) Paths(ctx context.Context, from uuid.UUID, to uuid.UUID, maxHops int, limit int) ([]model.Path, error) {
	if maxHops < 1 || from == to {
		return nil, nil
	}
	fetch := int64(1000)
	if limit > 0 {
		fetch = int64(limit) * 10
	}

	cypher := fmt.Sprintf(`
		MATCH p = (a:Entity {id: $from})-[:RELATED*1..%d]-(b:Entity {id: $to})
		WHERE all(n IN nodes(p) WHERE single(m IN nodes(p) WHERE m = n))
		RETURN [n IN nodes(p) | n.id] AS ids,
			[r IN relationships(p) | r {.*, source_id: startNode(r).id, target_id: endNode(r).id}] AS rels
		ORDER BY length(p)
		LIMIT $fetch`, maxHops)

	records, err := g.read(ctx, cypher, map[string]any{
		"from":  from.String(),
		"to":    to.String(),
		"fetch": fetch,
	})
	if err != nil {
		return nil, helper.NewError("find paths", err)
	}

	names := graph.NewEntityCache(g)
	paths := make([]model.Path, 0, len(records))
	for _, record := range records {
		p, err := pathFromRecord(ctx, names, record)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func pathFromRecord(ctx context.Context, names *graph.EntityCache, record *neo4j.Record) (model.Path, error) {
	rawIDs, _ := record.Get("ids")
	rawRels, _ := record.Get("rels")

	var path model.Path
	for _, raw := range toAnySlice(rawIDs) {
		id, err := uuid.Parse(fmt.Sprint(raw))
		if err != nil {
			return model.Path{}, helper.NewError("parse path node id", err)
		}
		path.EntityIDs = append(path.EntityIDs, id)
	}
	for i, raw := range toAnySlice(rawRels) {
		props, ok := raw.(map[string]any)
		if !ok {
			return model.Path{}, helper.NewError("path relationship", fmt.Errorf("unexpected value %T", raw))
		}
		r, err := relationshipFromProps(props)
		if err != nil {
			return model.Path{}, err
		}
		fact, err := names.Fact(ctx, r, i+1)
		if err != nil {
			return model.Path{}, err
		}
		path.Facts = append(path.Facts, fact)
	}
	return path, nil
}

// Decoding

func recordProps(record *neo4j.Record, key string) (map[string]any, error) {
	raw, ok := record.Get(key)
	if !ok {
		return nil, helper.NewError("record", fmt.Errorf("missing key %q", key))
	}
	props, ok := raw.(map[string]any)
	if !ok {
		return nil, helper.NewError("record", fmt.Errorf("key %q is %T, not a map", key, raw))
	}
	return props, nil
}

func recordTime(record *neo4j.Record, key string) time.Time {
	raw, _ := record.Get(key)
	return propTime(map[string]any{key: raw}, key)
}

func recordFloat(record *neo4j.Record, key string) float64 {
	raw, _ := record.Get(key)
	return propFloat(map[string]any{key: raw}, key)
}

func entityFromRecord(record *neo4j.Record, key string) (*model.Entity, error) {
	props, err := recordProps(record, key)
	if err != nil {
		return nil, err
	}
	return entityFromProps(props)
}

func relationshipFromRecord(record *neo4j.Record, key string) (*model.Relationship, error) {
	props, err := recordProps(record, key)
	if err != nil {
		return nil, err
	}
	return relationshipFromProps(props)
}

func chunkFromRecord(record *neo4j.Record, key string) (*model.Chunk, error) {
	props, err := recordProps(record, key)
	if err != nil {
		return nil, err
	}
	return chunkFromProps(props)
}

func entityFromProps(props map[string]any) (*model.Entity, error) {
	id, err := propUUID(props, "id")
	if err != nil {
		return nil, err
	}
	metadata, err := propMetadata(props, "metadata")
	if err != nil {
		return nil, err
	}
	return &model.Entity{
		ID:                id,
		Name:              propString(props, "name"),
		NormalizedName:    propString(props, "normalized_name"),
		Type:              model.EntityType(propString(props, "type")),
		Description:       propString(props, "description"),
		Embedding:         propVector(props, "embedding"),
		SourceDocumentIDs: propStrings(props, "source_document_ids"),
		MentionCount:      propInt(props, "mention_count"),
		Metadata:          metadata,
		CreatedAt:         propTime(props, "created_at"),
		UpdatedAt:         propTime(props, "updated_at"),
	}, nil
}

func relationshipFromProps(props map[string]any) (*model.Relationship, error) {
	id, err := propUUID(props, "id")
	if err != nil {
		return nil, err
	}
	source, err := propUUID(props, "source_id")
	if err != nil {
		return nil, err
	}
	target, err := propUUID(props, "target_id")
	if err != nil {
		return nil, err
	}
	return &model.Relationship{
		ID:                 id,
		SourceID:           source,
		TargetID:           target,
		Type:               model.RelationshipType(propString(props, "type")),
		Description:        propString(props, "description"),
		Strength:           propFloat(props, "strength"),
		SupportingMentions: propInt(props, "supporting_mentions"),
		LastMentionAt:      propTime(props, "last_mention_at"),
		DirectQuote:        propBool(props, "direct_quote"),
		MainSubject:        propBool(props, "main_subject"),
		Contradicted:       propBool(props, "contradicted"),
		CreatedAt:          propTime(props, "created_at"),
		UpdatedAt:          propTime(props, "updated_at"),
	}, nil
}

func chunkFromProps(props map[string]any) (*model.Chunk, error) {
	id, err := propUUID(props, "id")
	if err != nil {
		return nil, err
	}
	metadata, err := propMetadata(props, "metadata")
	if err != nil {
		return nil, err
	}
	return &model.Chunk{
		ID:         id,
		DocumentID: propString(props, "document_id"),
		Text:       propString(props, "text"),
		Position:   propInt(props, "position"),
		Embedding:  propVector(props, "embedding"),
		Metadata:   metadata,
		CreatedAt:  propTime(props, "created_at"),
	}, nil
}

func propUUID(props map[string]any, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(propString(props, key))
	if err != nil {
		return uuid.Nil, helper.NewError("parse "+key, err)
	}
	return id, nil
}

func propString(props map[string]any, key string) string {
	s, _ := props[key].(string)
	return s
}

func propInt(props map[string]any, key string) int {
	switch v := props[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func propFloat(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	}
	return 0
}

func propBool(props map[string]any, key string) bool {
	b, _ := props[key].(bool)
	return b
}

func propTime(props map[string]any, key string) time.Time {
	switch v := props[key].(type) {
	case time.Time:
		return v.UTC()
	case neo4j.LocalDateTime:
		return v.Time().UTC()
	}
	return time.Time{}
}

func propStrings(props map[string]any, key string) []string {
	raw := toAnySlice(props[key])
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func propVector(props map[string]any, key string) []float32 {
	raw := toAnySlice(props[key])
	if len(raw) == 0 {
		return nil
	}
	out := make([]float32, 0, len(raw))
	for _, v := range raw {
		switch f := v.(type) {
		case float64:
			out = append(out, float32(f))
		case float32:
			out = append(out, f)
		}
	}
	return out
}

func propMetadata(props map[string]any, key string) (model.Metadata, error) {
	metadata := model.Metadata{}
	raw, ok := props[key].(string)
	if !ok || raw == "" {
		return metadata, nil
	}
	if err := metadata.Unmarshal(raw); err != nil {
		return nil, helper.NewError("unmarshal metadata", err)
	}
	return metadata, nil
}

func toAnySlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	case []float64:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out
	}
	return nil
}

func toFloat64s(v []float32) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = float64(v[i])
	}
	return out
}
