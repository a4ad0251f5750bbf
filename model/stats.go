package model

// DuplicatePair is a candidate pair found by the entity resolver.
type DuplicatePair struct {
	A          *Entity `json:"a"`
	B          *Entity `json:"b"`
	Similarity float64 `json:"similarity"`
}

// ResolutionStats summarises a merge_all run. A dry run reports the same
// numbers as the real run would.
type ResolutionStats struct {
	DryRun                 bool            `json:"dry_run"`
	EntitiesScanned        int             `json:"entities_scanned"`
	Candidates             int             `json:"candidates"`
	Groups                 int             `json:"groups"`
	EntitiesMerged         int             `json:"entities_merged"`
	RelationshipsRepointed int             `json:"relationships_repointed"`
	RelationshipsCollapsed int             `json:"relationships_collapsed"`
	Pairs                  []DuplicatePair `json:"pairs,omitempty"`
}

// ScoringStats summarises a rescan of all relationship strengths.
type ScoringStats struct {
	Scanned      int `json:"scanned"`
	Updated      int `json:"updated"`
	Unchanged    int `json:"unchanged"`
	KeptPrevious int `json:"kept_previous"`
}

// BuildStats summarises an embedding index build.
type BuildStats struct {
	Total     int      `json:"total"`
	Embedded  int      `json:"embedded"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

// SkippedItem records an ingestion item rejected by validation.
type SkippedItem struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// IngestStats summarises one ingestion batch.
type IngestStats struct {
	EntitiesCreated      int           `json:"entities_created"`
	EntitiesUpdated      int           `json:"entities_updated"`
	RelationshipsCreated int           `json:"relationships_created"`
	RelationshipsMerged  int           `json:"relationships_merged"`
	ChunksInserted       int           `json:"chunks_inserted"`
	ChunksExisting       int           `json:"chunks_existing"`
	Skipped              []SkippedItem `json:"skipped,omitempty"`
}
