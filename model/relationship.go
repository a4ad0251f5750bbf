package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RelationshipType is the closed set of edge types between entities.
type RelationshipType string

const (
	RelationshipFundedBy         RelationshipType = "FUNDED_BY"
	RelationshipFoundedBy        RelationshipType = "FOUNDED_BY"
	RelationshipWorksAt          RelationshipType = "WORKS_AT"
	RelationshipAcquired         RelationshipType = "ACQUIRED"
	RelationshipPartnersWith     RelationshipType = "PARTNERS_WITH"
	RelationshipCompetesWith     RelationshipType = "COMPETES_WITH"
	RelationshipUsesTechnology   RelationshipType = "USES_TECHNOLOGY"
	RelationshipLocatedIn        RelationshipType = "LOCATED_IN"
	RelationshipAnnouncedAt      RelationshipType = "ANNOUNCED_AT"
	RelationshipRegulates        RelationshipType = "REGULATES"
	RelationshipOpposes          RelationshipType = "OPPOSES"
	RelationshipSupports         RelationshipType = "SUPPORTS"
	RelationshipCollaboratesWith RelationshipType = "COLLABORATES_WITH"
	RelationshipInvestsIn        RelationshipType = "INVESTS_IN"
	RelationshipAdvises          RelationshipType = "ADVISES"
	RelationshipLeads            RelationshipType = "LEADS"
)

var relationshipTypes = []RelationshipType{
	RelationshipFundedBy, RelationshipFoundedBy, RelationshipWorksAt, RelationshipAcquired,
	RelationshipPartnersWith, RelationshipCompetesWith, RelationshipUsesTechnology,
	RelationshipLocatedIn, RelationshipAnnouncedAt, RelationshipRegulates, RelationshipOpposes,
	RelationshipSupports, RelationshipCollaboratesWith, RelationshipInvestsIn,
	RelationshipAdvises, RelationshipLeads,
}

var relationshipNamespace = uuid.MustParse("0b8e5f1a-7c2d-5a4e-9f6b-3d1c8e2a4b70")

// MaxStrength is the upper bound of a relationship strength.
const MaxStrength = 10.0

// RelationshipTypes returns all known relationship types.
func RelationshipTypes() []RelationshipType {
	return append([]RelationshipType(nil), relationshipTypes...)
}

// ParseRelationshipType maps "funded by", "Funded_By" etc. onto the enum.
func ParseRelationshipType(s string) (RelationshipType, error) {
	key := enumKey(s)
	for _, t := range relationshipTypes {
		if enumKey(string(t)) == key {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRelationshipType, s)
}

// Valid reports whether t is part of the closed enum.
func (t RelationshipType) Valid() bool {
	for _, known := range relationshipTypes {
		if known == t {
			return true
		}
	}
	return false
}

// Relationship is a typed, weighted edge between two entities. Repeated
// mentions of the same (source, type, target) accumulate on one edge.
type Relationship struct {
	ID                 uuid.UUID        `json:"id"`
	SourceID           uuid.UUID        `json:"source_id"`
	TargetID           uuid.UUID        `json:"target_id"`
	Type               RelationshipType `json:"relationship_type"`
	Description        string           `json:"description,omitempty"`
	Strength           float64          `json:"strength"`
	SupportingMentions int              `json:"supporting_mentions"`
	LastMentionAt      time.Time        `json:"last_mention_at"`
	DirectQuote        bool             `json:"direct_quote"`
	MainSubject        bool             `json:"main_subject"`
	Contradicted       bool             `json:"contradicted"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// RelationshipID derives the edge id from its endpoints and type.
func RelationshipID(sourceID uuid.UUID, relationshipType RelationshipType, targetID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(relationshipNamespace, []byte(sourceID.String()+"|"+string(relationshipType)+"|"+targetID.String()))
}

// NewRelationship creates an edge with its deterministic id.
func NewRelationship(sourceID uuid.UUID, relationshipType RelationshipType, targetID uuid.UUID) *Relationship {
	return &Relationship{
		ID:       RelationshipID(sourceID, relationshipType, targetID),
		SourceID: sourceID,
		TargetID: targetID,
		Type:     relationshipType,
	}
}

// Key identifies the edge independent of its id.
func (r *Relationship) Key() string {
	return r.SourceID.String() + "|" + string(r.Type) + "|" + r.TargetID.String()
}

// Other returns the endpoint opposite to id.
func (r *Relationship) Other(id uuid.UUID) uuid.UUID {
	if r.SourceID == id {
		return r.TargetID
	}
	return r.SourceID
}

// Clone returns a copy of the relationship.
func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// ClampStrength bounds a strength to [0, MaxStrength]. NaN maps to 0.
func ClampStrength(s float64) float64 {
	if s != s || s < 0 {
		return 0
	}
	if s > MaxStrength {
		return MaxStrength
	}
	return s
}
