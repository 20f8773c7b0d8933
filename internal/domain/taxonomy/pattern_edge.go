package taxonomy

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Edge predicates form a closed set. Hierarchical predicates participate in
// the acyclicity invariant; lineage predicates do not.
const (
	PredicateBroader  = "broader"
	PredicateNarrower = "narrower"
	PredicateRelated  = "related"

	PredicateAdopts   = "adopts"
	PredicateExtends  = "extends"
	PredicateModifies = "modifies"
)

// PatternEdge is a directed, typed relation between two patterns.
type PatternEdge struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SrcPatternID uuid.UUID      `gorm:"type:uuid;not null;index:idx_pattern_edge,unique,priority:1" json:"src_pattern_id"`
	DstPatternID uuid.UUID      `gorm:"type:uuid;not null;index:idx_pattern_edge,unique,priority:2" json:"dst_pattern_id"`
	Predicate    string         `gorm:"column:predicate;not null;index:idx_pattern_edge,unique,priority:3" json:"predicate"`
	Strength     float64        `gorm:"column:strength;not null;default:1" json:"strength"`
	Evidence     datatypes.JSON `gorm:"column:evidence;type:jsonb" json:"evidence,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (PatternEdge) TableName() string { return "pattern_edge" }

func ValidPredicate(p string) bool {
	switch p {
	case PredicateBroader, PredicateNarrower, PredicateRelated,
		PredicateAdopts, PredicateExtends, PredicateModifies:
		return true
	}
	return false
}

// HierarchicalPredicate reports whether the predicate is part of the
// taxonomy hierarchy (counts toward orphan detection).
func HierarchicalPredicate(p string) bool {
	switch p {
	case PredicateBroader, PredicateNarrower, PredicateRelated:
		return true
	}
	return false
}

// CycleCheckedPredicate reports whether committing an edge with this
// predicate requires a reachability check. Related edges are undirected in
// meaning, so only broader/narrower can close a cycle.
func CycleCheckedPredicate(p string) bool {
	return p == PredicateBroader || p == PredicateNarrower
}
