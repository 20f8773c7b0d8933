package app

import (
	"gorm.io/gorm"

	lineagerepo "github.com/semops/semops-backend/internal/data/repos/lineage"
	taxrepo "github.com/semops/semops-backend/internal/data/repos/taxonomy"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

type Repos struct {
	Pattern     taxrepo.PatternRepo
	PatternEdge taxrepo.PatternEdgeRepo
	Artifact    taxrepo.ArtifactRepo

	Episode       lineagerepo.EpisodeRepo
	IngestionRun  lineagerepo.IngestionRunRepo
	ApprovalGrant lineagerepo.ApprovalGrantRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Pattern:     taxrepo.NewPatternRepo(db, log),
		PatternEdge: taxrepo.NewPatternEdgeRepo(db, log),
		Artifact:    taxrepo.NewArtifactRepo(db, log),

		Episode:       lineagerepo.NewEpisodeRepo(db, log),
		IngestionRun:  lineagerepo.NewIngestionRunRepo(db, log),
		ApprovalGrant: lineagerepo.NewApprovalGrantRepo(db, log),
	}
}
