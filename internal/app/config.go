package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/semops/semops-backend/internal/classifier"
	"github.com/semops/semops-backend/internal/coherence"
	"github.com/semops/semops-backend/internal/lifecycle"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/logger"
	"github.com/semops/semops-backend/internal/utils"
)

type Config struct {
	Port           string
	JWTSecret      string
	AllowedOrigins []string
	LineageMode    lineage.Mode

	Pipeline   classifier.Config
	Embedding  classifier.EmbeddingThresholds
	Coherence  coherence.Config
	Governance lifecycle.Config
}

// fileConfig is the optional SEMOPS_CONFIG yaml shape. Every field is a
// pointer so an absent key keeps the default instead of zeroing it.
type fileConfig struct {
	Classifier struct {
		EscalationConfidence *float64 `yaml:"escalation_confidence"`
		MaxAttempts          *int     `yaml:"max_attempts"`
		RetryBaseDelayMs     *int     `yaml:"retry_base_delay_ms"`
	} `yaml:"classifier"`
	Embedding struct {
		Duplicate *float64 `yaml:"duplicate"`
		OrphanLow *float64 `yaml:"orphan_low"`
		TopK      *int     `yaml:"top_k"`
	} `yaml:"embedding"`
	Coherence struct {
		StabilityWindow *int     `yaml:"stability_window"`
		HalfLife        *float64 `yaml:"half_life"`
		DeltaScale      *float64 `yaml:"delta_scale"`
		RegressionFloor *float64 `yaml:"regression_floor"`
	} `yaml:"coherence"`
	Governance struct {
		StableFloor  *float64 `yaml:"stable_floor"`
		StableAudits *int     `yaml:"stable_audits"`
		AuditWindow  *int     `yaml:"audit_window"`
	} `yaml:"governance"`
}

// LoadConfig layers defaults, then the SEMOPS_CONFIG yaml file when set,
// then environment variables. Env always wins.
func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := Config{
		Pipeline:   classifier.DefaultConfig(),
		Embedding:  classifier.DefaultEmbeddingThresholds(),
		Coherence:  coherence.DefaultConfig(),
		Governance: lifecycle.DefaultConfig(),
	}

	if path := strings.TrimSpace(os.Getenv("SEMOPS_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
		applyFileConfig(&cfg, fc)
		log.Info("Loaded threshold config file", "path", path)
	}

	cfg.Port = utils.GetEnv("PORT", "8080", log)
	cfg.JWTSecret = utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	origins := utils.GetEnv("ALLOWED_ORIGINS", "", log)
	if origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	mode, err := lineage.ParseMode(utils.GetEnv("LINEAGE_MODE", string(lineage.ModeFull), log))
	if err != nil {
		return cfg, fmt.Errorf("parse LINEAGE_MODE: %w", err)
	}
	cfg.LineageMode = mode

	cfg.Pipeline.EscalationConfidence = utils.GetEnvAsFloat("CLASSIFIER_ESCALATION_CONFIDENCE", cfg.Pipeline.EscalationConfidence, log)
	cfg.Pipeline.MaxAttempts = utils.GetEnvAsInt("CLASSIFIER_MAX_ATTEMPTS", cfg.Pipeline.MaxAttempts, log)
	cfg.Pipeline.RetryBaseDelay = time.Duration(utils.GetEnvAsInt("CLASSIFIER_RETRY_BASE_DELAY_MS", int(cfg.Pipeline.RetryBaseDelay/time.Millisecond), log)) * time.Millisecond

	cfg.Embedding.Duplicate = utils.GetEnvAsFloat("EMBEDDING_DUPLICATE_THRESHOLD", cfg.Embedding.Duplicate, log)
	cfg.Embedding.OrphanLow = utils.GetEnvAsFloat("EMBEDDING_ORPHAN_LOW_THRESHOLD", cfg.Embedding.OrphanLow, log)
	cfg.Embedding.TopK = utils.GetEnvAsInt("EMBEDDING_TOP_K", cfg.Embedding.TopK, log)

	cfg.Coherence.StabilityWindow = utils.GetEnvAsInt("COHERENCE_STABILITY_WINDOW", cfg.Coherence.StabilityWindow, log)
	cfg.Coherence.HalfLife = utils.GetEnvAsFloat("COHERENCE_HALF_LIFE", cfg.Coherence.HalfLife, log)
	cfg.Coherence.DeltaScale = utils.GetEnvAsFloat("COHERENCE_DELTA_SCALE", cfg.Coherence.DeltaScale, log)
	cfg.Coherence.RegressionFloor = utils.GetEnvAsFloat("COHERENCE_REGRESSION_FLOOR", cfg.Coherence.RegressionFloor, log)

	cfg.Governance.StableFloor = utils.GetEnvAsFloat("GOVERNANCE_STABLE_FLOOR", cfg.Governance.StableFloor, log)
	cfg.Governance.StableAudits = utils.GetEnvAsInt("GOVERNANCE_STABLE_AUDITS", cfg.Governance.StableAudits, log)
	cfg.Governance.AuditWindow = utils.GetEnvAsInt("GOVERNANCE_AUDIT_WINDOW", cfg.Governance.AuditWindow, log)

	return cfg, nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if v := fc.Classifier.EscalationConfidence; v != nil {
		cfg.Pipeline.EscalationConfidence = *v
	}
	if v := fc.Classifier.MaxAttempts; v != nil {
		cfg.Pipeline.MaxAttempts = *v
	}
	if v := fc.Classifier.RetryBaseDelayMs; v != nil {
		cfg.Pipeline.RetryBaseDelay = time.Duration(*v) * time.Millisecond
	}
	if v := fc.Embedding.Duplicate; v != nil {
		cfg.Embedding.Duplicate = *v
	}
	if v := fc.Embedding.OrphanLow; v != nil {
		cfg.Embedding.OrphanLow = *v
	}
	if v := fc.Embedding.TopK; v != nil {
		cfg.Embedding.TopK = *v
	}
	if v := fc.Coherence.StabilityWindow; v != nil {
		cfg.Coherence.StabilityWindow = *v
	}
	if v := fc.Coherence.HalfLife; v != nil {
		cfg.Coherence.HalfLife = *v
	}
	if v := fc.Coherence.DeltaScale; v != nil {
		cfg.Coherence.DeltaScale = *v
	}
	if v := fc.Coherence.RegressionFloor; v != nil {
		cfg.Coherence.RegressionFloor = *v
	}
	if v := fc.Governance.StableFloor; v != nil {
		cfg.Governance.StableFloor = *v
	}
	if v := fc.Governance.StableAudits; v != nil {
		cfg.Governance.StableAudits = *v
	}
	if v := fc.Governance.AuditWindow; v != nil {
		cfg.Governance.AuditWindow = *v
	}
}
