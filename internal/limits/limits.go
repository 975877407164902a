package limits

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	_ "github.com/mattn/go-sqlite3"

	"proxygate/internal/obs"
)

// ModelLimits holds per-model capability overrides.
type ModelLimits struct {
	MaxOutputTokens     *int
	SupportsToolCalling *bool
	SupportsReasoning   *bool
}

var (
	cache   = make(map[string]ModelLimits)
	cacheMu sync.RWMutex
)

func dbPath() string {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "./data"
	}
	return filepath.Join(dataDir, "codegate.db")
}

// InitModelLimitsTable loads the model_limits cache from the database (the
// table itself is owned by internal/db's migrations) and seeds any model
// named in the YAML seed file that the DB doesn't already have an entry for.
func InitModelLimitsTable() {
	reloadCache()
	seedFromYAML(seedFilePath())
	obs.L().Info("model limits initialized", zap.Int("cached_models", len(GetAllModelLimits())))
}

func seedFilePath() string {
	if p := os.Getenv("MODEL_LIMITS_FILE"); p != "" {
		return p
	}
	return "./model-limits.yaml"
}

// yamlSeed is the on-disk shape of the model-limits seed file: a flat map
// of model ID prefix to capability overrides, the same fields the DB row
// carries.
type yamlSeed struct {
	Models map[string]struct {
		MaxOutputTokens     *int  `yaml:"max_output_tokens"`
		SupportsToolCalling *bool `yaml:"supports_tool_calling"`
		SupportsReasoning   *bool `yaml:"supports_reasoning"`
	} `yaml:"models"`
}

// seedFromYAML loads a YAML seed file and writes any model it names that
// isn't already present in the DB. Existing DB rows always win, so operators
// can override a seeded value and have it survive restarts.
func seedFromYAML(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var seed yamlSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		obs.L().Warn("failed to parse model limits seed file", zap.String("path", path), zap.Error(err))
		return
	}

	for modelID, m := range seed.Models {
		cacheMu.RLock()
		_, exists := cache[modelID]
		cacheMu.RUnlock()
		if exists {
			continue
		}
		SetModelLimit(modelID, m.MaxOutputTokens, m.SupportsToolCalling, m.SupportsReasoning)
	}
}

func reloadCache() {
	conn, err := sql.Open("sqlite3", dbPath()+"?_journal_mode=WAL&_foreign_keys=on&mode=ro")
	if err != nil {
		return
	}
	defer conn.Close()

	rows, err := conn.Query("SELECT model_id, max_output_tokens, supports_tool_calling, supports_reasoning FROM model_limits")
	if err != nil {
		return
	}
	defer rows.Close()

	newCache := make(map[string]ModelLimits)
	for rows.Next() {
		var modelID string
		var maxOut sql.NullInt64
		var toolCalling, reasoning sql.NullInt64

		if err := rows.Scan(&modelID, &maxOut, &toolCalling, &reasoning); err != nil {
			continue
		}

		ml := ModelLimits{}
		if maxOut.Valid {
			v := int(maxOut.Int64)
			ml.MaxOutputTokens = &v
		}
		if toolCalling.Valid {
			v := toolCalling.Int64 == 1
			ml.SupportsToolCalling = &v
		}
		if reasoning.Valid {
			v := reasoning.Int64 == 1
			ml.SupportsReasoning = &v
		}
		newCache[modelID] = ml
	}

	cacheMu.Lock()
	cache = newCache
	cacheMu.Unlock()
}

// GetModelLimits returns limits for a model using prefix matching.
func GetModelLimits(modelID string) *ModelLimits {
	cacheMu.RLock()
	defer cacheMu.RUnlock()

	if ml, ok := cache[modelID]; ok {
		return &ml
	}

	for key, ml := range cache {
		if strings.HasPrefix(modelID, key) || strings.HasPrefix(key, modelID) {
			mlCopy := ml
			return &mlCopy
		}
	}

	return nil
}

// ClampMaxTokens clamps a max_tokens value to the model's configured limit.
func ClampMaxTokens(value *int, modelID string) *int {
	if value == nil {
		return nil
	}
	ml := GetModelLimits(modelID)
	if ml == nil || ml.MaxOutputTokens == nil {
		return value
	}
	if *value > *ml.MaxOutputTokens {
		clamped := *ml.MaxOutputTokens
		return &clamped
	}
	return value
}

// GetAllModelLimits returns all configured model limits.
func GetAllModelLimits() map[string]ModelLimits {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	result := make(map[string]ModelLimits, len(cache))
	for k, v := range cache {
		result[k] = v
	}
	return result
}

// SetModelLimit sets limits for a model.
func SetModelLimit(modelID string, maxOut *int, toolCalling *bool, reasoning *bool) {
	wConn, err := sql.Open("sqlite3", dbPath()+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return
	}
	defer wConn.Close()

	var maxOutVal, tcVal, rVal any
	if maxOut != nil {
		maxOutVal = *maxOut
	}
	if toolCalling != nil {
		if *toolCalling {
			tcVal = 1
		} else {
			tcVal = 0
		}
	}
	if reasoning != nil {
		if *reasoning {
			rVal = 1
		} else {
			rVal = 0
		}
	}

	wConn.Exec(`INSERT INTO model_limits (model_id, max_output_tokens, supports_tool_calling, supports_reasoning)
		VALUES (?, ?, ?, ?) ON CONFLICT(model_id) DO UPDATE SET
		max_output_tokens = excluded.max_output_tokens,
		supports_tool_calling = excluded.supports_tool_calling,
		supports_reasoning = excluded.supports_reasoning`, modelID, maxOutVal, tcVal, rVal)

	reloadCache()
}

// DeleteModelLimit removes limits for a model.
func DeleteModelLimit(modelID string) bool {
	wConn, err := sql.Open("sqlite3", dbPath()+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return false
	}
	defer wConn.Close()

	result, err := wConn.Exec("DELETE FROM model_limits WHERE model_id = ?", modelID)
	if err != nil {
		return false
	}
	n, _ := result.RowsAffected()
	reloadCache()
	return n > 0
}
