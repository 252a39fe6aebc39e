package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/fundterm/internal/common"
	"github.com/bobmcallan/fundterm/internal/interfaces"
	"github.com/bobmcallan/fundterm/internal/models"
)

// promptSelectFields aliases prompt_id to id for struct mapping.
const promptSelectFields = "prompt_id AS id, content, version, updated_at"

// PromptStore implements interfaces.PromptStore using SurrealDB. Every save
// creates a new version; old versions stay readable.
type PromptStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewPromptStore creates a new PromptStore.
func NewPromptStore(db *surrealdb.DB, logger *common.Logger) *PromptStore {
	return &PromptStore{db: db, logger: logger}
}

func promptID(version int) string {
	return fmt.Sprintf("v%d", version)
}

func (s *PromptStore) latestVersion(ctx context.Context) (int, error) {
	sql := "SELECT math::max(version) AS max_version FROM role_prompt GROUP ALL"

	type maxResult struct {
		MaxVersion int `json:"max_version"`
	}

	results, err := surrealdb.Query[[]maxResult](ctx, s.db, sql, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest prompt version: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].MaxVersion, nil
	}
	return 0, nil
}

func (s *PromptStore) SaveRolePrompt(ctx context.Context, content string) (*models.RolePrompt, error) {
	latest, err := s.latestVersion(ctx)
	if err != nil {
		return nil, err
	}

	prompt := &models.RolePrompt{
		ID:        promptID(latest + 1),
		Content:   content,
		Version:   latest + 1,
		UpdatedAt: time.Now(),
	}

	sql := "CREATE $rid CONTENT $prompt"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID("role_prompt", prompt.ID),
		"prompt": map[string]any{
			"prompt_id":  prompt.ID,
			"content":    prompt.Content,
			"version":    prompt.Version,
			"updated_at": prompt.UpdatedAt,
		},
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return nil, fmt.Errorf("failed to save role prompt: %w", err)
	}
	return prompt, nil
}

func (s *PromptStore) GetRolePrompt(ctx context.Context, version int) (*models.RolePrompt, error) {
	sql := "SELECT " + promptSelectFields + " FROM role_prompt"
	vars := map[string]any{}
	if version > 0 {
		sql += " WHERE version = $version"
		vars["version"] = version
	} else {
		sql += " ORDER BY version DESC"
	}
	sql += " LIMIT 1"

	results, err := surrealdb.Query[[]models.RolePrompt](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get role prompt: %w", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], nil
	}
	return nil, nil
}

func (s *PromptStore) ListRolePrompts(ctx context.Context, limit int) ([]*models.RolePrompt, error) {
	if limit <= 0 {
		limit = 20
	}

	sql := "SELECT prompt_id AS id, version, updated_at FROM role_prompt ORDER BY version DESC LIMIT $limit"
	vars := map[string]any{"limit": limit}

	results, err := surrealdb.Query[[]models.RolePrompt](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list role prompts: %w", err)
	}

	var prompts []*models.RolePrompt
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			prompts = append(prompts, &(*results)[0].Result[i])
		}
	}
	return prompts, nil
}

// Compile-time check
var _ interfaces.PromptStore = (*PromptStore)(nil)
