package provision

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
)

// WorkspaceFiles is the editable identity set of one agent workspace. An
// empty AgentID means the shared workspace.
type WorkspaceFiles struct {
	AgentID  string `json:"agent_id,omitempty"`
	Identity string `json:"identity"`
	User     string `json:"user"`
	Soul     string `json:"soul"`
}

// ReadWorkspace returns the identity documents of a workspace. Missing files
// read as empty.
func (o *Orchestrator) ReadWorkspace(ctx context.Context, agentID string) (WorkspaceFiles, error) {
	if agentID != "" {
		if err := gatewayconfig.ValidateSlug("agent id", agentID); err != nil {
			return WorkspaceFiles{}, err
		}
	}
	r, err := o.quiet(ctx)
	if err != nil {
		return WorkspaceFiles{}, err
	}
	h, err := r.hostWithHome()
	if err != nil {
		return WorkspaceFiles{}, err
	}
	src := &execSource{r: r, root: gatewayconfig.WorkspaceDir(h.appRoot(), agentID)}
	return WorkspaceFiles{
		AgentID:  agentID,
		Identity: src.ReadFile(gatewayconfig.IdentityFileName),
		User:     src.ReadFile(gatewayconfig.UserFileName),
		Soul:     src.ReadFile(gatewayconfig.SoulFileName),
	}, nil
}

// SaveWorkspace overwrites the three identity documents of a workspace,
// creating the directory when needed.
func (o *Orchestrator) SaveWorkspace(ctx context.Context, files WorkspaceFiles) (Report, error) {
	if files.AgentID != "" {
		if err := gatewayconfig.ValidateSlug("agent id", files.AgentID); err != nil {
			return Report{}, err
		}
	}
	r, err := o.begin(ctx, "workspace_save")
	if err != nil {
		return Report{}, err
	}
	return r.finish(r.saveWorkspace(files))
}

func (r *run) saveWorkspace(files WorkspaceFiles) error {
	h, err := r.hostWithHome()
	if err != nil {
		return err
	}
	dir := gatewayconfig.WorkspaceDir(h.appRoot(), files.AgentID)
	return r.writeFiles("write_workspace", dir, []gatewayconfig.File{
		{Path: path.Join(dir, gatewayconfig.IdentityFileName), Content: files.Identity, Mode: 0o644},
		{Path: path.Join(dir, gatewayconfig.UserFileName), Content: files.User, Mode: 0o644},
		{Path: path.Join(dir, gatewayconfig.SoulFileName), Content: files.Soul, Mode: 0o644},
	})
}

// CreateSkill writes a custom skill into the shared workspace's skills
// directory. An existing skill of the same name is replaced.
func (o *Orchestrator) CreateSkill(ctx context.Context, name, content string) (Report, error) {
	if err := gatewayconfig.ValidateSlug("skill name", name); err != nil {
		return Report{}, err
	}
	if strings.TrimSpace(content) == "" {
		return Report{}, fmt.Errorf("skill %s has no content", name)
	}
	r, err := o.begin(ctx, "skill_create")
	if err != nil {
		return Report{}, err
	}
	return r.finish(r.createSkill(name, content))
}

func (r *run) createSkill(name, content string) error {
	h, err := r.hostWithHome()
	if err != nil {
		return err
	}
	file := gatewayconfig.File{Path: gatewayconfig.SkillPath(h.appRoot(), name), Content: content, Mode: 0o644}
	return r.writeFiles("write_skill", path.Dir(file.Path), []gatewayconfig.File{file})
}

// writeFiles creates dir and writes files into it as one recorded step.
func (r *run) writeFiles(step, dir string, files []gatewayconfig.File) error {
	if _, err := r.exec("mkdir -p " + executor.Quote(dir)); err != nil {
		return r.fail(step, err)
	}
	for _, f := range files {
		if _, err := r.exec(writeFileCommand(f)); err != nil {
			return r.fail(step, fmt.Errorf("write %s: %w", f.Path, err))
		}
	}
	r.step(step, StepOK, fmt.Sprintf("%d files under %s", len(files), dir))
	return nil
}
