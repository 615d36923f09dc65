package gatewayconfig

import (
	"fmt"
	"path"
	"regexp"
)

// Identity documents an operator edits directly in a workspace.
const (
	IdentityFileName = "IDENTITY.md"
	UserFileName     = "USER.md"
	SoulFileName     = "SOUL.md"
	SkillFileName    = "SKILL.md"
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// ValidateSlug rejects agent ids and skill names that would escape their
// directory once joined into a path.
func ValidateSlug(kind, value string) error {
	if !slugPattern.MatchString(value) {
		return fmt.Errorf("invalid %s %q: use letters, digits, '-' and '_'", kind, value)
	}
	return nil
}

// WorkspaceDir returns the workspace of agentID under root. An empty id
// selects the shared workspace the implicit main agent uses.
func WorkspaceDir(root, agentID string) string {
	if agentID == "" {
		return mainWorkspace(root)
	}
	return agentWorkspace(root, agentID)
}

// SkillPath returns where the SKILL.md of a custom skill lives.
func SkillPath(root, name string) string {
	return path.Join(mainWorkspace(root), "skills", name, SkillFileName)
}
