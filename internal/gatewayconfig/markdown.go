// ABOUTME: Reads and edits `**Key:** value` lines in agent identity markdown.
// ABOUTME: The first line containing the literal key marker wins; keys are case-sensitive.

package gatewayconfig

import (
	"fmt"
	"strings"
)

// ExtractValue returns the text after `**key:**` on the first line that
// contains it, trimmed. Missing keys yield "".
func ExtractValue(markdown, key string) string {
	marker := "**" + key + ":**"
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if idx := strings.Index(trimmed, marker); idx >= 0 {
			return strings.TrimSpace(trimmed[idx+len(marker):])
		}
	}
	return ""
}

// UpdateIdentityField rewrites the first `**key:**` line to carry value. When
// no such line exists a `- **key:** value` bullet is inserted after the
// first heading, or prepended when there is no heading.
func UpdateIdentityField(markdown, key, value string) string {
	marker := "**" + key + ":**"
	lines := strings.Split(markdown, "\n")
	for i, line := range lines {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		lines[i] = strings.TrimRight(line[:idx+len(marker)]+" "+value, " ")
		return strings.Join(lines, "\n")
	}
	bullet := fmt.Sprintf("- %s %s", marker, value)
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			out := append([]string{}, lines[:i+1]...)
			out = append(out, bullet)
			return strings.Join(append(out, lines[i+1:]...), "\n")
		}
	}
	if strings.TrimSpace(markdown) == "" {
		return bullet
	}
	return bullet + "\n" + markdown
}

// UpdateSoulMission replaces the first "Serve ..." line under the Mission
// heading with one naming who.
func UpdateSoulMission(markdown, who string) string {
	lines := strings.Split(markdown, "\n")
	inMission := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			inMission = strings.EqualFold(strings.TrimSpace(strings.TrimLeft(trimmed, "#")), "Mission")
			continue
		}
		if inMission && strings.HasPrefix(trimmed, "Serve ") {
			lines[i] = fmt.Sprintf("Serve %s.", who)
			return strings.Join(lines, "\n")
		}
	}
	return markdown
}

// Default identity document bodies.

func defaultIdentity(name, emoji, vibe string) string {
	if emoji == "" {
		emoji = "🦞"
	}
	var b strings.Builder
	b.WriteString("# IDENTITY.md - Who Am I?\n")
	fmt.Fprintf(&b, "- **Name:** %s\n", name)
	fmt.Fprintf(&b, "- **Emoji:** %s\n", emoji)
	if vibe != "" {
		fmt.Fprintf(&b, "- **Vibe:** %s\n", vibe)
	}
	b.WriteString("---\nManaged by Clawnetes.")
	return b.String()
}

func defaultUser(user string) string {
	return fmt.Sprintf("# USER.md - About Your Human\n- **Name:** %s\n---", user)
}

func defaultSoul(user string) string {
	return fmt.Sprintf("# SOUL.md\n## Mission\nServe %s.", user)
}
