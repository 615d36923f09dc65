package provision

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/clawnetes/clawnetes/internal/executor"
	"github.com/clawnetes/clawnetes/internal/gatewayconfig"
)

// Configure writes the synthesized documents without installing anything or
// touching the service.
func (o *Orchestrator) Configure(ctx context.Context, intent gatewayconfig.Intent) (Report, error) {
	r, err := o.begin(ctx, "configure")
	if err != nil {
		return Report{}, err
	}
	return r.finish(r.configure(intent))
}

func (r *run) configure(intent gatewayconfig.Intent) error {
	h, err := r.hostWithHome()
	if err != nil {
		return err
	}
	if err := r.writeConfig(h, intent); err != nil {
		return err
	}
	r.reach(StateConfigWritten)
	return nil
}

// writeConfig reads the current document, synthesizes the new set and
// writes it. Scaffolding and writes are fatal; plugin and skill steps only
// warn.
func (r *run) writeConfig(h *hostInfo, intent gatewayconfig.Intent) error {
	configPath := path.Join(h.appRoot(), gatewayconfig.ConfigFileName)
	existing, err := r.output("cat " + executor.Quote(configPath) + " 2>/dev/null || true")
	if err != nil {
		existing = ""
		r.warn("could not read existing config: %v", err)
	}

	out, err := gatewayconfig.Synthesize([]byte(existing), intent, gatewayconfig.Options{
		Home:        h.Home,
		TokenSource: r.o.TokenSource,
	})
	if err != nil {
		return r.fail("synthesize", err)
	}
	r.o.Redactor.AddValues(out.Token, intent.APIKey, intent.TelegramToken)
	for _, key := range intent.ServiceKeys {
		r.o.Redactor.AddValues(key)
	}
	for _, w := range out.Warnings {
		r.warn("%s", w)
	}
	r.report.Token = out.Token
	tokenDetail := "gateway token preserved"
	if out.TokenGenerated {
		tokenDetail = "gateway token generated"
	}
	r.step("synthesize", StepOK, fmt.Sprintf("%d files, %d agents, %s", len(out.Files), len(out.Agents), tokenDetail))

	dirs := out.Dirs()
	if _, err := r.exec("mkdir -p " + executor.Join(dirs...)); err != nil {
		return r.fail("scaffold", err)
	}
	r.step("scaffold", StepOK, fmt.Sprintf("%d directories", len(dirs)))

	for _, f := range out.Files {
		if _, err := r.exec(writeFileCommand(f)); err != nil {
			return r.fail("write_files", fmt.Errorf("write %s: %w", f.Path, err))
		}
	}
	r.step("write_files", StepOK, fmt.Sprintf("%d files under %s", len(out.Files), out.Root))

	r.optionalSteps(h, intent)
	return nil
}

// writeFileCommand writes content verbatim through printf, which unlike echo
// does not interpret escapes or append a newline.
func writeFileCommand(f gatewayconfig.File) string {
	target := executor.Quote(f.Path)
	return fmt.Sprintf("printf '%%s' %s > %s && chmod %o %s", quoteAlways(f.Content), target, f.Mode.Perm(), target)
}

// quoteAlways single-quotes s even when executor.Quote would leave it bare.
func quoteAlways(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (r *run) optionalSteps(h *hostInfo, intent gatewayconfig.Intent) {
	if nm := strings.TrimSpace(intent.NodeManager); nm != "" {
		if _, err := r.exec(h.openclaw("config set skills.nodeManager " + executor.Quote(nm))); err != nil {
			r.step("node_manager", StepWarn, err.Error())
			r.warn("could not set node manager %s: %v", nm, err)
		} else {
			r.step("node_manager", StepOK, nm)
		}
	}
	if strings.TrimSpace(intent.TelegramToken) != "" {
		if _, err := r.exec(h.openclaw("plugins enable telegram")); err != nil {
			r.step("enable_telegram", StepWarn, err.Error())
			r.warn("could not enable telegram plugin: %v", err)
		} else {
			r.step("enable_telegram", StepOK, "")
		}
	}
	skills := requestedSkills(intent)
	if len(skills) == 0 {
		return
	}
	var failed []string
	for _, skill := range skills {
		if _, err := r.exec(h.env() + "npx clawhub install " + executor.Quote(skill)); err != nil {
			failed = append(failed, skill)
			r.warn("skill %s failed to install: %v", skill, err)
		}
	}
	if len(failed) > 0 {
		r.step("install_skills", StepWarn, "failed: "+strings.Join(failed, ", "))
		return
	}
	r.step("install_skills", StepOK, strings.Join(skills, ", "))
}

// requestedSkills merges top-level and per-agent skills, sorted and unique.
func requestedSkills(intent gatewayconfig.Intent) []string {
	seen := map[string]bool{}
	var out []string
	add := func(list []string) {
		for _, s := range list {
			s = strings.TrimSpace(s)
			if s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	add(intent.Skills)
	for _, agent := range intent.Agents {
		add(agent.Skills)
	}
	sort.Strings(out)
	return out
}
