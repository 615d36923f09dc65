package gatewayconfig

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed intent.schema.json
var intentSchemaJSON []byte

var compileIntentSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(intentSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal intent schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("intent.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add intent schema: %w", err)
	}
	schema, err := c.Compile("intent.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile intent schema: %w", err)
	}
	return schema, nil
})

// ValidationError lists every problem found in an intent.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid intent: " + e.Problems[0]
	}
	return "invalid intent:\n  - " + strings.Join(e.Problems, "\n  - ")
}

// ValidateIntent checks intent against the embedded JSON schema, then applies
// the rules a schema cannot express: unique agent ids and parseable cron
// schedules.
func ValidateIntent(intent Intent) error {
	schema, err := compileIntentSchema()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("encode intent: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode intent: %w", err)
	}

	var problems []string
	if err := schema.Validate(inst); err != nil {
		problems = append(problems, err.Error())
	}

	seen := map[string]bool{}
	for _, agent := range intent.Agents {
		if seen[agent.ID] {
			problems = append(problems, fmt.Sprintf("agent id %q is listed more than once", agent.ID))
		}
		seen[agent.ID] = true
	}
	for _, job := range intent.CronJobs {
		if err := ValidateSchedule(job.Schedule); err != nil {
			problems = append(problems, fmt.Sprintf("cron job %q: %v", job.Name, err))
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
