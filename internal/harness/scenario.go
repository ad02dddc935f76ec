package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/bizflow/internal/model"
)

// Scenario is one executable automation/audit test case.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Specs is the CUE directory with entity types and rules. Relative
	// paths are resolved against the scenario file.
	Specs string `yaml:"specs"`

	// FlowToken prefixes the sequential flow tokens ("<prefix>-1", ...).
	// Defaults to "flow".
	FlowToken string `yaml:"flow_token,omitempty"`

	// Config overrides engine and audit settings.
	Config *Overrides `yaml:"config,omitempty"`

	// Setup steps establish initial state. Any failure aborts the run.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow steps are the behaviour under test.
	Flow []Step `yaml:"flow"`

	// Assertions validate the audit trail and final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Overrides adjusts the application configuration for one scenario.
type Overrides struct {
	MaxDepth                int      `yaml:"max_depth,omitempty"`
	MaxFiringsPerFlow       int      `yaml:"max_firings_per_flow,omitempty"`
	AuditExcludedTypes      []string `yaml:"audit_excluded_types,omitempty"`
	AutomationExcludedTypes []string `yaml:"automation_excluded_types,omitempty"`
}

// Step operations.
const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpLogin   = "login"
	OpLogout  = "logout"
	OpTrigger = "trigger"
	OpNote    = "note"
	OpSender  = "sender"
)

// Step is one operation performed under an ambient request scope.
type Step struct {
	Op     string         `yaml:"op"`
	Type   string         `yaml:"type,omitempty"`
	PK     string         `yaml:"pk,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`

	// Rule is the rule name for trigger steps.
	Rule string `yaml:"rule,omitempty"`

	// Key and User are the session key and user for login/logout.
	Key  string `yaml:"key,omitempty"`
	User string `yaml:"user,omitempty"`

	// Text is the description of a note.
	Text string `yaml:"text,omitempty"`

	// Owner, Channel and Identifier describe a sender.
	Owner      string `yaml:"owner,omitempty"`
	Channel    string `yaml:"channel,omitempty"`
	Identifier string `yaml:"identifier,omitempty"`

	// Request scope.
	Actor   string `yaml:"actor,omitempty"`
	IP      string `yaml:"ip,omitempty"`
	Session string `yaml:"session,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Ref returns the entity the step addresses.
func (s Step) Ref() model.EntityRef {
	return model.EntityRef{Type: s.Type, PK: s.PK}
}

// Expect is checked against the outcome of a flow step.
type Expect struct {
	// Error, when set, must appear in the step's error message.
	Error string `yaml:"error,omitempty"`

	// Values is a subset match against the returned record.
	Values map[string]any `yaml:"values,omitempty"`

	// Fired is checked against a trigger step's firing.
	Fired *bool `yaml:"fired,omitempty"`
}

// Assertion type constants.
const (
	AssertAuditContains = "audit_contains"
	AssertAuditCount    = "audit_count"
	AssertAuditOrder    = "audit_order"
	AssertFinalState    = "final_state"
	AssertAlertCount    = "alert_count"
	AssertMessageCount  = "message_count"
)

// Assertion validates the audit trail or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Entry filters (audit_contains, audit_count).
	Operation string            `yaml:"operation,omitempty"`
	Target    string            `yaml:"target,omitempty"`
	Rule      string            `yaml:"rule,omitempty"`
	Actor     string            `yaml:"actor,omitempty"`
	Changes   map[string]string `yaml:"changes,omitempty"`

	// Count is required by the *_count assertions; zero is meaningful.
	Count *int `yaml:"count,omitempty"`

	// Entries lists "OPERATION Type:pk" in expected order (audit_order).
	Entries []string `yaml:"entries,omitempty"`

	// Entity, Expect and Absent drive final_state.
	Entity string         `yaml:"entity,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Absent bool           `yaml:"absent,omitempty"`

	// Channel and Status filter message_count.
	Channel string `yaml:"channel,omitempty"`
	Status  string `yaml:"status,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Specs != "" && !filepath.IsAbs(scenario.Specs) {
		scenario.Specs = filepath.Join(filepath.Dir(path), scenario.Specs)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml/.yml files under dir, sorted. A file path
// is returned as-is.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		ext := strings.ToLower(filepath.Ext(p))
		if !d.IsDir() && (ext == ".yaml" || ext == ".yml") {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Specs == "" {
		return fmt.Errorf("specs is required")
	}
	if info, err := os.Stat(s.Specs); err != nil || !info.IsDir() {
		return fmt.Errorf("specs directory not found: %s", s.Specs)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: expect is only allowed in flow steps", i)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s Step) error {
	switch s.Op {
	case OpCreate:
		if s.Type == "" {
			return fmt.Errorf("create requires type")
		}
	case OpUpdate, OpDelete, OpTrigger, OpNote:
		if s.Type == "" || s.PK == "" {
			return fmt.Errorf("%s requires type and pk", s.Op)
		}
		if s.Op == OpTrigger && s.Rule == "" {
			return fmt.Errorf("trigger requires rule")
		}
		if s.Op == OpNote && s.Text == "" {
			return fmt.Errorf("note requires text")
		}
	case OpLogin:
		if s.Key == "" || s.User == "" {
			return fmt.Errorf("login requires key and user")
		}
	case OpLogout:
		if s.Key == "" {
			return fmt.Errorf("logout requires key")
		}
	case OpSender:
		if s.Owner == "" || s.Identifier == "" {
			return fmt.Errorf("sender requires owner and identifier")
		}
		switch model.Channel(strings.ToUpper(s.Channel)) {
		case model.ChannelEmail, model.ChannelWhatsApp:
		default:
			return fmt.Errorf("sender channel must be EMAIL or WHATSAPP, got %q", s.Channel)
		}
	case "":
		return fmt.Errorf("op is required")
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertAuditContains:
		if a.Operation == "" && a.Target == "" && a.Rule == "" && a.Actor == "" && len(a.Changes) == 0 {
			return fmt.Errorf("assertions[%d]: audit_contains needs at least one filter", index)
		}
	case AssertAuditCount, AssertAlertCount, AssertMessageCount:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
	case AssertAuditOrder:
		if len(a.Entries) < 2 {
			return fmt.Errorf("assertions[%d]: audit_order needs at least two entries", index)
		}
	case AssertFinalState:
		if _, err := model.ParseEntityRef(a.Entity); err != nil {
			return fmt.Errorf("assertions[%d]: final_state entity: %w", index, err)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: final_state needs expect or absent", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Operation != "" {
		if _, err := model.ParseOperation(a.Operation); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	}
	return nil
}
