package plugin

// Category represents the functional grouping of a plugin, used when
// suggesting multi-plugin chains.
type Category string

const (
	// CategoryAnalysis plugins inspect data and produce findings.
	CategoryAnalysis Category = "analysis"
	// CategoryGeneration plugins produce new artefacts.
	CategoryGeneration Category = "generation"
	// CategoryTransformation plugins convert data between capability types.
	CategoryTransformation Category = "transformation"
	// CategoryMonitoring plugins observe external systems.
	CategoryMonitoring Category = "monitoring"
	// CategoryUtility is the fallback for uncategorised plugins.
	CategoryUtility Category = "utility"
)

// Descriptor contains the static metadata a plugin declares when it
// registers. It is immutable after registration; usage statistics live in the
// discovery index, not here.
type Descriptor struct {
	Identity          string   `yaml:"identity" json:"identity"`
	Name              string   `yaml:"name" json:"name"`
	Description       string   `yaml:"description" json:"description"`
	Version           string   `yaml:"version" json:"version"`
	Author            string   `yaml:"author" json:"author"`
	Category          Category `yaml:"category" json:"category"`
	Tags              []string `yaml:"tags" json:"tags,omitempty"`
	InputTypes        []string `yaml:"inputTypes" json:"input_types,omitempty"`
	OutputTypes       []string `yaml:"outputTypes" json:"output_types,omitempty"`
	CollaboratesWith  []string `yaml:"collaboratesWith" json:"collaborates_with,omitempty"`
	ChainPriority     float64  `yaml:"chainPriority" json:"chain_priority"`
	AutoChainEligible bool     `yaml:"autoChainEligible" json:"auto_chain_eligible"`
}

// Clone returns a deep copy so callers can hold descriptors without aliasing
// the registry's slices.
func (d Descriptor) Clone() Descriptor {
	dup := d
	dup.Tags = append([]string(nil), d.Tags...)
	dup.InputTypes = append([]string(nil), d.InputTypes...)
	dup.OutputTypes = append([]string(nil), d.OutputTypes...)
	dup.CollaboratesWith = append([]string(nil), d.CollaboratesWith...)
	return dup
}

// HasInputs reports whether the plugin declares any execution preconditions.
func (d Descriptor) HasInputs() bool {
	return len(d.InputTypes) > 0
}
