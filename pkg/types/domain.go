package types

// Model represents a backend model binding: a model file on disk plus the
// fixed port its server process binds when resident.
type Model struct {
	// Stable identifier for the model (the model filename by convention).
	// example: qwencoder.gguf
	ID string `json:"id" example:"qwencoder.gguf"`
	// Human-friendly name.
	// example: Qwen Coder (Q4)
	Name string `json:"name" example:"Qwen Coder (Q4)"`
	// Absolute path to the model file on disk.
	// example: /home/user/models/qwencoder.gguf
	Path string `json:"path" example:"/home/user/models/qwencoder.gguf"`
	// Port the model's server binds when it is the resident occupant.
	// example: 8081
	Port int `json:"port" example:"8081"`
}

// Bindings is the read-only role/model/port configuration injected into the
// scheduler at startup. It is never mutated after construction.
type Bindings struct {
	// Roles maps a role tag to the model id that role requires (many-to-one).
	Roles map[string]string `json:"roles"`
	// Ports maps a model id to its fixed port (one-to-one).
	Ports map[string]int `json:"ports"`
	// DefaultModel is used for roles with no explicit mapping.
	DefaultModel string `json:"default_model"`
}

// ModelForRole resolves the model a role requires, falling back to the
// default model for unknown roles.
func (b Bindings) ModelForRole(role string) string {
	if m, ok := b.Roles[role]; ok && m != "" {
		return m
	}
	return b.DefaultModel
}

// PortForModel resolves the fixed port for a model id. ok is false when the
// model has no port binding.
func (b Bindings) PortForModel(model string) (int, bool) {
	p, ok := b.Ports[model]
	return p, ok
}
