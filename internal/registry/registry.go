package registry

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/omnix-ai/omnixd/internal/service"
)

// ConfigurationError reports an invalid stack configuration. Every violation
// is detected at load time, before any process is launched.
type ConfigurationError struct {
	Service string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Service == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: service %q: %s", e.Service, e.Reason)
}

// Registry is the validated, ordered set of service specs. The order is the
// declared order and drives the startup sequence; specs never change after
// load.
type Registry struct {
	specs  []service.Spec
	byName map[string]int
}

// New validates the specs, applies environment port overrides, fills defaults
// and returns the registry. Any violation yields a *ConfigurationError.
func New(specs []service.Spec) (*Registry, error) {
	r := &Registry{
		specs:  make([]service.Spec, 0, len(specs)),
		byName: make(map[string]int, len(specs)),
	}
	for _, s := range specs {
		cp := s.DeepCopy()
		if err := cp.Validate(); err != nil {
			return nil, &ConfigurationError{Service: s.Name, Reason: err.Error()}
		}
		if err := applyPortOverride(&cp); err != nil {
			return nil, err
		}
		cp = cp.WithDefaults()
		if _, dup := r.byName[cp.Name]; dup {
			return nil, &ConfigurationError{Service: cp.Name, Reason: "duplicate service name"}
		}
		r.byName[cp.Name] = len(r.specs)
		r.specs = append(r.specs, cp)
	}
	// Checked after overrides so a collision introduced by an override is
	// caught too.
	seen := make(map[int]string, len(r.specs))
	for _, s := range r.specs {
		if prev, ok := seen[s.Port]; ok {
			return nil, &ConfigurationError{
				Service: s.Name,
				Reason:  fmt.Sprintf("port %d already used by %q", s.Port, prev),
			}
		}
		seen[s.Port] = s.Name
	}
	return r, nil
}

// List returns the specs in declared order. Callers get copies and cannot
// mutate the registry through them.
func (r *Registry) List() []service.Spec {
	out := make([]service.Spec, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.DeepCopy()
	}
	return out
}

// Get returns the spec with the given name.
func (r *Registry) Get(name string) (service.Spec, bool) {
	i, ok := r.byName[name]
	if !ok {
		return service.Spec{}, false
	}
	return r.specs[i].DeepCopy(), true
}

// Names returns the service names in declared order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.Name
	}
	return out
}

func (r *Registry) Len() int { return len(r.specs) }

// PortEnvVar returns the environment variable consulted for a port override:
// OMNIX_<NAME>_PORT with the name uppercased and non-alphanumerics mapped
// to '_'.
func PortEnvVar(name string) string {
	var b strings.Builder
	b.WriteString("OMNIX_")
	for _, c := range strings.ToUpper(name) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		} else {
			b.WriteByte('_')
		}
	}
	b.WriteString("_PORT")
	return b.String()
}

// applyPortOverride applies OMNIX_<NAME>_PORT when set. A health URL that
// references the service's declared port is kept in sync so an override moves
// both.
func applyPortOverride(s *service.Spec) error {
	key := PortEnvVar(s.Name)
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port < 1 || port > 65535 {
		return &ConfigurationError{Service: s.Name, Reason: fmt.Sprintf("invalid %s value %q", key, raw)}
	}
	if s.HealthURL != "" && s.Port != port {
		oldRef := ":" + strconv.Itoa(s.Port)
		newRef := ":" + strconv.Itoa(port)
		switch {
		case strings.Contains(s.HealthURL, oldRef+"/"):
			s.HealthURL = strings.Replace(s.HealthURL, oldRef+"/", newRef+"/", 1)
		case strings.HasSuffix(s.HealthURL, oldRef):
			s.HealthURL = strings.TrimSuffix(s.HealthURL, oldRef) + newRef
		}
	}
	s.Port = port
	return nil
}
