package settings

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/copyleftdev/dro/internal/controller"
	"github.com/copyleftdev/dro/internal/errors"
	"github.com/copyleftdev/dro/internal/objective"
)

// DefaultReactionType is the local objective used when reaction_type is
// absent.
const DefaultReactionType = "quadratic"

// Settings is the validated, read-only view of a configuration document.
// Construct it with Load or FromDocument; do not mutate it afterwards.
type Settings struct {
	NumParams    int
	ParamNames   []string
	ParamRanges  []objective.Range
	ParamInit    []float64
	NumSteps     int
	UnrollLength int
	HiddenSize   int
	NumLayers    int
	Reuse        bool
	Constraints  bool
	Direction    objective.Direction
	ReactionType string

	// Remote selects the request/reply objective (the zmq option).
	Remote bool
	// Host is ip_address with any scheme prefix removed.
	Host     string
	Port     int
	SavePath string
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Settings, error) {
	doc, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc)
}

// FromDocument validates doc and builds Settings. Shape, type and value
// problems are reported here, before any run starts.
func FromDocument(doc *Document) (*Settings, error) {
	s := &Settings{}
	var err error

	if s.NumParams, err = doc.NumParams(); err != nil {
		return nil, err
	}
	if s.NumParams <= 0 {
		return nil, &errors.ConfigValueError{Key: "num_params", Reason: fmt.Sprintf("must be positive, got %d", s.NumParams)}
	}
	if s.ParamRanges, err = doc.ParamRanges(); err != nil {
		return nil, err
	}
	for i, r := range s.ParamRanges {
		if !(r.Min < r.Max) {
			return nil, &errors.ConfigValueError{
				Key:    fmt.Sprintf("param_ranges[%d]", i),
				Reason: fmt.Sprintf("min %v must be below max %v", r.Min, r.Max),
			}
		}
	}
	if s.ParamInit, err = doc.ParamInit(); err != nil {
		return nil, err
	}
	if s.ParamNames, err = doc.ParamNames(); err != nil {
		return nil, err
	}
	if err := checkUnique(s.ParamNames); err != nil {
		return nil, err
	}

	if s.NumSteps, err = doc.NumSteps(); err != nil {
		return nil, err
	}
	if s.NumSteps < 0 {
		return nil, &errors.ConfigValueError{Key: "num_steps", Reason: fmt.Sprintf("must not be negative, got %d", s.NumSteps)}
	}
	if s.UnrollLength, err = doc.UnrollLength(); err != nil {
		return nil, err
	}
	if s.HiddenSize, err = doc.HiddenSize(); err != nil {
		return nil, err
	}
	if s.HiddenSize <= 0 {
		return nil, &errors.ConfigValueError{Key: "hidden_size", Reason: fmt.Sprintf("must be positive, got %d", s.HiddenSize)}
	}
	if s.NumLayers, err = doc.NumLayers(); err != nil {
		return nil, err
	}
	if s.NumLayers <= 0 {
		return nil, &errors.ConfigValueError{Key: "num_layers", Reason: fmt.Sprintf("must be positive, got %d", s.NumLayers)}
	}
	if s.Reuse, err = doc.Reuse(); err != nil {
		return nil, err
	}
	if s.Constraints, err = doc.Constraints(); err != nil {
		return nil, err
	}

	direction, err := doc.OptDirection()
	if err != nil {
		return nil, err
	}
	if s.Direction, err = objective.ParseDirection(direction); err != nil {
		return nil, &errors.ConfigValueError{Key: "opt_direction", Reason: err.Error()}
	}

	if s.SavePath, err = doc.SavePath(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.SavePath) == "" {
		return nil, &errors.ConfigValueError{Key: "save_path", Reason: "must name a checkpoint directory"}
	}

	s.ReactionType = DefaultReactionType
	if doc.Has("reaction_type") {
		if s.ReactionType, err = doc.ReactionType(); err != nil {
			return nil, err
		}
	}

	if s.Remote, err = doc.ZMQ(); err != nil {
		return nil, err
	}
	if err := s.readEndpoint(doc); err != nil {
		return nil, err
	}

	return s, nil
}

// readEndpoint reads ip_address and port. Both are mandatory for a remote
// run and validated whenever present.
func (s *Settings) readEndpoint(doc *Document) error {
	if !s.Remote && !doc.Has("ip_address") && !doc.Has("port") {
		return nil
	}

	addr, err := doc.IPAddress()
	if err != nil {
		return err
	}
	s.Host = stripScheme(addr)
	if s.Remote && s.Host == "" {
		return &errors.ConfigValueError{Key: "ip_address", Reason: "required when zmq is enabled"}
	}

	if s.Port, err = doc.Port(); err != nil {
		return err
	}
	if s.Port <= 0 || s.Port > 65535 {
		return &errors.ConfigValueError{Key: "port", Reason: fmt.Sprintf("must be in 1..65535, got %d", s.Port)}
	}
	return nil
}

// Endpoint returns host:port for the remote objective.
func (s *Settings) Endpoint() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ControllerShape is the controller layout the checkpoint must match.
func (s *Settings) ControllerShape() controller.Shape {
	return controller.Shape{
		Params: s.NumParams,
		Hidden: s.HiddenSize,
		Layers: s.NumLayers,
		Reuse:  s.Reuse,
	}
}

// InitialPoint returns ParamInit normalized into [0,1]^N, or nil when no
// starting point is configured.
func (s *Settings) InitialPoint() ([]float64, error) {
	if len(s.ParamInit) == 0 {
		return nil, nil
	}
	scaler, err := objective.NewScaler(s.ParamRanges)
	if err != nil {
		return nil, err
	}
	return scaler.Normalize(s.ParamInit), nil
}

func stripScheme(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
	}
	return addr
}

func checkUnique(names []string) error {
	seen := make(map[string]int, len(names))
	for i, name := range names {
		if j, dup := seen[name]; dup {
			return &errors.ConfigValueError{
				Key:    "param_names",
				Reason: fmt.Sprintf("entries %d and %d are both %q", j, i, name),
			}
		}
		seen[name] = i
	}
	return nil
}
