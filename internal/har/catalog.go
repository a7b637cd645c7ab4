package har

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/torosent/probefire/internal/config"
)

// catalog is the document written by WriteCatalog.
type catalog struct {
	Probes []config.EndpointEntry `yaml:"probes"`
}

// WriteCatalog writes probes as a YAML catalog that the run command loads.
func WriteCatalog(w io.Writer, probes []config.EndpointEntry) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(catalog{Probes: probes}); err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return enc.Close()
}
