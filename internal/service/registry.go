package service

import (
	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/rulesmith/internal/secrets"
	"github.com/fyrsmithlabs/rulesmith/internal/telemetry"
)

// Registry provides access to the services behind the transport adapters.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Pipeline() *Service
	Scrubber() *secrets.Scrubber
	NATS() *nats.Conn
	SubjectPrefix() string
	Telemetry() *telemetry.Telemetry
}

// RegistryOptions configures the registry with service instances.
type RegistryOptions struct {
	Pipeline      *Service
	Scrubber      *secrets.Scrubber
	NATS          *nats.Conn
	SubjectPrefix string
	Telemetry     *telemetry.Telemetry
}

// registry is the concrete implementation of Registry.
type registry struct {
	pipeline      *Service
	scrubber      *secrets.Scrubber
	nc            *nats.Conn
	subjectPrefix string
	telemetry     *telemetry.Telemetry
}

// NewRegistry creates a new service registry.
func NewRegistry(opts RegistryOptions) Registry {
	return &registry{
		pipeline:      opts.Pipeline,
		scrubber:      opts.Scrubber,
		nc:            opts.NATS,
		subjectPrefix: opts.SubjectPrefix,
		telemetry:     opts.Telemetry,
	}
}

func (r *registry) Pipeline() *Service              { return r.pipeline }
func (r *registry) Scrubber() *secrets.Scrubber     { return r.scrubber }
func (r *registry) NATS() *nats.Conn                { return r.nc }
func (r *registry) SubjectPrefix() string           { return r.subjectPrefix }
func (r *registry) Telemetry() *telemetry.Telemetry { return r.telemetry }
