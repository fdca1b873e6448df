package eventbridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harbz07/sanctuary-mythology/internal/mythos"
)

const (
	// ProtocolVersion identifies the bridge contract version exposed via /health.
	ProtocolVersion = "1.0.0"
	// RequestSchemaVersion is the currently supported inbound request version.
	RequestSchemaVersion = 1
)

// InvocationRequest is the body of POST /invocations.
type InvocationRequest struct {
	Version         int      `json:"version"`
	RequestID       string   `json:"request_id"`
	Persona         string   `json:"persona"`
	Context         string   `json:"context"`
	Tags            []string `json:"tags"`
	EmotionalWeight *int     `json:"emotional_weight,omitempty"`
}

// Normalize applies defaults and canonical formatting before validation.
func (r *InvocationRequest) Normalize() {
	if r == nil {
		return
	}
	if r.Version == 0 {
		r.Version = RequestSchemaVersion
	}
	r.RequestID = strings.TrimSpace(r.RequestID)
	r.Persona = strings.TrimSpace(r.Persona)
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if r.EmotionalWeight == nil {
		weight := mythos.DefaultWeight
		r.EmotionalWeight = &weight
	}
}

// Validate enforces baseline schema requirements for incoming requests.
func (r InvocationRequest) Validate() error {
	if r.Version != RequestSchemaVersion {
		return fmt.Errorf("version %d not supported", r.Version)
	}
	if r.Persona == "" {
		return errors.New("persona is required")
	}
	return nil
}

// Weight returns the requested weight, or the default when absent.
func (r InvocationRequest) Weight() int {
	if r.EmotionalWeight == nil {
		return mythos.DefaultWeight
	}
	return *r.EmotionalWeight
}

// EmergenceRequest is the body of POST /emergence.
type EmergenceRequest struct {
	Need string `json:"need"`
}

// Logger records bridge status information. *log.Logger from
// charmbracelet/log satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	RouterReady   bool   `json:"router_ready"`
	Personas      int    `json:"personas"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type invocationResponse struct {
	Status     string          `json:"status"`
	RequestID  string          `json:"request_id,omitempty"`
	ServerTime time.Time       `json:"server_time"`
	Outcome    *mythos.Outcome `json:"outcome,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}
