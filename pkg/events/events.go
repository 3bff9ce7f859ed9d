// Package events defines the messages exchanged between build jobs, the deployer and the
// controller, and the NATS bus that carries them.
package events

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// StatusSubjectPrefix is the subject family status events are published on: deploy.status.<producer>
	StatusSubjectPrefix = "deploy.status"
	// StatusSubjectWildcard matches status events of every producer
	StatusSubjectWildcard = StatusSubjectPrefix + ".*"
	// ReadySubject carries manifests that are ready to be applied
	ReadySubject = "deploy.ready"

	// JobProducer is the producer token used by build jobs
	JobProducer = "nixbuilder"
	// DeployerProducer is the producer token used by the manifest deployer
	DeployerProducer = "deployer"

	DefaultNATSURL = "nats://nats.nats.svc.cluster.local:4222"
)

// StatusSubject returns the subject a producer publishes status events on
func StatusSubject(producer string) string {
	return StatusSubjectPrefix + "." + producer
}

// ProducerFromSubject returns the producer token of a status subject, or "" if the subject is not one
func ProducerFromSubject(subject string) string {
	prefix := StatusSubjectPrefix + "."
	if !strings.HasPrefix(subject, prefix) {
		return ""
	}
	return strings.TrimPrefix(subject, prefix)
}

// StatusEvent reports the phase of a build
type StatusEvent struct {
	BuildName string `json:"build_name"`
	Namespace string `json:"namespace,omitempty"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func NewStatusEvent(buildName, namespace, status, message string, now time.Time) StatusEvent {
	return StatusEvent{
		BuildName: buildName,
		Namespace: namespace,
		Status:    status,
		Message:   message,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
}

// DecodeStatusEvent parses and validates a status event payload
func DecodeStatusEvent(data []byte) (*StatusEvent, error) {
	var event StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode status event: %w", err)
	}
	if event.BuildName == "" {
		return nil, errors.New("status event has no build_name")
	}
	if event.Status == "" {
		return nil, fmt.Errorf("status event for %s has no status", event.BuildName)
	}
	return &event, nil
}

// ManifestReadyEvent hands a rendered multi-document manifest to the deployer
type ManifestReadyEvent struct {
	ManifestB64 string `json:"manifestB64"`
	BuildName   string `json:"build_name"`
	Namespace   string `json:"namespace,omitempty"`
	Timestamp   string `json:"timestamp"`
}

func NewManifestReadyEvent(buildName, namespace string, manifest []byte, now time.Time) ManifestReadyEvent {
	return ManifestReadyEvent{
		ManifestB64: base64.StdEncoding.EncodeToString(manifest),
		BuildName:   buildName,
		Namespace:   namespace,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}

// DecodeManifestReadyEvent parses a manifest ready payload. The manifest itself is decoded by Manifest.
func DecodeManifestReadyEvent(data []byte) (*ManifestReadyEvent, error) {
	var event ManifestReadyEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to decode manifest ready event: %w", err)
	}
	if event.BuildName == "" {
		return nil, errors.New("manifest ready event has no build_name")
	}
	return &event, nil
}

// Manifest returns the decoded manifest text
func (e *ManifestReadyEvent) Manifest() ([]byte, error) {
	if e.ManifestB64 == "" {
		return nil, errors.New("missing manifestB64 field")
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(e.ManifestB64))
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, errors.New("manifest is not valid UTF-8")
	}
	return data, nil
}
