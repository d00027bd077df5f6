package store

import (
	"fmt"

	"github.com/vin-jex/relay-gateway/internal/proof"
	"github.com/vin-jex/relay-gateway/internal/queue"
	"github.com/vin-jex/relay-gateway/internal/webhook"
	"github.com/vin-jex/relay-gateway/internal/workflow"
)

var allowedJobTransitions = map[queue.Status]map[queue.Status]bool{
	queue.StatusWaiting: {
		queue.StatusActive: true,
	},
	queue.StatusActive: {
		queue.StatusCompleted: true,
		queue.StatusWaiting:   true,
		queue.StatusFailed:    true,
		queue.StatusDead:      true,
	},
	// Manual resubmission is the only way out of a failure state.
	queue.StatusFailed: {
		queue.StatusWaiting: true,
	},
	queue.StatusDead: {
		queue.StatusWaiting: true,
	},
}

var allowedExecutionTransitions = map[string]map[string]bool{
	string(workflow.StatusRunning): {
		string(workflow.StatusSuccess): true,
		string(workflow.StatusFailed):  true,
		string(workflow.StatusSkipped): true,
	},
}

var allowedDeliveryTransitions = map[string]map[string]bool{
	string(webhook.DeliveryPending): {
		string(webhook.DeliveryPending): true,
		string(webhook.DeliverySuccess): true,
		string(webhook.DeliveryFailed):  true,
	},
	string(webhook.DeliveryFailed): {
		string(webhook.DeliveryPending): true,
	},
}

var allowedProofTransitions = map[string]map[string]bool{
	string(proof.StatusPending): {
		string(proof.StatusProcessing): true,
	},
	string(proof.StatusProcessing): {
		string(proof.StatusPending):   true,
		string(proof.StatusCompleted): true,
		string(proof.StatusFailed):    true,
	},
	string(proof.StatusFailed): {
		string(proof.StatusPending): true,
	},
}

func ValidateJobTransition(from, to queue.Status) error {
	if allowed := allowedJobTransitions[from][to]; !allowed {
		return fmt.Errorf("%w: job %s to %s", ErrInvalidStateTransition, from, to)
	}

	return nil
}

func validateRecordTransition(table map[string]map[string]bool, kind, from, to string) error {
	if allowed := table[from][to]; !allowed {
		return fmt.Errorf("%w: %s %s to %s", ErrInvalidStateTransition, kind, from, to)
	}

	return nil
}
