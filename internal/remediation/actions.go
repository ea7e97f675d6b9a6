package remediation

import (
	"context"
	"errors"
	"fmt"

	"github.com/complyforge/complyforge/internal/cloud"
	"github.com/complyforge/complyforge/internal/compliance"
)

// ErrUnknownActionKind is returned when a finding carries an action kind the
// registry has no handler for.
var ErrUnknownActionKind = errors.New("unknown remediation action kind")

// actionHandler applies one declarative action against the control plane
// using a read-modify-write pattern: fetch current properties, apply a pure
// transformation, write back. It returns the changes applied.
type actionHandler func(ctx context.Context, client cloud.ResourceClient, finding compliance.Finding, action compliance.RemediationAction) ([]string, error)

// actionRegistry maps each action kind in the closed set to its handler.
// A kind without an entry is a programming error surfaced at dispatch time.
var actionRegistry = map[compliance.ActionKind]actionHandler{
	compliance.ActionApplyPolicy:          applyPolicy,
	compliance.ActionEnableEncryption:     enableEncryption,
	compliance.ActionEnforceTLSVersion:    enforceTLSVersion,
	compliance.ActionConfigureLogging:     configureLogging,
	compliance.ActionConfigureNetworkRule: configureNetworkRule,
}

// dispatchAction executes one declarative action through the registry.
func dispatchAction(ctx context.Context, client cloud.ResourceClient, finding compliance.Finding, action compliance.RemediationAction) ([]string, error) {
	handler, ok := actionRegistry[action.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, action.Kind)
	}
	return handler(ctx, client, finding, action)
}

// readModifyWrite fetches the resource, applies transform to a copy of its
// properties, and writes the result back. transform returns the changes it
// made; an empty change list skips the write.
func readModifyWrite(ctx context.Context, client cloud.ResourceClient, resourceID string, transform func(props cloud.Properties) []string) ([]string, error) {
	res, err := client.GetResource(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", resourceID, err)
	}

	props := res.Properties.Clone()
	if props == nil {
		props = cloud.Properties{}
	}
	changes := transform(props)
	if len(changes) == 0 {
		return nil, nil
	}

	if err := client.UpdateResource(ctx, resourceID, props); err != nil {
		return nil, fmt.Errorf("writing %s: %w", resourceID, err)
	}
	return changes, nil
}

func applyPolicy(ctx context.Context, client cloud.ResourceClient, finding compliance.Finding, action compliance.RemediationAction) ([]string, error) {
	policyID, _ := action.Parameters["policy_id"].(string)
	if policyID == "" {
		return nil, fmt.Errorf("apply_policy: missing policy_id parameter")
	}
	return readModifyWrite(ctx, client, finding.ResourceID, func(props cloud.Properties) []string {
		if current, _ := props["policy_id"].(string); current == policyID {
			return nil
		}
		props["policy_id"] = policyID
		return []string{fmt.Sprintf("applied policy %s to %s", policyID, finding.ResourceID)}
	})
}

func enableEncryption(ctx context.Context, client cloud.ResourceClient, finding compliance.Finding, action compliance.RemediationAction) ([]string, error) {
	algorithm, _ := action.Parameters["algorithm"].(string)
	if algorithm == "" {
		algorithm = "AES256"
	}
	return readModifyWrite(ctx, client, finding.ResourceID, func(props cloud.Properties) []string {
		if current, _ := props["encryption"].(string); current == algorithm {
			return nil
		}
		props["encryption"] = algorithm
		return []string{fmt.Sprintf("enabled %s encryption on %s", algorithm, finding.ResourceID)}
	})
}

func enforceTLSVersion(ctx context.Context, client cloud.ResourceClient, finding compliance.Finding, action compliance.RemediationAction) ([]string, error) {
	minVersion, _ := action.Parameters["min_version"].(string)
	if minVersion == "" {
		minVersion = "1.2"
	}
	return readModifyWrite(ctx, client, finding.ResourceID, func(props cloud.Properties) []string {
		if current, _ := props["min_tls_version"].(string); current >= minVersion {
			return nil
		}
		props["min_tls_version"] = minVersion
		return []string{fmt.Sprintf("enforced minimum TLS %s on %s", minVersion, finding.ResourceID)}
	})
}

func configureLogging(ctx context.Context, client cloud.ResourceClient, finding compliance.Finding, action compliance.RemediationAction) ([]string, error) {
	destination, _ := action.Parameters["destination"].(string)
	return readModifyWrite(ctx, client, finding.ResourceID, func(props cloud.Properties) []string {
		enabled, _ := props["diagnostic_logging"].(bool)
		currentDest, _ := props["log_destination"].(string)
		if enabled && (destination == "" || currentDest == destination) {
			return nil
		}
		props["diagnostic_logging"] = true
		changes := []string{fmt.Sprintf("enabled diagnostic logging on %s", finding.ResourceID)}
		if destination != "" {
			props["log_destination"] = destination
			changes = append(changes, fmt.Sprintf("set log destination to %s", destination))
		}
		return changes
	})
}

func configureNetworkRule(ctx context.Context, client cloud.ResourceClient, finding compliance.Finding, action compliance.RemediationAction) ([]string, error) {
	defaultAction, _ := action.Parameters["default_action"].(string)
	if defaultAction == "" {
		defaultAction = "deny"
	}
	allowedCIDR, _ := action.Parameters["allowed_cidr"].(string)

	return readModifyWrite(ctx, client, finding.ResourceID, func(props cloud.Properties) []string {
		var changes []string
		if current, _ := props["network_default_action"].(string); current != defaultAction {
			props["network_default_action"] = defaultAction
			changes = append(changes, fmt.Sprintf("set network default action to %s on %s", defaultAction, finding.ResourceID))
		}
		if allowedCIDR != "" {
			if current, _ := props["allowed_cidr"].(string); current != allowedCIDR {
				props["allowed_cidr"] = allowedCIDR
				changes = append(changes, fmt.Sprintf("restricted network access to %s", allowedCIDR))
			}
		}
		return changes
	})
}
