package definition

import "github.com/ispworks/sagaflow/pkg/models"

// Target system names. Each maps to one adapter registered with the engine.
const (
	TargetBilling    = "billing"
	TargetRadius     = "radius"
	TargetInventory  = "inventory"
	TargetActivation = "activation"
)

const (
	defaultWorkflowRetries = 3
	defaultStepRetries     = 3
)

func subscriberSchema(required ...string) map[string]any {
	return map[string]any{
		"type":     "object",
		"required": required,
		"properties": map[string]any{
			"subscriber_id": map[string]any{"type": "string", "minLength": 1},
			"plan_id":       map[string]any{"type": "string", "minLength": 1},
			"service_id":    map[string]any{"type": "string", "minLength": 1},
			"target_node":   map[string]any{"type": "string", "minLength": 1},
		},
	}
}

func builtinDefinitions() []Definition {
	return []Definition{
		{
			Type:        models.WorkflowTypeProvisionSubscriber,
			Description: "Create a new subscriber across billing, inventory, RADIUS and the activation controller",
			MaxRetries:  defaultWorkflowRetries,
			InputSchema: subscriberSchema("subscriber_id", "plan_id"),
			Steps: []StepTemplate{
				{Name: "create_billing_account", TargetSystem: TargetBilling, Operation: "create_account", Compensation: "delete_account", MaxRetries: defaultStepRetries},
				{Name: "allocate_ip_address", TargetSystem: TargetInventory, Operation: "allocate_ip", Compensation: "release_ip", MaxRetries: defaultStepRetries},
				{Name: "create_radius_account", TargetSystem: TargetRadius, Operation: "create_account", Compensation: "delete_account", MaxRetries: defaultStepRetries},
				{Name: "activate_service", TargetSystem: TargetActivation, Operation: "activate_service", Compensation: "deactivate_service", MaxRetries: 2},
			},
		},
		{
			Type:        models.WorkflowTypeDeprovisionSubscriber,
			Description: "Tear down a subscriber in the reverse of provisioning order",
			MaxRetries:  defaultWorkflowRetries,
			InputSchema: subscriberSchema("subscriber_id"),
			Steps: []StepTemplate{
				{Name: "deactivate_service", TargetSystem: TargetActivation, Operation: "deactivate_service", Compensation: "activate_service", MaxRetries: defaultStepRetries},
				{Name: "delete_radius_account", TargetSystem: TargetRadius, Operation: "delete_account", Compensation: "create_account", MaxRetries: defaultStepRetries},
				{Name: "release_ip_address", TargetSystem: TargetInventory, Operation: "release_ip", Compensation: "allocate_ip", MaxRetries: defaultStepRetries},
				{Name: "close_billing_account", TargetSystem: TargetBilling, Operation: "close_account", Compensation: "reopen_account", MaxRetries: defaultStepRetries},
			},
		},
		{
			Type:        models.WorkflowTypeActivateService,
			Description: "Activate a provisioned service for an existing subscriber",
			MaxRetries:  defaultWorkflowRetries,
			InputSchema: subscriberSchema("subscriber_id", "service_id"),
			Steps: []StepTemplate{
				// Pure read, nothing to undo.
				{Name: "verify_inventory_record", TargetSystem: TargetInventory, Operation: "lookup_subscriber", MaxRetries: defaultStepRetries},
				{Name: "enable_radius_account", TargetSystem: TargetRadius, Operation: "enable_account", Compensation: "disable_account", MaxRetries: defaultStepRetries},
				{Name: "activate_service", TargetSystem: TargetActivation, Operation: "activate_service", Compensation: "deactivate_service", MaxRetries: 2},
				{Name: "resume_billing", TargetSystem: TargetBilling, Operation: "resume_account", Compensation: "suspend_account", MaxRetries: defaultStepRetries},
			},
		},
		{
			Type:        models.WorkflowTypeSuspendService,
			Description: "Suspend service delivery while keeping the subscriber record intact",
			MaxRetries:  defaultWorkflowRetries,
			InputSchema: subscriberSchema("subscriber_id"),
			Steps: []StepTemplate{
				{Name: "suspend_billing", TargetSystem: TargetBilling, Operation: "suspend_account", Compensation: "resume_account", MaxRetries: defaultStepRetries},
				{Name: "disable_radius_account", TargetSystem: TargetRadius, Operation: "disable_account", Compensation: "enable_account", MaxRetries: defaultStepRetries},
				{Name: "suspend_port", TargetSystem: TargetActivation, Operation: "suspend_port", Compensation: "resume_port", MaxRetries: defaultStepRetries},
			},
		},
		{
			Type:        models.WorkflowTypeTerminateService,
			Description: "Permanently terminate a service",
			MaxRetries:  defaultWorkflowRetries,
			InputSchema: subscriberSchema("subscriber_id", "service_id"),
			Steps: []StepTemplate{
				{Name: "deactivate_service", TargetSystem: TargetActivation, Operation: "deactivate_service", Compensation: "activate_service", MaxRetries: defaultStepRetries},
				{Name: "close_billing_account", TargetSystem: TargetBilling, Operation: "close_account", Compensation: "reopen_account", MaxRetries: defaultStepRetries},
			},
		},
		{
			Type:        models.WorkflowTypeChangeServicePlan,
			Description: "Move a subscriber to a different service plan",
			MaxRetries:  defaultWorkflowRetries,
			InputSchema: subscriberSchema("subscriber_id", "plan_id"),
			Steps: []StepTemplate{
				{Name: "change_billing_plan", TargetSystem: TargetBilling, Operation: "change_plan", Compensation: "revert_plan", MaxRetries: defaultStepRetries},
				{Name: "apply_radius_profile", TargetSystem: TargetRadius, Operation: "apply_profile", Compensation: "revert_profile", MaxRetries: defaultStepRetries},
				{Name: "apply_qos_profile", TargetSystem: TargetActivation, Operation: "apply_qos_profile", Compensation: "remove_qos_profile", MaxRetries: defaultStepRetries},
			},
		},
		{
			Type:        models.WorkflowTypeUpdateNetworkConfig,
			Description: "Push a network configuration change through inventory and the activation controller",
			MaxRetries:  defaultWorkflowRetries,
			InputSchema: subscriberSchema("subscriber_id"),
			Steps: []StepTemplate{
				{Name: "lookup_subscriber", TargetSystem: TargetInventory, Operation: "lookup_subscriber", MaxRetries: defaultStepRetries},
				{Name: "update_inventory_config", TargetSystem: TargetInventory, Operation: "update_config", Compensation: "rollback_config", MaxRetries: defaultStepRetries},
				{Name: "apply_qos_profile", TargetSystem: TargetActivation, Operation: "apply_qos_profile", Compensation: "remove_qos_profile", MaxRetries: defaultStepRetries},
			},
		},
		{
			Type:        models.WorkflowTypeMigrateSubscriber,
			Description: "Move a subscriber to a different access node",
			MaxRetries:  defaultWorkflowRetries,
			InputSchema: subscriberSchema("subscriber_id", "target_node"),
			Steps: []StepTemplate{
				{Name: "lookup_subscriber", TargetSystem: TargetInventory, Operation: "lookup_subscriber", MaxRetries: defaultStepRetries},
				{Name: "allocate_target_ip", TargetSystem: TargetInventory, Operation: "allocate_ip", Compensation: "release_ip", MaxRetries: defaultStepRetries},
				{Name: "migrate_circuit", TargetSystem: TargetActivation, Operation: "migrate_circuit", Compensation: "revert_circuit", MaxRetries: 2},
				{Name: "update_radius_profile", TargetSystem: TargetRadius, Operation: "apply_profile", Compensation: "revert_profile", MaxRetries: defaultStepRetries},
				{Name: "release_source_ip", TargetSystem: TargetInventory, Operation: "release_ip", Compensation: "allocate_ip", MaxRetries: defaultStepRetries},
			},
		},
	}
}
