package config

// DefaultYAML returns a commented gate.yaml for init-config.
func DefaultYAML() string {
	return `# agentgate configuration
# Generated by: agentgate init-config
#
# Decision order (cannot be changed):
#   1. Event validation -> INVALID_EVENT deny
#   2. Self-targeting -> deny
#   3. Denylist (original action) -> deny
#   4. Sanitizer rewrites the action when a rule applies
#   5. Risk = event weight + payload hints + provider proposal,
#      scaled by agent trust and increased by sequence patterns
#   6. Agent registry scope, explicit rules, then risk tiers

policy:
  name: default
  version: v1
  # advisory | guarded | locked
  enforcement_mode: guarded
  # monitor_mode marks every decision advisory-only: nothing executes.
  monitor_mode: false
  required_checks: [policy_evaluated]
  valid_for: 5m
  # risk <= allow_max -> safe
  # allow_max < risk < approval_min -> elevated
  # approval_min <= risk < deny_min -> guarded (approval)
  # risk >= deny_min -> critical (deny)
  thresholds:
    allow_max: 30
    approval_min: 50
    deny_min: 80
  default_weight: 20
  risk_weights:
    - {pattern: "file:read", weight: 10}
    - {pattern: "file:write", weight: 30}
    - {pattern: "db:delete", weight: 50}
    - {pattern: "shell:*", weight: 40}
    - {pattern: "admin:*", weight: 55}
  # First match wins. decision: allow | deny | require_approval
  rules:
    - event_pattern: "payment:*"
      action_pattern: "*"
      decision: require_approval
      reason: payments always require human approval
  # Added to the built-in denylist.
  denylist:
    commands: []
    urls: []
    files: []
    sql: []
  require_registration: false
  agents: {}
  #  etl-prod:
  #    tenants: [acme]
  #    allow_events: ["db:*", "file:read"]
  #    deny_events: ["db:drop*"]
  #    max_risk: 60

sequence:
  ttl: 5m
  max_history: 20
  half_life: 5m
  # Custom dangerous sequences, matched in order within max_window.
  patterns: []
  #  - name: secrets-then-email
  #    description: vault read followed by outbound email
  #    sequence: ["vault:read", "email:*"]
  #    risk_bonus: 70
  #    max_window: 2m

sessions:
  timeout: 30m

execution:
  environment: default
  gate_source: policy-gate-verified
  max_skew: 30s

signing:
  # The shared secret is read from this environment variable.
  secret_env: AGENTGATE_SECRET
  issuer: agentgate

server:
  grpc_addr: 127.0.0.1:7443
  metrics_addr: ""

provider:
  # A rate-limited provider is skipped for this long.
  cooldown: 30s
  rules:
    - event_pattern: "admin:*"
      recommended_action: escalate
      confidence: 0.6
      explanation: administrative actions need review

# Webhook alerts. events: deny, require_approval, allow, sequence_pattern,
# sanitized, execution_blocked. format: generic | slack | pagerduty
alerts: []
#  - url: https://hooks.slack.com/services/XXX
#    format: slack
#    events: [deny, sequence_pattern]
`
}
